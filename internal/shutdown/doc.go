// Package shutdown keeps cleanup hooks that must run when the host program exits,
// such as destroying child processes that would otherwise be orphaned.
package shutdown
