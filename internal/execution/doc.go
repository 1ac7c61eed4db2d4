// Package execution runs external processes under management.
//
// A ManagedProcess spawns its command line through a Launcher, mirrors every stream into an
// IOLog while stream workers hand complete lines to a Processor, and settles into exactly one
// terminal state. A mismatching exit value produces a ProcessExecutionError backed by a dump file.
package execution
