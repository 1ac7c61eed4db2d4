// Package commandline describes external program invocations.
//
// A CommandLine carries the executable, its arguments, environment overrides,
// an absolute working directory and output redirects. Rendering uses shell-safe
// quoting and leaves here-documents untouched so the rendered text can be pasted
// into a shell unchanged.
package commandline
