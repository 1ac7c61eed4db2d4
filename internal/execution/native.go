package execution

import (
	"context"
	"io"

	"github.com/temirov/procexec/internal/commandline"
)

// NativeProcess is a handle to a spawned operating system process.
type NativeProcess interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Stderr() io.Reader
	// Wait blocks until the process exits and returns its exit value.
	Wait() (int, error)
	// Terminate requests a graceful shutdown.
	Terminate() error
	// Kill forcefully ends the process and its descendants.
	Kill() error
}

// Launcher spawns native processes.
type Launcher interface {
	Launch(executionContext context.Context, commandLine commandline.CommandLine) (NativeProcess, error)
}
