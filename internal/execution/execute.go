package execution

import (
	"context"

	"github.com/temirov/procexec/internal/commandline"
)

// Execute runs commandLine to completion and returns its terminal state.
func Execute(executionContext context.Context, launcher Launcher, commandLine commandline.CommandLine, configuration Configuration) (ExitState, error) {
	process, startError := New(launcher, commandLine, configuration).Start(executionContext)
	if startError != nil {
		exitState, _ := process.ExitState()
		return exitState, startError
	}
	return process.WaitFor()
}

// ExecuteAsync starts commandLine and returns the running process without waiting for it.
func ExecuteAsync(executionContext context.Context, launcher Launcher, commandLine commandline.CommandLine, configuration Configuration) (*ManagedProcess, error) {
	return New(launcher, commandLine, configuration).Start(executionContext)
}
