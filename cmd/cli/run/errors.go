package run

import "fmt"

const (
	exitValueMessageTemplateConstant = "process exited with exit value %d"
)

// ExitValueError carries the exit value the CLI terminates with after a run.
// Cause is the process failure when one was reported, for example a *execution.ProcessExecutionError.
type ExitValueError struct {
	ExitValue int
	Cause     error
}

// Error describes the cause, or the bare exit value when no failure was reported.
func (exitValueError *ExitValueError) Error() string {
	if exitValueError.Cause != nil {
		return exitValueError.Cause.Error()
	}
	return fmt.Sprintf(exitValueMessageTemplateConstant, exitValueError.ExitValue)
}

// Unwrap exposes the process failure.
func (exitValueError *ExitValueError) Unwrap() error {
	return exitValueError.Cause
}
