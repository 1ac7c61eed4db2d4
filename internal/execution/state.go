package execution

import (
	"github.com/temirov/procexec/internal/iolog"
)

const (
	notStartedStatusNameConstant = "not started"
	runningStatusNameConstant    = "running"
	succeededStatusNameConstant  = "succeeded"
	failedStatusNameConstant     = "failed"
	unknownStatusNameConstant    = "unknown"
)

// Status is the lifecycle position of a ManagedProcess.
type Status int

// Lifecycle statuses. Succeeded and Failed are terminal.
const (
	NotStarted Status = iota
	Running
	Succeeded
	Failed
)

// String returns the human readable status.
func (status Status) String() string {
	switch status {
	case NotStarted:
		return notStartedStatusNameConstant
	case Running:
		return runningStatusNameConstant
	case Succeeded:
		return succeededStatusNameConstant
	case Failed:
		return failedStatusNameConstant
	default:
		return unknownStatusNameConstant
	}
}

// Terminal reports whether status is Succeeded or Failed.
func (status Status) Terminal() bool {
	return status == Succeeded || status == Failed
}

// ExitState is the outcome of a process execution.
// ExitValue is only meaningful when Exited is true; a process that failed to spawn never exits.
type ExitState struct {
	Status    Status
	Pid       int
	ExitValue int
	Exited    bool
	IO        []iolog.IO
}
