package execution

import (
	"errors"
	"fmt"
	"strings"

	"github.com/temirov/procexec/internal/commandline"
	"github.com/temirov/procexec/internal/dump"
)

const (
	processFailureTemplateConstant       = "process %d failed with exit value %d (expected %d)"
	commandSuffixTemplateConstant        = "; command: %s"
	filesSuffixTemplateConstant          = "; referenced files: %s"
	dumpSuffixTemplateConstant           = "; dump: %s"
	strippedSuffixTemplateConstant       = " (ANSI removed: %s)"
	dumpFailureSuffixTemplateConstant    = "; dump could not be written: %v"
	referencedFilesSeparatorConstant     = ", "
	alreadyStartedMessageConstant        = "process already started"
	notStartedMessageConstant            = "process not started"
	launcherNotConfiguredMessageConstant = "process launcher not configured"
	unexpectedExitValueMessageConstant   = "unexpected exit value"
)

var (
	// ErrAlreadyStarted indicates Start was called on a process that is no longer NotStarted.
	ErrAlreadyStarted = errors.New(alreadyStartedMessageConstant)

	// ErrNotStarted indicates an operation that requires a started process.
	ErrNotStarted = errors.New(notStartedMessageConstant)

	// ErrLauncherNotConfigured indicates a ManagedProcess without a Launcher.
	ErrLauncherNotConfigured = errors.New(launcherNotConfiguredMessageConstant)

	// ErrUnexpectedExitValue matches every ProcessExecutionError.
	ErrUnexpectedExitValue = errors.New(unexpectedExitValueMessageConstant)
)

// ProcessExecutionError reports a process that exited with a value other than the expected one.
type ProcessExecutionError struct {
	ExecutionID       string
	Pid               int
	CommandLine       commandline.CommandLine
	ExitValue         int
	ExpectedExitValue int
	IncludedFiles     []string
	DumpPaths         dump.Paths
	DumpError         error
}

// Error describes the failure including the dump location.
func (executionError *ProcessExecutionError) Error() string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf(processFailureTemplateConstant, executionError.Pid, executionError.ExitValue, executionError.ExpectedExitValue))
	builder.WriteString(fmt.Sprintf(commandSuffixTemplateConstant, executionError.CommandLine.Summary()))
	if len(executionError.IncludedFiles) > 0 {
		builder.WriteString(fmt.Sprintf(filesSuffixTemplateConstant, strings.Join(executionError.IncludedFiles, referencedFilesSeparatorConstant)))
	}
	if len(executionError.DumpPaths.Dump) > 0 {
		builder.WriteString(fmt.Sprintf(dumpSuffixTemplateConstant, executionError.DumpPaths.Dump))
		if len(executionError.DumpPaths.StrippedDump) > 0 {
			builder.WriteString(fmt.Sprintf(strippedSuffixTemplateConstant, executionError.DumpPaths.StrippedDump))
		}
	}
	if executionError.DumpError != nil {
		builder.WriteString(fmt.Sprintf(dumpFailureSuffixTemplateConstant, executionError.DumpError))
	}
	return builder.String()
}

// Is matches ErrUnexpectedExitValue.
func (executionError *ProcessExecutionError) Is(target error) bool {
	return target == ErrUnexpectedExitValue
}

// Unwrap exposes the dump write failure, if any.
func (executionError *ProcessExecutionError) Unwrap() []error {
	if executionError.DumpError == nil {
		return nil
	}
	return []error{executionError.DumpError}
}
