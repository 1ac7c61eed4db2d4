package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/temirov/procexec/internal/commandline"
	"github.com/temirov/procexec/internal/dump"
	"github.com/temirov/procexec/internal/iolog"
	"github.com/temirov/procexec/internal/lines"
	"github.com/temirov/procexec/internal/processors"
	"github.com/temirov/procexec/internal/shutdown"
)

const (
	executingMetaTemplateConstant        = "Executing %s"
	succeededMetaTemplateConstant        = "Process %d terminated with exit value %d"
	failedMetaTemplateConstant           = "Process %d terminated with exit value %d, expected %d"
	waitFailedMetaTemplateConstant       = "Process %d could not be awaited: %v"
	spawnFailedMetaTemplateConstant      = "Process could not be started: %v"
	dumpWrittenMetaTemplateConstant      = "Dump written to %s"
	shutdownHookNameTemplateConstant     = "process %s"
	launchErrorTemplateConstant          = "unable to launch %s: %w"
	processStartedMessageConstant        = "process started"
	processTerminatedMessageConstant     = "process terminated"
	processSpawnFailedMessageConstant    = "process could not be started"
	processSignalMessageConstant         = "signalling process"
	processSignalFailedMessageConstant   = "unable to signal process"
	dumpWrittenMessageConstant           = "process dump written"
	dumpFailedMessageConstant            = "unable to write process dump"
	callbackPanickedMessageConstant      = "termination callback panicked"
	metaProcessorPanickedMessageConstant = "processor panicked on meta line"
	executionIDFieldNameConstant         = "execution_id"
	commandFieldNameConstant             = "command"
	statusFieldNameConstant              = "status"
	exitValueFieldNameConstant           = "exit_value"
	signalFieldNameConstant              = "signal"
	dumpFieldNameConstant                = "dump"
	panicFieldNameConstant               = "panic"
	terminateSignalNameConstant          = "SIGTERM"
	killSignalNameConstant               = "SIGKILL"
)

// Configuration controls how a ManagedProcess runs and how its outcome is judged.
type Configuration struct {
	// ExpectedExitValue is the exit value considered successful.
	ExpectedExitValue int

	// IgnoreExitValue disables exit value validation; every exit is a success.
	IgnoreExitValue bool

	// Input is forwarded to stdin, which is closed once Input is exhausted.
	Input io.Reader

	// Processor receives every complete line, including meta lines.
	Processor processors.Processor

	// OnTermination is invoked exactly once with the failure, or nil on success.
	OnTermination func(failure error)

	// Dump configures where dumps of failed processes are written.
	Dump dump.Writer

	// Pool bounds the stream workers; nil runs them unbounded.
	Pool *processors.Pool

	// Shutdown receives a hook killing the process at host exit; nil uses shutdown.Default().
	Shutdown shutdown.Registry

	// Logger receives lifecycle messages; nil discards them.
	Logger *zap.Logger

	// IOLogOptions customize the captured IOLog, for example its dump grace period.
	IOLogOptions []iolog.Option

	// ReaderOptions customize the line readers of the stream workers.
	ReaderOptions []lines.ReaderOption
}

// ManagedProcess owns one native process from spawn to its terminal state.
type ManagedProcess struct {
	id            uuid.UUID
	launcher      Launcher
	commandLine   commandline.CommandLine
	configuration Configuration
	logger        *zap.Logger
	ioLog         *iolog.IOLog
	done          chan struct{}
	completeOnce  sync.Once

	mutex        sync.Mutex
	status       Status
	native       NativeProcess
	pid          int
	stdin        *mirroredWriter
	stdout       *mirroredReader
	stderr       *mirroredReader
	registration shutdown.Registration
	exitState    ExitState
	failure      error
}

// New prepares a process for commandLine. Nothing is spawned until Start.
func New(launcher Launcher, commandLine commandline.CommandLine, configuration Configuration) *ManagedProcess {
	logger := configuration.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if configuration.Shutdown == nil {
		configuration.Shutdown = shutdown.Default()
	}
	if configuration.Processor == nil {
		configuration.Processor = processors.Noop()
	}

	processID := uuid.New()
	return &ManagedProcess{
		id:            processID,
		launcher:      launcher,
		commandLine:   commandLine,
		configuration: configuration,
		logger:        logger.With(zap.String(executionIDFieldNameConstant, processID.String())),
		ioLog:         iolog.New(configuration.IOLogOptions...),
		done:          make(chan struct{}),
	}
}

// Start spawns the process and its stream workers and returns the receiver.
// A spawn failure moves the process to Failed and is returned; calling Start twice returns ErrAlreadyStarted.
func (process *ManagedProcess) Start(executionContext context.Context) (*ManagedProcess, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}

	process.mutex.Lock()
	if process.status != NotStarted {
		process.mutex.Unlock()
		return process, ErrAlreadyStarted
	}
	process.status = Running
	process.mutex.Unlock()

	process.emitMeta(fmt.Sprintf(executingMetaTemplateConstant, process.commandLine.String()))

	if process.launcher == nil {
		process.failSpawn(ErrLauncherNotConfigured)
		return process, ErrLauncherNotConfigured
	}
	native, launchError := process.launcher.Launch(executionContext, process.commandLine)
	if launchError != nil {
		spawnError := fmt.Errorf(launchErrorTemplateConstant, process.commandLine.Summary(), launchError)
		process.failSpawn(spawnError)
		return process, spawnError
	}

	process.mutex.Lock()
	process.native = native
	process.pid = native.Pid()
	process.stdin = newMirroredWriter(native.Stdin(), process.ioLog)
	process.stdout = newMirroredReader(native.Stdout(), process.ioLog, iolog.Out)
	process.stderr = newMirroredReader(native.Stderr(), process.ioLog, iolog.Err)
	process.registration = process.configuration.Shutdown.Register(fmt.Sprintf(shutdownHookNameTemplateConstant, process.id), func() {
		_ = process.Kill()
	})
	streams := processors.Streams{
		Input:  process.configuration.Input,
		Stdin:  process.stdin,
		Stdout: process.stdout,
		Stderr: process.stderr,
	}
	process.mutex.Unlock()

	process.logger.Info(processStartedMessageConstant, zap.Int(pidFieldNameConstant, process.pid), zap.String(commandFieldNameConstant, process.commandLine.Summary()))

	job := processors.Start(executionContext, process.configuration.Pool, streams, process.dispatch,
		processors.WithLogger(process.logger),
		processors.WithReaderOptions(process.configuration.ReaderOptions...),
	)
	go process.awaitTermination(native, job)
	go process.killOnCancellation(executionContext)

	return process, nil
}

// WaitFor blocks until the process exited and its output streams were drained.
// Input the process never consumed before exiting is not waited for.
// The error is a *ProcessExecutionError on an unexpected exit value, joined with any stream failure.
func (process *ManagedProcess) WaitFor() (ExitState, error) {
	if process.Status() == NotStarted {
		return ExitState{Status: NotStarted}, ErrNotStarted
	}
	<-process.done

	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.exitState, process.failure
}

// Done is closed once the process reached its terminal state and the termination callback returned.
func (process *ManagedProcess) Done() <-chan struct{} {
	return process.done
}

// ExitState returns the terminal state without blocking; ok is false until Done is closed.
func (process *ManagedProcess) ExitState() (ExitState, bool) {
	select {
	case <-process.done:
	default:
		return ExitState{Status: process.Status(), Pid: process.Pid()}, false
	}
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.exitState, true
}

// Status returns the current lifecycle status.
func (process *ManagedProcess) Status() Status {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.status
}

// Pid returns the native process id, or zero before a successful spawn.
func (process *ManagedProcess) Pid() int {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.pid
}

// ID returns the unique execution identifier.
func (process *ManagedProcess) ID() uuid.UUID {
	return process.id
}

// IOLog returns the log capturing every stream of the process.
func (process *ManagedProcess) IOLog() *iolog.IOLog {
	return process.ioLog
}

// CommandLine returns the command line being executed.
func (process *ManagedProcess) CommandLine() commandline.CommandLine {
	return process.commandLine
}

// Stop requests graceful termination. It is a no-op unless the process is running.
func (process *ManagedProcess) Stop() error {
	return process.signal(terminateSignalNameConstant, NativeProcess.Terminate)
}

// Kill forcefully ends the process and its descendants. It is a no-op unless the process is running.
func (process *ManagedProcess) Kill() error {
	return process.signal(killSignalNameConstant, NativeProcess.Kill)
}

func (process *ManagedProcess) signal(signalName string, deliver func(NativeProcess) error) error {
	process.mutex.Lock()
	native := process.native
	running := process.status == Running
	process.mutex.Unlock()

	if !running || native == nil {
		return nil
	}

	process.logger.Debug(processSignalMessageConstant, zap.String(signalFieldNameConstant, signalName), zap.Int(pidFieldNameConstant, native.Pid()))
	if signalError := deliver(native); signalError != nil && !errors.Is(signalError, os.ErrProcessDone) {
		process.logger.Debug(processSignalFailedMessageConstant, zap.String(signalFieldNameConstant, signalName), zap.Error(signalError))
	}
	return nil
}

func (process *ManagedProcess) killOnCancellation(executionContext context.Context) {
	select {
	case <-executionContext.Done():
		_ = process.Kill()
	case <-process.done:
	}
}

func (process *ManagedProcess) awaitTermination(native NativeProcess, job *processors.Job) {
	exitValue, waitError := native.Wait()
	streamError := job.WaitDrained()

	process.mutex.Lock()
	stdin, stdout, stderr := process.stdin, process.stdout, process.stderr
	process.mutex.Unlock()
	_ = stdin.Close()
	_ = stdout.Close()
	_ = stderr.Close()

	process.complete(exitValue, waitError, streamError)
}

func (process *ManagedProcess) complete(exitValue int, waitError error, streamError error) {
	process.completeOnce.Do(func() {
		pid := process.Pid()
		status := Succeeded
		var processFailure error
		var executionError *ProcessExecutionError

		switch {
		case waitError != nil:
			status = Failed
			processFailure = waitError
		case !process.configuration.IgnoreExitValue && exitValue != process.configuration.ExpectedExitValue:
			status = Failed
			executionError = &ProcessExecutionError{
				ExecutionID:       process.id.String(),
				Pid:               pid,
				CommandLine:       process.commandLine,
				ExitValue:         exitValue,
				ExpectedExitValue: process.configuration.ExpectedExitValue,
				IncludedFiles:     process.commandLine.IncludedFiles(),
			}
			processFailure = executionError
		}

		process.mutex.Lock()
		process.status = status
		registration := process.registration
		process.mutex.Unlock()
		if registration != nil {
			registration.Cancel()
		}

		switch {
		case waitError != nil:
			process.emitMeta(fmt.Sprintf(waitFailedMetaTemplateConstant, pid, waitError))
		case executionError != nil:
			process.emitMeta(fmt.Sprintf(failedMetaTemplateConstant, pid, exitValue, process.configuration.ExpectedExitValue))
		default:
			process.emitMeta(fmt.Sprintf(succeededMetaTemplateConstant, pid, exitValue))
		}

		if executionError != nil {
			process.writeDump(executionError)
		}

		process.logger.Info(processTerminatedMessageConstant,
			zap.Int(pidFieldNameConstant, pid),
			zap.Stringer(statusFieldNameConstant, status),
			zap.Int(exitValueFieldNameConstant, exitValue),
		)

		failure := joinFailures(processFailure, streamError)
		process.finish(ExitState{
			Status:    status,
			Pid:       pid,
			ExitValue: exitValue,
			Exited:    waitError == nil,
			IO:        process.ioLog.Logged(),
		}, failure)
	})
}

func (process *ManagedProcess) failSpawn(spawnError error) {
	process.completeOnce.Do(func() {
		process.mutex.Lock()
		process.status = Failed
		process.mutex.Unlock()

		process.emitMeta(fmt.Sprintf(spawnFailedMetaTemplateConstant, spawnError))
		process.logger.Warn(processSpawnFailedMessageConstant, zap.String(commandFieldNameConstant, process.commandLine.Summary()), zap.Error(spawnError))
		process.finish(ExitState{Status: Failed, IO: process.ioLog.Logged()}, spawnError)
	})
}

// finish records the terminal state, invokes the termination callback and then releases waiters.
func (process *ManagedProcess) finish(exitState ExitState, failure error) {
	process.mutex.Lock()
	process.exitState = exitState
	process.failure = failure
	process.mutex.Unlock()

	process.invokeCallback(failure)
	close(process.done)
}

func (process *ManagedProcess) invokeCallback(failure error) {
	if process.configuration.OnTermination == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			process.logger.Error(callbackPanickedMessageConstant, zap.Any(panicFieldNameConstant, recovered))
		}
	}()
	process.configuration.OnTermination(failure)
}

func (process *ManagedProcess) writeDump(executionError *ProcessExecutionError) {
	paths, dumpError := process.configuration.Dump.Write(dump.Report{
		ExecutionID:       executionError.ExecutionID,
		Pid:               executionError.Pid,
		CommandLine:       process.commandLine,
		ExitValue:         executionError.ExitValue,
		ExpectedExitValue: executionError.ExpectedExitValue,
		Captured:          process.ioLog,
	})
	executionError.DumpPaths = paths
	if dumpError != nil {
		executionError.DumpError = dumpError
		process.logger.Error(dumpFailedMessageConstant, zap.Error(dumpError))
		return
	}
	process.logger.Info(dumpWrittenMessageConstant, zap.String(dumpFieldNameConstant, paths.Dump))
	process.emitMeta(fmt.Sprintf(dumpWrittenMetaTemplateConstant, paths.Dump))
}

// dispatch forwards worker lines to the processor. Meta lines reported by the workers are
// recorded here because they never pass through the mirrored streams.
func (process *ManagedProcess) dispatch(entry iolog.IO) {
	if entry.Kind == iolog.Meta {
		process.ioLog.AddLine(iolog.Meta, entry.Text)
	}
	process.configuration.Processor(entry)
}

func (process *ManagedProcess) emitMeta(text string) {
	process.ioLog.AddLine(iolog.Meta, text)
	defer func() {
		if recovered := recover(); recovered != nil {
			process.logger.Error(metaProcessorPanickedMessageConstant, zap.Any(panicFieldNameConstant, recovered))
		}
	}()
	process.configuration.Processor(iolog.IO{Kind: iolog.Meta, Text: text})
}

func joinFailures(processFailure error, streamError error) error {
	switch {
	case processFailure == nil:
		return streamError
	case streamError == nil:
		return processFailure
	default:
		return errors.Join(processFailure, streamError)
	}
}
