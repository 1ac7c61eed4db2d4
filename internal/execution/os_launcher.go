package execution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"

	gopsprocess "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/temirov/procexec/internal/commandline"
)

const (
	signalExitValueOffsetConstant     = 128
	createPipesErrorTemplateConstant  = "unable to create pipes for %s: %w"
	startProcessErrorTemplateConstant = "unable to start %s: %w"
	waitProcessErrorTemplateConstant  = "unable to wait for process %d: %w"
	descendantKillMessageConstant     = "killing descendant process"
	descendantKillFailedConstant      = "unable to kill descendant process"
	pidFieldNameConstant              = "pid"
	parentPidFieldNameConstant        = "parent_pid"
)

// OSLauncher spawns processes through os/exec.
//
// The environment overrides of the command line are merged onto the host environment and each
// process is placed in its own process group, so termination reaches the whole group.
type OSLauncher struct {
	logger *zap.Logger
}

// NewOSLauncher constructs a launcher backed by the operating system.
func NewOSLauncher(logger *zap.Logger) *OSLauncher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OSLauncher{logger: logger}
}

// Launch spawns commandLine. The returned process owns the parent ends of three pipes.
func (launcher *OSLauncher) Launch(executionContext context.Context, commandLine commandline.CommandLine) (NativeProcess, error) {
	if executionContext != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return nil, contextError
		}
	}

	command := exec.Command(commandLine.Command(), commandLine.Arguments()...)
	command.Dir = commandLine.WorkingDirectory()
	if environmentAssignments := commandLine.EnvironmentAssignments(); len(environmentAssignments) > 0 {
		command.Env = append(os.Environ(), environmentAssignments...)
	}
	configureProcessGroup(command)

	pipes, pipeError := openPipes()
	if pipeError != nil {
		return nil, fmt.Errorf(createPipesErrorTemplateConstant, commandLine.Summary(), pipeError)
	}
	command.Stdin = pipes.childStdin
	command.Stdout = pipes.childStdout
	command.Stderr = pipes.childStderr

	if startError := command.Start(); startError != nil {
		pipes.closeAll()
		return nil, fmt.Errorf(startProcessErrorTemplateConstant, commandLine.Summary(), startError)
	}
	pipes.closeChildEnds()

	return &osProcess{
		command: command,
		stdin:   pipes.parentStdin,
		stdout:  pipes.parentStdout,
		stderr:  pipes.parentStderr,
		logger:  launcher.logger,
		exited:  make(chan struct{}),
	}, nil
}

type processPipes struct {
	childStdin   *os.File
	parentStdin  *os.File
	parentStdout *os.File
	childStdout  *os.File
	parentStderr *os.File
	childStderr  *os.File
}

func openPipes() (*processPipes, error) {
	pipes := &processPipes{}
	var pipeError error
	if pipes.childStdin, pipes.parentStdin, pipeError = os.Pipe(); pipeError != nil {
		return nil, pipeError
	}
	if pipes.parentStdout, pipes.childStdout, pipeError = os.Pipe(); pipeError != nil {
		pipes.closeAll()
		return nil, pipeError
	}
	if pipes.parentStderr, pipes.childStderr, pipeError = os.Pipe(); pipeError != nil {
		pipes.closeAll()
		return nil, pipeError
	}
	return pipes, nil
}

func (pipes *processPipes) closeChildEnds() {
	closeFiles(pipes.childStdin, pipes.childStdout, pipes.childStderr)
}

func (pipes *processPipes) closeAll() {
	closeFiles(pipes.childStdin, pipes.parentStdin, pipes.parentStdout, pipes.childStdout, pipes.parentStderr, pipes.childStderr)
}

func closeFiles(files ...*os.File) {
	for _, file := range files {
		if file != nil {
			_ = file.Close()
		}
	}
}

type osProcess struct {
	command   *exec.Cmd
	stdin     *os.File
	stdout    *os.File
	stderr    *os.File
	logger    *zap.Logger
	waitOnce  sync.Once
	exitValue int
	waitError error
	exited    chan struct{}
}

func (process *osProcess) Pid() int {
	return process.command.Process.Pid
}

func (process *osProcess) Stdin() io.WriteCloser {
	return process.stdin
}

func (process *osProcess) Stdout() io.Reader {
	return process.stdout
}

func (process *osProcess) Stderr() io.Reader {
	return process.stderr
}

func (process *osProcess) Wait() (int, error) {
	process.waitOnce.Do(func() {
		defer close(process.exited)
		runError := process.command.Wait()
		if runError == nil {
			return
		}
		var exitError *exec.ExitError
		if !errors.As(runError, &exitError) {
			process.exitValue = -1
			process.waitError = fmt.Errorf(waitProcessErrorTemplateConstant, process.Pid(), runError)
			return
		}
		process.exitValue = exitValueOf(exitError)
	})
	return process.exitValue, process.waitError
}

func (process *osProcess) Terminate() error {
	if process.hasExited() {
		return os.ErrProcessDone
	}
	if groupError := signalProcessGroup(process.Pid(), syscall.SIGTERM); groupError == nil {
		return nil
	}
	return process.command.Process.Signal(syscall.SIGTERM)
}

func (process *osProcess) Kill() error {
	if process.hasExited() {
		return os.ErrProcessDone
	}
	process.killDescendants()
	_ = signalProcessGroup(process.Pid(), syscall.SIGKILL)
	return process.command.Process.Kill()
}

func (process *osProcess) hasExited() bool {
	select {
	case <-process.exited:
		return true
	default:
		return false
	}
}

// killDescendants kills every process below the managed one, deepest first.
// Descendants that left the process group are only reachable this way.
func (process *osProcess) killDescendants() {
	root, lookupError := gopsprocess.NewProcess(int32(process.Pid()))
	if lookupError != nil {
		return
	}
	for _, descendant := range collectDescendants(root) {
		process.logger.Debug(descendantKillMessageConstant, zap.Int32(pidFieldNameConstant, descendant.Pid), zap.Int(parentPidFieldNameConstant, process.Pid()))
		if killError := descendant.Kill(); killError != nil {
			process.logger.Debug(descendantKillFailedConstant, zap.Int32(pidFieldNameConstant, descendant.Pid), zap.Error(killError))
		}
	}
}

func collectDescendants(parent *gopsprocess.Process) []*gopsprocess.Process {
	children, childrenError := parent.Children()
	if childrenError != nil {
		return nil
	}
	var descendants []*gopsprocess.Process
	for _, child := range children {
		descendants = append(descendants, collectDescendants(child)...)
		descendants = append(descendants, child)
	}
	return descendants
}

func exitValueOf(exitError *exec.ExitError) int {
	if waitStatus, isWaitStatus := exitError.Sys().(syscall.WaitStatus); isWaitStatus && waitStatus.Signaled() {
		return signalExitValueOffsetConstant + int(waitStatus.Signal())
	}
	return exitError.ExitCode()
}
