package execution

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/temirov/procexec/internal/commandline"
)

const (
	terminatedExitValueConstant = 143
	killedExitValueConstant     = 137
)

// FakeProcess is a scripted NativeProcess for tests.
// It emits the configured output, records everything written to stdin and exits with the
// configured value once the exit delay elapsed and stdin was closed, unless it is terminated or killed first.
type FakeProcess struct {
	pid       int
	exitValue int
	exitDelay time.Duration
	stdout    io.Reader
	stderr    io.Reader
	stdin     *recordingWriteCloser

	mutex          sync.Mutex
	terminateCount int
	killCount      int
	signalled      chan int
	exited         chan struct{}
	waitOnce       sync.Once
	finalExitValue int
}

// NewFakeProcess creates a fake process with scripted stdout and stderr content.
func NewFakeProcess(pid int, exitValue int, exitDelay time.Duration, stdout string, stderr string) *FakeProcess {
	return &FakeProcess{
		pid:       pid,
		exitValue: exitValue,
		exitDelay: exitDelay,
		stdout:    strings.NewReader(stdout),
		stderr:    strings.NewReader(stderr),
		stdin:     &recordingWriteCloser{closedSignal: make(chan struct{})},
		signalled: make(chan int, 1),
		exited:    make(chan struct{}),
	}
}

// Pid returns the scripted process id.
func (process *FakeProcess) Pid() int {
	return process.pid
}

// Stdin returns the recording stdin.
func (process *FakeProcess) Stdin() io.WriteCloser {
	return process.stdin
}

// Stdout returns the scripted stdout.
func (process *FakeProcess) Stdout() io.Reader {
	return process.stdout
}

// Stderr returns the scripted stderr.
func (process *FakeProcess) Stderr() io.Reader {
	return process.stderr
}

// Wait returns the exit value once the delay elapsed and stdin was closed, or a signal arrived.
func (process *FakeProcess) Wait() (int, error) {
	process.waitOnce.Do(func() {
		timer := time.NewTimer(process.exitDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
			select {
			case <-process.stdin.closedSignal:
				process.finalExitValue = process.exitValue
			case signalExitValue := <-process.signalled:
				process.finalExitValue = signalExitValue
			}
		case signalExitValue := <-process.signalled:
			process.finalExitValue = signalExitValue
		}
		close(process.exited)
	})
	return process.finalExitValue, nil
}

// Terminate ends the process with exit value 143 unless it already exited.
func (process *FakeProcess) Terminate() error {
	process.mutex.Lock()
	process.terminateCount++
	process.mutex.Unlock()
	return process.signal(terminatedExitValueConstant)
}

// Kill ends the process with exit value 137 unless it already exited.
func (process *FakeProcess) Kill() error {
	process.mutex.Lock()
	process.killCount++
	process.mutex.Unlock()
	return process.signal(killedExitValueConstant)
}

func (process *FakeProcess) signal(exitValue int) error {
	select {
	case <-process.exited:
		return os.ErrProcessDone
	default:
	}
	select {
	case process.signalled <- exitValue:
	default:
	}
	return nil
}

// TerminateCount reports how often Terminate was called.
func (process *FakeProcess) TerminateCount() int {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.terminateCount
}

// KillCount reports how often Kill was called.
func (process *FakeProcess) KillCount() int {
	process.mutex.Lock()
	defer process.mutex.Unlock()
	return process.killCount
}

// RecordedInput returns everything written to stdin.
func (process *FakeProcess) RecordedInput() string {
	return process.stdin.content()
}

// StdinClosed reports whether stdin was closed.
func (process *FakeProcess) StdinClosed() bool {
	return process.stdin.isClosed()
}

// FakeLauncher hands out a prepared FakeProcess or fails with LaunchError.
type FakeLauncher struct {
	Process     *FakeProcess
	LaunchError error

	mutex    sync.Mutex
	launched []commandline.CommandLine
}

// Launch records commandLine and returns the prepared process.
func (launcher *FakeLauncher) Launch(_ context.Context, commandLine commandline.CommandLine) (NativeProcess, error) {
	launcher.mutex.Lock()
	launcher.launched = append(launcher.launched, commandLine)
	launcher.mutex.Unlock()

	if launcher.LaunchError != nil {
		return nil, launcher.LaunchError
	}
	return launcher.Process, nil
}

// Launched returns every command line passed to Launch.
func (launcher *FakeLauncher) Launched() []commandline.CommandLine {
	launcher.mutex.Lock()
	defer launcher.mutex.Unlock()
	return append([]commandline.CommandLine(nil), launcher.launched...)
}

type recordingWriteCloser struct {
	mutex        sync.Mutex
	buffer       bytes.Buffer
	closed       bool
	closedSignal chan struct{}
}

func (writer *recordingWriteCloser) Write(data []byte) (int, error) {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	if writer.closed {
		return 0, os.ErrClosed
	}
	return writer.buffer.Write(data)
}

func (writer *recordingWriteCloser) Close() error {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	if !writer.closed {
		close(writer.closedSignal)
	}
	writer.closed = true
	return nil
}

func (writer *recordingWriteCloser) content() string {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.buffer.String()
}

func (writer *recordingWriteCloser) isClosed() bool {
	writer.mutex.Lock()
	defer writer.mutex.Unlock()
	return writer.closed
}
