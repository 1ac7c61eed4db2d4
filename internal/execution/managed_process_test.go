package execution_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/temirov/procexec/internal/commandline"
	"github.com/temirov/procexec/internal/dump"
	"github.com/temirov/procexec/internal/execution"
	"github.com/temirov/procexec/internal/iolog"
	"github.com/temirov/procexec/internal/processors"
	"github.com/temirov/procexec/internal/shutdown"
)

const (
	testFakePidConstant            = 100
	testLongExitDelayConstant      = time.Hour
	testCompletionDeadlineConstant = 5 * time.Second
	testDumpPrefixConstant         = "fake"
	testFakeCommandConstant        = "fake-tool"
	testFakeArgumentConstant       = "--flag"
	testLaunchFailureConstant      = "executable not found"
	testUnexpectedExitConstant     = 42
	testTerminatedExitConstant     = 143
	testKilledExitConstant         = 137
)

type callbackRecorder struct {
	mutex              sync.Mutex
	failures           []error
	doneClosedOnInvoke bool
	statusOnInvoke     execution.Status
	process            *execution.ManagedProcess
}

func (recorder *callbackRecorder) record(failure error) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.failures = append(recorder.failures, failure)
	if recorder.process != nil {
		select {
		case <-recorder.process.Done():
			recorder.doneClosedOnInvoke = true
		default:
		}
		recorder.statusOnInvoke = recorder.process.Status()
	}
}

func (recorder *callbackRecorder) invocations() []error {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]error(nil), recorder.failures...)
}

type fakeHarness struct {
	process   *execution.FakeProcess
	launcher  *execution.FakeLauncher
	registry  *shutdown.HookRegistry
	collector *processors.Collector
	recorder  *callbackRecorder
	dumpDir   string
}

func newFakeHarness(testInstance *testing.T, exitValue int, exitDelay time.Duration, stdout string, stderr string) *fakeHarness {
	testInstance.Helper()
	fakeProcess := execution.NewFakeProcess(testFakePidConstant, exitValue, exitDelay, stdout, stderr)
	return &fakeHarness{
		process:   fakeProcess,
		launcher:  &execution.FakeLauncher{Process: fakeProcess},
		registry:  shutdown.NewHookRegistry(nil),
		collector: processors.Collecting(),
		recorder:  &callbackRecorder{},
		dumpDir:   testInstance.TempDir(),
	}
}

func (harness *fakeHarness) configuration() execution.Configuration {
	return execution.Configuration{
		Processor:     harness.collector.Process,
		OnTermination: harness.recorder.record,
		Dump:          dump.Writer{Directory: harness.dumpDir, Prefix: testDumpPrefixConstant},
		Shutdown:      harness.registry,
		IOLogOptions:  []iolog.Option{iolog.WithGracePeriod(0)},
	}
}

func (harness *fakeHarness) newProcess(configuration execution.Configuration) *execution.ManagedProcess {
	managedProcess := execution.New(harness.launcher, commandline.Must(testFakeCommandConstant, []string{testFakeArgumentConstant}), configuration)
	harness.recorder.process = managedProcess
	return managedProcess
}

func awaitDone(testInstance *testing.T, managedProcess *execution.ManagedProcess) {
	testInstance.Helper()
	select {
	case <-managedProcess.Done():
	case <-time.After(testCompletionDeadlineConstant):
		testInstance.Fatal("process did not reach a terminal state")
	}
}

func TestManagedProcessSucceeds(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, 0, "A\nC\n", "B\n")
	managedProcess := harness.newProcess(harness.configuration())

	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	exitState, waitError := managedProcess.WaitFor()
	require.NoError(testInstance, waitError)

	require.Equal(testInstance, execution.Succeeded, exitState.Status)
	require.Equal(testInstance, testFakePidConstant, exitState.Pid)
	require.True(testInstance, exitState.Exited)
	require.Zero(testInstance, exitState.ExitValue)
	require.Equal(testInstance, []string{"A", "C"}, managedProcess.IOLog().LoggedText(iolog.Out))
	require.Equal(testInstance, []string{"B"}, managedProcess.IOLog().LoggedText(iolog.Err))
	require.Equal(testInstance, []string{"A", "C"}, harness.collector.Texts(iolog.Out))
	require.Equal(testInstance, []string{"B"}, harness.collector.Texts(iolog.Err))

	metaLines := managedProcess.IOLog().LoggedText(iolog.Meta)
	require.Len(testInstance, metaLines, 2)
	require.Equal(testInstance, "Executing fake-tool --flag", metaLines[0])
	require.Equal(testInstance, "Process 100 terminated with exit value 0", metaLines[1])
	require.Equal(testInstance, metaLines, harness.collector.Texts(iolog.Meta))

	require.Zero(testInstance, harness.registry.Len())
	require.Equal(testInstance, []error{nil}, harness.recorder.invocations())
	require.True(testInstance, harness.process.StdinClosed())

	dumpEntries, readError := os.ReadDir(harness.dumpDir)
	require.NoError(testInstance, readError)
	require.Empty(testInstance, dumpEntries)
}

func TestManagedProcessFailsOnUnexpectedExitValue(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, testUnexpectedExitConstant, 0, "before exit\n", "")
	managedProcess := harness.newProcess(harness.configuration())

	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	exitState, waitError := managedProcess.WaitFor()

	require.Equal(testInstance, execution.Failed, exitState.Status)
	require.Equal(testInstance, testUnexpectedExitConstant, exitState.ExitValue)
	require.ErrorIs(testInstance, waitError, execution.ErrUnexpectedExitValue)

	var executionError *execution.ProcessExecutionError
	require.ErrorAs(testInstance, waitError, &executionError)
	require.Equal(testInstance, testUnexpectedExitConstant, executionError.ExitValue)
	require.Zero(testInstance, executionError.ExpectedExitValue)
	require.Equal(testInstance, testFakePidConstant, executionError.Pid)
	require.Equal(testInstance, managedProcess.ID().String(), executionError.ExecutionID)
	require.NoError(testInstance, executionError.DumpError)

	expectedDumpPath := filepath.Join(harness.dumpDir, "fake.100.log")
	require.Equal(testInstance, expectedDumpPath, executionError.DumpPaths.Dump)
	dumpContent, readError := os.ReadFile(expectedDumpPath)
	require.NoError(testInstance, readError)
	require.Contains(testInstance, string(dumpContent), "[out] before exit\n")
	require.Contains(testInstance, string(dumpContent), "Process 100 terminated with exit value 42, expected 0")
	require.Contains(testInstance, waitError.Error(), expectedDumpPath)
	require.Contains(testInstance, waitError.Error(), "exit value 42 (expected 0)")

	require.Contains(testInstance, managedProcess.IOLog().LoggedText(iolog.Meta), "Dump written to "+expectedDumpPath)
	invocations := harness.recorder.invocations()
	require.Len(testInstance, invocations, 1)
	require.Same(testInstance, executionError, invocations[0])
}

func TestManagedProcessHonorsExitValueConfiguration(testInstance *testing.T) {
	testCases := []struct {
		name              string
		exitValue         int
		expectedExitValue int
		ignoreExitValue   bool
		expectedStatus    execution.Status
	}{
		{name: "zero_is_default_success", exitValue: 0, expectedStatus: execution.Succeeded},
		{name: "non_zero_fails_by_default", exitValue: 1, expectedStatus: execution.Failed},
		{name: "custom_expected_value", exitValue: 3, expectedExitValue: 3, expectedStatus: execution.Succeeded},
		{name: "custom_expected_value_mismatch", exitValue: 0, expectedExitValue: 3, expectedStatus: execution.Failed},
		{name: "check_disabled", exitValue: 9, ignoreExitValue: true, expectedStatus: execution.Succeeded},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			harness := newFakeHarness(testInstance, testCase.exitValue, 0, "", "")
			configuration := harness.configuration()
			configuration.ExpectedExitValue = testCase.expectedExitValue
			configuration.IgnoreExitValue = testCase.ignoreExitValue

			exitState, executeError := execution.Execute(context.Background(), harness.launcher, commandline.Must(testFakeCommandConstant, nil), configuration)
			require.Equal(testInstance, testCase.expectedStatus, exitState.Status)
			require.Equal(testInstance, testCase.exitValue, exitState.ExitValue)
			if testCase.expectedStatus == execution.Succeeded {
				require.NoError(testInstance, executeError)
			} else {
				require.ErrorIs(testInstance, executeError, execution.ErrUnexpectedExitValue)
			}
		})
	}
}

func TestTerminationCallbackFiresExactlyOnceBeforeDone(testInstance *testing.T) {
	testCases := []struct {
		name           string
		exitValue      int
		launchError    error
		expectError    bool
		expectedStatus execution.Status
	}{
		{name: "success", exitValue: 0, expectedStatus: execution.Succeeded},
		{name: "failure", exitValue: 1, expectError: true, expectedStatus: execution.Failed},
		{name: "spawn_error", launchError: errors.New(testLaunchFailureConstant), expectError: true, expectedStatus: execution.Failed},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			harness := newFakeHarness(testInstance, testCase.exitValue, 0, "", "")
			harness.launcher.LaunchError = testCase.launchError
			managedProcess := harness.newProcess(harness.configuration())

			_, _ = managedProcess.Start(context.Background())
			awaitDone(testInstance, managedProcess)
			_ = managedProcess.Stop()
			_ = managedProcess.Kill()
			_, _ = managedProcess.WaitFor()

			invocations := harness.recorder.invocations()
			require.Len(testInstance, invocations, 1)
			require.Equal(testInstance, testCase.expectError, invocations[0] != nil)
			require.False(testInstance, harness.recorder.doneClosedOnInvoke)
			require.Equal(testInstance, testCase.expectedStatus, harness.recorder.statusOnInvoke)
		})
	}
}

func TestManagedProcessSpawnFailure(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, 0, "", "")
	harness.launcher.LaunchError = errors.New(testLaunchFailureConstant)
	managedProcess := harness.newProcess(harness.configuration())

	returnedProcess, startError := managedProcess.Start(context.Background())
	require.Same(testInstance, managedProcess, returnedProcess)
	require.ErrorContains(testInstance, startError, testLaunchFailureConstant)
	require.Equal(testInstance, execution.Failed, managedProcess.Status())

	exitState, waitError := managedProcess.WaitFor()
	require.ErrorContains(testInstance, waitError, testLaunchFailureConstant)
	require.False(testInstance, exitState.Exited)
	require.Zero(testInstance, managedProcess.Pid())
	require.Zero(testInstance, harness.registry.Len())

	metaLines := managedProcess.IOLog().LoggedText(iolog.Meta)
	require.Len(testInstance, metaLines, 2)
	require.True(testInstance, strings.HasPrefix(metaLines[1], "Process could not be started"))
}

func TestManagedProcessWithoutLauncher(testInstance *testing.T) {
	managedProcess := execution.New(nil, commandline.Must(testFakeCommandConstant, nil), execution.Configuration{Shutdown: shutdown.NewHookRegistry(nil)})

	_, startError := managedProcess.Start(context.Background())
	require.ErrorIs(testInstance, startError, execution.ErrLauncherNotConfigured)
	_, waitError := managedProcess.WaitFor()
	require.ErrorIs(testInstance, waitError, execution.ErrLauncherNotConfigured)
}

func TestManagedProcessLifecycleGuards(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, 0, "", "")
	managedProcess := harness.newProcess(harness.configuration())

	exitState, waitError := managedProcess.WaitFor()
	require.ErrorIs(testInstance, waitError, execution.ErrNotStarted)
	require.Equal(testInstance, execution.NotStarted, exitState.Status)
	require.NoError(testInstance, managedProcess.Stop())
	require.NoError(testInstance, managedProcess.Kill())

	_, notReady := managedProcess.ExitState()
	require.False(testInstance, notReady)

	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	_, secondStartError := managedProcess.Start(context.Background())
	require.ErrorIs(testInstance, secondStartError, execution.ErrAlreadyStarted)

	awaitDone(testInstance, managedProcess)
	finalState, ready := managedProcess.ExitState()
	require.True(testInstance, ready)
	require.Equal(testInstance, execution.Succeeded, finalState.Status)
	require.Len(testInstance, harness.launcher.Launched(), 1)
}

func TestStopAndKillAreIdempotent(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, testLongExitDelayConstant, "", "")
	managedProcess := harness.newProcess(harness.configuration())

	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	require.Equal(testInstance, execution.Running, managedProcess.Status())

	require.NoError(testInstance, managedProcess.Stop())
	require.NoError(testInstance, managedProcess.Stop())
	awaitDone(testInstance, managedProcess)

	require.NoError(testInstance, managedProcess.Kill())
	require.NoError(testInstance, managedProcess.Stop())

	exitState, waitError := managedProcess.WaitFor()
	require.Equal(testInstance, execution.Failed, exitState.Status)
	require.Equal(testInstance, testTerminatedExitConstant, exitState.ExitValue)
	require.ErrorIs(testInstance, waitError, execution.ErrUnexpectedExitValue)
	require.Zero(testInstance, harness.process.KillCount())
	require.Len(testInstance, harness.recorder.invocations(), 1)
}

func TestShutdownHookKillsRunningProcess(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, testLongExitDelayConstant, "", "")
	managedProcess := harness.newProcess(harness.configuration())

	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	require.Equal(testInstance, 1, harness.registry.Len())

	harness.registry.Run()
	awaitDone(testInstance, managedProcess)

	exitState, _ := managedProcess.WaitFor()
	require.Equal(testInstance, testKilledExitConstant, exitState.ExitValue)
	require.Equal(testInstance, 1, harness.process.KillCount())
}

func TestContextCancellationKillsProcess(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, testLongExitDelayConstant, "", "")
	configuration := harness.configuration()
	configuration.IgnoreExitValue = true
	executionContext, cancel := context.WithCancel(context.Background())

	managedProcess, startError := execution.ExecuteAsync(executionContext, harness.launcher, commandline.Must(testFakeCommandConstant, nil), configuration)
	require.NoError(testInstance, startError)
	cancel()
	awaitDone(testInstance, managedProcess)

	exitState, _ := managedProcess.WaitFor()
	require.Equal(testInstance, testKilledExitConstant, exitState.ExitValue)
	require.GreaterOrEqual(testInstance, harness.process.KillCount(), 1)
}

func TestManagedProcessForwardsInput(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, 0, "", "")
	configuration := harness.configuration()
	configuration.Input = strings.NewReader("first input\nsecond input")

	managedProcess := harness.newProcess(configuration)
	_, startError := managedProcess.Start(context.Background())
	require.NoError(testInstance, startError)
	_, waitError := managedProcess.WaitFor()
	require.NoError(testInstance, waitError)

	require.Equal(testInstance, "first input\nsecond input", harness.process.RecordedInput())
	require.True(testInstance, harness.process.StdinClosed())
	require.Equal(testInstance, []string{"first input", "second input"}, managedProcess.IOLog().LoggedText(iolog.In))
}

func TestDumpFailureIsKeptInsideExecutionError(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 1, 0, "output\n", "")
	blockingFile := filepath.Join(testInstance.TempDir(), "occupied")
	require.NoError(testInstance, os.WriteFile(blockingFile, []byte("file"), 0o600))

	configuration := harness.configuration()
	configuration.Dump = dump.Writer{Directory: filepath.Join(blockingFile, "dumps")}

	exitState, executeError := execution.Execute(context.Background(), harness.launcher, commandline.Must(testFakeCommandConstant, nil), configuration)
	require.Equal(testInstance, execution.Failed, exitState.Status)

	var executionError *execution.ProcessExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.Error(testInstance, executionError.DumpError)
	require.Equal(testInstance, 1, executionError.ExitValue)
	require.Contains(testInstance, executeError.Error(), "dump could not be written")
	require.Contains(testInstance, executeError.Error(), "exit value 1 (expected 0)")
}

func TestManagedProcessIdentifiersAreUnique(testInstance *testing.T) {
	harness := newFakeHarness(testInstance, 0, 0, "", "")
	first := harness.newProcess(harness.configuration())
	second := harness.newProcess(harness.configuration())

	require.NotEqual(testInstance, first.ID(), second.ID())
	require.True(testInstance, first.CommandLine().Equal(commandline.Must(testFakeCommandConstant, []string{testFakeArgumentConstant})))
}
