package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/temirov/procexec/internal/commandline"
	"github.com/temirov/procexec/internal/dump"
	"github.com/temirov/procexec/internal/execution"
	"github.com/temirov/procexec/internal/iolog"
	"github.com/temirov/procexec/internal/processors"
	"github.com/temirov/procexec/internal/shutdown"
	"github.com/temirov/procexec/internal/utils"
)

const (
	commandUseConstant                     = "run [flags] -- command [arguments...]"
	commandShortDescriptionConstant        = "Run a command while capturing its input and output"
	commandLongDescriptionConstant         = "run executes a command, streams every captured line to the terminal, verifies its exit value and writes a dump when the exit value is unexpected."
	expectedExitValueFlagNameConstant      = "expected-exit-value"
	expectedExitValueFlagUsageConstant     = "Exit value considered successful."
	noExitCheckFlagNameConstant            = "no-exit-check"
	noExitCheckFlagUsageConstant           = "Accept every exit value."
	dumpDirectoryFlagNameConstant          = "dump-dir"
	dumpDirectoryFlagUsageConstant         = "Directory receiving dumps of failed processes (defaults to the temporary directory)."
	dumpPrefixFlagNameConstant             = "dump-prefix"
	dumpPrefixFlagUsageConstant            = "File name prefix of dumps."
	workingDirectoryFlagNameConstant       = "working-directory"
	workingDirectoryFlagUsageConstant      = "Working directory of the command."
	environmentFlagNameConstant            = "env"
	environmentFlagUsageConstant           = "Environment assignment KEY=VALUE added to the host environment (repeatable)."
	inputFlagNameConstant                  = "input"
	inputFlagUsageConstant                 = "File forwarded to the command's standard input; - forwards this program's standard input."
	stripANSIFlagNameConstant              = "strip-ansi"
	stripANSIFlagUsageConstant             = "Also write a dump copy with ANSI escape sequences removed."
	colorFlagNameConstant                  = "color"
	colorFlagUsageConstant                 = "Colour captured lines: auto, always or never."
	standardInputPathConstant              = "-"
	environmentAssignmentSeparatorConstant = "="
	fallbackExitValueConstant              = 1
	invalidAssignmentTemplateConstant      = "invalid environment assignment %q; expected KEY=VALUE"
	commandLineErrorTemplateConstant       = "unable to describe command: %w"
	inputOpenErrorTemplateConstant         = "unable to open input %s: %w"
	invalidConfigurationTemplateConstant   = "invalid run configuration: %w"
	runStartingMessageConstant             = "run command starting"
	runFinishedMessageConstant             = "run command finished"
	commandFieldNameConstant               = "command"
	workingDirectoryFieldNameConstant      = "working_directory"
	statusFieldNameConstant                = "status"
	exitValueFieldNameConstant             = "exit_value"
	coloredFieldNameConstant               = "colored"
)

// LoggerProvider yields the logger configured by the root command.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the run command.
type CommandBuilder struct {
	LoggerProvider        LoggerProvider
	ConfigurationProvider func() CommandConfiguration
	Launcher              execution.Launcher
	ShutdownRegistry      *shutdown.HookRegistry
	TerminalDetector      func(io.Writer) bool
}

// Build constructs the run command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		Args:  cobra.MinimumNArgs(1),
		RunE:  builder.run,
	}

	flagSet := command.Flags()
	flagSet.SetInterspersed(false)
	flagSet.Int(expectedExitValueFlagNameConstant, 0, expectedExitValueFlagUsageConstant)
	flagSet.Bool(noExitCheckFlagNameConstant, false, noExitCheckFlagUsageConstant)
	flagSet.String(dumpDirectoryFlagNameConstant, "", dumpDirectoryFlagUsageConstant)
	flagSet.String(dumpPrefixFlagNameConstant, "", dumpPrefixFlagUsageConstant)
	flagSet.String(workingDirectoryFlagNameConstant, "", workingDirectoryFlagUsageConstant)
	flagSet.StringArray(environmentFlagNameConstant, nil, environmentFlagUsageConstant)
	flagSet.String(inputFlagNameConstant, "", inputFlagUsageConstant)
	flagSet.Bool(stripANSIFlagNameConstant, false, stripANSIFlagUsageConstant)
	flagSet.String(colorFlagNameConstant, "", colorFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	logger := builder.resolveLogger()
	configuration := builder.resolveConfiguration()
	if overrideError := applyFlagOverrides(command, &configuration); overrideError != nil {
		return overrideError
	}
	if validationError := configuration.Validate(); validationError != nil {
		return fmt.Errorf(invalidConfigurationTemplateConstant, validationError)
	}

	commandLine, commandLineError := builder.commandLine(command, configuration, arguments)
	if commandLineError != nil {
		return commandLineError
	}

	inputPath, _ := command.Flags().GetString(inputFlagNameConstant)
	input, closeInput, inputError := openInput(inputPath, command.InOrStdin())
	if inputError != nil {
		return inputError
	}
	defer closeInput()

	colored := builder.colorEnabled(configuration.Color, command.OutOrStdout())
	processor := processors.Writing(utils.NewFlushingWriter(command.OutOrStdout()), utils.NewFlushingWriter(command.ErrOrStderr()), colored)
	if configuration.LogOutput {
		processor = processors.Chain(processor, processors.Logging(logger))
	}

	executionContext := command.Context()
	if executionContext == nil {
		executionContext = context.Background()
	}
	registry := builder.ShutdownRegistry
	if registry == nil {
		registry = shutdown.Default()
	}
	stopNotifications := shutdown.NotifyOnSignals(executionContext, registry)
	defer stopNotifications()

	logger.Info(runStartingMessageConstant,
		zap.String(commandFieldNameConstant, commandLine.Summary()),
		zap.String(workingDirectoryFieldNameConstant, commandLine.WorkingDirectory()),
		zap.Bool(coloredFieldNameConstant, colored),
	)

	exitState, executeError := execution.Execute(executionContext, builder.resolveLauncher(logger), commandLine, execution.Configuration{
		ExpectedExitValue: configuration.ExpectedExitValue,
		IgnoreExitValue:   configuration.IgnoreExitValue,
		Input:             input,
		Processor:         processor,
		Dump: dump.Writer{
			Directory: configuration.DumpDirectory,
			Prefix:    configuration.DumpPrefix,
			StripANSI: configuration.StripANSI,
		},
		Pool:         processors.NewPool(configuration.WorkerLimit),
		Shutdown:     registry,
		Logger:       logger,
		IOLogOptions: []iolog.Option{iolog.WithGracePeriod(configuration.GracePeriod), iolog.WithSettleInterval(configuration.SettleInterval)},
	})

	logger.Info(runFinishedMessageConstant,
		zap.Stringer(statusFieldNameConstant, exitState.Status),
		zap.Int(exitValueFieldNameConstant, exitState.ExitValue),
	)

	return resultError(exitState, executeError)
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	if logger := builder.LoggerProvider(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

func (builder *CommandBuilder) resolveConfiguration() CommandConfiguration {
	if builder.ConfigurationProvider == nil {
		return CommandConfiguration{Color: ColorAuto}
	}
	return builder.ConfigurationProvider()
}

func (builder *CommandBuilder) resolveLauncher(logger *zap.Logger) execution.Launcher {
	if builder.Launcher != nil {
		return builder.Launcher
	}
	return execution.NewOSLauncher(logger)
}

func (builder *CommandBuilder) commandLine(command *cobra.Command, configuration CommandConfiguration, arguments []string) (commandline.CommandLine, error) {
	environmentAssignments, _ := command.Flags().GetStringArray(environmentFlagNameConstant)
	environment, parseError := parseEnvironmentAssignments(append(append([]string{}, configuration.Environment...), environmentAssignments...))
	if parseError != nil {
		return commandline.CommandLine{}, parseError
	}
	workingDirectory, _ := command.Flags().GetString(workingDirectoryFlagNameConstant)

	commandLine, commandLineError := commandline.New(arguments[0], arguments[1:],
		commandline.WithEnvironment(environment),
		commandline.WithWorkingDirectory(workingDirectory),
	)
	if commandLineError != nil {
		return commandline.CommandLine{}, fmt.Errorf(commandLineErrorTemplateConstant, commandLineError)
	}
	return commandLine, nil
}

func (builder *CommandBuilder) colorEnabled(colorMode string, output io.Writer) bool {
	switch strings.ToLower(strings.TrimSpace(colorMode)) {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	}
	if builder.TerminalDetector != nil {
		return builder.TerminalDetector(output)
	}
	return isTerminal(output)
}

func isTerminal(output io.Writer) bool {
	outputFile, isFile := output.(*os.File)
	if !isFile {
		return false
	}
	return term.IsTerminal(int(outputFile.Fd()))
}

func applyFlagOverrides(command *cobra.Command, configuration *CommandConfiguration) error {
	flagSet := command.Flags()
	var flagError error
	if flagSet.Changed(expectedExitValueFlagNameConstant) {
		configuration.ExpectedExitValue, flagError = flagSet.GetInt(expectedExitValueFlagNameConstant)
	}
	if flagError == nil && flagSet.Changed(noExitCheckFlagNameConstant) {
		configuration.IgnoreExitValue, flagError = flagSet.GetBool(noExitCheckFlagNameConstant)
	}
	if flagError == nil && flagSet.Changed(dumpDirectoryFlagNameConstant) {
		configuration.DumpDirectory, flagError = flagSet.GetString(dumpDirectoryFlagNameConstant)
	}
	if flagError == nil && flagSet.Changed(dumpPrefixFlagNameConstant) {
		configuration.DumpPrefix, flagError = flagSet.GetString(dumpPrefixFlagNameConstant)
	}
	if flagError == nil && flagSet.Changed(stripANSIFlagNameConstant) {
		configuration.StripANSI, flagError = flagSet.GetBool(stripANSIFlagNameConstant)
	}
	if flagError == nil && flagSet.Changed(colorFlagNameConstant) {
		configuration.Color, flagError = flagSet.GetString(colorFlagNameConstant)
	}
	return flagError
}

func parseEnvironmentAssignments(assignments []string) (map[string]string, error) {
	if len(assignments) == 0 {
		return nil, nil
	}
	environment := make(map[string]string, len(assignments))
	for _, assignment := range assignments {
		key, value, found := strings.Cut(assignment, environmentAssignmentSeparatorConstant)
		if !found || len(strings.TrimSpace(key)) == 0 {
			return nil, fmt.Errorf(invalidAssignmentTemplateConstant, assignment)
		}
		environment[strings.TrimSpace(key)] = value
	}
	return environment, nil
}

func openInput(inputPath string, standardInput io.Reader) (io.Reader, func(), error) {
	switch inputPath {
	case "":
		return nil, func() {}, nil
	case standardInputPathConstant:
		return standardInput, func() {}, nil
	}
	inputFile, openError := os.Open(inputPath)
	if openError != nil {
		return nil, func() {}, fmt.Errorf(inputOpenErrorTemplateConstant, inputPath, openError)
	}
	return inputFile, func() { _ = inputFile.Close() }, nil
}

func resultError(exitState execution.ExitState, executeError error) error {
	if !exitState.Exited {
		return executeError
	}
	if executeError == nil && exitState.ExitValue == 0 {
		return nil
	}
	exitValue := exitState.ExitValue
	if exitValue == 0 {
		exitValue = fallbackExitValueConstant
	}
	var executionError *execution.ProcessExecutionError
	if executeError != nil && !errors.As(executeError, &executionError) {
		return executeError
	}
	return &ExitValueError{ExitValue: exitValue, Cause: executeError}
}
