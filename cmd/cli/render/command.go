package render

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/temirov/procexec/internal/commandline"
)

const (
	commandUseConstant                = "render [flags] -- command [arguments...]"
	commandShortDescriptionConstant   = "Print a command line quoted for a POSIX shell"
	commandLongDescriptionConstant    = "render prints the command line the run command would execute, quoted so it can be pasted into a shell. Here documents are kept verbatim."
	multiLineFlagNameConstant         = "multi-line"
	multiLineFlagUsageConstant        = "Print one argument per line joined by line continuations."
	workingDirectoryFlagNameConstant  = "working-directory"
	workingDirectoryFlagUsageConstant = "Working directory used to resolve referenced files."
	filesFlagNameConstant             = "files"
	filesFlagUsageConstant            = "Also list the regular files referenced by the arguments."
	commandLineErrorTemplateConstant  = "unable to describe command: %w"
	renderedMessageConstant           = "command line rendered"
	commandFieldNameConstant          = "command"
	includedFilesFieldNameConstant    = "included_files"
	outputLineTemplateConstant        = "%s\n"
)

// LoggerProvider yields the logger configured by the root command.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the render command.
type CommandBuilder struct {
	LoggerProvider LoggerProvider
}

// Build constructs the render command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:   commandUseConstant,
		Short: commandShortDescriptionConstant,
		Long:  commandLongDescriptionConstant,
		Args:  cobra.MinimumNArgs(1),
		RunE:  builder.run,
	}

	command.Flags().SetInterspersed(false)
	command.Flags().Bool(multiLineFlagNameConstant, false, multiLineFlagUsageConstant)
	command.Flags().String(workingDirectoryFlagNameConstant, "", workingDirectoryFlagUsageConstant)
	command.Flags().Bool(filesFlagNameConstant, false, filesFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	workingDirectory, _ := command.Flags().GetString(workingDirectoryFlagNameConstant)
	commandLine, commandLineError := commandline.New(arguments[0], arguments[1:], commandline.WithWorkingDirectory(workingDirectory))
	if commandLineError != nil {
		return fmt.Errorf(commandLineErrorTemplateConstant, commandLineError)
	}

	multiLine, _ := command.Flags().GetBool(multiLineFlagNameConstant)
	listFiles, _ := command.Flags().GetBool(filesFlagNameConstant)

	rendered := commandLine.String()
	if multiLine {
		rendered = commandLine.MultiLineString()
	}

	output := command.OutOrStdout()
	if writeError := writeLine(output, rendered); writeError != nil {
		return writeError
	}
	if listFiles {
		for _, includedFile := range commandLine.IncludedFiles() {
			if writeError := writeLine(output, includedFile); writeError != nil {
				return writeError
			}
		}
	}

	builder.resolveLogger().Debug(renderedMessageConstant,
		zap.String(commandFieldNameConstant, commandLine.Summary()),
		zap.Strings(includedFilesFieldNameConstant, commandLine.IncludedFiles()),
	)
	return nil
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

func writeLine(output io.Writer, text string) error {
	_, writeError := fmt.Fprintf(output, outputLineTemplateConstant, text)
	return writeError
}
