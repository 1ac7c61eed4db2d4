package commandline

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alessio/shellescape"
)

const (
	argumentSeparatorConstant             = " "
	multiLineArgumentSeparatorConstant    = " \\\n"
	multiLineIndentationConstant          = "  "
	defaultShellExecutableConstant        = "/bin/sh"
	shellCommandFlagConstant              = "-c"
	environmentAssignmentTemplateConstant = "%s=%s"
	summaryEllipsisConstant               = "…"
	summaryMaximumLengthConstant          = 60
	workingDirectoryResolutionTemplate    = "unable to resolve working directory %q: %w"
)

// CommandLine describes an executable invocation. Values are immutable; every modifier returns a copy.
type CommandLine struct {
	command          string
	arguments        []string
	environment      map[string]string
	workingDirectory string
	redirects        []string
}

// Option customizes a CommandLine during construction.
type Option func(commandLine *CommandLine)

// WithEnvironment adds environment overrides passed verbatim to the spawned process.
func WithEnvironment(environment map[string]string) Option {
	return func(commandLine *CommandLine) {
		for environmentKey, environmentValue := range environment {
			commandLine.environment[environmentKey] = environmentValue
		}
	}
}

// WithWorkingDirectory sets the directory the process is started in.
func WithWorkingDirectory(workingDirectory string) Option {
	return func(commandLine *CommandLine) {
		commandLine.workingDirectory = workingDirectory
	}
}

// WithRedirects appends output redirects such as "2>&1" that are rendered unquoted.
func WithRedirects(redirects ...string) Option {
	return func(commandLine *CommandLine) {
		commandLine.redirects = append(commandLine.redirects, redirects...)
	}
}

// New constructs a CommandLine for command with the supplied arguments.
// The working directory is resolved to an absolute path; an empty value resolves to the current directory.
func New(command string, arguments []string, options ...Option) (CommandLine, error) {
	commandLine := CommandLine{
		command:     command,
		arguments:   append([]string{}, arguments...),
		environment: map[string]string{},
	}

	for _, option := range options {
		if option != nil {
			option(&commandLine)
		}
	}

	absoluteWorkingDirectory, resolutionError := resolveWorkingDirectory(commandLine.workingDirectory)
	if resolutionError != nil {
		return CommandLine{}, resolutionError
	}
	commandLine.workingDirectory = absoluteWorkingDirectory

	return commandLine, nil
}

// Must is like New but panics on error. Intended for static command lines and tests.
func Must(command string, arguments []string, options ...Option) CommandLine {
	commandLine, creationError := New(command, arguments, options...)
	if creationError != nil {
		panic(creationError)
	}
	return commandLine
}

// Shell builds a command line that runs script with /bin/sh -c.
func Shell(script string, options ...Option) (CommandLine, error) {
	return New(defaultShellExecutableConstant, []string{shellCommandFlagConstant, script}, options...)
}

func resolveWorkingDirectory(workingDirectory string) (string, error) {
	if len(workingDirectory) == 0 {
		currentDirectory, currentDirectoryError := os.Getwd()
		if currentDirectoryError != nil {
			return "", fmt.Errorf(workingDirectoryResolutionTemplate, workingDirectory, currentDirectoryError)
		}
		return currentDirectory, nil
	}

	absolutePath, absoluteError := filepath.Abs(workingDirectory)
	if absoluteError != nil {
		return "", fmt.Errorf(workingDirectoryResolutionTemplate, workingDirectory, absoluteError)
	}
	return absolutePath, nil
}

// Command returns the executable.
func (commandLine CommandLine) Command() string {
	return commandLine.command
}

// Arguments returns a copy of the arguments.
func (commandLine CommandLine) Arguments() []string {
	return append([]string{}, commandLine.arguments...)
}

// Environment returns a copy of the environment overrides.
func (commandLine CommandLine) Environment() map[string]string {
	environmentCopy := make(map[string]string, len(commandLine.environment))
	for environmentKey, environmentValue := range commandLine.environment {
		environmentCopy[environmentKey] = environmentValue
	}
	return environmentCopy
}

// EnvironmentAssignments renders the environment overrides as sorted KEY=VALUE pairs.
func (commandLine CommandLine) EnvironmentAssignments() []string {
	assignments := make([]string, 0, len(commandLine.environment))
	for environmentKey, environmentValue := range commandLine.environment {
		assignments = append(assignments, fmt.Sprintf(environmentAssignmentTemplateConstant, environmentKey, environmentValue))
	}
	sort.Strings(assignments)
	return assignments
}

// WorkingDirectory returns the absolute working directory.
func (commandLine CommandLine) WorkingDirectory() string {
	return commandLine.workingDirectory
}

// Redirects returns a copy of the configured redirects.
func (commandLine CommandLine) Redirects() []string {
	return append([]string{}, commandLine.redirects...)
}

// ArgumentVector returns the command followed by its arguments.
func (commandLine CommandLine) ArgumentVector() []string {
	return append([]string{commandLine.command}, commandLine.arguments...)
}

// Equal reports whether both command lines render the same argument vector.
// Environment, working directory and redirects are not compared.
func (commandLine CommandLine) Equal(other CommandLine) bool {
	ownVector := commandLine.ArgumentVector()
	otherVector := other.ArgumentVector()
	if len(ownVector) != len(otherVector) {
		return false
	}
	for index := range ownVector {
		if ownVector[index] != otherVector[index] {
			return false
		}
	}
	return true
}

// String renders the command line on a single line using shell-safe quoting.
func (commandLine CommandLine) String() string {
	return strings.Join(commandLine.renderTokens(), argumentSeparatorConstant)
}

// MultiLineString renders each argument on its own continuation line.
func (commandLine CommandLine) MultiLineString() string {
	tokens := commandLine.renderTokens()
	var builder strings.Builder
	for tokenIndex, token := range tokens {
		if tokenIndex > 0 {
			builder.WriteString(multiLineArgumentSeparatorConstant)
			builder.WriteString(multiLineIndentationConstant)
		}
		builder.WriteString(token)
	}
	return builder.String()
}

// Summary renders a shortened single line description suitable for log messages.
func (commandLine CommandLine) Summary() string {
	rendered := strings.Join(strings.Fields(commandLine.String()), argumentSeparatorConstant)
	runes := []rune(rendered)
	if len(runes) <= summaryMaximumLengthConstant {
		return rendered
	}
	return string(runes[:summaryMaximumLengthConstant-1]) + summaryEllipsisConstant
}

// IncludedFiles lists the regular files referenced by arguments, resolved against the working directory.
func (commandLine CommandLine) IncludedFiles() []string {
	seenFiles := map[string]struct{}{}
	var includedFiles []string
	for _, argument := range commandLine.arguments {
		if len(strings.TrimSpace(argument)) == 0 || strings.ContainsAny(argument, "\n\x00") {
			continue
		}
		candidatePath := argument
		if !filepath.IsAbs(candidatePath) {
			candidatePath = filepath.Join(commandLine.workingDirectory, candidatePath)
		}
		fileInformation, statError := os.Stat(candidatePath)
		if statError != nil || !fileInformation.Mode().IsRegular() {
			continue
		}
		if _, alreadySeen := seenFiles[candidatePath]; alreadySeen {
			continue
		}
		seenFiles[candidatePath] = struct{}{}
		includedFiles = append(includedFiles, candidatePath)
	}
	return includedFiles
}

func (commandLine CommandLine) renderTokens() []string {
	vector := commandLine.ArgumentVector()
	quotedTokens := make([]string, len(vector))
	for index, argument := range vector {
		quotedTokens[index] = shellescape.Quote(argument)
	}
	repairedTokens := repairHereDocuments(vector, quotedTokens)
	return append(repairedTokens, commandLine.redirects...)
}
