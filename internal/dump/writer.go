package dump

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/temirov/procexec/internal/commandline"
	"github.com/temirov/procexec/internal/iolog"
)

const (
	// DefaultPrefix names dump files when no prefix is configured.
	DefaultPrefix = "process"

	primaryFileNameTemplateConstant       = "%s.%d.log"
	variantFileNameTemplateConstant       = "%s-%d.%d.log"
	strippedFileNameTemplateConstant      = "%s.ansi-removed.log"
	logExtensionConstant                  = ".log"
	documentSeparatorConstant             = "---\n"
	maximumNameVariantsConstant           = 10000
	directoryPermissionsConstant          = 0o755
	filePermissionsConstant               = 0o644
	createDirectoryErrorTemplateConstant  = "unable to create dump directory %s: %w"
	encodeMetadataErrorTemplateConstant   = "unable to encode dump metadata: %w"
	createFileErrorTemplateConstant       = "unable to create dump file %s: %w"
	writeFileErrorTemplateConstant        = "unable to write dump file %s: %w"
	exhaustedNameVariantsTemplateConstant = "no free dump file name for prefix %s and pid %d"
)

// Dumper renders captured I/O as text.
type Dumper interface {
	Dump() string
}

// Report describes a failed execution.
type Report struct {
	ExecutionID       string
	Pid               int
	CommandLine       commandline.CommandLine
	ExitValue         int
	ExpectedExitValue int
	Captured          Dumper
}

// Metadata is the YAML document heading every dump file.
type Metadata struct {
	ExecutionID       string   `yaml:"execution_id"`
	Pid               int      `yaml:"pid"`
	CommandLine       string   `yaml:"command_line"`
	WorkingDirectory  string   `yaml:"working_directory"`
	Environment       []string `yaml:"environment,omitempty"`
	ExitValue         int      `yaml:"exit_value"`
	ExpectedExitValue int      `yaml:"expected_exit_value"`
	IncludedFiles     []string `yaml:"included_files,omitempty"`
	WrittenAt         string   `yaml:"written_at"`
}

// Paths locates the files written for one dump.
type Paths struct {
	Dump         string
	StrippedDump string
}

// Writer writes dump files into Directory, named after Prefix and the process id.
type Writer struct {
	Directory string
	Prefix    string
	StripANSI bool
}

// Write persists report and returns the paths of the written files.
// Existing files are never overwritten; a free name variant is chosen instead.
func (writer Writer) Write(report Report) (Paths, error) {
	directory := writer.Directory
	if len(directory) == 0 {
		directory = os.TempDir()
	}
	prefix := writer.Prefix
	if len(prefix) == 0 {
		prefix = DefaultPrefix
	}

	if mkdirError := os.MkdirAll(directory, directoryPermissionsConstant); mkdirError != nil {
		return Paths{}, fmt.Errorf(createDirectoryErrorTemplateConstant, directory, mkdirError)
	}

	content, renderError := render(report)
	if renderError != nil {
		return Paths{}, renderError
	}

	files, createError := createExclusive(directory, prefix, report.Pid, writer.StripANSI)
	if createError != nil {
		return Paths{}, createError
	}
	paths := Paths{Dump: files.dumpPath}
	if writeError := writeAndClose(files.dump, content); writeError != nil {
		if files.stripped != nil {
			_ = files.stripped.Close()
			_ = os.Remove(files.strippedPath)
		}
		return paths, fmt.Errorf(writeFileErrorTemplateConstant, files.dumpPath, writeError)
	}

	if files.stripped == nil {
		return paths, nil
	}
	if writeError := writeAndClose(files.stripped, iolog.StripANSI(content)); writeError != nil {
		return paths, fmt.Errorf(writeFileErrorTemplateConstant, files.strippedPath, writeError)
	}
	paths.StrippedDump = files.strippedPath
	return paths, nil
}

func render(report Report) (string, error) {
	metadata := Metadata{
		ExecutionID:       report.ExecutionID,
		Pid:               report.Pid,
		CommandLine:       report.CommandLine.String(),
		WorkingDirectory:  report.CommandLine.WorkingDirectory(),
		Environment:       report.CommandLine.EnvironmentAssignments(),
		ExitValue:         report.ExitValue,
		ExpectedExitValue: report.ExpectedExitValue,
		IncludedFiles:     report.CommandLine.IncludedFiles(),
		WrittenAt:         time.Now().UTC().Format(time.RFC3339),
	}
	encodedMetadata, encodeError := yaml.Marshal(metadata)
	if encodeError != nil {
		return "", fmt.Errorf(encodeMetadataErrorTemplateConstant, encodeError)
	}

	captured := ""
	if report.Captured != nil {
		captured = report.Captured.Dump()
	}
	return string(encodedMetadata) + documentSeparatorConstant + captured, nil
}

type dumpFiles struct {
	dump         *os.File
	dumpPath     string
	stripped     *os.File
	strippedPath string
}

// createExclusive claims the first name variant whose dump file, and stripped copy when requested, are both free.
func createExclusive(directory string, prefix string, pid int, withStrippedCopy bool) (dumpFiles, error) {
	for variant := 0; variant < maximumNameVariantsConstant; variant++ {
		candidatePath := filepath.Join(directory, fileName(prefix, pid, variant))
		candidateFile, claimed, openError := openExclusive(candidatePath)
		if openError != nil {
			return dumpFiles{}, openError
		}
		if !claimed {
			continue
		}
		files := dumpFiles{dump: candidateFile, dumpPath: candidatePath}
		if !withStrippedCopy {
			return files, nil
		}

		strippedPath := fmt.Sprintf(strippedFileNameTemplateConstant, strings.TrimSuffix(candidatePath, logExtensionConstant))
		strippedFile, strippedClaimed, strippedError := openExclusive(strippedPath)
		if strippedError != nil || !strippedClaimed {
			_ = candidateFile.Close()
			_ = os.Remove(candidatePath)
		}
		if strippedError != nil {
			return dumpFiles{}, strippedError
		}
		if !strippedClaimed {
			continue
		}
		files.stripped = strippedFile
		files.strippedPath = strippedPath
		return files, nil
	}
	return dumpFiles{}, fmt.Errorf(exhaustedNameVariantsTemplateConstant, prefix, pid)
}

func openExclusive(path string) (*os.File, bool, error) {
	file, openError := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePermissionsConstant)
	switch {
	case openError == nil:
		return file, true, nil
	case errors.Is(openError, fs.ErrExist):
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf(createFileErrorTemplateConstant, path, openError)
	}
}

func fileName(prefix string, pid int, variant int) string {
	if variant == 0 {
		return fmt.Sprintf(primaryFileNameTemplateConstant, prefix, pid)
	}
	return fmt.Sprintf(variantFileNameTemplateConstant, prefix, variant, pid)
}

func writeAndClose(file *os.File, content string) error {
	_, writeError := file.WriteString(content)
	closeError := file.Close()
	if writeError != nil {
		return writeError
	}
	return closeError
}
