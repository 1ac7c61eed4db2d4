package processors

import (
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/temirov/procexec/internal/iolog"
)

const (
	processOutputMessageConstant = "process output"
	streamFieldNameConstant      = "stream"
	lineFieldNameConstant        = "line"
	lineTerminatorConstant       = "\n"
)

// Processor receives every complete line captured from a process.
// Output and error lines of one process may be delivered concurrently.
type Processor func(entry iolog.IO)

// Noop discards every line.
func Noop() Processor {
	return func(iolog.IO) {}
}

// Logging emits every line through logger.
func Logging(logger *zap.Logger) Processor {
	if logger == nil {
		return Noop()
	}
	return func(entry iolog.IO) {
		logger.Info(processOutputMessageConstant,
			zap.String(streamFieldNameConstant, entry.Kind.String()),
			zap.String(lineFieldNameConstant, entry.Text),
		)
	}
}

// Writing copies output lines to outputWriter and every other line to errorWriter.
// Writes are serialized so that lines from concurrent streams never interleave mid-line.
func Writing(outputWriter io.Writer, errorWriter io.Writer, colored bool) Processor {
	var writeMutex sync.Mutex
	return func(entry iolog.IO) {
		targetWriter := errorWriter
		if entry.Kind == iolog.Out {
			targetWriter = outputWriter
		}
		if targetWriter == nil {
			return
		}

		writeMutex.Lock()
		defer writeMutex.Unlock()
		_, _ = io.WriteString(targetWriter, iolog.Format(entry, colored)+lineTerminatorConstant)
	}
}

// Collector accumulates processed lines in memory.
type Collector struct {
	mutex   sync.Mutex
	entries []iolog.IO
}

// Collecting creates an empty Collector.
func Collecting() *Collector {
	return &Collector{}
}

// Process records entry. It satisfies the Processor signature.
func (collector *Collector) Process(entry iolog.IO) {
	collector.mutex.Lock()
	defer collector.mutex.Unlock()
	collector.entries = append(collector.entries, entry)
}

// Entries returns a copy of every recorded line.
func (collector *Collector) Entries() []iolog.IO {
	collector.mutex.Lock()
	defer collector.mutex.Unlock()
	return append([]iolog.IO(nil), collector.entries...)
}

// Texts returns the texts of the recorded lines of kind.
func (collector *Collector) Texts(kind iolog.Kind) []string {
	var texts []string
	for _, entry := range collector.Entries() {
		if entry.Kind == kind {
			texts = append(texts, entry.Text)
		}
	}
	return texts
}

// Chain invokes every non-nil processor in order.
func Chain(processors ...Processor) Processor {
	var activeProcessors []Processor
	for _, processor := range processors {
		if processor != nil {
			activeProcessors = append(activeProcessors, processor)
		}
	}
	return func(entry iolog.IO) {
		for _, processor := range activeProcessors {
			processor(entry)
		}
	}
}
