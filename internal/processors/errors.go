package processors

import (
	"fmt"

	"github.com/temirov/procexec/internal/iolog"
)

const (
	streamErrorTemplateConstant    = "%s stream failed: %v"
	processorPanicTemplateConstant = "processor panicked on %s line: %v"
)

// StreamError reports an I/O failure on one of the standard streams.
type StreamError struct {
	Kind iolog.Kind
	Err  error
}

// Error describes the failed stream.
func (streamError *StreamError) Error() string {
	return fmt.Sprintf(streamErrorTemplateConstant, streamError.Kind, streamError.Err)
}

// Unwrap exposes the underlying I/O error.
func (streamError *StreamError) Unwrap() error {
	return streamError.Err
}

// ProcessorPanicError reports a recovered panic raised by a Processor.
type ProcessorPanicError struct {
	Kind  iolog.Kind
	Value any
}

// Error describes the recovered panic.
func (panicError *ProcessorPanicError) Error() string {
	return fmt.Sprintf(processorPanicTemplateConstant, panicError.Kind, panicError.Value)
}
