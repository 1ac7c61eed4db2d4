package execution

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/temirov/procexec/internal/iolog"
)

var errDeadlineUnsupported = errors.New("stream does not support read deadlines")

type deadlineSetter interface {
	SetReadDeadline(deadline time.Time) error
}

// mirroredReader copies every byte read from source into the IOLog under kind.
type mirroredReader struct {
	source    io.Reader
	ioLog     *iolog.IOLog
	kind      iolog.Kind
	flushOnce sync.Once
}

func newMirroredReader(source io.Reader, ioLog *iolog.IOLog, kind iolog.Kind) *mirroredReader {
	return &mirroredReader{source: source, ioLog: ioLog, kind: kind}
}

func (reader *mirroredReader) Read(buffer []byte) (int, error) {
	bytesRead, readError := reader.source.Read(buffer)
	if bytesRead > 0 {
		reader.ioLog.Add(reader.kind, buffer[:bytesRead])
	}
	if errors.Is(readError, io.EOF) {
		reader.flush()
	}
	return bytesRead, readError
}

func (reader *mirroredReader) SetReadDeadline(deadline time.Time) error {
	if deadlineCapableSource, supportsDeadline := reader.source.(deadlineSetter); supportsDeadline {
		return deadlineCapableSource.SetReadDeadline(deadline)
	}
	return errDeadlineUnsupported
}

func (reader *mirroredReader) Close() error {
	reader.flush()
	if closer, closable := reader.source.(io.Closer); closable {
		return closer.Close()
	}
	return nil
}

func (reader *mirroredReader) flush() {
	reader.flushOnce.Do(func() {
		reader.ioLog.Flush(reader.kind)
	})
}

// mirroredWriter copies every byte accepted by target into the IOLog as input.
type mirroredWriter struct {
	target    io.WriteCloser
	ioLog     *iolog.IOLog
	flushOnce sync.Once
}

func newMirroredWriter(target io.WriteCloser, ioLog *iolog.IOLog) *mirroredWriter {
	return &mirroredWriter{target: target, ioLog: ioLog}
}

func (writer *mirroredWriter) Write(data []byte) (int, error) {
	bytesWritten, writeError := writer.target.Write(data)
	if bytesWritten > 0 {
		writer.ioLog.Add(iolog.In, data[:bytesWritten])
	}
	return bytesWritten, writeError
}

func (writer *mirroredWriter) Close() error {
	writer.flushOnce.Do(func() {
		writer.ioLog.Flush(iolog.In)
	})
	return writer.target.Close()
}
