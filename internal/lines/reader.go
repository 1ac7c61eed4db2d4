package lines

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"
)

const (
	defaultChunkSizeConstant    = 32 * 1024
	defaultPollIntervalConstant = 10 * time.Millisecond
	defaultReadTimeoutConstant  = 100 * time.Millisecond
	readFailureTemplateConstant = "read failed: %w"
	emitFailureTemplateConstant = "line consumer failed: %w"
)

// LineConsumer receives every complete line read from a stream.
type LineConsumer func(line string) error

type deadlineSetter interface {
	SetReadDeadline(deadline time.Time) error
}

// Reader drains a byte stream and emits complete lines without blocking indefinitely on idle streams.
//
// Sources supporting read deadlines (pipes, sockets) are read with a short deadline so that
// cancellation is observed while the stream is idle. A read that returns no data, a deadline
// expiry or EAGAIN is treated as "nothing available yet" and retried.
type Reader struct {
	source       io.Reader
	splitter     *Splitter
	chunkSize    int
	pollInterval time.Duration
	readTimeout  time.Duration
}

// ReaderOption customizes a Reader.
type ReaderOption func(reader *Reader)

// WithChunkSize sets the maximum number of bytes requested per read.
func WithChunkSize(chunkSize int) ReaderOption {
	return func(reader *Reader) {
		if chunkSize > 0 {
			reader.chunkSize = chunkSize
		}
	}
}

// WithPollInterval sets the pause between retries when no data is available.
func WithPollInterval(pollInterval time.Duration) ReaderOption {
	return func(reader *Reader) {
		if pollInterval > 0 {
			reader.pollInterval = pollInterval
		}
	}
}

// WithReadTimeout sets the read deadline applied to sources that support deadlines.
func WithReadTimeout(readTimeout time.Duration) ReaderOption {
	return func(reader *Reader) {
		if readTimeout > 0 {
			reader.readTimeout = readTimeout
		}
	}
}

// NewReader wraps source.
func NewReader(source io.Reader, options ...ReaderOption) *Reader {
	reader := &Reader{
		source:       source,
		splitter:     NewSplitter(),
		chunkSize:    defaultChunkSizeConstant,
		pollInterval: defaultPollIntervalConstant,
		readTimeout:  defaultReadTimeoutConstant,
	}
	for _, option := range options {
		if option != nil {
			option(reader)
		}
	}
	return reader
}

// ReadLines reads until EOF, passing each complete line to consume. The unterminated tail is
// emitted at EOF. A read error stops reading after the buffered tail has been emitted.
func (reader *Reader) ReadLines(executionContext context.Context, consume LineConsumer) error {
	if executionContext == nil {
		executionContext = context.Background()
	}
	deadlineCapableSource, supportsDeadline := reader.source.(deadlineSetter)
	buffer := make([]byte, reader.chunkSize)

	for {
		if contextError := executionContext.Err(); contextError != nil {
			return contextError
		}

		if supportsDeadline {
			if deadlineError := deadlineCapableSource.SetReadDeadline(time.Now().Add(reader.readTimeout)); deadlineError != nil {
				supportsDeadline = false
			}
		}

		bytesRead, readError := reader.source.Read(buffer)
		if bytesRead > 0 {
			for _, line := range reader.splitter.Feed(buffer[:bytesRead]) {
				if consumeError := consume(line); consumeError != nil {
					return fmt.Errorf(emitFailureTemplateConstant, consumeError)
				}
			}
		}

		switch {
		case readError == nil && bytesRead > 0:
			continue
		case readError == nil || isRetryable(readError):
			if waitError := reader.pause(executionContext); waitError != nil {
				return waitError
			}
			continue
		case errors.Is(readError, io.EOF):
			return reader.flush(consume)
		default:
			if flushError := reader.flush(consume); flushError != nil {
				return flushError
			}
			return fmt.Errorf(readFailureTemplateConstant, readError)
		}
	}
}

func (reader *Reader) flush(consume LineConsumer) error {
	remainder, hasRemainder := reader.splitter.Flush()
	if !hasRemainder {
		return nil
	}
	if consumeError := consume(remainder); consumeError != nil {
		return fmt.Errorf(emitFailureTemplateConstant, consumeError)
	}
	return nil
}

func (reader *Reader) pause(executionContext context.Context) error {
	timer := time.NewTimer(reader.pollInterval)
	defer timer.Stop()
	select {
	case <-executionContext.Done():
		return executionContext.Err()
	case <-timer.C:
		return nil
	}
}

func isRetryable(readError error) bool {
	return errors.Is(readError, os.ErrDeadlineExceeded) || errors.Is(readError, syscall.EAGAIN)
}
