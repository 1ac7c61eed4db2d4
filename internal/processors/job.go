package processors

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/temirov/procexec/internal/iolog"
	"github.com/temirov/procexec/internal/lines"
)

const (
	workerStartedMessageConstant  = "stream worker started"
	workerFinishedMessageConstant = "stream worker finished"
	workerFailedMessageConstant   = "stream worker failed"
	workerFieldNameConstant       = "worker"
)

// Streams groups the process streams a Job drains.
// Input is optional caller data forwarded into Stdin; Stdin is closed once Input is exhausted.
type Streams struct {
	Input  io.Reader
	Stdin  io.WriteCloser
	Stdout io.Reader
	Stderr io.Reader
}

// Option customizes a Job.
type Option func(settings *jobSettings)

type jobSettings struct {
	logger        *zap.Logger
	readerOptions []lines.ReaderOption
}

// WithLogger sets the logger receiving worker lifecycle messages.
func WithLogger(logger *zap.Logger) Option {
	return func(settings *jobSettings) {
		if logger != nil {
			settings.logger = logger
		}
	}
}

// WithReaderOptions configures the line readers used by the output workers.
func WithReaderOptions(readerOptions ...lines.ReaderOption) Option {
	return func(settings *jobSettings) {
		settings.readerOptions = append(settings.readerOptions, readerOptions...)
	}
}

// Job is the joined completion of the stream workers of one process.
type Job struct {
	done        chan struct{}
	drained     chan struct{}
	inputDone   chan struct{}
	abandoned   chan struct{}
	abandonOnce sync.Once
	outputError error
	inputError  error
}

// Start launches the stdin forwarder and the stdout and stderr workers on pool and returns immediately.
// The workers of one Job occupy their pool slots together, so a Job either runs all of its workers or waits.
func Start(executionContext context.Context, pool *Pool, streams Streams, processor Processor, options ...Option) *Job {
	if executionContext == nil {
		executionContext = context.Background()
	}
	if processor == nil {
		processor = Noop()
	}
	settings := jobSettings{logger: zap.NewNop()}
	for _, option := range options {
		if option != nil {
			option(&settings)
		}
	}

	job := &Job{
		done:      make(chan struct{}),
		drained:   make(chan struct{}),
		inputDone: make(chan struct{}),
		abandoned: make(chan struct{}),
	}
	workers := &workerGroup{
		processor: processor,
		logger:    settings.logger,
	}

	var outputKinds []iolog.Kind
	if streams.Stdout != nil {
		outputKinds = append(outputKinds, iolog.Out)
	}
	if streams.Stderr != nil {
		outputKinds = append(outputKinds, iolog.Err)
	}
	slotCount := int64(len(outputKinds))
	if streams.Stdin != nil {
		slotCount++
	}

	go func() {
		defer close(job.done)

		if acquireError := pool.acquire(executionContext, slotCount); acquireError != nil {
			if streams.Stdin != nil {
				_ = streams.Stdin.Close()
			}
			job.outputError = workers.rejectAll(outputKinds, acquireError)
			if streams.Stdin != nil {
				job.inputError = workers.reject(iolog.In, acquireError)
			}
			close(job.inputDone)
			close(job.drained)
			return
		}

		if streams.Stdin != nil {
			go func() {
				job.inputError = workers.run(iolog.In, func() error {
					return forwardInput(streams.Input, streams.Stdin)
				})
				close(job.inputDone)
			}()
		} else {
			close(job.inputDone)
		}

		var outputGroup errgroup.Group
		for _, kind := range outputKinds {
			source := streams.Stdout
			if kind == iolog.Err {
				source = streams.Stderr
			}
			outputGroup.Go(func() error {
				return workers.run(kind, func() error {
					return drainStream(executionContext, source, kind, processor, settings.readerOptions)
				})
			})
		}
		job.outputError = outputGroup.Wait()
		close(job.drained)

		select {
		case <-job.inputDone:
		case <-job.abandoned:
		}
		pool.release(slotCount)
		<-job.inputDone
	}()
	return job
}

// Wait blocks until every worker finished, including the stdin forwarder, and returns the first worker failure.
func (job *Job) Wait() error {
	<-job.done
	if job.outputError != nil {
		return job.outputError
	}
	return job.inputError
}

// Done is closed once every worker finished.
func (job *Job) Done() <-chan struct{} {
	return job.done
}

// WaitDrained blocks until stdout and stderr were drained and gives up on a stdin forwarder still
// blocked on Input. An abandoned forwarder releases its pool slots at once and its outcome is discarded.
func (job *Job) WaitDrained() error {
	<-job.drained
	select {
	case <-job.inputDone:
		if job.outputError != nil {
			return job.outputError
		}
		return job.inputError
	default:
		job.abandonOnce.Do(func() { close(job.abandoned) })
		return job.outputError
	}
}

// ProcessSynchronously blocks the caller until every worker finished.
func ProcessSynchronously(executionContext context.Context, pool *Pool, streams Streams, processor Processor, options ...Option) error {
	return Start(executionContext, pool, streams, processor, options...).Wait()
}

// ProcessAsynchronously drains streams in the background and returns the Job immediately.
func ProcessAsynchronously(executionContext context.Context, pool *Pool, streams Streams, processor Processor, options ...Option) *Job {
	return Start(executionContext, pool, streams, processor, options...)
}

type workerGroup struct {
	processor Processor
	logger    *zap.Logger
}

func (workers *workerGroup) run(kind iolog.Kind, task func() error) (workerError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			workerError = &ProcessorPanicError{Kind: kind, Value: recovered}
		}
		workers.report(kind, workerError)
	}()

	workers.logger.Debug(workerStartedMessageConstant, zap.Stringer(workerFieldNameConstant, kind))
	return task()
}

func (workers *workerGroup) reject(kind iolog.Kind, acquireError error) error {
	workerError := &StreamError{Kind: kind, Err: acquireError}
	workers.report(kind, workerError)
	return workerError
}

func (workers *workerGroup) rejectAll(kinds []iolog.Kind, acquireError error) error {
	var firstError error
	for _, kind := range kinds {
		if workerError := workers.reject(kind, acquireError); firstError == nil {
			firstError = workerError
		}
	}
	return firstError
}

func (workers *workerGroup) report(kind iolog.Kind, workerError error) {
	if workerError == nil {
		workers.logger.Debug(workerFinishedMessageConstant, zap.Stringer(workerFieldNameConstant, kind))
		return
	}
	workers.logger.Warn(workerFailedMessageConstant, zap.Stringer(workerFieldNameConstant, kind), zap.Error(workerError))

	var streamError *StreamError
	if errors.As(workerError, &streamError) {
		_ = safeProcess(workers.processor, iolog.IO{Kind: iolog.Meta, Text: streamError.Error()})
	}
}

func forwardInput(input io.Reader, stdin io.WriteCloser) error {
	var copyError error
	if input != nil {
		_, copyError = io.Copy(stdin, input)
	}
	closeError := stdin.Close()

	if copyError != nil && !isClosedPipe(copyError) {
		return &StreamError{Kind: iolog.In, Err: copyError}
	}
	if closeError != nil && !isClosedPipe(closeError) {
		return &StreamError{Kind: iolog.In, Err: closeError}
	}
	return nil
}

func drainStream(executionContext context.Context, source io.Reader, kind iolog.Kind, processor Processor, readerOptions []lines.ReaderOption) error {
	var firstPanicError error
	readError := lines.NewReader(source, readerOptions...).ReadLines(executionContext, func(line string) error {
		if panicError := safeProcess(processor, iolog.IO{Kind: kind, Text: line}); panicError != nil && firstPanicError == nil {
			firstPanicError = panicError
		}
		return nil
	})
	if readError == nil {
		return firstPanicError
	}

	streamError := &StreamError{Kind: kind, Err: readError}
	if firstPanicError != nil {
		return errors.Join(streamError, firstPanicError)
	}
	return streamError
}

func safeProcess(processor Processor, entry iolog.IO) (panicError error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			panicError = &ProcessorPanicError{Kind: entry.Kind, Value: recovered}
		}
	}()
	processor(entry)
	return nil
}

// isClosedPipe reports whether the process closed its end of stdin before consuming all input.
func isClosedPipe(ioError error) bool {
	return errors.Is(ioError, syscall.EPIPE) || errors.Is(ioError, os.ErrClosed) || errors.Is(ioError, io.ErrClosedPipe)
}
