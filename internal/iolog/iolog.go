package iolog

import (
	"io"
	"strings"
	"sync"
	"time"

	"github.com/temirov/procexec/internal/lines"
)

const (
	defaultSettleIntervalConstant = 20 * time.Millisecond
	defaultGracePeriodConstant    = 500 * time.Millisecond
	dumpLineSeparatorConstant     = "\n"
)

// IOLog records complete lines reconstructed from chunked stream bytes.
//
// Each kind owns a pending buffer; bytes only become visible through Logged once a line
// terminator has been seen or the kind has been flushed. All methods are safe for concurrent use.
type IOLog struct {
	mutex          sync.Mutex
	logged         []IO
	splitters      map[Kind]*lines.Splitter
	lastWrite      time.Time
	settleInterval time.Duration
	gracePeriod    time.Duration
}

// Option customizes an IOLog.
type Option func(ioLog *IOLog)

// WithGracePeriod bounds how long Dump waits for in-flight writes to settle. Zero disables waiting.
func WithGracePeriod(gracePeriod time.Duration) Option {
	return func(ioLog *IOLog) {
		if gracePeriod >= 0 {
			ioLog.gracePeriod = gracePeriod
		}
	}
}

// WithSettleInterval sets the quiet period Dump requires before rendering.
func WithSettleInterval(settleInterval time.Duration) Option {
	return func(ioLog *IOLog) {
		if settleInterval >= 0 {
			ioLog.settleInterval = settleInterval
		}
	}
}

// New creates an empty IOLog.
func New(options ...Option) *IOLog {
	ioLog := &IOLog{
		splitters:      make(map[Kind]*lines.Splitter, len(Kinds)),
		settleInterval: defaultSettleIntervalConstant,
		gracePeriod:    defaultGracePeriodConstant,
	}
	for _, kind := range Kinds {
		ioLog.splitters[kind] = lines.NewSplitter()
	}
	for _, option := range options {
		if option != nil {
			option(ioLog)
		}
	}
	return ioLog
}

// Add appends raw bytes of kind and records every line they complete.
func (ioLog *IOLog) Add(kind Kind, chunk []byte) {
	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()

	ioLog.lastWrite = time.Now()
	for _, line := range ioLog.splitterFor(kind).Feed(chunk) {
		ioLog.logged = append(ioLog.logged, IO{Kind: kind, Text: line})
	}
}

// AddLine records text as complete lines of kind. Embedded terminators produce several lines.
func (ioLog *IOLog) AddLine(kind Kind, text string) {
	splitLines := lines.Split(text)
	if len(splitLines) == 0 {
		splitLines = []string{text}
	}

	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()

	ioLog.lastWrite = time.Now()
	for _, line := range splitLines {
		ioLog.logged = append(ioLog.logged, IO{Kind: kind, Text: line})
	}
}

// Flush promotes the unterminated fragment of kind, if any, to a line.
func (ioLog *IOLog) Flush(kind Kind) {
	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()

	if remainder, hasRemainder := ioLog.splitterFor(kind).Flush(); hasRemainder {
		ioLog.lastWrite = time.Now()
		ioLog.logged = append(ioLog.logged, IO{Kind: kind, Text: remainder})
	}
}

// Pending reports the number of buffered bytes of kind that do not form a complete line yet.
func (ioLog *IOLog) Pending(kind Kind) int {
	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()
	return ioLog.splitterFor(kind).Pending()
}

// Writer returns an io.Writer that records everything written to it as kind.
func (ioLog *IOLog) Writer(kind Kind) io.Writer {
	return &kindWriter{ioLog: ioLog, kind: kind}
}

// Logged returns a snapshot of every completed line in arrival order.
func (ioLog *IOLog) Logged() []IO {
	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()
	return append([]IO(nil), ioLog.logged...)
}

// LoggedKind returns a snapshot of the completed lines of kind.
func (ioLog *IOLog) LoggedKind(kind Kind) []IO {
	ioLog.mutex.Lock()
	defer ioLog.mutex.Unlock()

	var filtered []IO
	for _, entry := range ioLog.logged {
		if entry.Kind == kind {
			filtered = append(filtered, entry)
		}
	}
	return filtered
}

// LoggedText returns the texts of the completed lines of kind.
func (ioLog *IOLog) LoggedText(kind Kind) []string {
	entries := ioLog.LoggedKind(kind)
	texts := make([]string, 0, len(entries))
	for _, entry := range entries {
		texts = append(texts, entry.Text)
	}
	return texts
}

// Dump renders every completed line, one per line, tagged with its kind.
// It first waits until no write happened for the settle interval, at most for the grace period.
func (ioLog *IOLog) Dump() string {
	ioLog.awaitSettle()

	entries := ioLog.Logged()
	var builder strings.Builder
	for _, entry := range entries {
		builder.WriteString(entry.String())
		builder.WriteString(dumpLineSeparatorConstant)
	}
	return builder.String()
}

func (ioLog *IOLog) awaitSettle() {
	deadline := time.Now().Add(ioLog.gracePeriod)
	for {
		ioLog.mutex.Lock()
		quietFor := time.Since(ioLog.lastWrite)
		ioLog.mutex.Unlock()

		if quietFor >= ioLog.settleInterval {
			return
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		pause := ioLog.settleInterval - quietFor
		if pause > remaining {
			pause = remaining
		}
		time.Sleep(pause)
	}
}

func (ioLog *IOLog) splitterFor(kind Kind) *lines.Splitter {
	splitter, exists := ioLog.splitters[kind]
	if !exists {
		splitter = lines.NewSplitter()
		ioLog.splitters[kind] = splitter
	}
	return splitter
}

type kindWriter struct {
	ioLog *IOLog
	kind  Kind
}

func (writer *kindWriter) Write(chunk []byte) (int, error) {
	writer.ioLog.Add(writer.kind, chunk)
	return len(chunk), nil
}
