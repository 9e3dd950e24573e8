package logsink

import (
	"bytes"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// LineBuffer is an io.WriteCloser that accumulates bytes and emits one
// record per newline-terminated line. A newline seen while nothing is
// pending is dropped, so blank lines never reach the Logger. Bytes after
// the last newline are discarded on Close.
type LineBuffer struct {
	mu       sync.Mutex
	severity Severity
	logger   Logger
	diag     zerolog.Logger

	pending  []byte
	flushes  int
	failures int
	closed   bool
}

// Option configures a LineBuffer.
type Option func(*LineBuffer)

// WithDiagnostics sets the logger used to report Logger failures.
// Defaults to a disabled logger.
func WithDiagnostics(l zerolog.Logger) Option {
	return func(b *LineBuffer) {
		b.diag = l
	}
}

// New returns a LineBuffer delivering lines to logger at sev.
func New(sev Severity, logger Logger, opts ...Option) *LineBuffer {
	if logger == nil {
		logger = Discard
	}
	b := &LineBuffer{
		severity: sev,
		logger:   logger,
		diag:     zerolog.Nop(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Write never fails and always consumes all of p, so a broken Logger
// cannot stall the pump copying process output into the buffer.
func (b *LineBuffer) Write(p []byte) (int, error) {
	n := len(p)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return n, nil
	}

	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			b.pending = append(b.pending, p...)
			break
		}
		b.pending = append(b.pending, p[:i]...)
		if len(b.pending) > 0 {
			b.flush()
		}
		p = p[i+1:]
	}
	return n, nil
}

// Close discards any unterminated fragment. Writes after Close are ignored.
func (b *LineBuffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = nil
	b.closed = true
	return nil
}

// Severity reports the severity lines are emitted at.
func (b *LineBuffer) Severity() Severity {
	return b.severity
}

// FlushCount reports how many lines have been emitted.
func (b *LineBuffer) FlushCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Failures reports how many emitted lines the Logger rejected.
func (b *LineBuffer) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Buffered reports the number of pending bytes not yet terminated by a newline.
func (b *LineBuffer) Buffered() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// flush must be called with b.mu held and pending non-empty.
func (b *LineBuffer) flush() {
	line := strings.ToValidUTF8(string(b.pending), "\uFFFD")
	b.pending = b.pending[:0]
	b.flushes++

	if err := b.emit(line); err != nil {
		b.failures++
		b.diag.Error().
			Err(err).
			Str("severity", b.severity.String()).
			Msg("writing line to logger failed")
	}
}

func (b *LineBuffer) emit(line string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: logger panicked: %v", ErrLogSink, r)
		}
	}()
	if err := Log(b.logger, b.severity, line); err != nil {
		return fmt.Errorf("%w: %w", ErrLogSink, err)
	}
	return nil
}
