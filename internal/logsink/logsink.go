//go:generate mockgen -destination=mocks/mock_logger.go -package=mocks github.com/deixis/overseer/internal/logsink Logger

// Package logsink turns the raw byte stream of a child process into
// discrete log lines delivered to a Logger at a fixed severity.
package logsink

import (
	"errors"
	"fmt"
	"strings"
)

// Severity selects the Logger entry point a line is delivered to.
type Severity int

const (
	// Info is used for standard output.
	Info Severity = iota
	// Error is used for standard error.
	Error
)

// ErrLogSink wraps failures raised by a downstream Logger.
var ErrLogSink = errors.New("log sink failure")

func (s Severity) String() string {
	switch s {
	case Info:
		return "info"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity parses "info" or "error" (case-insensitive).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info", "stdout":
		return Info, nil
	case "error", "stderr":
		return Error, nil
	default:
		return Info, fmt.Errorf("unknown severity %q", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Logger receives completed lines. Implementations are shared between
// concurrent executions and must be safe for concurrent use.
type Logger interface {
	Info(line string) error
	Error(line string) error
}

// Log delivers line to the entry point of l matching sev.
func Log(l Logger, sev Severity, line string) error {
	switch sev {
	case Error:
		return l.Error(line)
	default:
		return l.Info(line)
	}
}

// Line is a single emitted log record.
type Line struct {
	Severity Severity `json:"severity"`
	Text     string   `json:"text"`
}

// Tee fans every line out to all of its Loggers. Every Logger is called
// even when an earlier one fails.
type Tee []Logger

func (t Tee) Info(line string) error  { return t.each(Info, line) }
func (t Tee) Error(line string) error { return t.each(Error, line) }

func (t Tee) each(sev Severity, line string) error {
	var errs []error
	for _, l := range t {
		if l == nil {
			continue
		}
		if err := Log(l, sev, line); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every line.
var Discard Logger = discard{}

type discard struct{}

func (discard) Info(string) error  { return nil }
func (discard) Error(string) error { return nil }
