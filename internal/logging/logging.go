// Package logging configures the process-wide zerolog logger and adapts it
// to the line-oriented Logger used for child process output.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	mu     sync.RWMutex
	logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Format selects the log encoding.
type Format string

const (
	Console Format = "console"
	JSON    Format = "json"
)

// ParseLevel maps a level name to a zerolog level. Unknown or empty
// names fall back to info.
func ParseLevel(raw string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off", "none":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Setup replaces the global logger. A nil writer means os.Stderr.
func Setup(level string, format Format, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if format == Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	l := zerolog.New(w).Level(ParseLevel(level)).With().Timestamp().Logger()

	mu.Lock()
	logger = l
	mu.Unlock()
	return l
}

// Get returns the global logger.
func Get() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// WithComponent returns the global logger with the component field set.
func WithComponent(name string) zerolog.Logger {
	return Get().With().Str("component", name).Logger()
}
