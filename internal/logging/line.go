package logging

import (
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/deixis/overseer/internal/logsink"
)

// LineLogger delivers child process lines to a zerolog logger: stdout
// lines at info level, stderr lines at error level.
type LineLogger struct {
	log zerolog.Logger
}

var _ logsink.Logger = LineLogger{}

// NewLineLogger wraps l. Each record carries a "stream" field.
func NewLineLogger(l zerolog.Logger) LineLogger {
	return LineLogger{log: l}
}

// With returns a copy that adds key=value to every record.
func (l LineLogger) With(key, value string) LineLogger {
	return LineLogger{log: l.log.With().Str(key, value).Logger()}
}

// ForRun tags records with the run ID and program.
func (l LineLogger) ForRun(runID, program string) logsink.Logger {
	return l.With("run_id", runID).With("program", program)
}

func (l LineLogger) Info(line string) error {
	l.log.Info().Str("stream", "stdout").Msg(line)
	return nil
}

func (l LineLogger) Error(line string) error {
	l.log.Error().Str("stream", "stderr").Msg(line)
	return nil
}

// StreamLogger echoes child process lines verbatim: stdout lines to Out,
// stderr lines to Err. It is safe for concurrent use.
type StreamLogger struct {
	mu  sync.Mutex
	Out io.Writer
	Err io.Writer
}

var _ logsink.Logger = (*StreamLogger)(nil)

func (s *StreamLogger) Info(line string) error  { return s.write(s.Out, line) }
func (s *StreamLogger) Error(line string) error { return s.write(s.Err, line) }

func (s *StreamLogger) write(w io.Writer, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(w, line+"\n")
	return err
}
