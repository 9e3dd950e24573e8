package runner

import (
	"fmt"
	"strings"
	"time"

	"github.com/deixis/overseer/internal/logsink"
)

// Result holds the outcome of a command execution.
type Result struct {
	ID        string         `json:"id"`         // unique identifier for this run
	Program   string         `json:"program"`    // program as given in the command
	Args      []string       `json:"args"`       // arguments as given in the command
	ExitCode  int            `json:"exit_code"`  // process exit code; -1 when timed out or killed
	TimedOut  bool           `json:"timed_out"`  // true if the watchdog terminated the process
	Timeout   time.Duration  `json:"timeout"`    // deadline that was enforced
	StartedAt time.Time      `json:"started_at"` // spawn time
	Duration  time.Duration  `json:"duration"`   // wall-clock time until exit or kill
	Lines     []logsink.Line `json:"lines"`      // captured transcript (may be truncated)
	Truncated bool           `json:"truncated"`  // true if the transcript exceeded the size cap

	StdoutLines int `json:"stdout_lines"` // lines emitted from standard output
	StderrLines int `json:"stderr_lines"` // lines emitted from standard error
	LogFailures int `json:"log_failures"` // lines the external logger rejected
}

// Success reports whether the process exited with status zero.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// Err returns an ErrTimedOut error for a timed out run, and nil otherwise.
// A non-zero exit code is not an error.
func (r *Result) Err() error {
	if r.TimedOut {
		return fmt.Errorf("%w: %s after %v", ErrTimedOut, r.Program, r.Timeout)
	}
	return nil
}

// Stdout returns the captured standard output lines, newline-terminated.
func (r *Result) Stdout() string {
	return r.join(logsink.Info)
}

// Stderr returns the captured standard error lines, newline-terminated.
func (r *Result) Stderr() string {
	return r.join(logsink.Error)
}

func (r *Result) join(sev logsink.Severity) string {
	var b strings.Builder
	for _, l := range r.Lines {
		if l.Severity == sev {
			b.WriteString(l.Text)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
