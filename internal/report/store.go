// Package report provides structured persistence and retrieval of
// command run transcripts. Runs are stored as typed structs and can be
// queried by step, severity or content.
package report

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/deixis/overseer/internal/logsink"
)

var (
	// ErrNotFound is returned by Load for unknown run IDs.
	ErrNotFound = errors.New("run not found")
	// ErrCorrupt is returned by Load when a stored transcript does not
	// match its digest.
	ErrCorrupt = errors.New("run transcript corrupt")
)

// Kind identifies the type of a run.
type Kind string

const (
	// Single is a one-off command run.
	Single Kind = "run"
	// Pipeline is a sequence of named commands.
	Pipeline Kind = "pipeline"
)

// Status is the outcome of a step or a whole run.
type Status string

const (
	Pass    Status = "pass"
	Fail    Status = "fail"
	Timeout Status = "timeout"
	Error   Status = "error"
	Skipped Status = "skipped"
)

// Store persists and retrieves runs.
type Store interface {
	Save(run *Run) error
	Load(runID string) (*Run, error)
}

// Run is a persisted record of one or more command executions.
type Run struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Name      string    `json:"name,omitempty"` // command or pipeline name
	CreatedAt time.Time `json:"created_at"`
	Status    Status    `json:"status"`
	Steps     []Step    `json:"steps"`
	Digest    string    `json:"digest,omitempty"` // BLAKE3 over step transcripts
}

// Step is a single command execution within a run.
type Step struct {
	Name      string         `json:"name"`
	Command   []string       `json:"command,omitempty"`
	Status    Status         `json:"status"`
	ExitCode  int            `json:"exit_code"`
	Duration  time.Duration  `json:"duration"`
	Error     string         `json:"error,omitempty"`
	Lines     []logsink.Line `json:"lines,omitempty"`
	Truncated bool           `json:"truncated,omitempty"`
}

// Expect returns an error if the run's Kind does not match want.
func (r *Run) Expect(want Kind) error {
	if r.Kind != want {
		return fmt.Errorf("run %s is a %s run, not a %s run", r.ID, r.Kind, want)
	}
	return nil
}

// Seal computes and records the transcript digest.
func (r *Run) Seal() {
	r.Digest = r.digest()
}

// Verify checks the recorded digest. Runs without a digest pass.
func (r *Run) Verify() error {
	if r.Digest == "" {
		return nil
	}
	if got := r.digest(); got != r.Digest {
		return fmt.Errorf("%w: %s: expected %s, got %s", ErrCorrupt, r.ID, r.Digest, got)
	}
	return nil
}

func (r *Run) digest() string {
	h := blake3.New()
	for _, s := range r.Steps {
		fmt.Fprintf(h, "%s\x00%d\x00", s.Name, len(s.Lines))
		for _, l := range s.Lines {
			fmt.Fprintf(h, "%s\x00%s\n", l.Severity, l.Text)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Query selects transcript lines. Zero fields match everything.
type Query struct {
	Step     string            // step name
	Severity *logsink.Severity // only lines at this severity
	Contains string            // substring match on the line text
}

// Entry is a transcript line with the step it came from.
type Entry struct {
	Step     string           `json:"step"`
	Severity logsink.Severity `json:"severity"`
	Text     string           `json:"text"`
}

// Filter returns the transcript lines of run matching q, in order.
func Filter(run *Run, q Query) []Entry {
	var out []Entry
	for _, s := range run.Steps {
		if q.Step != "" && s.Name != q.Step {
			continue
		}
		for _, l := range s.Lines {
			if q.Severity != nil && l.Severity != *q.Severity {
				continue
			}
			if q.Contains != "" && !strings.Contains(l.Text, q.Contains) {
				continue
			}
			out = append(out, Entry{Step: s.Name, Severity: l.Severity, Text: l.Text})
		}
	}
	return out
}

// validID rejects IDs that could escape a store's namespace.
func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return fmt.Errorf("%w: invalid id %q", ErrNotFound, id)
	}
	return nil
}
