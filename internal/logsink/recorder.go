package logsink

import "sync"

// Recorder is a Logger that keeps lines in memory up to a byte limit.
// Lines arriving after the limit is reached are dropped and the
// transcript is marked truncated.
type Recorder struct {
	mu        sync.Mutex
	limit     int
	size      int
	lines     []Line
	truncated bool
}

// NewRecorder returns a Recorder keeping at most limit bytes of line text.
// A limit <= 0 means unbounded.
func NewRecorder(limit int) *Recorder {
	return &Recorder{limit: limit}
}

func (r *Recorder) Info(line string) error  { r.add(Info, line); return nil }
func (r *Recorder) Error(line string) error { r.add(Error, line); return nil }

func (r *Recorder) add(sev Severity, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limit > 0 && r.size+len(text) > r.limit {
		r.truncated = true
		return
	}
	r.size += len(text)
	r.lines = append(r.lines, Line{Severity: sev, Text: text})
}

// Lines returns a copy of the recorded lines in emission order.
func (r *Recorder) Lines() []Line {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// Truncated reports whether any line was dropped because of the limit.
func (r *Recorder) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.truncated
}
