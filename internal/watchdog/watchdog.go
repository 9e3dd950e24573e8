// Package watchdog bounds the wall-clock lifetime of a child process.
//
// A Watchdog is armed once per execution. If the deadline passes before
// the owner reports that the process has been reaped, the watchdog asks
// the process to terminate, escalates to a kill after a grace period, and
// reports ErrTerminationFailure if the process still refuses to die.
package watchdog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultGracePeriod is the delay between the termination request and the kill.
	DefaultGracePeriod = 5 * time.Second
	// DefaultKillWait is how long to wait for the process to die after the kill.
	DefaultKillWait = 5 * time.Second
)

var (
	ErrInvalidTimeout     = errors.New("watchdog timeout must be positive")
	ErrRearm              = errors.New("watchdog cannot be re-armed")
	ErrTerminationFailure = errors.New("process could not be terminated")
)

// State is the lifecycle state of a Watchdog.
type State int

const (
	Idle State = iota
	Armed
	Expired
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Process is the handle a Watchdog terminates.
type Process interface {
	// Terminate politely asks the process to exit (SIGTERM).
	Terminate() error
	// Kill forcibly stops the process (SIGKILL).
	Kill() error
}

// Watchdog enforces a single deadline on a single process.
type Watchdog struct {
	timeout  time.Duration
	grace    time.Duration
	killWait time.Duration
	log      zerolog.Logger

	mu     sync.Mutex
	state  State
	used   bool
	timer  *time.Timer
	proc   Process
	exited <-chan struct{}

	done chan struct{}
	err  error
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithGracePeriod sets the delay between Terminate and Kill. Zero kills immediately.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		if d >= 0 {
			w.grace = d
		}
	}
}

// WithKillWait sets how long to wait for the process to die after Kill.
func WithKillWait(d time.Duration) Option {
	return func(w *Watchdog) {
		if d >= 0 {
			w.killWait = d
		}
	}
}

// WithLogger sets the logger used to report expiry and escalation.
func WithLogger(l zerolog.Logger) Option {
	return func(w *Watchdog) {
		w.log = l
	}
}

// New returns an idle Watchdog with the given deadline.
func New(timeout time.Duration, opts ...Option) (*Watchdog, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTimeout, timeout)
	}
	w := &Watchdog{
		timeout:  timeout,
		grace:    DefaultGracePeriod,
		killWait: DefaultKillWait,
		log:      zerolog.Nop(),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Start arms the watchdog for p. exited must be closed by the caller once
// the process has been reaped. A Watchdog can only be started once.
func (w *Watchdog) Start(p Process, exited <-chan struct{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.used {
		return ErrRearm
	}
	w.used = true
	w.proc = p
	w.exited = exited
	w.state = Armed
	w.timer = time.AfterFunc(w.timeout, w.expire)
	return nil
}

// Stop commits a normal exit. It returns true if the watchdog was disarmed
// before it fired, and false if it had already expired.
func (w *Watchdog) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	switch w.state {
	case Armed:
		w.timer.Stop()
		w.state = Idle
		close(w.done)
		return true
	case Expired:
		return false
	default:
		return true
	}
}

// State reports the current state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Timeout reports the configured deadline.
func (w *Watchdog) Timeout() time.Duration {
	return w.timeout
}

// Done is closed once the watchdog is disarmed or its termination
// sequence has finished.
func (w *Watchdog) Done() <-chan struct{} {
	return w.done
}

// Err reports the outcome of the termination sequence. It is nil until
// Done is closed, and nil when the process was disarmed or terminated.
func (w *Watchdog) Err() error {
	select {
	case <-w.done:
		return w.err
	default:
		return nil
	}
}

func (w *Watchdog) expire() {
	w.mu.Lock()
	if w.state != Armed {
		w.mu.Unlock()
		return
	}
	// A process reaped before the deadline was committed always wins.
	select {
	case <-w.exited:
		w.mu.Unlock()
		return
	default:
	}
	w.state = Expired
	w.mu.Unlock()

	w.err = w.terminate()
	close(w.done)
}

func (w *Watchdog) terminate() error {
	w.log.Warn().Dur("timeout", w.timeout).Msg("deadline exceeded, terminating process")
	if err := w.proc.Terminate(); err != nil {
		w.log.Error().Err(err).Msg("sending termination signal failed")
	}
	if w.await(w.grace) {
		return nil
	}

	w.log.Warn().Dur("grace_period", w.grace).Msg("process ignored termination signal, killing")
	if err := w.proc.Kill(); err != nil {
		w.log.Error().Err(err).Msg("killing process failed")
	}
	if w.await(w.killWait) {
		return nil
	}

	w.log.Error().Dur("kill_wait", w.killWait).Msg("process survived kill")
	return fmt.Errorf("%w: still running %v after deadline", ErrTerminationFailure, w.grace+w.killWait)
}

// await reports whether the process was reaped within d.
func (w *Watchdog) await(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-w.exited:
			return true
		default:
			return false
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-w.exited:
		return true
	case <-t.C:
		return false
	}
}
