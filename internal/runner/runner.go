// Package runner executes commands under a watchdog and turns their
// output into line-oriented log records.
package runner

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/watchdog"
)

// DefaultTimeout applies when neither the call, the spec nor the Runner
// sets a timeout.
const DefaultTimeout = 60 * time.Second

// DefaultWaitDelay bounds how long output is still read after the process
// exits, while descendants keep its pipes open.
const DefaultWaitDelay = 2 * time.Second

// Runner executes commands. A Runner holds no per-run state and is safe
// for concurrent use as long as its fields are not modified.
type Runner struct {
	Workspace   string         // optional; when set, command directories must stay inside it
	Timeout     time.Duration  // default deadline; DefaultTimeout if zero
	GracePeriod time.Duration  // delay between SIGTERM and SIGKILL; watchdog default if zero
	KillWait    time.Duration  // wait for death after SIGKILL; watchdog default if zero
	MaxOutput   int            // bytes of transcript kept in Result.Lines; unbounded if zero
	WaitDelay   time.Duration  // output read time after exit; DefaultWaitDelay if zero
	Relay       []os.Signal    // signals received by this process that are passed on to the child
	Logger      logsink.Logger // receives every output line; discarded if nil
	Log         zerolog.Logger // diagnostics
}

// Run executes spec and blocks until the process exits or is killed.
//
// The deadline is timeout if positive, else spec.Timeout, else r.Timeout,
// else DefaultTimeout. Standard output is logged at Info and standard
// error at Error; both streams are fully drained before Run returns.
//
// A timed out run is not an error: the Result has TimedOut set. Errors
// wrap ErrInvalidCommand, ErrSpawnFailure, ErrIOFailure or
// ErrTerminationFailure. The Result is non-nil whenever a process was
// started.
func (r *Runner) Run(spec command.Spec, timeout time.Duration) (*Result, error) {
	if strings.TrimSpace(spec.Program) == "" {
		return nil, fmt.Errorf("%w: empty program", ErrInvalidCommand)
	}
	if len(spec.Args) == 0 {
		return nil, fmt.Errorf("%w: %s: empty arguments", ErrInvalidCommand, spec.Program)
	}

	dir, err := r.resolveDir(spec.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	res := &Result{
		ID:       uuid.New().String(),
		Program:  spec.Program,
		Args:     append([]string(nil), spec.Args...),
		ExitCode: -1,
		Timeout:  r.timeoutFor(spec, timeout),
	}
	log := r.Log.With().Str("run_id", res.ID).Str("program", spec.Program).Logger()

	wd, err := watchdog.New(res.Timeout, r.watchdogOptions(log)...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCommand, err)
	}

	transcript := logsink.NewRecorder(r.MaxOutput)
	lines := logsink.Tee{r.logger(res), transcript}
	stdout := logsink.New(logsink.Info, lines, logsink.WithDiagnostics(log))
	stderr := logsink.New(logsink.Error, lines, logsink.WithDiagnostics(log))

	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Dir = dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	setProcessGroup(cmd)

	// Pipes are created here rather than by exec so that Wait reaps the
	// child without waiting for descendants that inherited the write ends.
	outR, outW, err := os.Pipe()
	if err != nil {
		return res, fmt.Errorf("%w: stdout pipe for %s: %w", ErrIOFailure, spec.Program, err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		closeAll(outR, outW)
		return res, fmt.Errorf("%w: stderr pipe for %s: %w", ErrIOFailure, spec.Program, err)
	}
	defer closeAll(outR, errR)
	cmd.Stdout = outW
	cmd.Stderr = errW

	log.Debug().Strs("args", spec.Args).Str("dir", dir).Dur("timeout", res.Timeout).Msg("spawning process")

	res.StartedAt = time.Now()
	err = cmd.Start()
	closeAll(outW, errW)
	if err != nil {
		return res, fmt.Errorf("%w: %s: %w", ErrSpawnFailure, spec.Program, err)
	}

	exited := make(chan struct{})
	if err := wd.Start(newProcess(cmd.Process), exited); err != nil {
		// Unreachable for a fresh watchdog; don't leave the child running.
		_ = cmd.Process.Kill()
	}

	stopRelay := r.relaySignals(cmd.Process, exited)
	defer stopRelay()

	// Each stream gets its own pump. A child blocked on a full stderr pipe
	// must never wait on us draining stdout, or the other way round.
	var (
		drains    sync.WaitGroup
		drainErrs [2]error
	)
	drains.Add(2)
	go drain(&drains, &drainErrs[0], stdout, outR)
	go drain(&drains, &drainErrs[1], stderr, errR)
	drained := make(chan struct{})
	go func() {
		drains.Wait()
		close(drained)
	}()

	waitCh := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		close(exited)
		waitCh <- err
	}()

	var waitErr error
	select {
	case waitErr = <-waitCh:
	case <-wd.Done():
		if err := wd.Err(); err != nil {
			// The child survived SIGKILL. Stop reading its output and
			// report instead of blocking forever.
			closeAll(outR, errR)
			<-drained
			_ = stdout.Close()
			_ = stderr.Close()
			r.finish(res, stdout, stderr, transcript)
			res.TimedOut = true
			log.Error().Err(err).Msg("process could not be terminated")
			return res, fmt.Errorf("running %s: %w", spec.Program, err)
		}
		waitErr = <-waitCh
	}

	// The child is reaped. Anything it left behind gets WaitDelay to
	// release the pipes before the read ends are closed under it.
	timedOut := !wd.Stop()
	r.awaitDrains(log, drained, outR, errR)

	_ = stdout.Close()
	_ = stderr.Close()
	r.finish(res, stdout, stderr, transcript)

	if timedOut {
		res.TimedOut = true
		log.Warn().Dur("timeout", res.Timeout).Dur("duration", res.Duration).Msg("process timed out")
		return res, nil
	}

	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("%w: waiting for %s: %w", ErrIOFailure, spec.Program, waitErr)
		}
		res.ExitCode = exitErr.ExitCode()
	} else {
		res.ExitCode = 0
	}

	if err := errors.Join(drainErrs[0], drainErrs[1]); err != nil {
		return res, fmt.Errorf("%w: reading output of %s: %w", ErrIOFailure, spec.Program, err)
	}

	log.Debug().Int("exit_code", res.ExitCode).Dur("duration", res.Duration).Msg("process exited")
	return res, nil
}

func (r *Runner) finish(res *Result, stdout, stderr *logsink.LineBuffer, transcript *logsink.Recorder) {
	res.Duration = time.Since(res.StartedAt)
	res.Lines = transcript.Lines()
	res.Truncated = transcript.Truncated()
	res.StdoutLines = stdout.FlushCount()
	res.StderrLines = stderr.FlushCount()
	res.LogFailures = stdout.Failures() + stderr.Failures()
}

// awaitDrains waits for both pumps to reach EOF, closing the read ends
// once WaitDelay has passed.
func (r *Runner) awaitDrains(log zerolog.Logger, drained <-chan struct{}, pipes ...*os.File) {
	delay := r.WaitDelay
	if delay <= 0 {
		delay = DefaultWaitDelay
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-drained:
	case <-t.C:
		log.Warn().Dur("wait_delay", delay).Msg("output still open after exit, closing pipes")
		closeAll(pipes...)
		<-drained
	}
}

// relaySignals passes the Relay signals this process receives on to the
// child until it exits. The returned func stops relaying.
func (r *Runner) relaySignals(p *os.Process, exited <-chan struct{}) func() {
	if len(r.Relay) == 0 {
		return func() {}
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, r.Relay...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-ch:
				if err := signalGroup(p, sig); err != nil {
					r.Log.Warn().Err(err).Stringer("signal", sig).Msg("relaying signal")
				}
			case <-exited:
				return
			case <-done:
				return
			}
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}

func drain(wg *sync.WaitGroup, errp *error, dst io.Writer, src io.Reader) {
	defer wg.Done()
	if _, err := io.Copy(dst, src); err != nil && !errors.Is(err, os.ErrClosed) {
		*errp = err
	}
}

// timeoutFor picks the first positive of the call, spec and runner timeouts.
func (r *Runner) timeoutFor(spec command.Spec, timeout time.Duration) time.Duration {
	for _, d := range []time.Duration{timeout, spec.Timeout, r.Timeout} {
		if d > 0 {
			return d
		}
	}
	return DefaultTimeout
}

func (r *Runner) watchdogOptions(log zerolog.Logger) []watchdog.Option {
	opts := []watchdog.Option{watchdog.WithLogger(log)}
	if r.GracePeriod > 0 {
		opts = append(opts, watchdog.WithGracePeriod(r.GracePeriod))
	}
	if r.KillWait > 0 {
		opts = append(opts, watchdog.WithKillWait(r.KillWait))
	}
	return opts
}

// RunScoped is implemented by loggers that tag each line with the run it
// came from.
type RunScoped interface {
	ForRun(runID, program string) logsink.Logger
}

func (r *Runner) logger(res *Result) logsink.Logger {
	if r.Logger == nil {
		return logsink.Discard
	}
	if s, ok := r.Logger.(RunScoped); ok {
		return s.ForRun(res.ID, res.Program)
	}
	return r.Logger
}

// resolveDir resolves cwd relative to the workspace and validates it
// is within the workspace boundary. Without a workspace, cwd is used as
// given and an empty cwd inherits the caller's directory.
func (r *Runner) resolveDir(cwd string) (string, error) {
	if r.Workspace == "" {
		return cwd, nil
	}
	if cwd == "" {
		return r.Workspace, nil
	}

	var dir string
	if filepath.IsAbs(cwd) {
		dir = filepath.Clean(cwd)
	} else {
		dir = filepath.Clean(filepath.Join(r.Workspace, cwd))
	}

	// Ensure dir is within workspace.
	rel, err := filepath.Rel(r.Workspace, dir)
	if err != nil {
		return "", fmt.Errorf("resolving cwd: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("cwd %q is outside workspace %q", cwd, r.Workspace)
	}
	return dir, nil
}
