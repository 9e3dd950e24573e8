// Package workflow provides the execution engine behind Overseer's
// command and pipeline runs. It is consumed by the MCP server, the HTTP
// API and the CLI commands.
package workflow

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
)

// CommandRunner executes commands under a deadline.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(spec command.Spec, timeout time.Duration) (*runner.Result, error)
}

// Engine holds shared dependencies for all workflow operations.
type Engine struct {
	Config    *config.Config
	Runner    CommandRunner
	Store     report.Store // optional; every run is saved when set
	Workspace string       // directory commands run from
	RepoRoot  string       // directory holding the config file
	Log       zerolog.Logger
}

// Exec runs spec once and records it as a single-step run named name.
// The returned error is non-nil only when the command could not be run at
// all; the run and result are still returned when a process was started.
func (e *Engine) Exec(name string, spec command.Spec, timeout time.Duration) (*report.Run, *runner.Result, error) {
	if name == "" {
		name = filepath.Base(spec.Program)
	}
	run := e.newRun(report.Single, name)

	step, res, err := e.step(name, spec, timeout)
	run.Steps = []report.Step{step}
	run.Status = step.Status
	e.save(run)
	return run, res, err
}

// Command runs a named command from the config file.
func (e *Engine) Command(name string, timeout time.Duration) (*report.Run, *runner.Result, error) {
	spec, err := e.Config.Command(name)
	if errors.Is(err, config.ErrUnknownCommand) {
		return nil, nil, NewErrUnknownCommand(name, e.Config.CommandNames())
	}
	if err != nil {
		return nil, nil, err
	}
	return e.Exec(name, spec, timeout)
}

// Inspect loads a stored run.
func (e *Engine) Inspect(runID string) (*report.Run, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("%w: %s (no store configured)", report.ErrNotFound, runID)
	}
	return e.Store.Load(runID)
}

func (e *Engine) newRun(kind report.Kind, name string) *report.Run {
	return &report.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// step executes spec and maps the outcome to a report step.
func (e *Engine) step(name string, spec command.Spec, timeout time.Duration) (report.Step, *runner.Result, error) {
	st := report.Step{Name: name, Command: spec.Argv(), ExitCode: -1}

	if _, err := ResolveProgram(spec.Program); err != nil {
		st.Status = report.Error
		st.Error = err.Error()
		return st, nil, err
	}

	res, err := e.Runner.Run(spec, timeout)
	if res != nil {
		st.ExitCode = res.ExitCode
		st.Duration = res.Duration
		st.Lines = res.Lines
		st.Truncated = res.Truncated
	}
	switch {
	case err != nil:
		st.Status = report.Error
		st.Error = err.Error()
	case res.TimedOut:
		st.Status = report.Timeout
		st.Error = res.Err().Error()
	case res.ExitCode != 0:
		st.Status = report.Fail
	default:
		st.Status = report.Pass
	}

	e.Log.Debug().
		Str("step", name).
		Str("status", string(st.Status)).
		Int("exit_code", st.ExitCode).
		Dur("duration", st.Duration).
		Msg("step finished")
	return st, res, err
}

func (e *Engine) save(run *report.Run) {
	if e.Store == nil {
		return
	}
	if err := e.Store.Save(run); err != nil {
		e.Log.Error().Err(err).Str("run_id", run.ID).Msg("saving run failed")
	}
}

// ResolveProgram returns the path the program would be executed from.
// Bare names are looked up on PATH. Names containing a path separator are
// returned unchanged; their existence depends on the working directory
// and is left to the runner.
func ResolveProgram(name string) (string, error) {
	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		return name, nil
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", ErrProgramUnavailable{Name: name}
	}
	return path, nil
}

// ErrProgramUnavailable is returned when a program is not on PATH.
type ErrProgramUnavailable struct {
	Name string
}

func (e ErrProgramUnavailable) Error() string {
	return fmt.Sprintf("%s is required but not installed (not found on PATH)", e.Name)
}

// Unwrap lets callers match the runner's spawn failure.
func (e ErrProgramUnavailable) Unwrap() error {
	return runner.ErrSpawnFailure
}

// ErrUnknownCommand is returned for command or pipeline names that are not
// in the config file. It lists the names that are.
type ErrUnknownCommand struct {
	Kind  string // "command" or "pipeline"
	Name  string
	Known []string
}

// NewErrUnknownCommand builds an ErrUnknownCommand for a command name.
func NewErrUnknownCommand(name string, known []string) ErrUnknownCommand {
	return ErrUnknownCommand{Kind: "command", Name: name, Known: known}
}

func (e ErrUnknownCommand) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "unknown %s %q.", e.Kind, e.Name)
	if len(e.Known) == 0 {
		fmt.Fprintf(&b, " No %ss are configured; add a %ss section to %s.", e.Kind, e.Kind, config.FileName)
		return b.String()
	}
	fmt.Fprintf(&b, " Configured: %s", strings.Join(e.Known, ", "))
	return b.String()
}

// Unwrap lets callers match config.ErrUnknownCommand.
func (e ErrUnknownCommand) Unwrap() error {
	return config.ErrUnknownCommand
}
