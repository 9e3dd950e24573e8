package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
)

// fakeRunner is a test double for CommandRunner. It returns predetermined
// results keyed by the first argument of the spec.
type fakeRunner struct {
	Results map[string]*runner.Result
	Err     map[string]error
	Calls   []command.Spec
	Timeout []time.Duration
}

func (f *fakeRunner) Run(spec command.Spec, timeout time.Duration) (*runner.Result, error) {
	f.Calls = append(f.Calls, spec)
	f.Timeout = append(f.Timeout, timeout)
	key := spec.Args[0]
	if err, ok := f.Err[key]; ok {
		return nil, err
	}
	if r, ok := f.Results[key]; ok {
		return r, nil
	}
	// Default: success with one line of output.
	return &runner.Result{
		ExitCode: 0,
		Lines:    []logsink.Line{{Severity: logsink.Info, Text: key}},
	}, nil
}

type memStore struct{ runs map[string]*report.Run }

func (m *memStore) Save(r *report.Run) error { m.runs[r.ID] = r; return nil }
func (m *memStore) Load(id string) (*report.Run, error) {
	if r, ok := m.runs[id]; ok {
		return r, nil
	}
	return nil, report.ErrNotFound
}

func boolPtr(b bool) *bool { return &b }

func testConfig() *config.Config {
	return &config.Config{
		Commands: map[string]config.CommandConfig{
			"build":   {Program: "echo", Args: []string{"build"}},
			"test":    {Program: "echo", Args: []string{"test"}, RawTimeout: "3s"},
			"lint":    {Program: "echo", Args: []string{"lint"}},
			"missing": {Program: "overseer-no-such-program-xyz", Args: []string{"x"}},
		},
		Pipelines: map[string]config.PipelineConfig{
			"ci":     {Steps: []string{"build", "test", "lint"}},
			"audit":  {Steps: []string{"build", "test", "lint"}, FailFast: boolPtr(false)},
			"broken": {Steps: []string{"missing", "build"}},
		},
	}
}

func newTestEngine(fr *fakeRunner) (*Engine, *memStore) {
	store := &memStore{runs: map[string]*report.Run{}}
	return &Engine{Config: testConfig(), Runner: fr, Store: store}, store
}

func TestPipeline_AllPass(t *testing.T) {
	fr := &fakeRunner{}
	e, store := newTestEngine(fr)

	res, err := e.Pipeline(context.Background(), "ci")
	require.NoError(t, err)
	assert.Equal(t, -1, res.FailedIdx)
	assert.Equal(t, report.Pass, res.Run.Status)
	assert.Equal(t, report.Pipeline, res.Run.Kind)
	require.Len(t, res.Run.Steps, 3)
	for _, s := range res.Run.Steps {
		assert.Equal(t, report.Pass, s.Status, s.Name)
		assert.Equal(t, 0, s.ExitCode)
	}
	assert.Equal(t, []string{"echo", "build"}, res.Run.Steps[0].Command)
	assert.Equal(t, "build", res.Run.Steps[0].Lines[0].Text)

	// Step timeouts come from the command spec, not the call.
	assert.Equal(t, 3*time.Second, fr.Calls[1].Timeout)
	assert.Equal(t, time.Duration(0), fr.Timeout[1])

	assert.Contains(t, store.runs, res.Run.ID)
}

func TestPipeline_FailFastSkipsRest(t *testing.T) {
	fr := &fakeRunner{Results: map[string]*runner.Result{
		"test": {ExitCode: 1},
	}}
	e, _ := newTestEngine(fr)

	res, err := e.Pipeline(context.Background(), "ci")
	require.NoError(t, err)
	assert.Equal(t, 1, res.FailedIdx)
	assert.Equal(t, report.Fail, res.Run.Status)
	assert.Equal(t, report.Pass, res.Run.Steps[0].Status)
	assert.Equal(t, report.Fail, res.Run.Steps[1].Status)
	assert.Equal(t, report.Skipped, res.Run.Steps[2].Status)
	assert.Len(t, fr.Calls, 2)
}

func TestPipeline_RunAll(t *testing.T) {
	fr := &fakeRunner{Results: map[string]*runner.Result{
		"build": {ExitCode: -1, TimedOut: true, Timeout: time.Second},
	}}
	e, _ := newTestEngine(fr)

	res, err := e.Pipeline(context.Background(), "audit")
	require.NoError(t, err)
	assert.Equal(t, 0, res.FailedIdx)
	assert.Equal(t, report.Timeout, res.Run.Status)
	assert.Equal(t, report.Timeout, res.Run.Steps[0].Status)
	assert.Contains(t, res.Run.Steps[0].Error, "timed out")
	assert.Equal(t, report.Pass, res.Run.Steps[1].Status)
	assert.Equal(t, report.Pass, res.Run.Steps[2].Status)
	assert.Len(t, fr.Calls, 3)
}

func TestPipeline_RunnerError(t *testing.T) {
	fr := &fakeRunner{Err: map[string]error{
		"build": runner.ErrTerminationFailure,
	}}
	e, _ := newTestEngine(fr)

	res, err := e.Pipeline(context.Background(), "ci")
	require.NoError(t, err)
	assert.Equal(t, report.Error, res.Run.Status)
	assert.Contains(t, res.Run.Steps[0].Error, "could not be terminated")
	assert.Equal(t, report.Skipped, res.Run.Steps[1].Status)
}

func TestPipeline_ProgramUnavailable(t *testing.T) {
	fr := &fakeRunner{}
	e, _ := newTestEngine(fr)

	res, err := e.Pipeline(context.Background(), "broken")
	require.NoError(t, err)
	assert.Equal(t, report.Error, res.Run.Steps[0].Status)
	assert.Contains(t, res.Run.Steps[0].Error, "overseer-no-such-program-xyz")
	assert.Empty(t, fr.Calls, "unresolvable programs are never spawned")
}

func TestPipeline_Unknown(t *testing.T) {
	e, _ := newTestEngine(&fakeRunner{})
	_, err := e.Pipeline(context.Background(), "nope")

	var unknown ErrUnknownCommand
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "pipeline", unknown.Kind)
	assert.Equal(t, []string{"audit", "broken", "ci"}, unknown.Known)
	assert.ErrorIs(t, err, config.ErrUnknownCommand)
}

func TestPipeline_Cancelled(t *testing.T) {
	fr := &fakeRunner{}
	e, _ := newTestEngine(fr)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := e.Pipeline(ctx, "ci")
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Empty(t, fr.Calls)
	assert.Equal(t, report.Skipped, res.Run.Status)
}

func TestCommand_Named(t *testing.T) {
	fr := &fakeRunner{}
	e, store := newTestEngine(fr)

	run, res, err := e.Command("lint", 2*time.Second)
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, report.Single, run.Kind)
	assert.Equal(t, "lint", run.Name)
	assert.Equal(t, report.Pass, run.Status)
	assert.Equal(t, 2*time.Second, fr.Timeout[0])

	loaded, err := e.Inspect(run.ID)
	require.NoError(t, err)
	assert.Same(t, store.runs[run.ID], loaded)
}

func TestCommand_Unknown(t *testing.T) {
	e, _ := newTestEngine(&fakeRunner{})
	_, _, err := e.Command("deploy", 0)

	var unknown ErrUnknownCommand
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "command", unknown.Kind)
	assert.Contains(t, err.Error(), "Configured: build, lint, missing, test")
}

func TestErrUnknownCommand_NoneConfigured(t *testing.T) {
	err := NewErrUnknownCommand("x", nil)
	assert.Contains(t, err.Error(), "No commands are configured")
}

func TestExec_DefaultName(t *testing.T) {
	e, _ := newTestEngine(&fakeRunner{})
	run, _, err := e.Exec("", command.New("/bin/echo", "hi"), 0)
	require.NoError(t, err)
	assert.Equal(t, "echo", run.Name)
}

func TestExec_SpawnError(t *testing.T) {
	fr := &fakeRunner{Err: map[string]error{"boom": errors.New("spawn failure: boom")}}
	e, _ := newTestEngine(fr)

	run, res, err := e.Exec("x", command.New("echo", "boom"), 0)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Equal(t, report.Error, run.Status)
	assert.Equal(t, -1, run.Steps[0].ExitCode)
}

func TestInspect_NoStore(t *testing.T) {
	e := &Engine{Config: testConfig(), Runner: &fakeRunner{}}
	_, err := e.Inspect("abc")
	assert.ErrorIs(t, err, report.ErrNotFound)
}

func TestResolveProgram(t *testing.T) {
	path, err := ResolveProgram("sh")
	require.NoError(t, err)
	assert.NotEmpty(t, path)

	path, err = ResolveProgram("./scripts/build.sh")
	require.NoError(t, err)
	assert.Equal(t, "./scripts/build.sh", path)

	_, err = ResolveProgram("overseer-no-such-program-xyz")
	var unavail ErrProgramUnavailable
	require.ErrorAs(t, err, &unavail)
	assert.ErrorIs(t, err, runner.ErrSpawnFailure)
}
