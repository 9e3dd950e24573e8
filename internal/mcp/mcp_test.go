//go:build unix

package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
)

// setup creates a full Overseer MCP server + client over in-memory transports.
func setup(t *testing.T, cfg *config.Config) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	workspaceDir := t.TempDir()
	if cfg == nil {
		cfg = &config.Config{}
	}

	store := report.NewLRUStore(5, report.NewDiskStore(t.TempDir()))
	r := &runner.Runner{
		Workspace:   workspaceDir,
		Timeout:     30 * time.Second,
		GracePeriod: 200 * time.Millisecond,
		MaxOutput:   cfg.MaxOutputBytes(),
	}

	server := NewServer(cfg, r, store, workspaceDir)

	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err, "server.Connect")

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err, "client.Connect")

	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func callTool(t *testing.T, cs *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err, "CallTool(%s)", name)
	return res
}

func resultText(r *mcp.CallToolResult) string {
	var parts []string
	for _, c := range r.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// runID extracts the ID from a "Run: <id>" line.
func runID(t *testing.T, text string) string {
	t.Helper()
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "Run: ") {
			return strings.TrimPrefix(line, "Run: ")
		}
	}
	t.Fatalf("no Run ID found in output:\n%s", text)
	return ""
}

func pipelineConfig() *config.Config {
	no := false
	return &config.Config{
		Commands: map[string]config.CommandConfig{
			"hello": {Program: "echo", Args: []string{"hello"}},
			"fail":  {Program: "sh", Args: []string{"-c", "echo broken >&2; exit 2"}},
			"after": {Program: "echo", Args: []string{"after"}},
		},
		Pipelines: map[string]config.PipelineConfig{
			"ci":  {Steps: []string{"hello", "fail", "after"}},
			"all": {Steps: []string{"hello", "fail", "after"}, FailFast: &no},
		},
	}
}

// --- overseer_run ---

func TestOverseerRun_Success(t *testing.T) {
	cs := setup(t, nil)
	res := callTool(t, cs, "overseer_run", map[string]any{"argv": []string{"echo", "hello world"}})
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "Status: PASS")
	assert.Contains(t, text, "(exit 0,")
	assert.Contains(t, text, "| hello world")
	assert.Contains(t, text, "overseer_inspect")
}

func TestOverseerRun_NonZeroExitIsNotToolError(t *testing.T) {
	cs := setup(t, nil)
	res := callTool(t, cs, "overseer_run", map[string]any{"argv": []string{"sh", "-c", "echo oops >&2; exit 3"}})
	text := resultText(res)
	assert.False(t, res.IsError)
	assert.Contains(t, text, "Status: FAIL")
	assert.Contains(t, text, "(exit 3,")
	assert.Contains(t, text, "! oops")
}

func TestOverseerRun_Timeout(t *testing.T) {
	cs := setup(t, nil)
	res := callTool(t, cs, "overseer_run", map[string]any{
		"argv":    []string{"sleep", "10"},
		"timeout": "100ms",
	})
	text := resultText(res)
	assert.False(t, res.IsError)
	assert.Contains(t, text, "Status: TIMEOUT")
}

func TestOverseerRun_Invalid(t *testing.T) {
	cs := setup(t, nil)

	res := callTool(t, cs, "overseer_run", map[string]any{"argv": []string{"echo"}})
	assert.True(t, res.IsError)

	res = callTool(t, cs, "overseer_run", map[string]any{"argv": []string{"echo", "x"}, "timeout": "soon"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "invalid timeout")

	res = callTool(t, cs, "overseer_run", map[string]any{"argv": []string{"overseer-no-such-program-xyz", "x"}})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "overseer-no-such-program-xyz")
}

// --- overseer_command ---

func TestOverseerCommand(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_command", map[string]any{"name": "hello"})
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "hello: pass")
	assert.Contains(t, text, "$ echo hello")
}

func TestOverseerCommand_Unknown(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_command", map[string]any{"name": "deploy"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "Configured: after, fail, hello")
}

// --- overseer_pipeline ---

func TestOverseerPipeline_FailFast(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_pipeline", map[string]any{"name": "ci"})
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "Status: FAIL")
	assert.Contains(t, text, "hello: pass")
	assert.Contains(t, text, "fail: fail (exit 2,")
	assert.Contains(t, text, "after: skipped")
}

func TestOverseerPipeline_RunAll(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_pipeline", map[string]any{"name": "all"})
	text := resultText(res)
	assert.Contains(t, text, "Status: FAIL")
	assert.Contains(t, text, "after: pass")
}

func TestOverseerPipeline_Unknown(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_pipeline", map[string]any{"name": "nope"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "unknown pipeline")
}

// --- overseer_inspect ---

func TestOverseerInspect_AfterPipeline(t *testing.T) {
	cs := setup(t, pipelineConfig())
	id := runID(t, resultText(callTool(t, cs, "overseer_pipeline", map[string]any{"name": "all"})))

	res := callTool(t, cs, "overseer_inspect", map[string]any{"run_id": id, "severity": "error"})
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "1 matching lines")
	assert.Contains(t, text, "fail:\n  [error] broken")
	assert.NotContains(t, text, "hello")

	res = callTool(t, cs, "overseer_inspect", map[string]any{"run_id": id, "step": "after"})
	assert.Contains(t, resultText(res), "[info] after")

	res = callTool(t, cs, "overseer_inspect", map[string]any{"run_id": id, "contains": "zzz"})
	assert.Contains(t, resultText(res), "No lines match")
}

func TestOverseerInspect_Invalid(t *testing.T) {
	cs := setup(t, nil)

	res := callTool(t, cs, "overseer_inspect", map[string]any{"run_id": "nonexistent-id"})
	assert.True(t, res.IsError)

	res = callTool(t, cs, "overseer_inspect", map[string]any{"run_id": "x", "severity": "loud"})
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(res), "unknown severity")
}

func TestOverseerInspect_MissingRunID(t *testing.T) {
	cs := setup(t, nil)
	res, err := cs.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "overseer_inspect",
		Arguments: map[string]any{},
	})
	if err == nil {
		assert.True(t, res.IsError, "expected error for missing run_id")
	}
}

// --- overseer_commands ---

func TestOverseerCommands(t *testing.T) {
	cs := setup(t, pipelineConfig())
	res := callTool(t, cs, "overseer_commands", nil)
	text := resultText(res)
	require.False(t, res.IsError, text)
	assert.Contains(t, text, "Config: (none, using defaults)")
	assert.Contains(t, text, "Timeout: 1m0s")
	assert.Contains(t, text, "Commands (3):")
	assert.Contains(t, text, "hello: echo hello")
	assert.Contains(t, text, "ci: hello -> fail -> after (fail-fast)")
	assert.Contains(t, text, "all: hello -> fail -> after (run-all)")
}

func TestOverseerCommands_Empty(t *testing.T) {
	cs := setup(t, nil)
	text := resultText(callTool(t, cs, "overseer_commands", nil))
	assert.Contains(t, text, "Commands: none configured")
	assert.Contains(t, text, "Pipelines: none configured")
}

// --- workspace roots ---

func connectWithRoot(t *testing.T, server *mcp.Server, root string) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()
	ct, st := mcp.NewInMemoryTransports()
	ss, err := server.Connect(ctx, st, nil)
	require.NoError(t, err)

	client := mcp.NewClient(&mcp.Implementation{Name: "roots-client", Version: "v0.0.1"}, nil)
	client.AddRoots(&mcp.Root{URI: "file://" + root})
	cs, err := client.Connect(ctx, ct, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = ss.Wait()
	})
	return cs
}

func TestRootsDoNotMutateSharedRunner(t *testing.T) {
	other := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(other, ".overseer"), []byte("timeout: 7s\n"), 0o644))

	workspace := t.TempDir()
	r := &runner.Runner{
		Workspace:   workspace,
		Timeout:     30 * time.Second,
		GracePeriod: 200 * time.Millisecond,
	}
	server := NewServer(&config.Config{}, r, report.NewDiskStore(t.TempDir()), workspace)

	// The shared runner keeps serving other callers while clients connect.
	stop := make(chan struct{})
	runs := make(chan error, 1)
	go func() {
		for {
			select {
			case <-stop:
				runs <- nil
				return
			default:
			}
			if _, err := r.Run(command.New("true", "x"), 0); err != nil {
				runs <- err
				return
			}
		}
	}()

	var sessions []*mcp.ClientSession
	for range 3 {
		sessions = append(sessions, connectWithRoot(t, server, other))
	}
	require.Eventually(t, func() bool {
		res, err := sessions[0].CallTool(context.Background(), &mcp.CallToolParams{Name: "overseer_commands"})
		if err != nil {
			return false
		}
		text := resultText(res)
		return strings.Contains(text, "Workspace: "+other) && strings.Contains(text, "Timeout: 7s")
	}, 5*time.Second, 20*time.Millisecond)

	close(stop)
	require.NoError(t, <-runs)

	assert.Equal(t, workspace, r.Workspace)
	assert.Equal(t, 30*time.Second, r.Timeout)
}

func TestFixedWorkspaceIgnoresRoots(t *testing.T) {
	other := t.TempDir()
	workspace := t.TempDir()
	r := &runner.Runner{Workspace: workspace, Timeout: 30 * time.Second}
	server := NewServer(&config.Config{}, r, report.NewDiskStore(t.TempDir()), workspace, WithFixedWorkspace())

	cs := connectWithRoot(t, server, other)
	text := resultText(callTool(t, cs, "overseer_commands", nil))
	assert.Contains(t, text, "Workspace: "+workspace)
}
