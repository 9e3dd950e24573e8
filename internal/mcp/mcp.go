// Package mcp provides the Overseer MCP server, registering all tools
// and publishing model instructions.
package mcp

import (
	"context"
	_ "embed"
	"net/url"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/deixis/overseer"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
	"github.com/deixis/overseer/internal/workflow"
)

//go:embed instructions.md
var Instructions string

// handler holds shared dependencies for all tool handlers.
type handler struct {
	mu       sync.RWMutex
	ws       *workspaceState
	fixedDir bool // ignore client roots
	log      zerolog.Logger
}

// workspaceState is replaced wholesale when the workspace changes and
// never mutated afterwards, so tool calls can use it without locking.
type workspaceState struct {
	engine     *workflow.Engine
	runner     *runner.Runner
	configPath string
}

func (h *handler) state() *workspaceState {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ws
}

// NewServer creates an MCP server with all Overseer tools registered.
func NewServer(cfg *config.Config, r *runner.Runner, store report.Store, workspace string, opts ...ServerOption) *mcp.Server {
	var so serverOptions
	for _, o := range opts {
		o(&so)
	}

	// The server works on its own copy; callers may share r elsewhere.
	rc := *r
	h := &handler{
		ws: &workspaceState{
			engine: &workflow.Engine{
				Config:    cfg,
				Runner:    &rc,
				Store:     store,
				Workspace: workspace,
				RepoRoot:  workspace, // MCP defaults to workspace; updated via roots
				Log:       so.log,
			},
			runner:     &rc,
			configPath: so.configPath,
		},
		fixedDir: so.fixedDir,
		log:      so.log,
	}

	mcpOpts := &mcp.ServerOptions{
		Instructions: Instructions,
		Capabilities: &mcp.ServerCapabilities{
			Tools: &mcp.ToolCapabilities{ListChanged: false},
		},
		InitializedHandler: func(ctx context.Context, req *mcp.InitializedRequest) {
			h.updateWorkspaceFromRoots(ctx, req.Session)
		},
	}
	s := mcp.NewServer(&mcp.Implementation{Name: "overseer", Version: overseer.Version}, mcpOpts)

	mcp.AddTool(s, &mcp.Tool{
		Name: "overseer_run",
		Description: `Run a command under a deadline and return its exit status and output.

argv[0] is the program, the rest are its arguments; no shell is involved.
If the deadline passes the process group is sent SIGTERM, then SIGKILL after a grace period.
The transcript is stored for drill-down via overseer_inspect.`,
	}, h.runHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "overseer_command",
		Description: `Run a command configured by name in the workspace config file.

Use overseer_commands to list the configured names.`,
	}, h.commandHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "overseer_pipeline",
		Description: `Run a configured pipeline: an ordered list of named commands.

Fail-fast pipelines stop at the first step that does not pass and mark the rest skipped.
Results are stored for drill-down via overseer_inspect.`,
	}, h.pipelineHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name: "overseer_inspect",
		Description: `Drill into the stored transcript of a previous run.

Use the run_id from a run, command or pipeline result. Narrow the lines by step name,
severity (info for standard output, error for standard error) and a substring.`,
	}, h.inspectHandler)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "overseer_commands",
		Description: "Summarise the workspace: config file, default deadline, configured commands and pipelines.",
	}, h.commandsHandler)

	return s
}

// ServerOption configures the Overseer MCP server.
type ServerOption func(*serverOptions)

type serverOptions struct {
	log        zerolog.Logger
	configPath string
	fixedDir   bool
}

// WithLogger sets the diagnostics logger.
func WithLogger(l zerolog.Logger) ServerOption {
	return func(o *serverOptions) {
		o.log = l
	}
}

// WithConfigPath records the config file the server was started with.
func WithConfigPath(path string) ServerOption {
	return func(o *serverOptions) {
		o.configPath = path
	}
}

// WithFixedWorkspace ignores the roots reported by clients. Use it when
// several clients share one server.
func WithFixedWorkspace() ServerOption {
	return func(o *serverOptions) {
		o.fixedDir = true
	}
}

// updateWorkspaceFromRoots queries the client for MCP roots and updates the
// handler's workspace state if a valid root is returned.
// This is called during session initialization, before any tool calls.
func (h *handler) updateWorkspaceFromRoots(ctx context.Context, session *mcp.ServerSession) {
	if h.fixedDir {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	roots, err := session.ListRoots(ctx, &mcp.ListRootsParams{})
	if err != nil {
		h.log.Debug().Err(err).Msg("client did not list roots")
		return
	}
	if len(roots.Roots) == 0 {
		return
	}

	u, err := url.Parse(roots.Roots[0].URI)
	if err != nil || u.Scheme != "file" {
		return
	}
	workspace := u.Path

	loaded, err := config.Load(workspace)
	if err != nil {
		h.log.Warn().Err(err).Str("workspace", workspace).Msg("ignoring root with invalid config")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	r := *h.ws.runner
	r.Workspace = workspace
	r.Timeout = loaded.Config.Timeout()
	r.GracePeriod = loaded.Config.GracePeriod()
	r.KillWait = loaded.Config.KillWait()
	r.MaxOutput = loaded.Config.MaxOutputBytes()

	engine := *h.ws.engine
	engine.Config = loaded.Config
	engine.Runner = &r
	engine.Workspace = workspace
	engine.RepoRoot = loaded.RepoRoot

	h.ws = &workspaceState{engine: &engine, runner: &r, configPath: loaded.Path}

	h.log.Info().Str("workspace", workspace).Str("config", loaded.Path).Msg("workspace updated from roots")
}

// textResult is a helper to build a text-only tool result.
func textResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}, nil, nil
}

// errorResult is a helper to build an error tool result.
func errorResult(text string) (*mcp.CallToolResult, any, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: true,
	}, nil, nil
}
