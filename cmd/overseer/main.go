// Command overseer runs commands under a deadline and records their output.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/deixis/overseer"
	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/logging"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/runner"
	"github.com/deixis/overseer/internal/workflow"
)

// Exit codes for failures that are not the child's own.
const (
	exitTimeout = 124
	exitEngine  = 125
	exitUsage   = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	var (
		code int
		err  error
	)
	switch cmd {
	case "run":
		code, err = runMain(args)
	case "pipeline":
		code, err = pipelineMain(args)
	case "show":
		err = showMain(args)
	case "mcp":
		err = mcpMain(args)
	case "serve":
		err = serveMain(args)
	case "version":
		fmt.Println(overseer.Version)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "overseer: unknown command %q\n", cmd)
		usage()
		os.Exit(exitUsage)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "overseer: %v\n", err)
		if code == 0 {
			code = exitEngine
		}
	}
	os.Exit(code)
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: overseer <command> [flags] [args]

Commands:
  run         Run a program under a deadline: overseer run [flags] -- prog args...
  pipeline    Run a configured pipeline by name
  show        Show a stored run, or list recent runs
  mcp         Start the MCP server
  serve       Start the HTTP API (with MCP mounted at /mcp)
  version     Print the version
  help        Show this help

Use "overseer <command> -h" for command-specific flags.`)
}

// env is what every subcommand needs: the loaded config, a logger and
// an engine backed by the configured run store.
type env struct {
	loaded *config.LoadResult
	log    zerolog.Logger
	engine *workflow.Engine
	runner *runner.Runner
	store  *storeHandle
}

func (e *env) Close() {
	if e.store == nil {
		return
	}
	if err := e.store.Close(); err != nil {
		e.log.Warn().Err(err).Msg("closing run store")
	}
}

// newEnv loads the workspace config and builds the engine. lines receives
// child output; format selects the diagnostics encoding.
func newEnv(ctx context.Context, format logging.Format, lines logsink.Logger) (*env, error) {
	workspace, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("determining workspace: %w", err)
	}

	loaded, err := config.Load(workspace)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg := loaded.Config
	log := logging.Setup(cfg.Level(), format, os.Stderr)

	store, err := openStore(ctx, cfg, loaded.RepoRoot)
	if err != nil {
		return nil, err
	}

	r := &runner.Runner{
		Workspace:   loaded.RepoRoot,
		Timeout:     cfg.Timeout(),
		GracePeriod: cfg.GracePeriod(),
		KillWait:    cfg.KillWait(),
		MaxOutput:   cfg.MaxOutputBytes(),
		Logger:      lines,
		Log:         logging.WithComponent("runner"),
	}

	return &env{
		loaded: loaded,
		log:    log,
		runner: r,
		store:  store,
		engine: &workflow.Engine{
			Config:    cfg,
			Runner:    r,
			Store:     store,
			Workspace: workspace,
			RepoRoot:  loaded.RepoRoot,
			Log:       logging.WithComponent("engine"),
		},
	}, nil
}

// storeHandle is the configured run store behind an LRU cache.
type storeHandle struct {
	*report.LRUStore
	sqlite *report.SQLiteStore // nil for the disk store
}

func (h *storeHandle) Close() error {
	if h.sqlite == nil {
		return nil
	}
	return h.sqlite.Close()
}

// recent lists stored runs, newest first. Only the sqlite store keeps an
// index to list from.
func (h *storeHandle) recent(ctx context.Context, limit int) ([]report.Run, error) {
	if h.sqlite == nil {
		return nil, errors.New("listing runs requires the sqlite store (store.kind: sqlite)")
	}
	return h.sqlite.Recent(ctx, limit)
}

func openStore(ctx context.Context, cfg *config.Config, root string) (*storeHandle, error) {
	path := cfg.StorePath(root)
	h := &storeHandle{}

	var back report.Store
	switch cfg.StoreKind() {
	case config.StoreSQLite:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := report.OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("opening run store: %w", err)
		}
		h.sqlite = s
		back = s
	default:
		back = report.NewDiskStore(path)
	}

	h.LRUStore = report.NewLRUStore(cfg.CacheSize(), back)
	return h, nil
}
