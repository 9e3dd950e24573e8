package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/overseer/internal/api"
	"github.com/deixis/overseer/internal/logging"
	ovmcp "github.com/deixis/overseer/internal/mcp"
)

// --- mcp ---

func mcpMain(args []string) error {
	fs := flag.NewFlagSet("mcp", flag.ExitOnError)
	instructions := fs.Bool("instructions", false, "print model instructions and exit")
	httpAddr := fs.String("http", "", "start HTTP server on address (e.g. :9090)")
	_ = fs.Parse(args)

	if *instructions {
		fmt.Print(ovmcp.Instructions)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, logging.Console, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	// stdout carries the MCP transport; child output goes to the log.
	e.runner.Logger = logging.NewLineLogger(logging.WithComponent("child"))

	server := newMCPServer(e)
	if *httpAddr != "" {
		return serveHTTP(ctx, e, mcpHandler(server), *httpAddr)
	}
	return server.Run(ctx, &mcpsdk.StdioTransport{})
}

func newMCPServer(e *env, opts ...ovmcp.ServerOption) *mcpsdk.Server {
	opts = append([]ovmcp.ServerOption{
		ovmcp.WithLogger(logging.WithComponent("mcp")),
		ovmcp.WithConfigPath(e.loaded.Path),
	}, opts...)
	return ovmcp.NewServer(e.loaded.Config, e.runner, e.store, e.engine.Workspace, opts...)
}

func mcpHandler(server *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcpsdk.Server { return server },
		nil,
	)
}

func serveHTTP(ctx context.Context, e *env, handler http.Handler, addr string) error {
	httpServer := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	e.log.Info().Str("addr", addr).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// --- serve ---

func serveMain(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := fs.String("addr", ":8080", "listen address")
	maxRuns := fs.Int("max-runs", 8, "maximum concurrent runs")
	noMCP := fs.Bool("no-mcp", false, "do not mount the MCP endpoint at /mcp")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := newEnv(ctx, logging.JSON, nil)
	if err != nil {
		return err
	}
	defer e.Close()
	e.runner.Logger = logging.NewLineLogger(logging.WithComponent("child"))

	cfg := api.Config{Listen: *addr, MaxConcurrentRuns: *maxRuns}
	if !*noMCP {
		// HTTP and MCP callers share the workspace; clients don't get to move it.
		cfg.MCP = mcpHandler(newMCPServer(e, ovmcp.WithFixedWorkspace()))
	}

	srv := api.New(cfg, e.engine, logging.WithComponent("api"))
	if err := srv.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
