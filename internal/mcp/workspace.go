package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type commandsParams struct{}

func (h *handler) commandsHandler(ctx context.Context, req *sdkmcp.CallToolRequest, _ commandsParams) (*sdkmcp.CallToolResult, any, error) {
	var b strings.Builder
	ws := h.state()
	cfg := ws.engine.Config

	fmt.Fprintf(&b, "Workspace: %s\n", ws.engine.Workspace)
	if ws.configPath != "" {
		fmt.Fprintf(&b, "Config: %s\n", ws.configPath)
	} else {
		fmt.Fprintln(&b, "Config: (none, using defaults)")
	}
	fmt.Fprintf(&b, "Timeout: %s (grace %s)\n", cfg.Timeout(), cfg.GracePeriod())
	fmt.Fprintln(&b)

	names := cfg.CommandNames()
	if len(names) == 0 {
		fmt.Fprintln(&b, "Commands: none configured")
	} else {
		fmt.Fprintf(&b, "Commands (%d):\n", len(names))
		for _, name := range names {
			spec, err := cfg.Command(name)
			if err != nil {
				fmt.Fprintf(&b, "  %s: invalid (%v)\n", name, err)
				continue
			}
			fmt.Fprintf(&b, "  %s: %s", name, spec)
			if spec.Timeout > 0 {
				fmt.Fprintf(&b, " [timeout %s]", spec.Timeout)
			}
			fmt.Fprintln(&b)
		}
	}

	pipelines := ws.engine.PipelineNames()
	if len(pipelines) == 0 {
		fmt.Fprintln(&b, "Pipelines: none configured")
	} else {
		fmt.Fprintf(&b, "Pipelines (%d):\n", len(pipelines))
		for _, name := range pipelines {
			p := cfg.Pipelines[name]
			mode := "fail-fast"
			if !p.StopOnFailure() {
				mode = "run-all"
			}
			fmt.Fprintf(&b, "  %s: %s (%s)\n", name, strings.Join(p.Steps, " -> "), mode)
		}
	}

	return textResult(b.String())
}
