package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/overseer/internal/command"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
	"github.com/deixis/overseer/internal/workflow"
)

// tailLines is how many transcript lines per step are echoed in a result.
const tailLines = 40

type runParams struct {
	Argv    []string `json:"argv" jsonschema:"program followed by its arguments, e.g. [\"go\", \"test\", \"./...\"]"`
	Timeout string   `json:"timeout,omitempty" jsonschema:"deadline as a Go duration (e.g. 30s, 2m); defaults to the configured timeout"`
	Dir     string   `json:"dir,omitempty" jsonschema:"working directory relative to the workspace"`
}

func (h *handler) runHandler(ctx context.Context, req *mcp.CallToolRequest, params runParams) (*mcp.CallToolResult, any, error) {
	if len(params.Argv) < 2 {
		return errorResult("argv must hold a program and at least one argument")
	}
	timeout, err := parseTimeout(params.Timeout)
	if err != nil {
		return errorResult(err.Error())
	}

	spec := command.FromArgv(params.Argv)
	spec.Dir = params.Dir
	run, _, err := h.state().engine.Exec("", spec, timeout)
	if run == nil || (err != nil && !hasOutput(run)) {
		return errorResult(fmt.Sprintf("Failed to run %s: %v", spec, err))
	}
	return textResult(formatRun(run))
}

type commandParams struct {
	Name    string `json:"name" jsonschema:"configured command name"`
	Timeout string `json:"timeout,omitempty" jsonschema:"deadline override as a Go duration"`
}

func (h *handler) commandHandler(ctx context.Context, req *mcp.CallToolRequest, params commandParams) (*mcp.CallToolResult, any, error) {
	if params.Name == "" {
		return errorResult("name is required")
	}
	timeout, err := parseTimeout(params.Timeout)
	if err != nil {
		return errorResult(err.Error())
	}

	run, _, err := h.state().engine.Command(params.Name, timeout)
	var unknown workflow.ErrUnknownCommand
	if errors.As(err, &unknown) {
		return errorResult(unknown.Error())
	}
	if run == nil {
		return errorResult(fmt.Sprintf("Failed to run %s: %v", params.Name, err))
	}
	return textResult(formatRun(run))
}

type pipelineParams struct {
	Name string `json:"name" jsonschema:"configured pipeline name"`
}

func (h *handler) pipelineHandler(ctx context.Context, req *mcp.CallToolRequest, params pipelineParams) (*mcp.CallToolResult, any, error) {
	if params.Name == "" {
		return errorResult("name is required")
	}
	res, err := h.state().engine.Pipeline(ctx, params.Name)
	if res == nil {
		return errorResult(fmt.Sprintf("pipeline failed: %v", err))
	}
	return textResult(formatRun(res.Run))
}

func parseTimeout(raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid timeout %q: want a positive Go duration such as 30s", raw)
	}
	return d, nil
}

func hasOutput(run *report.Run) bool {
	for _, s := range run.Steps {
		if len(s.Lines) > 0 || s.ExitCode >= 0 {
			return true
		}
	}
	return false
}

func formatRun(run *report.Run) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Status: %s\n", strings.ToUpper(string(run.Status)))
	fmt.Fprintf(&b, "Run: %s\n", run.ID)
	fmt.Fprintln(&b)

	for _, s := range run.Steps {
		fmt.Fprintf(&b, "%s: %s", s.Name, s.Status)
		switch s.Status {
		case report.Pass, report.Fail:
			fmt.Fprintf(&b, " (exit %d, %s)", s.ExitCode, s.Duration.Round(time.Millisecond))
		case report.Timeout, report.Error:
			fmt.Fprintf(&b, " (%s)", s.Error)
		}
		fmt.Fprintln(&b)
		if len(s.Command) > 0 {
			fmt.Fprintf(&b, "  $ %s\n", strings.Join(s.Command, " "))
		}
		writeTail(&b, s.Lines, tailLines)
		if s.Truncated {
			fmt.Fprintln(&b, "  (transcript truncated)")
		}
	}

	fmt.Fprintln(&b)
	fmt.Fprintf(&b, "Inspect with overseer_inspect(run_id=%q, severity=\"error\").\n", run.ID)
	return b.String()
}

func writeTail(b *strings.Builder, lines []logsink.Line, n int) {
	if len(lines) > n {
		fmt.Fprintf(b, "  ... %d earlier lines\n", len(lines)-n)
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		marker := "|"
		if l.Severity == logsink.Error {
			marker = "!"
		}
		fmt.Fprintf(b, "  %s %s\n", marker, l.Text)
	}
}
