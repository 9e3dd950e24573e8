package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
)

// maxInspectLines caps the lines returned by one inspect call.
const maxInspectLines = 500

type inspectParams struct {
	RunID    string `json:"run_id" jsonschema:"the run ID from an overseer_run, overseer_command or overseer_pipeline result"`
	Step     string `json:"step,omitempty" jsonschema:"only lines from this step"`
	Severity string `json:"severity,omitempty" jsonschema:"info (standard output) or error (standard error)"`
	Contains string `json:"contains,omitempty" jsonschema:"only lines containing this substring"`
}

func (h *handler) inspectHandler(ctx context.Context, req *mcp.CallToolRequest, params inspectParams) (*mcp.CallToolResult, any, error) {
	if params.RunID == "" {
		return errorResult("run_id is required")
	}

	q := report.Query{Step: params.Step, Contains: params.Contains}
	if params.Severity != "" {
		sev, err := logsink.ParseSeverity(params.Severity)
		if err != nil {
			return errorResult(err.Error())
		}
		q.Severity = &sev
	}

	run, err := h.state().engine.Inspect(params.RunID)
	if err != nil {
		return errorResult(fmt.Sprintf("Failed to load run %s: %v", params.RunID, err))
	}

	entries := report.Filter(run, q)
	if len(entries) == 0 {
		return textResult(fmt.Sprintf("No lines match in run %s (%s %s).", run.ID, run.Kind, run.Name))
	}
	return textResult(formatInspectOutput(run, q, entries))
}

func formatInspectOutput(run *report.Run, q report.Query, entries []report.Entry) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s (%s %s, %s)\n", run.ID, run.Kind, run.Name, run.Status)

	var filters []string
	if q.Step != "" {
		filters = append(filters, "step="+q.Step)
	}
	if q.Severity != nil {
		filters = append(filters, "severity="+q.Severity.String())
	}
	if q.Contains != "" {
		filters = append(filters, fmt.Sprintf("contains=%q", q.Contains))
	}
	if len(filters) > 0 {
		fmt.Fprintf(&b, "Filter: %s\n", strings.Join(filters, " "))
	}
	fmt.Fprintf(&b, "%d matching lines\n\n", len(entries))

	if len(entries) > maxInspectLines {
		fmt.Fprintf(&b, "(showing the last %d)\n", maxInspectLines)
		entries = entries[len(entries)-maxInspectLines:]
	}

	// Group consecutive lines by step.
	step := ""
	for i, e := range entries {
		if i == 0 || e.Step != step {
			step = e.Step
			fmt.Fprintf(&b, "%s:\n", step)
		}
		fmt.Fprintf(&b, "  [%s] %s\n", e.Severity, e.Text)
	}
	return b.String()
}
