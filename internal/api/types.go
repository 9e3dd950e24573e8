package api

import (
	"github.com/deixis/overseer/internal/report"
)

// RunRequest is the body of POST /runs. Exactly one of Argv and Command
// must be set.
type RunRequest struct {
	Argv    []string `json:"argv,omitempty"`
	Command string   `json:"command,omitempty"` // configured command name
	Timeout string   `json:"timeout,omitempty"` // Go duration
	Dir     string   `json:"dir,omitempty"`
}

// RunResponse wraps a finished run.
type RunResponse struct {
	Run     *report.Run `json:"run"`
	Success bool        `json:"success"`
}

// EntriesResponse is returned by GET /runs/{id} when filters are given.
type EntriesResponse struct {
	RunID   string         `json:"run_id"`
	Entries []report.Entry `json:"entries"`
}

// CommandsResponse lists the configured commands and pipelines.
type CommandsResponse struct {
	Commands  []string `json:"commands"`
	Pipelines []string `json:"pipelines"`
}

// HealthzResponse represents the /healthz endpoint response
type HealthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	ActiveRuns    int    `json:"active_runs"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}
