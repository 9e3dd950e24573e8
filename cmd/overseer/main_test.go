package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/overseer/internal/config"
	"github.com/deixis/overseer/internal/logsink"
	"github.com/deixis/overseer/internal/report"
)

func singleRun(status report.Status, exit int) *report.Run {
	return &report.Run{
		ID:     "r1",
		Kind:   report.Single,
		Name:   "make",
		Status: status,
		Steps:  []report.Step{{Name: "make", Status: status, ExitCode: exit}},
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		run  *report.Run
		want int
	}{
		{"pass", singleRun(report.Pass, 0), 0},
		{"child code", singleRun(report.Fail, 3), 3},
		{"signalled", singleRun(report.Fail, -1), 1},
		{"timeout", singleRun(report.Timeout, -1), exitTimeout},
		{"error", singleRun(report.Error, -1), exitEngine},
		{"no steps", &report.Run{Kind: report.Single}, exitEngine},
		{"pipeline pass", &report.Run{Kind: report.Pipeline, Status: report.Pass}, 0},
		{"pipeline fail", &report.Run{Kind: report.Pipeline, Status: report.Timeout}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.run))
		})
	}
}

func TestFormatSummary(t *testing.T) {
	run := &report.Run{
		ID:     "abc",
		Kind:   report.Pipeline,
		Name:   "ci",
		Status: report.Fail,
		Steps: []report.Step{
			{Name: "build", Status: report.Pass, ExitCode: 0, Duration: 1500 * time.Millisecond},
			{Name: "test", Status: report.Timeout, Error: "timed out"},
			{Name: "lint", Status: report.Skipped},
		},
	}
	out := formatSummary(run)
	assert.Contains(t, out, "pipeline ci: FAIL (run abc)")
	assert.Contains(t, out, "build           pass (exit 0, 1.5s)")
	assert.Contains(t, out, "test            timeout (timed out)")
	assert.Contains(t, out, "lint            skipped\n")
}

func TestFormatEntriesAndRecent(t *testing.T) {
	out := formatEntries([]report.Entry{{Step: "test", Severity: logsink.Error, Text: "boom"}})
	assert.Equal(t, "test [error] boom\n", out)

	assert.Equal(t, "No runs recorded.\n", formatRecent(nil))
	out = formatRecent([]report.Run{{ID: "r9", Kind: report.Single, Status: report.Pass, Name: "echo", CreatedAt: time.Now()}})
	assert.Contains(t, out, "r9")
	assert.Contains(t, out, "echo")
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	t.Run("disk", func(t *testing.T) {
		root := t.TempDir()
		h, err := openStore(ctx, &config.Config{}, root)
		require.NoError(t, err)
		defer h.Close()

		assert.Nil(t, h.sqlite)
		_, err = h.recent(ctx, 5)
		assert.Error(t, err)

		run := singleRun(report.Pass, 0)
		require.NoError(t, h.Save(run))
		assert.FileExists(t, filepath.Join(root, ".overseer-runs", "r1.json"))
	})

	t.Run("sqlite", func(t *testing.T) {
		root := t.TempDir()
		cfg := &config.Config{Store: config.StoreConfig{Kind: config.StoreSQLite}}
		h, err := openStore(ctx, cfg, root)
		require.NoError(t, err)
		defer h.Close()

		require.NotNil(t, h.sqlite)
		require.NoError(t, h.Save(singleRun(report.Fail, 2)))

		runs, err := h.recent(ctx, 5)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, "r1", runs[0].ID)
		assert.Equal(t, report.Fail, runs[0].Status)
	})
}
