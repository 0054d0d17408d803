package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/crew/pkg/orchestrator"
	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedRuns(t *testing.T, dir string) (*orchestrator.Run, *orchestrator.Run) {
	t.Helper()
	store, err := orchestrator.NewFileStore(filepath.Join(dir, "runs"))
	require.NoError(t, err)

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	done := &orchestrator.Run{
		ID:     "run-done",
		Team:   "acme",
		Mode:   taskgraph.Sequential,
		State:  orchestrator.StateDone,
		Output: "Final report on Acme.",
		Results: []orchestrator.TaskResult{
			{TaskID: "facts", Agent: "Analyst", Output: "Acme sells anvils.", Attempts: 1, StartedAt: start, FinishedAt: start.Add(2 * time.Second)},
			{TaskID: "report", Agent: "Writer", Output: "Final report on Acme.", Attempts: 1, StartedAt: start.Add(2 * time.Second), FinishedAt: start.Add(5 * time.Second)},
		},
		StartedAt:  start,
		FinishedAt: start.Add(5 * time.Second),
	}
	failed := &orchestrator.Run{
		ID:    "run-failed",
		Team:  "acme",
		Mode:  taskgraph.DAG,
		State: orchestrator.StateFailed,
		Results: []orchestrator.TaskResult{
			{TaskID: "business-model", Agent: "Analyst", Output: "Subscriptions.", Attempts: 1, StartedAt: start, FinishedAt: start.Add(time.Second)},
		},
		Failure:    runerr.NewTaskError("funding", "Funding Specialist", fmt.Errorf("search: %w", runerr.ErrToolUnavailable)),
		StartedAt:  start.Add(time.Hour),
		FinishedAt: start.Add(time.Hour + 3*time.Second),
	}
	require.NoError(t, store.Save(done))
	require.NoError(t, store.Save(failed))
	return done, failed
}

func TestRunsCommands(t *testing.T) {
	isolateEnv(t)
	cfgPath, dir := writeConfig(t, "store:\n  kind: file\n")
	seedRuns(t, dir)

	t.Run("list newest first", func(t *testing.T) {
		out, _, err := execute(t, "runs", "list", "--config", cfgPath)
		require.NoError(t, err)

		assert.Contains(t, out, "ToolUnavailable @ funding")
		assert.Less(t, strings.Index(out, "run-failed"), strings.Index(out, "run-done"))
	})

	t.Run("list limit", func(t *testing.T) {
		out, _, err := execute(t, "runs", "list", "--config", cfgPath, "-n", "1")
		require.NoError(t, err)
		assert.Contains(t, out, "run-failed")
		assert.NotContains(t, out, "run-done")
	})

	t.Run("show failed run keeps partial results", func(t *testing.T) {
		out, _, err := execute(t, "runs", "show", "--config", cfgPath, "run-failed")
		require.NoError(t, err)

		assert.Contains(t, out, "State:    failed")
		assert.Contains(t, out, `task "funding" (agent "Funding Specialist"): ToolUnavailable`)
		assert.Contains(t, out, "business-model (Analyst")
		assert.Contains(t, out, "Subscriptions.")
		assert.NotContains(t, out, "# Report")
	})

	t.Run("show json", func(t *testing.T) {
		out, _, err := execute(t, "runs", "show", "--config", cfgPath, "--json", "run-done")
		require.NoError(t, err)

		var run orchestrator.Run
		require.NoError(t, json.Unmarshal([]byte(out), &run))
		assert.Equal(t, "Final report on Acme.", run.Output)
		assert.Len(t, run.Results, 2)
	})

	t.Run("show missing", func(t *testing.T) {
		_, _, err := execute(t, "runs", "show", "--config", cfgPath, "nope")
		assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
	})

	t.Run("delete", func(t *testing.T) {
		out, _, err := execute(t, "runs", "delete", "--config", cfgPath, "run-done")
		require.NoError(t, err)
		assert.Contains(t, out, "deleted run-done")

		_, _, err = execute(t, "runs", "show", "--config", cfgPath, "run-done")
		assert.ErrorIs(t, err, orchestrator.ErrRunNotFound)
	})
}

func TestRunsStoreDisabled(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t, "store:\n  kind: none\n")

	_, _, err := execute(t, "runs", "list", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}

func TestRunsEmpty(t *testing.T) {
	isolateEnv(t)
	cfgPath, _ := writeConfig(t, "store:\n  kind: sqlite\n")

	out, _, err := execute(t, "runs", "list", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs.")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "42s", formatDuration(42*time.Second))
	assert.Equal(t, "3m5s", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "2h0m1s", formatDuration(2*time.Hour+time.Second))
}
