package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/crew/pkg/runerr"
	"github.com/harun/crew/pkg/taskgraph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRun(id string, started time.Time) *Run {
	return &Run{
		ID:     id,
		Team:   "company-research",
		Mode:   taskgraph.Sequential,
		State:  StateFailed,
		Inputs: map[string]string{"companyName": "Acme"},
		Results: []TaskResult{
			{TaskID: "task-1", Agent: "Business Model Analyst", Output: "Subscriptions.", Attempts: 1, StartedAt: started, FinishedAt: started.Add(time.Second)},
		},
		Failure:    runerr.NewTaskError("task-2", "Funding Specialist", fmt.Errorf("search: %w", runerr.ErrToolQuotaExceeded)),
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Second),
	}
}

func TestRunStores(t *testing.T) {
	stores := map[string]func(t *testing.T) RunStore{
		"file": func(t *testing.T) RunStore {
			s, err := NewFileStore(filepath.Join(t.TempDir(), "runs"))
			require.NoError(t, err)
			return s
		},
		"sqlite": func(t *testing.T) RunStore {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			return s
		},
	}

	for name, open := range stores {
		t.Run(name, func(t *testing.T) {
			store := open(t)
			defer store.Close()

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

			t.Run("should round-trip a failed run with partial results", func(t *testing.T) {
				require.NoError(t, store.Save(sampleRun("run-a", base)))

				got, err := store.Get("run-a")
				require.NoError(t, err)
				assert.Equal(t, StateFailed, got.State)
				assert.Equal(t, "Acme", got.Inputs["companyName"])
				require.Len(t, got.Results, 1)
				assert.Equal(t, "Subscriptions.", got.Results[0].Output)
				assert.True(t, got.Results[0].StartedAt.Equal(base))
				require.NotNil(t, got.Failure)
				assert.Equal(t, "task-2", got.Failure.TaskID)
				assert.Equal(t, "ToolQuotaExceeded", got.Failure.Kind)
				assert.True(t, errors.Is(got.Failure, runerr.ErrToolQuotaExceeded))
			})

			t.Run("should overwrite on save", func(t *testing.T) {
				run := sampleRun("run-a", base)
				run.State = StateDone
				run.Failure = nil
				run.Output = "report"
				require.NoError(t, store.Save(run))

				got, err := store.Get("run-a")
				require.NoError(t, err)
				assert.Equal(t, StateDone, got.State)
				assert.Nil(t, got.Failure)
				assert.Equal(t, "report", got.Output)
			})

			t.Run("should list newest first", func(t *testing.T) {
				require.NoError(t, store.Save(sampleRun("run-b", base.Add(time.Hour))))
				require.NoError(t, store.Save(sampleRun("run-c", base.Add(-time.Hour))))

				runs, err := store.List()
				require.NoError(t, err)
				require.Len(t, runs, 3)
				assert.Equal(t, "run-b", runs[0].ID)
				assert.Equal(t, "run-a", runs[1].ID)
				assert.Equal(t, "run-c", runs[2].ID)
			})

			t.Run("should report missing runs", func(t *testing.T) {
				_, err := store.Get("run-missing")
				assert.True(t, errors.Is(err, ErrRunNotFound))
			})

			t.Run("should delete", func(t *testing.T) {
				require.NoError(t, store.Delete("run-c"))
				_, err := store.Get("run-c")
				assert.True(t, errors.Is(err, ErrRunNotFound))
				assert.NoError(t, store.Delete("run-c"))
			})

			t.Run("should require an id", func(t *testing.T) {
				assert.Error(t, store.Save(&Run{}))
			})
		})
	}
}

func TestFileStore_SkipsCorruptedFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.Save(sampleRun("run-ok", time.Now())))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run-bad.json"), []byte("{not json"), 0644))

	runs, err := store.List()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-ok", runs[0].ID)
}

func TestOpenStore(t *testing.T) {
	store, err := OpenStore("none", "")
	require.NoError(t, err)
	assert.Nil(t, store)

	store, err = OpenStore("file", t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, store)

	_, err = OpenStore("redis", "")
	assert.Error(t, err)
}
