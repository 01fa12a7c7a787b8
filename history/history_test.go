package history_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/history"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/workflow"
)

func openStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summaryAt(runID string, started time.Time, status workflow.RunStatus) *run.Summary {
	return &run.Summary{
		RunID:        runID,
		WorkflowName: "lint-fix-test",
		Status:       status,
		StartedAt:    started,
		EndedAt:      started.Add(30 * time.Second),
		StepResults: []*run.StepResult{
			{StepID: "1.001", Status: workflow.StepSucceeded, TokensUsed: 40},
			{StepID: "1.002", Status: workflow.StepFailed},
		},
		TokensUsedTotal: 40,
		BudgetRemaining: 60,
	}
}

func TestStore_RecordAndGet(t *testing.T) {
	store := openStore(t)
	started := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(summaryAt("run-1", started, workflow.RunFailed)))

	entry, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, "lint-fix-test", entry.WorkflowName)
	assert.Equal(t, "failed", entry.Status)
	assert.True(t, entry.StartedAt.Equal(started))
	assert.Equal(t, 40, entry.TokensUsed)
	assert.Equal(t, 60, entry.BudgetRemaining)
	assert.Equal(t, 2, entry.StepsTotal)
	assert.Equal(t, 1, entry.StepsSucceeded)
}

func TestStore_GetMissing(t *testing.T) {
	store := openStore(t)

	_, err := store.Get("absent")
	assert.ErrorIs(t, err, history.ErrNotFound)
}

func TestStore_RecordUpserts(t *testing.T) {
	store := openStore(t)
	started := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(summaryAt("run-1", started, workflow.RunFailed)))

	updated := summaryAt("run-1", started, workflow.RunSucceeded)
	updated.TokensUsedTotal = 55
	require.NoError(t, store.Record(updated))

	entry, err := store.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", entry.Status)
	assert.Equal(t, 55, entry.TokensUsed)

	entries, err := store.List(0)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_ListNewestFirst(t *testing.T) {
	store := openStore(t)
	base := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(summaryAt("run-old", base, workflow.RunSucceeded)))
	require.NoError(t, store.Record(summaryAt("run-mid", base.Add(time.Hour), workflow.RunSucceeded)))
	require.NoError(t, store.Record(summaryAt("run-new", base.Add(2*time.Hour), workflow.RunSucceeded)))

	entries, err := store.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "run-new", entries[0].RunID)
	assert.Equal(t, "run-mid", entries[1].RunID)
	assert.Equal(t, "run-old", entries[2].RunID)

	limited, err := store.List(2)
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, "run-new", limited[0].RunID)
}
