package audit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_AppendAndReadBack(t *testing.T) {
	dir := t.TempDir()
	log, err := NewLog(dir, "run-123")
	require.NoError(t, err)

	require.NoError(t, log.Append(EventRunStarted, RunStartedPayload{
		WorkflowName: "lint-and-fix",
		Inputs:       map[string]any{"lane": "quality"},
		Budget:       1000,
	}))
	require.NoError(t, log.Append(EventStepStarted, StepStartedPayload{
		StepID:  "1.001",
		Adapter: "diag-deterministic",
	}))
	require.NoError(t, log.Append(EventStepEnded, StepEndedPayload{
		StepID:     "1.001",
		Status:     "succeeded",
		TokensUsed: 0,
		DurationMS: 12,
		Emitted:    []string{"diagnostics.json"},
	}))
	require.NoError(t, log.Append(EventRunEnded, RunEndedPayload{
		Status:          "succeeded",
		TokensUsedTotal: 0,
		BudgetRemaining: 1000,
	}))
	require.NoError(t, log.Close())

	records, err := ReadFile(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, EventRunStarted, records[0].Event)
	assert.Equal(t, EventStepStarted, records[1].Event)
	assert.Equal(t, EventStepEnded, records[2].Event)
	assert.Equal(t, EventRunEnded, records[3].Event)

	for _, rec := range records {
		assert.Equal(t, "run-123", rec.RunID)
	}

	// tokens_used must be present even when zero.
	_, ok := records[2].Fields["tokens_used"]
	assert.True(t, ok, "step.ended must carry tokens_used")
	assert.Equal(t, "succeeded", records[2].Fields["status"])
	assert.Equal(t, float64(12), records[2].Fields["duration_ms"])
}

func TestLog_MonotonicTimestamps(t *testing.T) {
	dir := t.TempDir()

	// A frozen clock forces the log to synthesize strictly increasing
	// timestamps itself.
	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log, err := NewLog(dir, "run-mono", WithClock(func() time.Time { return frozen }))
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, log.Append(EventCostUpdate, CostUpdatePayload{
			StepID:    "1.001",
			Delta:     int64(i),
			Remaining: 1000 - int64(i),
		}))
	}
	require.NoError(t, log.Close())

	records, err := ReadFile(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 50)

	for i := 1; i < len(records); i++ {
		assert.True(t, records[i].TS.After(records[i-1].TS),
			"record %d ts %v not after record %d ts %v", i, records[i].TS, i-1, records[i-1].TS)
	}
}

func TestLog_AppendAfterClose(t *testing.T) {
	log, err := NewLog(t.TempDir(), "run-closed")
	require.NoError(t, err)
	require.NoError(t, log.Close())

	err = log.Append(EventError, ErrorPayload{Kind: "InternalError", Message: "late"})
	assert.Error(t, err)

	// Close is idempotent.
	assert.NoError(t, log.Close())
}

func TestLog_ErrorPayloadOmitsEmptyStep(t *testing.T) {
	log, err := NewLog(t.TempDir(), "run-err")
	require.NoError(t, err)
	require.NoError(t, log.Append(EventError, ErrorPayload{Kind: "PlanError", Message: "cycle"}))
	require.NoError(t, log.Close())

	records, err := ReadFile(log.Path())
	require.NoError(t, err)
	require.Len(t, records, 1)
	_, ok := records[0].Fields["step_id"]
	assert.False(t, ok, "run-level error must not carry step_id")
	assert.Equal(t, "PlanError", records[0].Fields["kind"])
}

type failingMirror struct {
	calls int
}

func (m *failingMirror) Publish(string, Kind, []byte) error {
	m.calls++
	return errors.New("nats down")
}

func TestLog_MirrorFailureDoesNotFailAppend(t *testing.T) {
	mirror := &failingMirror{}
	log, err := NewLog(t.TempDir(), "run-mirror", WithMirror(mirror))
	require.NoError(t, err)

	require.NoError(t, log.Append(EventRunStarted, RunStartedPayload{
		WorkflowName: "wf", Budget: 10,
	}))
	require.NoError(t, log.Close())

	assert.Equal(t, 1, mirror.calls)

	records, err := ReadFile(log.Path())
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestMemory_CapturesInOrder(t *testing.T) {
	var sink Memory
	require.NoError(t, sink.Append(EventStepSkipped, StepSkippedPayload{StepID: "1.002", Reason: "when_false"}))
	require.NoError(t, sink.Append(EventError, ErrorPayload{Kind: "BudgetExhausted", Message: "over"}))

	entries := sink.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, EventStepSkipped, entries[0].Kind)
	assert.Equal(t, EventError, entries[1].Kind)
}
