package adapter_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/workflow"
)

func scriptedScope(t *testing.T, stepID string) *run.Scope {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "run-scripted")
	require.NoError(t, err)
	wf := &workflow.Workflow{Name: "t"}
	rc := run.NewContext("run-scripted", wf, nil, store, nil, nil)
	return rc.ScopeFor(stepID)
}

func TestScripted_Descriptor(t *testing.T) {
	desc := adapter.NewScripted().Descriptor()

	assert.Equal(t, adapter.ScriptedName, desc.Name)
	assert.Equal(t, adapter.KindDeterministic, desc.Kind)
	assert.True(t, desc.Available)
	assert.Zero(t, desc.EstimatedCost)
	for _, actor := range workflow.Actors() {
		assert.True(t, desc.Supports(actor), "must support %s", actor)
	}
}

func TestScripted_WritesArtifactsInPathOrder(t *testing.T) {
	scope := scriptedScope(t, "1.001")
	step := &workflow.Step{
		ID:    "1.001",
		Actor: workflow.ActorScripted,
		With: map[string]any{
			"artifacts": map[string]any{
				"b/out.txt":   "beta",
				"a/notes.txt": "alpha",
			},
			"tokens_used": 7,
		},
	}

	res, err := adapter.NewScripted().Execute(context.Background(), step, scope)
	require.NoError(t, err)
	require.Equal(t, adapter.StatusOK, res.Status)
	assert.Equal(t, 7, res.TokensUsed)
	assert.Equal(t, []string{"a/notes.txt", "b/out.txt"}, res.Emitted)

	data, err := scope.ReadArtifact("a/notes.txt")
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(data))
}

func TestScripted_NonStringContentIsJSON(t *testing.T) {
	scope := scriptedScope(t, "1.001")
	step := &workflow.Step{
		ID:    "1.001",
		Actor: workflow.ActorScripted,
		With: map[string]any{
			"artifacts": map[string]any{
				"diag.json": map[string]any{"pass_count": 3},
			},
		},
	}

	res, err := adapter.NewScripted().Execute(context.Background(), step, scope)
	require.NoError(t, err)
	require.Equal(t, adapter.StatusOK, res.Status)

	data, err := scope.ReadArtifact("diag.json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"pass_count":3}`, string(data))
}

func TestScripted_FailKey(t *testing.T) {
	scope := scriptedScope(t, "1.001")
	step := &workflow.Step{
		ID:    "1.001",
		Actor: workflow.ActorScripted,
		With:  map[string]any{"fail": "simulated outage"},
	}

	res, err := adapter.NewScripted().Execute(context.Background(), step, scope)
	require.NoError(t, err)
	assert.Equal(t, adapter.StatusFailed, res.Status)
	assert.True(t, adapter.IsPermanent(res.Err))
	assert.Contains(t, res.Err.Error(), "simulated outage")
}

func TestScripted_InvalidPayloads(t *testing.T) {
	tests := []struct {
		name string
		with map[string]any
	}{
		{"artifacts not a mapping", map[string]any{"artifacts": []any{"x"}}},
		{"negative tokens", map[string]any{"tokens_used": -1}},
		{"non-numeric tokens", map[string]any{"tokens_used": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scope := scriptedScope(t, "1.001")
			step := &workflow.Step{ID: "1.001", Actor: workflow.ActorScripted, With: tt.with}

			res, err := adapter.NewScripted().Execute(context.Background(), step, scope)
			require.NoError(t, err)
			assert.Equal(t, adapter.StatusFailed, res.Status)
			assert.True(t, adapter.IsPermanent(res.Err))
		})
	}
}

func TestScripted_CancelledContext(t *testing.T) {
	scope := scriptedScope(t, "1.001")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := adapter.NewScripted().Execute(ctx, &workflow.Step{ID: "1.001"}, scope)
	assert.ErrorIs(t, err, context.Canceled)
}
