package adapter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/adapter/adaptertest"
	"github.com/c360studio/semflow/workflow"
)

func TestRegistry_Register(t *testing.T) {
	reg := adapter.NewRegistry()

	require.NoError(t, reg.Register(adaptertest.New("gofix",
		adaptertest.WithActors(workflow.ActorFixer))))

	got, ok := reg.Lookup("gofix")
	require.True(t, ok)
	assert.Equal(t, "gofix", got.Descriptor().Name)

	_, ok = reg.Lookup("absent")
	assert.False(t, ok)
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register(adaptertest.New("gofix")))

	err := reg.Register(adaptertest.New("gofix"))
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrDuplicateName)
}

func TestRegistry_RegisterInvalidDescriptor(t *testing.T) {
	reg := adapter.NewRegistry()

	tests := []struct {
		name    string
		adapter adapter.Adapter
	}{
		{"empty name", adaptertest.New("")},
		{"no actors", adaptertest.New("x", adaptertest.WithActors())},
		{"bad kind", adaptertest.New("x", adaptertest.WithKind(adapter.Kind("quantum")))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.adapter)
			assert.ErrorIs(t, err, adapter.ErrInvalidDescriptor)
		})
	}
}

func TestRegistry_Names(t *testing.T) {
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register(adaptertest.New("zeta")))
	require.NoError(t, reg.Register(adaptertest.New("alpha")))
	require.NoError(t, reg.Register(adaptertest.New("mid")))

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, reg.Names())
}

func TestRegistry_QueryFiltersByActor(t *testing.T) {
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register(adaptertest.New("fixer-only",
		adaptertest.WithActors(workflow.ActorFixer))))
	require.NoError(t, reg.Register(adaptertest.New("tester-only",
		adaptertest.WithActors(workflow.ActorTester))))

	got := reg.Query(workflow.ActorFixer, false)
	require.Len(t, got, 1)
	assert.Equal(t, "fixer-only", got[0].Descriptor().Name)

	assert.Empty(t, reg.Query(workflow.ActorEditor, false))
}

func TestRegistry_QueryRanking(t *testing.T) {
	// Ranking: available first, then deterministic when preferred, then
	// cheapest, then name.
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register(adaptertest.New("ai-cheap",
		adaptertest.WithKind(adapter.KindAI), adaptertest.WithCost(10))))
	require.NoError(t, reg.Register(adaptertest.New("det-pricey",
		adaptertest.WithCost(50))))
	require.NoError(t, reg.Register(adaptertest.New("det-down",
		adaptertest.WithCost(1), adaptertest.WithUnavailable())))

	names := func(as []adapter.Adapter) []string {
		out := make([]string, len(as))
		for i, a := range as {
			out[i] = a.Descriptor().Name
		}
		return out
	}

	assert.Equal(t, []string{"ai-cheap", "det-pricey", "det-down"},
		names(reg.Query(workflow.ActorFixer, false)))
	assert.Equal(t, []string{"det-pricey", "ai-cheap", "det-down"},
		names(reg.Query(workflow.ActorFixer, true)))
}

func TestRegistry_QueryNameTiebreakIsDeterministic(t *testing.T) {
	reg := adapter.NewRegistry()
	require.NoError(t, reg.Register(adaptertest.New("bravo", adaptertest.WithCost(5))))
	require.NoError(t, reg.Register(adaptertest.New("alpha", adaptertest.WithCost(5))))

	for range 10 {
		got := reg.Query(workflow.ActorFixer, false)
		require.Len(t, got, 2)
		assert.Equal(t, "alpha", got[0].Descriptor().Name)
		assert.Equal(t, "bravo", got[1].Descriptor().Name)
	}
}

func TestDescriptor_HasCapabilities(t *testing.T) {
	desc := adapter.Descriptor{Capabilities: []string{"lang:go", "patch"}}

	assert.True(t, desc.HasCapabilities(nil))
	assert.True(t, desc.HasCapabilities([]string{"lang:go"}))
	assert.True(t, desc.HasCapabilities([]string{"patch", "lang:go"}))
	assert.False(t, desc.HasCapabilities([]string{"lang:rust"}))
}
