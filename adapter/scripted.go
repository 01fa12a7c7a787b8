package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/workflow"
)

// ScriptedName is the registry name of the builtin scripted adapter.
const ScriptedName = "scripted"

// Scripted is the builtin deterministic adapter. It writes the artifacts
// declared inline in the step's with payload and reports a fixed token
// count, which makes workflows runnable end-to-end without any external
// tool and gives dry runs and examples a concrete target.
//
// Recognized with keys:
//
//	artifacts:   mapping of relative path to content; string content is
//	             written verbatim, anything else is marshaled as JSON
//	tokens_used: fixed token count to report (default 0)
//	fail:        when present, the invocation fails permanently with the
//	             given message instead of writing anything
type Scripted struct{}

// NewScripted creates the builtin scripted adapter.
func NewScripted() *Scripted {
	return &Scripted{}
}

// Descriptor implements Adapter. The scripted adapter accepts every actor
// kind so example workflows can route any step to it.
func (s *Scripted) Descriptor() Descriptor {
	return Descriptor{
		Name:          ScriptedName,
		Kind:          KindDeterministic,
		Actors:        workflow.Actors(),
		Capabilities:  []string{"scripted"},
		EstimatedCost: 0,
		Available:     true,
	}
}

// Execute implements Adapter.
func (s *Scripted) Execute(ctx context.Context, step *workflow.Step, scope *run.Scope) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if msg, ok := step.With["fail"]; ok {
		return &Result{
			Status: StatusFailed,
			Err:    NewPermanent(fmt.Errorf("scripted failure: %v", msg)),
		}, nil
	}

	tokens := 0
	if raw, ok := step.With["tokens_used"]; ok {
		n, ok := asInt(raw)
		if !ok || n < 0 {
			return &Result{
				Status: StatusFailed,
				Err:    NewPermanent(fmt.Errorf("scripted: invalid tokens_used %v", raw)),
			}, nil
		}
		tokens = n
	}

	artifacts, err := scriptedArtifacts(step)
	if err != nil {
		return &Result{Status: StatusFailed, Err: NewPermanent(err)}, nil
	}

	var emitted []string
	for _, art := range artifacts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := scope.WriteArtifact(art.path, art.data); err != nil {
			return &Result{
				Status:     StatusFailed,
				TokensUsed: tokens,
				Emitted:    emitted,
				Err:        NewPermanent(fmt.Errorf("scripted: write %s: %w", art.path, err)),
			}, nil
		}
		emitted = append(emitted, art.path)
	}

	return &Result{Status: StatusOK, TokensUsed: tokens, Emitted: emitted}, nil
}

type scriptedArtifact struct {
	path string
	data []byte
}

// scriptedArtifacts resolves the artifacts mapping in declaration-stable
// order (sorted by path; YAML mappings do not preserve order through the
// opaque payload).
func scriptedArtifacts(step *workflow.Step) ([]scriptedArtifact, error) {
	raw, ok := step.With["artifacts"]
	if !ok {
		return nil, nil
	}
	m, ok := raw.(map[string]any)
	if !ok {
		return nil, errors.New("scripted: artifacts must be a mapping of path to content")
	}

	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	out := make([]scriptedArtifact, 0, len(paths))
	for _, p := range paths {
		var data []byte
		switch v := m[p].(type) {
		case string:
			data = []byte(v)
		default:
			enc, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("scripted: encode %s: %w", p, err)
			}
			data = enc
		}
		out = append(out, scriptedArtifact{path: p, data: data})
	}
	return out, nil
}

// asInt coerces the numeric types a YAML or JSON payload may carry.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
