// Package adaptertest provides a scripted in-memory adapter for tests.
// Behavior is configured with functional options; invocations are recorded
// under a mutex so concurrent executor tests can assert on call counts.
package adaptertest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/workflow"
)

// Mock is a configurable test adapter.
type Mock struct {
	mu    sync.Mutex
	desc  adapter.Descriptor
	calls []Call

	tokens    int
	artifacts map[string]string
	delay     time.Duration
	failures  int
	failErr   error
	execute   ExecuteFunc
}

// Call records one Execute invocation.
type Call struct {
	StepID  string
	Attempt int
}

// ExecuteFunc fully overrides the mock's behavior.
type ExecuteFunc func(ctx context.Context, step *workflow.Step, scope *run.Scope) (*adapter.Result, error)

// Option configures a Mock.
type Option func(*Mock)

// WithKind sets the adapter kind (default deterministic).
func WithKind(k adapter.Kind) Option {
	return func(m *Mock) { m.desc.Kind = k }
}

// WithActors sets the supported actor kinds (default: all).
func WithActors(actors ...workflow.Actor) Option {
	return func(m *Mock) { m.desc.Actors = actors }
}

// WithCapabilities sets the descriptor capability tags.
func WithCapabilities(caps ...string) Option {
	return func(m *Mock) { m.desc.Capabilities = caps }
}

// WithCost sets the estimated cost per invocation.
func WithCost(tokens int) Option {
	return func(m *Mock) { m.desc.EstimatedCost = tokens }
}

// WithUnavailable marks the adapter unavailable to the router.
func WithUnavailable() Option {
	return func(m *Mock) { m.desc.Available = false }
}

// WithSideEffects sets the descriptor side-effect tags.
func WithSideEffects(effects ...string) Option {
	return func(m *Mock) { m.desc.SideEffects = effects }
}

// WithTokens sets the token count reported per invocation.
func WithTokens(n int) Option {
	return func(m *Mock) { m.tokens = n }
}

// WithArtifacts sets the artifacts written on every successful invocation.
func WithArtifacts(artifacts map[string]string) Option {
	return func(m *Mock) { m.artifacts = artifacts }
}

// WithDelay makes Execute wait before completing. The wait observes ctx,
// so timeout and cancellation paths can be exercised.
func WithDelay(d time.Duration) Option {
	return func(m *Mock) { m.delay = d }
}

// WithFailures makes the first n invocations fail with err. A transient
// err exercises the retry path; subsequent invocations succeed.
func WithFailures(n int, err error) Option {
	return func(m *Mock) { m.failures, m.failErr = n, err }
}

// WithExecute overrides the behavior entirely; other behavior options are
// ignored but calls are still recorded.
func WithExecute(fn ExecuteFunc) Option {
	return func(m *Mock) { m.execute = fn }
}

// New creates a mock adapter. Defaults: deterministic, all actors, cost 0,
// available, zero tokens, no artifacts.
func New(name string, opts ...Option) *Mock {
	m := &Mock{
		desc: adapter.Descriptor{
			Name:      name,
			Kind:      adapter.KindDeterministic,
			Actors:    workflow.Actors(),
			Available: true,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Descriptor implements adapter.Adapter.
func (m *Mock) Descriptor() adapter.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.desc
}

// SetAvailable flips the availability probe between invocations.
func (m *Mock) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desc.Available = available
}

// Calls returns a copy of the recorded invocations.
func (m *Mock) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of recorded invocations.
func (m *Mock) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Execute implements adapter.Adapter.
func (m *Mock) Execute(ctx context.Context, step *workflow.Step, scope *run.Scope) (*adapter.Result, error) {
	m.mu.Lock()
	attempt := 0
	for _, c := range m.calls {
		if c.StepID == step.ID {
			attempt = c.Attempt
		}
	}
	attempt++
	m.calls = append(m.calls, Call{StepID: step.ID, Attempt: attempt})
	fail := len(m.calls) <= m.failures
	failErr := m.failErr
	delay := m.delay
	execute := m.execute
	tokens := m.tokens
	artifacts := m.artifacts
	m.mu.Unlock()

	if execute != nil {
		return execute(ctx, step, scope)
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		if failErr == nil {
			failErr = adapter.NewPermanent(errors.New("mock failure"))
		}
		return &adapter.Result{Status: adapter.StatusFailed, TokensUsed: tokens, Err: failErr}, nil
	}

	var emitted []string
	for path, content := range artifacts {
		if _, err := scope.WriteArtifact(path, []byte(content)); err != nil {
			return &adapter.Result{
				Status:     adapter.StatusFailed,
				TokensUsed: tokens,
				Emitted:    emitted,
				Err:        adapter.NewPermanent(err),
			}, nil
		}
		emitted = append(emitted, path)
	}

	return &adapter.Result{Status: adapter.StatusOK, TokensUsed: tokens, Emitted: emitted}, nil
}
