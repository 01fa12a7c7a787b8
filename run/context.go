// Package run carries the state scoped to one workflow run: the context
// shared across components, per-step results, the terminal summary, and
// the completion manifest.
package run

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/audit"
	"github.com/c360studio/semflow/cost"
	"github.com/c360studio/semflow/workflow"
)

// Context is the run-scoped state shared across the executor, router, and
// verifier. Components mutate it through narrow surfaces only: the
// artifact store catalogues emissions, the cost tracker owns the budget,
// and step results are written by the executor for the owning step.
type Context struct {
	// RunID identifies the run in logs, events, and the artifact namespace.
	RunID string

	// StartedAt is when the context was created.
	StartedAt time.Time

	// Workflow is the canonical document being executed.
	Workflow *workflow.Workflow

	// Inputs are the run inputs after applying overrides.
	Inputs map[string]any

	// Artifacts is the run-scoped artifact store.
	Artifacts *artifact.Store

	// Costs is the run budget tracker.
	Costs *cost.Tracker

	// Log is the audit sink handle components append through.
	Log audit.Sink

	mu      sync.RWMutex
	results map[string]*StepResult
}

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.New().String()
}

// NewContext assembles a run context. Inputs merge the workflow's declared
// inputs with the caller's overrides (overrides win).
func NewContext(runID string, wf *workflow.Workflow, overrides map[string]any,
	store *artifact.Store, costs *cost.Tracker, sink audit.Sink) *Context {

	inputs := make(map[string]any, len(wf.Inputs)+len(overrides))
	for k, v := range wf.Inputs {
		inputs[k] = v
	}
	for k, v := range overrides {
		inputs[k] = v
	}
	if sink == nil {
		sink = audit.Discard{}
	}

	return &Context{
		RunID:     runID,
		StartedAt: time.Now().UTC(),
		Workflow:  wf,
		Inputs:    inputs,
		Artifacts: store,
		Costs:     costs,
		Log:       sink,
		results:   make(map[string]*StepResult),
	}
}

// SetResult records the result for a step. The executor is the only
// writer; one result per step.
func (c *Context) SetResult(res *StepResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[res.StepID] = res
}

// Result returns the recorded result for a step.
func (c *Context) Result(stepID string) (*StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.results[stepID]
	return res, ok
}

// Results returns all recorded results sorted by step ID.
func (c *Context) Results() []*StepResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*StepResult, 0, len(c.results))
	for _, res := range c.results {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepID < out[j].StepID })
	return out
}

// HasArtifact implements workflow.ArtifactView over the artifacts index.
func (c *Context) HasArtifact(path string) bool {
	_, ok := c.Artifacts.Stat(path)
	return ok
}

// ReadArtifact implements workflow.ArtifactView.
func (c *Context) ReadArtifact(path string) ([]byte, error) {
	return c.Artifacts.Read(path)
}

// ScopeFor returns the narrow view handed to an adapter executing stepID.
// Adapters never see the context itself: they read inputs and catalogued
// artifacts, and write artifacts under their own step's ownership.
func (c *Context) ScopeFor(stepID string) *Scope {
	return &Scope{
		runID:  c.RunID,
		stepID: stepID,
		inputs: c.Inputs,
		store:  c.Artifacts,
	}
}

// Scope is the adapter-facing slice of a run: run identity, read-only
// inputs, and step-owned artifact IO.
type Scope struct {
	runID  string
	stepID string
	inputs map[string]any
	store  *artifact.Store
}

// RunID returns the owning run's identifier.
func (s *Scope) RunID() string { return s.runID }

// StepID returns the step this scope writes on behalf of.
func (s *Scope) StepID() string { return s.stepID }

// Input returns a run input by key.
func (s *Scope) Input(key string) (any, bool) {
	v, ok := s.inputs[key]
	return v, ok
}

// Inputs returns a copy of the run inputs.
func (s *Scope) Inputs() map[string]any {
	out := make(map[string]any, len(s.inputs))
	for k, v := range s.inputs {
		out[k] = v
	}
	return out
}

// WriteArtifact stores data under the step's ownership and returns the
// descriptor.
func (s *Scope) WriteArtifact(relPath string, data []byte) (artifact.Descriptor, error) {
	return s.store.Write(s.stepID, relPath, data)
}

// ReadArtifact returns a catalogued artifact, typically a predecessor's
// output.
func (s *Scope) ReadArtifact(relPath string) ([]byte, error) {
	return s.store.Read(relPath)
}

// HasArtifact reports whether a path is catalogued.
func (s *Scope) HasArtifact(relPath string) bool {
	_, ok := s.store.Stat(relPath)
	return ok
}
