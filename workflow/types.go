// Package workflow defines the declarative workflow document, the loader
// that validates and canonicalizes it, and the planner that turns a
// validated document into an executable DAG.
package workflow

import (
	"time"
)

// Actor is the logical kind of worker a step names. The enumeration is
// closed; the router resolves an actor to a concrete adapter.
type Actor string

const (
	// ActorDiag runs diagnostics and emits structured findings.
	ActorDiag Actor = "diag"
	// ActorFixer produces patches from diagnostics.
	ActorFixer Actor = "fixer"
	// ActorTester runs test suites and emits test reports.
	ActorTester Actor = "tester"
	// ActorEditor applies AI-assisted edits.
	ActorEditor Actor = "editor"
	// ActorScripted writes artifacts declared inline in the step config.
	ActorScripted Actor = "scripted"
)

// Actors returns the closed actor enumeration in stable order.
func Actors() []Actor {
	return []Actor{ActorDiag, ActorFixer, ActorTester, ActorEditor, ActorScripted}
}

// String returns the string representation of the actor.
func (a Actor) String() string {
	return string(a)
}

// IsValid returns true if the actor is a known actor kind.
func (a Actor) IsValid() bool {
	switch a {
	case ActorDiag, ActorFixer, ActorTester, ActorEditor, ActorScripted:
		return true
	default:
		return false
	}
}

// GateKind identifies a verifier gate implementation.
type GateKind string

const (
	// GateTestsPass checks a test-report artifact for failures.
	GateTestsPass GateKind = "tests_pass"
	// GateDiffLimits bounds the changed-line count of a patch artifact.
	GateDiffLimits GateKind = "diff_limits"
	// GateSchemaValid validates named artifacts against a JSON Schema.
	GateSchemaValid GateKind = "schema_valid"
	// GateArtifactExists requires paths in the run's artifacts index.
	GateArtifactExists GateKind = "artifact_exists"
	// GateCustom delegates to a plugin registered by name.
	GateCustom GateKind = "custom"
)

// String returns the string representation of the gate kind.
func (g GateKind) String() string {
	return string(g)
}

// IsValid returns true if the gate kind is known.
func (g GateKind) IsValid() bool {
	switch g {
	case GateTestsPass, GateDiffLimits, GateSchemaValid, GateArtifactExists, GateCustom:
		return true
	default:
		return false
	}
}

// Severity controls whether a failing gate fails its step.
type Severity string

const (
	// SeverityBlock fails the step when the gate does not pass.
	SeverityBlock Severity = "block"
	// SeverityWarn records the result without affecting step status.
	SeverityWarn Severity = "warn"
)

// IsValid returns true if the severity is known.
func (s Severity) IsValid() bool {
	return s == SeverityBlock || s == SeverityWarn
}

// WhenKind identifies a step predicate implementation.
type WhenKind string

const (
	// WhenAlways evaluates true unconditionally.
	WhenAlways WhenKind = "always"
	// WhenArtifactExists evaluates true when a path is catalogued.
	WhenArtifactExists WhenKind = "artifact_exists"
	// WhenArtifactProperty evaluates true when a JSON artifact property
	// matches an expected value.
	WhenArtifactProperty WhenKind = "artifact_property"
)

// IsValid returns true if the predicate kind is known.
func (w WhenKind) IsValid() bool {
	switch w {
	case WhenAlways, WhenArtifactExists, WhenArtifactProperty:
		return true
	default:
		return false
	}
}

// StepStatus is the executor-visible state of a step.
type StepStatus string

const (
	// StepPending indicates the step has not been scheduled yet.
	StepPending StepStatus = "pending"
	// StepRouted indicates an adapter has been chosen but not dispatched.
	StepRouted StepStatus = "routed"
	// StepRunning indicates an adapter invocation is in flight.
	StepRunning StepStatus = "running"
	// StepSucceeded indicates the step completed and its block gates passed.
	StepSucceeded StepStatus = "succeeded"
	// StepFailed indicates the step failed permanently.
	StepFailed StepStatus = "failed"
	// StepSkipped indicates the step was never dispatched (predicate false
	// or budget exhausted).
	StepSkipped StepStatus = "skipped"
	// StepAborted indicates the step was cut short by cancellation.
	StepAborted StepStatus = "aborted"
)

// String returns the string representation of the status.
func (s StepStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known step status.
func (s StepStatus) IsValid() bool {
	switch s {
	case StepPending, StepRouted, StepRunning,
		StepSucceeded, StepFailed, StepSkipped, StepAborted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true if the status is final.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepSucceeded, StepFailed, StepSkipped, StepAborted:
		return true
	default:
		return false
	}
}

// CanTransitionTo returns true if the status can transition to the target.
// Running may return to routed when a retry re-consults the router.
func (s StepStatus) CanTransitionTo(target StepStatus) bool {
	switch s {
	case StepPending:
		return target == StepRouted || target == StepSkipped ||
			target == StepFailed || target == StepAborted
	case StepRouted:
		return target == StepRunning || target == StepSkipped ||
			target == StepFailed || target == StepAborted
	case StepRunning:
		return target == StepRouted || target == StepSucceeded ||
			target == StepFailed || target == StepAborted
	default:
		return false // Terminal states
	}
}

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	// RunSucceeded indicates every step reached succeeded or a permitted skip.
	RunSucceeded RunStatus = "succeeded"
	// RunFailed indicates at least one step or block gate failed.
	RunFailed RunStatus = "failed"
	// RunAborted indicates cancellation before natural termination.
	RunAborted RunStatus = "aborted"
)

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known run status.
func (s RunStatus) IsValid() bool {
	return s == RunSucceeded || s == RunFailed || s == RunAborted
}

// Workflow is the declarative input document: a named sequence of steps
// plus run inputs and execution policy. Loaded documents are canonical:
// policy defaults are materialized and every step carries an explicit
// depends_on list.
type Workflow struct {
	// Name identifies the workflow in logs and summaries.
	Name string `yaml:"name" json:"name"`

	// Inputs is an opaque mapping handed to adapters through the run context.
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// Policy controls budget, routing preference, failure handling,
	// timeouts, and retries.
	Policy Policy `yaml:"policy" json:"policy"`

	// Steps is the ordered list of steps. Order matters only for the
	// sequential dependency default; execution order comes from the plan.
	Steps []Step `yaml:"steps" json:"steps"`
}

// Step returns the step with the given ID, or nil.
func (w *Workflow) Step(id string) *Step {
	for i := range w.Steps {
		if w.Steps[i].ID == id {
			return &w.Steps[i]
		}
	}
	return nil
}

// Step is one unit of work bound to an actor kind.
type Step struct {
	// ID uniquely identifies the step; it must match ^\d+\.\d{3}$.
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable step title.
	Name string `yaml:"name" json:"name"`

	// Actor is the logical worker kind the router resolves to an adapter.
	Actor Actor `yaml:"actor" json:"actor"`

	// With is an opaque mapping passed to the adapter unchanged. Only the
	// outer envelope is validated.
	With map[string]any `yaml:"with,omitempty" json:"with,omitempty"`

	// Emits lists the relative artifact paths the adapter must produce.
	Emits []string `yaml:"emits,omitempty" json:"emits,omitempty"`

	// Gates are evaluated by the verifier after the step completes.
	Gates []Gate `yaml:"gates,omitempty" json:"gates,omitempty"`

	// When optionally guards dispatch; a false predicate skips the step.
	When *When `yaml:"when,omitempty" json:"when,omitempty"`

	// DependsOn lists predecessor step IDs. In a canonical document it is
	// always explicit: the loader resolves an omitted list to the preceding
	// step and keeps an explicit empty list as a root marker.
	DependsOn []string `yaml:"depends_on" json:"depends_on"`
}

// HasBlockGates returns true if any gate has severity block.
func (s *Step) HasBlockGates() bool {
	for _, g := range s.Gates {
		if g.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// Gate is a post-step predicate. Block gates gate step success; warn gates
// are recorded only.
type Gate struct {
	// Kind selects the verifier implementation.
	Kind GateKind `yaml:"kind" json:"kind"`

	// Severity defaults to block when omitted.
	Severity Severity `yaml:"severity" json:"severity"`

	// Params configures the gate (e.g. max_lines, schema, paths, plugin name).
	Params map[string]any `yaml:"params,omitempty" json:"params,omitempty"`
}

// When is a step predicate in document form. The planner parses it into an
// evaluable Predicate; unknown kinds fail planning.
type When struct {
	// Kind selects the predicate implementation.
	Kind WhenKind `yaml:"kind" json:"kind"`

	// Path is the artifact the predicate inspects (exists/property kinds).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Property is a dot-separated JSON path inside the artifact
	// (artifact_property only).
	Property string `yaml:"property,omitempty" json:"property,omitempty"`

	// Equals is the expected property value. When omitted the predicate
	// only requires the property to be present.
	Equals any `yaml:"equals,omitempty" json:"equals,omitempty"`
}

// Policy controls run-wide execution behavior. Loaded documents carry
// materialized defaults, so zero values never need reinterpreting.
type Policy struct {
	// MaxTokens is the run budget. Zero disables enforcement.
	MaxTokens int `yaml:"max_tokens" json:"max_tokens"`

	// PreferDeterministic restricts routing to deterministic adapters when
	// at least one is available.
	PreferDeterministic bool `yaml:"prefer_deterministic" json:"prefer_deterministic"`

	// FailFast stops scheduling new steps after the first failure or
	// budget-exhausted skip.
	FailFast bool `yaml:"fail_fast" json:"fail_fast"`

	// StepTimeoutMS bounds a single adapter invocation.
	StepTimeoutMS int `yaml:"step_timeout_ms" json:"step_timeout_ms"`

	// Retry controls re-dispatch of transiently failed attempts.
	Retry RetryPolicy `yaml:"retry" json:"retry"`

	// Drain controls behavior after a budget overdraw.
	Drain DrainPolicy `yaml:"drain" json:"drain"`
}

// StepTimeout returns the per-step timeout as a duration.
func (p Policy) StepTimeout() time.Duration {
	return time.Duration(p.StepTimeoutMS) * time.Millisecond
}

// RetryPolicy bounds retries of transient failures.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// The loader materializes a minimum of 1.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`

	// BackoffMS is the delay schedule between attempts. Attempt n waits
	// BackoffMS[n-1], clamped to the last entry. Empty means no delay.
	BackoffMS []int `yaml:"backoff_ms,omitempty" json:"backoff_ms,omitempty"`
}

// Backoff returns the delay before retry attempt n (the attempt that is
// about to run, 2-based: the first retry is attempt 2).
func (r RetryPolicy) Backoff(attempt int) time.Duration {
	if len(r.BackoffMS) == 0 || attempt < 2 {
		return 0
	}
	idx := attempt - 2
	if idx >= len(r.BackoffMS) {
		idx = len(r.BackoffMS) - 1
	}
	return time.Duration(r.BackoffMS[idx]) * time.Millisecond
}

// DrainPolicy controls the budget-exceeded drain mode.
type DrainPolicy struct {
	// CancelInFlight cancels running siblings when the run enters drain
	// mode. Queued nonzero-estimate steps are always skipped.
	CancelInFlight bool `yaml:"cancel_in_flight" json:"cancel_in_flight"`
}

// GateResult is the outcome of one gate evaluation.
type GateResult struct {
	// Kind is the evaluated gate kind.
	Kind GateKind `json:"kind"`

	// Passed reports whether the gate predicate held.
	Passed bool `json:"passed"`

	// Severity is the gate's configured severity.
	Severity Severity `json:"severity"`

	// Details explains the outcome (counts, limits, schema issues).
	Details string `json:"details,omitempty"`
}

// GateReport collects the results of every gate on a step.
type GateReport []GateResult

// Passed returns true if every block gate passed. Warn gates never fail
// the report.
func (r GateReport) Passed() bool {
	for _, g := range r {
		if g.Severity == SeverityBlock && !g.Passed {
			return false
		}
	}
	return true
}

// FirstBlocked returns the first failing block gate, or nil.
func (r GateReport) FirstBlocked() *GateResult {
	for i, g := range r {
		if g.Severity == SeverityBlock && !g.Passed {
			return &r[i]
		}
	}
	return nil
}
