// Package adapter defines the contract concrete tools and AI clients
// implement, the descriptor metadata the router ranks, and the flat
// name-keyed registry adapters are registered into at process startup.
//
// Adapters are black boxes: they receive the step configuration and a
// narrow run scope, write artifacts only through that scope, and report
// token usage honestly. Failures are classified with the transient,
// permanent, and budget wrappers in this package so the executor can apply
// the retry policy without inspecting adapter internals.
package adapter

import (
	"context"

	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/workflow"
)

// Kind distinguishes deterministic tools from AI clients. Routing policy
// may restrict a step to deterministic adapters.
type Kind string

const (
	// KindDeterministic marks an adapter whose output depends only on its
	// inputs and the artifact store state.
	KindDeterministic Kind = "deterministic"

	// KindAI marks an adapter backed by a model; it must still honor the
	// contract but may be non-deterministic.
	KindAI Kind = "ai"
)

// IsValid returns true if the kind is known.
func (k Kind) IsValid() bool {
	return k == KindDeterministic || k == KindAI
}

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// Descriptor is the registry-visible metadata for one adapter. Descriptors
// are registered once per process and referenced by name.
type Descriptor struct {
	// Name uniquely identifies the adapter in the registry and in
	// routing decisions.
	Name string `json:"name"`

	// Kind is deterministic or ai.
	Kind Kind `json:"kind"`

	// Actors lists the actor kinds this adapter can execute.
	Actors []workflow.Actor `json:"actors"`

	// Capabilities are free-form tags matched against step requirements
	// (for example "lint", "lang:go").
	Capabilities []string `json:"capabilities,omitempty"`

	// EstimatedCost is the token estimate reserved per invocation.
	EstimatedCost int `json:"estimated_cost"`

	// Available reflects the last probe; unavailable adapters rank last
	// and are rejected by the router.
	Available bool `json:"available"`

	// SideEffects names the effects an invocation may have outside the
	// artifact namespace (for example "network"). Informational.
	SideEffects []string `json:"side_effects,omitempty"`
}

// Supports reports whether the adapter executes the given actor kind.
func (d Descriptor) Supports(actor workflow.Actor) bool {
	for _, a := range d.Actors {
		if a == actor {
			return true
		}
	}
	return false
}

// HasCapabilities reports whether the descriptor carries every required tag.
func (d Descriptor) HasCapabilities(required []string) bool {
	for _, want := range required {
		found := false
		for _, have := range d.Capabilities {
			if have == want {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Status is the adapter-reported outcome of one invocation.
type Status string

const (
	// StatusOK reports a completed invocation.
	StatusOK Status = "ok"

	// StatusFailed reports a failed invocation; Result.Err carries the
	// classified cause.
	StatusFailed Status = "failed"
)

// Diagnostic is one structured finding reported by an adapter.
type Diagnostic struct {
	// Severity is the adapter's own scale (for example "error", "warning").
	Severity string `json:"severity"`

	// Message is the human-readable finding.
	Message string `json:"message"`

	// File and Line locate the finding when it concerns a source file.
	File string `json:"file,omitempty"`
	Line int    `json:"line,omitempty"`
}

// Result is the adapter-reported outcome. Errors are carried in Err, never
// raised: an invocation that ran to a classified failure returns
// (result, nil) with Status StatusFailed.
type Result struct {
	// Status is ok or failed.
	Status Status

	// TokensUsed is the actual token count; the cost tracker settles it
	// against the routing reservation.
	TokensUsed int

	// Emitted lists the relative paths the adapter wrote through its scope.
	Emitted []string

	// Diagnostics carries structured findings for downstream gates.
	Diagnostics []Diagnostic

	// Err is the classified failure cause when Status is StatusFailed.
	Err error
}

// Adapter is the single contract every concrete worker implements.
type Adapter interface {
	// Descriptor returns the registry metadata. It must be constant for
	// the life of the process except for the Available probe.
	Descriptor() Descriptor

	// Execute runs one step. The step's With payload is opaque to the
	// orchestrator; artifacts go through the scope only. Execute must
	// observe ctx cancellation promptly, and must never return a nil
	// result alongside a nil error.
	Execute(ctx context.Context, step *workflow.Step, scope *run.Scope) (*Result, error)
}
