// Package router selects one adapter per step. Selection is policy-aware
// (deterministic preference, budget fit, capability requirements) and
// fully reproducible: candidates are ranked by a total order, and every
// decision records what was considered and why candidates were rejected.
package router

import (
	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/cost"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/workflow"
)

// Rejection records why one candidate was passed over.
type Rejection struct {
	// Name is the rejected adapter.
	Name string `json:"name"`

	// Reason is a stable token: unavailable, over_budget, or capabilities.
	Reason string `json:"reason"`
}

// Rejection reasons.
const (
	ReasonUnavailable  = "unavailable"
	ReasonOverBudget   = "over_budget"
	ReasonCapabilities = "capabilities"
)

// Decision is the audit record of one routing choice.
type Decision struct {
	// StepID is the routed step.
	StepID string `json:"step_id"`

	// Chosen is the selected adapter name.
	Chosen string `json:"chosen"`

	// Estimate is the chosen adapter's cost estimate, reserved before
	// dispatch.
	Estimate int `json:"estimate"`

	// Considered lists every candidate queried, in rank order.
	Considered []string `json:"considered"`

	// Rejected lists the candidates filtered out, with reasons.
	Rejected []Rejection `json:"rejected,omitempty"`

	// Fallback is true when the capability filter removed every candidate
	// and the choice fell back to the broader set.
	Fallback bool `json:"fallback"`
}

// Router resolves steps to adapters using the registry and the run's cost
// tracker. It holds no per-run state; the same inputs always produce the
// same decision.
type Router struct {
	registry *adapter.Registry
}

// New creates a router over the given registry.
func New(registry *adapter.Registry) *Router {
	return &Router{registry: registry}
}

// Route selects the adapter for a step.
//
// The algorithm, in order: query the registry for the step's actor kind;
// drop unavailable adapters; drop adapters whose estimate does not fit the
// remaining budget; restrict to deterministic adapters when the policy
// prefers them and at least one survives; apply the capability filter
// derived from step.with, falling back to the unfiltered set (marked
// fallback=true) when it would remove everything; pick the first candidate
// in rank order.
//
// Failure modes: no registered candidate for the actor (or none available)
// is NoAdapterAvailable; candidates exist but none fits the budget is
// BudgetExhausted.
func (r *Router) Route(step *workflow.Step, policy workflow.Policy, costs *cost.Tracker) (adapter.Adapter, *Decision, error) {
	decision := &Decision{StepID: step.ID}

	candidates := r.registry.Query(step.Actor, policy.PreferDeterministic)
	for _, c := range candidates {
		decision.Considered = append(decision.Considered, c.Descriptor().Name)
	}
	if len(candidates) == 0 {
		return nil, decision, runerr.Newf(runerr.KindNoAdapter,
			"no adapter registered for actor %q", step.Actor).ForStep(step.ID)
	}

	available := candidates[:0:0]
	for _, c := range candidates {
		if !c.Descriptor().Available {
			decision.Rejected = append(decision.Rejected, Rejection{
				Name: c.Descriptor().Name, Reason: ReasonUnavailable,
			})
			continue
		}
		available = append(available, c)
	}
	if len(available) == 0 {
		return nil, decision, runerr.Newf(runerr.KindNoAdapter,
			"no adapter available for actor %q", step.Actor).ForStep(step.ID)
	}

	affordable := available[:0:0]
	for _, c := range available {
		if !costs.Fits(c.Descriptor().EstimatedCost) {
			decision.Rejected = append(decision.Rejected, Rejection{
				Name: c.Descriptor().Name, Reason: ReasonOverBudget,
			})
			continue
		}
		affordable = append(affordable, c)
	}
	if len(affordable) == 0 {
		return nil, decision, runerr.Newf(runerr.KindBudgetExhausted,
			"no adapter for actor %q fits remaining budget %d", step.Actor, costs.Remaining()).ForStep(step.ID)
	}

	pool := affordable
	if policy.PreferDeterministic {
		deterministic := pool[:0:0]
		for _, c := range pool {
			if c.Descriptor().Kind == adapter.KindDeterministic {
				deterministic = append(deterministic, c)
			}
		}
		if len(deterministic) > 0 {
			pool = deterministic
		}
	}

	required := requiredCapabilities(step)
	if len(required) > 0 {
		capable := pool[:0:0]
		for _, c := range pool {
			if c.Descriptor().HasCapabilities(required) {
				capable = append(capable, c)
			}
		}
		if len(capable) == 0 {
			// Capability predicates removed everything; fall back to the
			// broader set and mark the decision.
			decision.Fallback = true
		} else {
			for _, c := range pool {
				if !c.Descriptor().HasCapabilities(required) {
					decision.Rejected = append(decision.Rejected, Rejection{
						Name: c.Descriptor().Name, Reason: ReasonCapabilities,
					})
				}
			}
			pool = capable
		}
	}

	chosen := pool[0]
	decision.Chosen = chosen.Descriptor().Name
	decision.Estimate = chosen.Descriptor().EstimatedCost
	return chosen, decision, nil
}

// requiredCapabilities derives the capability tags a step requests through
// its with payload: a capabilities list is taken verbatim, and each entry
// of a languages list becomes a lang:<name> tag.
func requiredCapabilities(step *workflow.Step) []string {
	var out []string
	if raw, ok := step.With["capabilities"]; ok {
		for _, v := range asStrings(raw) {
			out = append(out, v)
		}
	}
	if raw, ok := step.With["languages"]; ok {
		for _, v := range asStrings(raw) {
			out = append(out, "lang:"+v)
		}
	}
	return out
}

func asStrings(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{list}
	}
	return nil
}
