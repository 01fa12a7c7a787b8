// Package audit provides the append-only, line-delimited JSON execution log
// for a run. Components receive a Sink handle; the log file under
// logs/<run_id>.jsonl is the source of truth, with optional mirroring to
// NATS for live consumers.
package audit

// Kind identifies an audit event. The values are part of the on-disk log
// format and must not change.
type Kind string

// Mandatory event kinds.
const (
	EventRunStarted    Kind = "run.started"
	EventRunEnded      Kind = "run.ended"
	EventStepRouted    Kind = "step.routed"
	EventStepStarted   Kind = "step.started"
	EventStepEnded     Kind = "step.ended"
	EventStepSkipped   Kind = "step.skipped"
	EventGateEvaluated Kind = "gate.evaluated"
	EventCostUpdate    Kind = "cost.update"
	EventError         Kind = "error"
)

// RunStartedPayload is the payload for run.started.
type RunStartedPayload struct {
	WorkflowName string         `json:"workflow_name"`
	Inputs       map[string]any `json:"inputs"`
	Budget       int64          `json:"budget"`
}

// RunEndedPayload is the payload for run.ended.
type RunEndedPayload struct {
	Status          string `json:"status"`
	TokensUsedTotal int64  `json:"tokens_used_total"`
	BudgetRemaining int64  `json:"budget_remaining"`
}

// StepRoutedPayload is the payload for step.routed. Decision carries the
// router's RoutingDecision; it is typed as any so the log stays decoupled
// from the router package.
type StepRoutedPayload struct {
	StepID   string `json:"step_id"`
	Decision any    `json:"decision"`
}

// StepStartedPayload is the payload for step.started.
type StepStartedPayload struct {
	StepID  string `json:"step_id"`
	Adapter string `json:"adapter"`
}

// StepEndedPayload is the payload for step.ended.
type StepEndedPayload struct {
	StepID     string   `json:"step_id"`
	Status     string   `json:"status"`
	TokensUsed int64    `json:"tokens_used"`
	DurationMS int64    `json:"duration_ms"`
	Emitted    []string `json:"emitted"`
}

// StepSkippedPayload is the payload for step.skipped.
type StepSkippedPayload struct {
	StepID string `json:"step_id"`
	Reason string `json:"reason"`
}

// GateEvaluatedPayload is the payload for gate.evaluated.
type GateEvaluatedPayload struct {
	StepID string `json:"step_id"`
	Report any    `json:"report"`
}

// CostUpdatePayload is the payload for cost.update.
type CostUpdatePayload struct {
	StepID    string `json:"step_id"`
	Delta     int64  `json:"delta"`
	Remaining int64  `json:"remaining"`
}

// ErrorPayload is the payload for error events. StepID is empty for
// run-level errors.
type ErrorPayload struct {
	StepID  string `json:"step_id,omitempty"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Sink accepts audit events. Components are handed a Sink, never the log
// itself; appends must be safe for concurrent use.
type Sink interface {
	Append(kind Kind, payload any) error
}

// Discard is a Sink that drops every event. Useful for pure planning paths
// and tests that do not assert on the log.
type Discard struct{}

// Append implements Sink.
func (Discard) Append(Kind, any) error { return nil }
