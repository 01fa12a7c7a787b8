package run

import (
	"time"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/workflow"
)

// StepResult is the terminal record of one step.
type StepResult struct {
	// StepID identifies the step.
	StepID string `json:"step_id"`

	// ChosenAdapter is the adapter that (last) executed the step; empty
	// for steps that were never routed.
	ChosenAdapter string `json:"chosen_adapter,omitempty"`

	// Status is the terminal step status.
	Status workflow.StepStatus `json:"status"`

	// Attempts counts dispatches, including the successful one.
	Attempts int `json:"attempts,omitempty"`

	// StartedAt is the first dispatch time; nil for steps never dispatched.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt is when the step reached a terminal state.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// TokensUsed is the settled token total across attempts.
	TokensUsed int `json:"tokens_used"`

	// EmittedPaths lists the artifacts catalogued for this step.
	EmittedPaths []string `json:"emitted_paths,omitempty"`

	// GateReport collects the verifier results, block and warn alike.
	GateReport workflow.GateReport `json:"gate_report,omitempty"`

	// Error describes the terminal failure; nil on success and skip.
	Error *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the stable error record carried in results and events.
type ErrorInfo struct {
	// Kind is the stable error kind string.
	Kind runerr.Kind `json:"kind"`

	// Message is the human-readable cause.
	Message string `json:"message"`

	// Retryable reports whether the policy may retry the failure.
	Retryable bool `json:"retryable"`
}

// ErrorInfoFrom converts an error into its stable record. Nil in, nil out.
func ErrorInfoFrom(err error) *ErrorInfo {
	if err == nil {
		return nil
	}
	return &ErrorInfo{
		Kind:      runerr.KindOf(err),
		Message:   err.Error(),
		Retryable: runerr.IsRetryable(err),
	}
}

// Summary is the terminal record of a run.
type Summary struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// WorkflowName names the executed workflow.
	WorkflowName string `json:"workflow_name"`

	// Status is the terminal run status.
	Status workflow.RunStatus `json:"status"`

	// StartedAt and EndedAt bound the run.
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	// StepResults lists every step's terminal record, ordered by step ID.
	StepResults []*StepResult `json:"step_results"`

	// ArtifactsIndex lists every catalogued artifact, ordered by path.
	ArtifactsIndex []artifact.Descriptor `json:"artifacts_index"`

	// TokensUsedTotal is the settled token total for the run.
	TokensUsedTotal int `json:"tokens_used_total"`

	// TokensOverrun is the settled usage in excess of the budget.
	TokensOverrun int `json:"tokens_overrun,omitempty"`

	// BudgetRemaining is the unspent budget, floored at zero.
	BudgetRemaining int `json:"budget_remaining"`
}

// Summarize assembles the terminal summary from the context's current
// state. The caller supplies the terminal status and end time.
func (c *Context) Summarize(status workflow.RunStatus, endedAt time.Time) *Summary {
	return &Summary{
		RunID:           c.RunID,
		WorkflowName:    c.Workflow.Name,
		Status:          status,
		StartedAt:       c.StartedAt,
		EndedAt:         endedAt,
		StepResults:     c.Results(),
		ArtifactsIndex:  c.Artifacts.List(),
		TokensUsedTotal: c.Costs.Used(),
		TokensOverrun:   c.Costs.Overrun(),
		BudgetRemaining: c.Costs.Remaining(),
	}
}
