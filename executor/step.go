package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/audit"
	"github.com/c360studio/semflow/cost"
	"github.com/c360studio/semflow/router"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/workflow"
)

// runStep executes one step on a worker: it drives the attempt loop with
// backoff, enforces the per-step timeout, verifies declared emissions,
// evaluates gates, and settles the cost reservation exactly once. The
// returned result is terminal.
func (e *Executor) runStep(ctx context.Context, rc *run.Context, step *workflow.Step,
	chosen adapter.Adapter, decision *router.Decision, reservation *cost.Reservation,
	policy workflow.Policy) *run.StepResult {

	result := &run.StepResult{
		StepID:        step.ID,
		ChosenAdapter: decision.Chosen,
	}
	totalTokens := 0
	timeoutRetried := false
	maxAttempts := policy.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	defer func() {
		result.TokensUsed = totalTokens
		if err := rc.Costs.Settle(reservation, totalTokens); err != nil {
			e.logger.Warn("settle cost reservation", "step_id", step.ID, "error", err)
		}
	}()

	for attempt := 1; ; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			if aborted := e.backoff(ctx, policy.Retry, attempt); aborted {
				result.Status = workflow.StepAborted
				result.Error = run.ErrorInfoFrom(runerr.New(runerr.KindCancelled, "run cancelled during backoff"))
				now := time.Now().UTC()
				result.EndedAt = &now
				return result
			}
			// Retries reuse the routing decision unless the adapter went
			// away; then the router is consulted again.
			if !chosen.Descriptor().Available {
				next, nextDecision, err := e.router.Route(step, policy, rc.Costs)
				if err != nil {
					result.Status = workflow.StepFailed
					result.Error = run.ErrorInfoFrom(err)
					now := time.Now().UTC()
					result.EndedAt = &now
					return result
				}
				chosen = next
				result.ChosenAdapter = nextDecision.Chosen
				if aerr := rc.Log.Append(audit.EventStepRouted, audit.StepRoutedPayload{
					StepID:   step.ID,
					Decision: nextDecision,
				}); aerr != nil {
					e.logger.Warn("append step.routed", "step_id", step.ID, "error", aerr)
				}
			}
		}

		attemptStart := time.Now().UTC()
		if result.StartedAt == nil {
			result.StartedAt = &attemptStart
		}
		if err := rc.Log.Append(audit.EventStepStarted, audit.StepStartedPayload{
			StepID:  step.ID,
			Adapter: result.ChosenAdapter,
		}); err != nil {
			e.logger.Warn("append step.started", "step_id", step.ID, "error", err)
		}

		res, execErr := e.invoke(ctx, chosen, step, rc.ScopeFor(step.ID), policy.StepTimeout())

		attemptTokens := 0
		if res != nil {
			attemptTokens = res.TokensUsed
		}
		totalTokens += attemptTokens

		status, stepErr := e.classify(ctx, rc, step, res, execErr)

		if status == workflow.StepSucceeded {
			report := e.verifier.Evaluate(step, rc)
			result.GateReport = report
			if err := rc.Log.Append(audit.EventGateEvaluated, audit.GateEvaluatedPayload{
				StepID: step.ID,
				Report: report,
			}); err != nil {
				e.logger.Warn("append gate.evaluated", "step_id", step.ID, "error", err)
			}
			if blocked := report.FirstBlocked(); blocked != nil {
				status = workflow.StepFailed
				stepErr = runerr.Newf(runerr.KindGateFailed,
					"gate %s: %s", blocked.Kind, blocked.Details).ForStep(step.ID)
			}
		}

		emitted := emittedPaths(rc, step.ID)
		endedAt := time.Now().UTC()
		if err := rc.Log.Append(audit.EventStepEnded, audit.StepEndedPayload{
			StepID:     step.ID,
			Status:     status.String(),
			TokensUsed: int64(attemptTokens),
			DurationMS: endedAt.Sub(attemptStart).Milliseconds(),
			Emitted:    emitted,
		}); err != nil {
			e.logger.Warn("append step.ended", "step_id", step.ID, "error", err)
		}

		result.Status = status
		result.EmittedPaths = emitted
		result.EndedAt = &endedAt
		result.Error = run.ErrorInfoFrom(stepErr)

		if status != workflow.StepFailed || stepErr == nil {
			return result
		}

		kind := runerr.KindOf(stepErr)
		retryable := kind.Retryable()
		if kind == runerr.KindTimeout {
			// A timed-out attempt retries at most once regardless of the
			// remaining attempt allowance.
			if timeoutRetried {
				retryable = false
			}
			timeoutRetried = true
		}
		if !retryable || attempt >= maxAttempts {
			return result
		}
	}
}

// backoff waits the configured delay before a retry attempt. It returns
// true when the run was cancelled during the wait.
func (e *Executor) backoff(ctx context.Context, retry workflow.RetryPolicy, attempt int) bool {
	delay := retry.Backoff(attempt)
	if delay <= 0 {
		return ctx.Err() != nil
	}
	select {
	case <-time.After(delay):
		return false
	case <-ctx.Done():
		return true
	}
}

// errAbandoned marks an adapter that ignored cancellation past the grace
// window; its eventual result is discarded.
var errAbandoned = errors.New("adapter abandoned after grace window")

// invoke runs one adapter attempt under the per-step timeout. When the
// step context ends before the adapter returns, the adapter is given the
// grace window to observe cancellation; afterwards its work is abandoned
// and any late result discarded.
func (e *Executor) invoke(ctx context.Context, ad adapter.Adapter, step *workflow.Step,
	scope *run.Scope, timeout time.Duration) (*adapter.Result, error) {

	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *adapter.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := ad.Execute(stepCtx, step, scope)
		done <- outcome{res: res, err: err}
	}()

	select {
	case out := <-done:
		return out.res, out.err
	case <-stepCtx.Done():
		select {
		case <-done:
			// Cooperative stop observed; the attempt still ended by
			// timeout or cancellation, so the result is discarded.
			return nil, stepCtx.Err()
		case <-time.After(e.grace):
			return nil, fmt.Errorf("%w: %v", errAbandoned, stepCtx.Err())
		}
	}
}

// classify maps an adapter outcome onto a step status and a stable error.
func (e *Executor) classify(ctx context.Context, rc *run.Context, step *workflow.Step,
	res *adapter.Result, execErr error) (workflow.StepStatus, error) {

	if execErr != nil {
		switch {
		case ctx.Err() != nil:
			return workflow.StepAborted,
				runerr.Wrap(runerr.KindCancelled, "run cancelled", execErr).ForStep(step.ID)
		case errors.Is(execErr, context.DeadlineExceeded):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindTimeout, "step timeout exceeded", execErr).ForStep(step.ID)
		case errors.Is(execErr, errAbandoned):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindTimeout, "step timeout exceeded", execErr).ForStep(step.ID)
		case adapter.IsTransient(execErr):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindAdapterTransient, "adapter failed", execErr).ForStep(step.ID)
		case adapter.IsBudget(execErr):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindBudgetExhausted, "adapter budget exhausted", execErr).ForStep(step.ID)
		case adapter.IsPermanent(execErr):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindAdapterPermanent, "adapter failed", execErr).ForStep(step.ID)
		default:
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindInternal, "adapter raised unclassified error", execErr).ForStep(step.ID)
		}
	}

	if res == nil {
		return workflow.StepFailed,
			runerr.New(runerr.KindInternal, "adapter returned no result").ForStep(step.ID)
	}

	if res.Status == adapter.StatusFailed {
		cause := res.Err
		if cause == nil {
			cause = errors.New("adapter reported failure without a cause")
		}
		switch {
		case adapter.IsTransient(cause):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindAdapterTransient, "adapter failed", cause).ForStep(step.ID)
		case adapter.IsBudget(cause):
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindBudgetExhausted, "adapter budget exhausted", cause).ForStep(step.ID)
		default:
			return workflow.StepFailed,
				runerr.Wrap(runerr.KindAdapterPermanent, "adapter failed", cause).ForStep(step.ID)
		}
	}

	// The adapter reported success: every declared emission must be
	// catalogued under this step before gates observe it.
	for _, path := range step.Emits {
		desc, ok := rc.Artifacts.Stat(path)
		if !ok || desc.ProducedBy != step.ID {
			return workflow.StepFailed, runerr.Newf(runerr.KindMissingArtifact,
				"declared artifact %s was not produced", path).ForStep(step.ID)
		}
	}
	return workflow.StepSucceeded, nil
}

// emittedPaths lists every path the step has catalogued so far, declared
// and auxiliary alike.
func emittedPaths(rc *run.Context, stepID string) []string {
	descs := rc.Artifacts.WrittenBy(stepID)
	if len(descs) == 0 {
		return nil
	}
	out := make([]string, len(descs))
	for i, d := range descs {
		out[i] = d.Path
	}
	return out
}
