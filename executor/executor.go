// Package executor drives a run plan to completion: it walks the DAG in
// topological order, routes ready steps to adapters, enforces budget and
// timeouts, evaluates gates, and appends the audit trail. A single
// coordinator owns all run state; adapter invocations run on a bounded
// worker pool and report back over a completion channel.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/c360studio/semflow/adapter"
	"github.com/c360studio/semflow/audit"
	"github.com/c360studio/semflow/metrics"
	"github.com/c360studio/semflow/router"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/verifier"
	"github.com/c360studio/semflow/workflow"
)

// Defaults for executor construction.
const (
	// DefaultWorkers is the worker pool size. One worker is strictly
	// sequential and fully deterministic.
	DefaultWorkers = 1

	// DefaultGrace is how long an unresponsive adapter is waited for after
	// its context is cancelled before its work is abandoned.
	DefaultGrace = 2 * time.Second
)

// Executor runs plans. It holds no per-run state and may be reused.
type Executor struct {
	registry *adapter.Registry
	router   *router.Router
	verifier *verifier.Verifier
	logger   *slog.Logger
	recorder metrics.Recorder
	workers  int
	grace    time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

// WithWorkers bounds the worker pool. Values below 1 are clamped to 1.
func WithWorkers(n int) Option {
	return func(e *Executor) {
		if n < 1 {
			n = 1
		}
		e.workers = n
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithGrace sets the abandonment grace window for unresponsive adapters.
func WithGrace(d time.Duration) Option {
	return func(e *Executor) { e.grace = d }
}

// New creates an executor over the given registry and verifier.
func New(registry *adapter.Registry, v *verifier.Verifier, opts ...Option) *Executor {
	e := &Executor{
		registry: registry,
		router:   router.New(registry),
		verifier: v,
		logger:   slog.Default(),
		recorder: metrics.Nop{},
		workers:  DefaultWorkers,
		grace:    DefaultGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// runState is the coordinator-owned mutable state for one run. Workers
// never touch it; they report completions over the channel.
type runState struct {
	plan        *workflow.RunPlan
	rc          *run.Context
	policy      workflow.Policy
	statuses    map[string]workflow.StepStatus
	inflight    int
	completions chan *run.StepResult

	stopScheduling   bool // fail_fast tripped
	cancelled        bool
	budgetSkips      int  // steps skipped because routing could not afford them
	budgetSkipBlock  bool // a budget-skipped step declared block gates
	budgetFailFast   bool // budget skip under fail_fast stops the run
	anyFailed        bool
	succeededCount   int
	internalFailure  error
	attemptCancels   map[string]context.CancelFunc // per-dispatch cancel scopes
	drainCancelFired bool
}

// cancelAttempts cancels every in-flight attempt without touching the
// scheduler's context: steps dispatched afterwards start under a live
// scope.
func (st *runState) cancelAttempts() {
	for _, cancel := range st.attemptCancels {
		cancel()
	}
}

// Run executes the plan against the given run context. The returned
// summary is always non-nil on a nil error; orchestration errors surface
// in the summary and the audit log, not as returned errors.
func (e *Executor) Run(ctx context.Context, plan *workflow.RunPlan, rc *run.Context) (*run.Summary, error) {
	policy := plan.Workflow.Policy

	if err := rc.Log.Append(audit.EventRunStarted, audit.RunStartedPayload{
		WorkflowName: plan.Workflow.Name,
		Inputs:       rc.Inputs,
		Budget:       int64(policy.MaxTokens),
	}); err != nil {
		return nil, runerr.Wrap(runerr.KindInternal, "append run.started", err)
	}

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	st := &runState{
		plan:           plan,
		rc:             rc,
		policy:         policy,
		statuses:       make(map[string]workflow.StepStatus, len(plan.Order)),
		completions:    make(chan *run.StepResult, len(plan.Order)),
		attemptCancels: make(map[string]context.CancelFunc, e.workers),
	}
	for _, id := range plan.Order {
		st.statuses[id] = workflow.StepPending
	}

	var pool errgroup.Group
	pool.SetLimit(e.workers)

	for {
		if ctx.Err() != nil {
			st.cancelled = true
		}
		if st.cancelled {
			break
		}

		e.schedule(workCtx, st, &pool)

		if st.inflight == 0 {
			if st.allTerminal() {
				break
			}
			// Every pending step is blocked on something that can no
			// longer complete. The scheduler marks blocked steps
			// synchronously, so this is a coordinator bug.
			st.internalFailure = runerr.New(runerr.KindInternal, "scheduler stalled with pending steps")
			e.failPending(st)
			break
		}

		select {
		case res := <-st.completions:
			e.applyCompletion(st, res)
		case <-ctx.Done():
			st.cancelled = true
		}
	}

	if st.cancelled {
		// In-flight workers observe cancellation through their attempt
		// contexts (descendants of the already-cancelled parent) and report
		// aborted results, bounded by the grace window inside invoke.
		for st.inflight > 0 {
			res := <-st.completions
			e.applyCompletion(st, res)
		}
		for _, id := range plan.Order {
			if !st.statuses[id].IsTerminal() {
				st.statuses[id] = workflow.StepAborted
				rc.SetResult(&run.StepResult{StepID: id, Status: workflow.StepAborted})
			}
		}
	}
	_ = pool.Wait()

	status := e.runStatus(st)
	endedAt := time.Now().UTC()
	summary := rc.Summarize(status, endedAt)

	if err := rc.Log.Append(audit.EventRunEnded, audit.RunEndedPayload{
		Status:          status.String(),
		TokensUsedTotal: int64(summary.TokensUsedTotal),
		BudgetRemaining: int64(summary.BudgetRemaining),
	}); err != nil {
		return nil, runerr.Wrap(runerr.KindInternal, "append run.ended", err)
	}

	e.recorder.RunEnded(status.String())
	e.recorder.SetBudgetRemaining(summary.BudgetRemaining)
	e.logger.Info("run finished",
		"run_id", rc.RunID,
		"status", status.String(),
		"tokens_used", summary.TokensUsedTotal,
		"budget_remaining", summary.BudgetRemaining)
	return summary, nil
}

// schedule walks the plan repeatedly until no further step can be marked
// or dispatched. Skips and routing failures resolve synchronously here;
// dispatches consume worker capacity.
func (e *Executor) schedule(workCtx context.Context, st *runState, pool *errgroup.Group) {
	progress := true
	for progress {
		progress = false
		for _, id := range st.plan.Order {
			if st.statuses[id] != workflow.StepPending {
				continue
			}
			node := st.plan.Nodes[id]

			if st.stopScheduling {
				e.skipStep(st, id, "fail_fast: run stopped after earlier failure")
				progress = true
				continue
			}

			if !st.predecessorsTerminal(node) {
				continue
			}

			ok, err := node.Predicate.Eval(st.rc)
			if err != nil {
				e.failWithoutDispatch(st, id,
					runerr.Wrap(runerr.KindInternal, "evaluate when predicate", err).ForStep(id))
				progress = true
				continue
			}
			if !ok {
				e.skipStep(st, id, fmt.Sprintf("when %s is false", node.Predicate.Describe()))
				progress = true
				continue
			}

			if st.inflight >= e.workers {
				continue
			}

			chosen, decision, err := e.router.Route(node.Step, st.policy, st.rc.Costs)
			if err != nil {
				e.handleRoutingFailure(st, id, node, err)
				progress = true
				continue
			}

			reservation, err := st.rc.Costs.Reserve(id, decision.Estimate)
			if err != nil {
				e.handleRoutingFailure(st, id, node,
					runerr.Wrap(runerr.KindBudgetExhausted, "reserve estimate", err).ForStep(id))
				progress = true
				continue
			}

			if err := st.rc.Log.Append(audit.EventStepRouted, audit.StepRoutedPayload{
				StepID:   id,
				Decision: decision,
			}); err != nil {
				e.logger.Warn("append step.routed", "step_id", id, "error", err)
			}

			st.statuses[id] = workflow.StepRunning
			st.inflight++
			// Each attempt gets its own cancel scope so a drain cancel
			// stops running siblings without poisoning later dispatches.
			attemptCtx, cancelAttempt := context.WithCancel(workCtx)
			st.attemptCancels[id] = cancelAttempt
			step := node.Step
			pool.Go(func() error {
				st.completions <- e.runStep(attemptCtx, st.rc, step, chosen, decision, reservation, st.policy)
				return nil
			})
			progress = true
		}
	}
}

// predecessorsTerminal reports whether every predecessor has reached a
// terminal state. Readiness requires terminality only: a failed or skipped
// predecessor does not by itself block a successor, whose when predicate
// and gates decide what missing upstream artifacts mean.
func (st *runState) predecessorsTerminal(node *workflow.PlanNode) bool {
	for _, pred := range node.Preds {
		if !st.statuses[pred].IsTerminal() {
			return false
		}
	}
	return true
}

func (st *runState) allTerminal() bool {
	for _, status := range st.statuses {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}

// skipStep marks a step skipped before any routing decision.
func (e *Executor) skipStep(st *runState, id, reason string) {
	st.statuses[id] = workflow.StepSkipped
	st.rc.SetResult(&run.StepResult{StepID: id, Status: workflow.StepSkipped})
	if err := st.rc.Log.Append(audit.EventStepSkipped, audit.StepSkippedPayload{
		StepID: id,
		Reason: reason,
	}); err != nil {
		e.logger.Warn("append step.skipped", "step_id", id, "error", err)
	}
	e.recorder.StepEnded(workflow.StepSkipped.String(), 0)
}

// failWithoutDispatch marks a step failed before any adapter ran.
func (e *Executor) failWithoutDispatch(st *runState, id string, cause error) {
	st.statuses[id] = workflow.StepFailed
	st.anyFailed = true
	st.rc.SetResult(&run.StepResult{
		StepID: id,
		Status: workflow.StepFailed,
		Error:  run.ErrorInfoFrom(cause),
	})
	e.appendError(st.rc, id, cause)
	e.recorder.StepEnded(workflow.StepFailed.String(), 0)
	if st.policy.FailFast {
		st.stopScheduling = true
	}
}

// handleRoutingFailure resolves NoAdapterAvailable and BudgetExhausted
// outcomes from the router: the former fails the step, the latter skips it
// and may drain or stop the run.
func (e *Executor) handleRoutingFailure(st *runState, id string, node *workflow.PlanNode, cause error) {
	if runerr.KindOf(cause) != runerr.KindBudgetExhausted {
		e.failWithoutDispatch(st, id, cause)
		return
	}

	st.budgetSkips++
	if node.Step.HasBlockGates() {
		st.budgetSkipBlock = true
	}
	st.statuses[id] = workflow.StepSkipped
	st.rc.SetResult(&run.StepResult{
		StepID: id,
		Status: workflow.StepSkipped,
		Error:  run.ErrorInfoFrom(cause),
	})
	if err := st.rc.Log.Append(audit.EventStepSkipped, audit.StepSkippedPayload{
		StepID: id,
		Reason: runerr.KindBudgetExhausted.String(),
	}); err != nil {
		e.logger.Warn("append step.skipped", "step_id", id, "error", err)
	}
	e.appendError(st.rc, id, cause)
	e.recorder.StepEnded(workflow.StepSkipped.String(), 0)
	if st.policy.FailFast {
		st.stopScheduling = true
		st.budgetFailFast = true
	}
}

// applyCompletion folds a worker result back into coordinator state.
func (e *Executor) applyCompletion(st *runState, res *run.StepResult) {
	st.inflight--
	if cancel, ok := st.attemptCancels[res.StepID]; ok {
		cancel()
		delete(st.attemptCancels, res.StepID)
	}
	st.statuses[res.StepID] = res.Status
	st.rc.SetResult(res)

	var duration time.Duration
	if res.StartedAt != nil && res.EndedAt != nil {
		duration = res.EndedAt.Sub(*res.StartedAt)
	}
	e.recorder.StepEnded(res.Status.String(), duration)
	e.recorder.AddTokens(res.TokensUsed)

	switch res.Status {
	case workflow.StepFailed:
		st.anyFailed = true
		if res.Error != nil {
			e.appendError(st.rc, res.StepID, runerr.New(res.Error.Kind, res.Error.Message))
		}
		if st.policy.FailFast {
			st.stopScheduling = true
		}
	case workflow.StepSucceeded:
		st.succeededCount++
	case workflow.StepAborted:
		// A drain cancel aborted an in-flight sibling. Account it like a
		// budget skip: block-gated work that was cut short fails the run.
		if !st.cancelled {
			st.budgetSkips++
			if node := st.plan.Nodes[res.StepID]; node != nil && node.Step.HasBlockGates() {
				st.budgetSkipBlock = true
			}
		}
	}

	// Entering drain mode may cancel running siblings per policy; queued
	// nonzero-estimate steps stop fitting the budget on their own, while
	// zero-estimate steps keep dispatching under fresh attempt scopes.
	if st.policy.Drain.CancelInFlight && !st.drainCancelFired && st.rc.Costs.InDrain() {
		st.drainCancelFired = true
		st.cancelAttempts()
	}
}

// failPending marks still-pending steps failed after an internal
// scheduling fault.
func (e *Executor) failPending(st *runState) {
	for _, id := range st.plan.Order {
		if st.statuses[id] == workflow.StepPending {
			e.failWithoutDispatch(st, id, st.internalFailure)
		}
	}
}

func (e *Executor) appendError(rc *run.Context, stepID string, cause error) {
	if err := rc.Log.Append(audit.EventError, audit.ErrorPayload{
		StepID:  stepID,
		Kind:    runerr.KindOf(cause).String(),
		Message: cause.Error(),
	}); err != nil {
		e.logger.Warn("append error event", "step_id", stepID, "error", err)
	}
}

// runStatus derives the terminal run status. Budget skips and
// drain-cancelled siblings fail the run when the affected step carried
// block gates, when fail_fast stopped the run, or when nothing succeeded
// at all.
func (e *Executor) runStatus(st *runState) workflow.RunStatus {
	switch {
	case st.cancelled:
		return workflow.RunAborted
	case st.anyFailed || st.internalFailure != nil:
		return workflow.RunFailed
	case st.budgetSkipBlock || st.budgetFailFast:
		return workflow.RunFailed
	case st.budgetSkips > 0 && st.succeededCount == 0:
		return workflow.RunFailed
	default:
		return workflow.RunSucceeded
	}
}
