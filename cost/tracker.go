// Package cost accounts integer token usage for a single run and enforces
// the workflow's max_tokens budget. A budget of zero disables enforcement.
//
// The tracker separates reservation from settlement: routing reserves a
// step's estimate so concurrent steps cannot collectively overcommit, and
// execution settles the adapter-reported actual afterwards. Overdraws are
// permitted post hoc (adapters may under-estimate); they floor remaining at
// zero, record the overrun, and switch the tracker into drain mode.
package cost

import (
	"errors"
	"fmt"
	"sync"

	"github.com/c360studio/semflow/audit"
)

var (
	// ErrOverflow reports a counter outside the non-negative integer range.
	ErrOverflow = errors.New("cost counter out of range")

	// ErrExhausted reports a reservation that does not fit the remaining
	// budget.
	ErrExhausted = errors.New("budget exhausted")

	// ErrSettled reports a second settlement of the same reservation.
	ErrSettled = errors.New("reservation already settled")
)

// Unlimited is the budget value that disables enforcement.
const Unlimited = 0

// Reservation holds a step's estimate against the budget until it is
// settled with the actual usage.
type Reservation struct {
	stepID   string
	estimate int
	settled  bool
}

// StepID returns the step the reservation was taken for.
func (r *Reservation) StepID() string { return r.stepID }

// Estimate returns the reserved token count.
func (r *Reservation) Estimate() int { return r.estimate }

// Tracker accounts token usage for one run. All methods are safe for
// concurrent use; Settle is atomic, so Remaining observed across settles is
// monotonically non-increasing.
type Tracker struct {
	mu       sync.Mutex
	budget   int // 0 = unlimited
	used     int
	reserved int
	overrun  int
	drain    bool
	sink     audit.Sink
}

// NewTracker creates a tracker for the given budget. Settlements are
// reported as cost.update events through sink; a nil sink discards them.
func NewTracker(budget int, sink audit.Sink) (*Tracker, error) {
	if budget < 0 {
		return nil, fmt.Errorf("budget %d: %w", budget, ErrOverflow)
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Tracker{budget: budget, sink: sink}, nil
}

// Limited reports whether the budget is enforced.
func (t *Tracker) Limited() bool { return t.budget != Unlimited }

// Budget returns the configured budget (0 = unlimited).
func (t *Tracker) Budget() int { return t.budget }

// Remaining returns the budget left after settled usage, floored at zero.
// It is 0 for an unlimited budget.
func (t *Tracker) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *Tracker) remainingLocked() int {
	if !t.Limited() {
		return 0
	}
	if t.used >= t.budget {
		return 0
	}
	return t.budget - t.used
}

// Used returns the total settled token count.
func (t *Tracker) Used() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.used
}

// Overrun returns the settled tokens in excess of the budget.
func (t *Tracker) Overrun() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.overrun
}

// InDrain reports whether settled usage has exceeded the budget. In drain
// mode further nonzero estimates no longer fit.
func (t *Tracker) InDrain() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drain
}

// Fits reports whether an estimate could currently be reserved. Estimates
// always fit an unlimited budget; a zero estimate always fits.
func (t *Tracker) Fits(estimate int) bool {
	if estimate < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fitsLocked(estimate)
}

func (t *Tracker) fitsLocked(estimate int) bool {
	if !t.Limited() || estimate == 0 {
		return true
	}
	available := t.budget - t.used - t.reserved
	return estimate <= available
}

// Reserve holds estimate tokens for stepID. It fails with ErrExhausted when
// the estimate exceeds the unreserved remaining budget, so concurrent steps
// cannot collectively overcommit at routing time.
func (t *Tracker) Reserve(stepID string, estimate int) (*Reservation, error) {
	if estimate < 0 {
		return nil, fmt.Errorf("step %s: estimate %d: %w", stepID, estimate, ErrOverflow)
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.fitsLocked(estimate) {
		available := t.remainingLocked() - t.reserved
		if available < 0 {
			available = 0
		}
		return nil, fmt.Errorf("step %s: estimate %d exceeds remaining %d: %w",
			stepID, estimate, available, ErrExhausted)
	}
	t.reserved += estimate
	return &Reservation{stepID: stepID, estimate: estimate}, nil
}

// Settle releases the reservation and records the adapter-reported actual
// usage, then emits a cost.update event, all atomically: the event order in
// the audit log matches the accounting order, so logged remaining values
// never increase. Settling more than the budget allows floors remaining at
// zero, accrues the overrun, and enters drain mode. Settling twice is an
// error.
func (t *Tracker) Settle(res *Reservation, actual int) error {
	if res == nil {
		return errors.New("nil reservation")
	}
	if actual < 0 {
		return fmt.Errorf("step %s: actual %d: %w", res.stepID, actual, ErrOverflow)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if res.settled {
		return fmt.Errorf("step %s: %w", res.stepID, ErrSettled)
	}
	if t.used+actual < t.used {
		return fmt.Errorf("step %s: total usage: %w", res.stepID, ErrOverflow)
	}
	res.settled = true
	t.reserved -= res.estimate
	t.used += actual
	if t.Limited() && t.used > t.budget {
		t.overrun = t.used - t.budget
		t.drain = true
	}

	if err := t.sink.Append(audit.EventCostUpdate, audit.CostUpdatePayload{
		StepID:    res.stepID,
		Delta:     int64(actual),
		Remaining: int64(t.remainingLocked()),
	}); err != nil {
		return fmt.Errorf("record cost update for step %s: %w", res.stepID, err)
	}
	return nil
}
