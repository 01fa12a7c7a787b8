package cost

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/c360studio/semflow/audit"
)

// spendStep is one reserve/settle round in a generated spend sequence.
type spendStep struct {
	Estimate int
	Actual   int
}

func genSpendSteps() gopter.Gen {
	return gen.SliceOf(gen.Struct(reflect.TypeOf(spendStep{}), map[string]gopter.Gen{
		"Estimate": gen.IntRange(0, 200),
		"Actual":   gen.IntRange(0, 300),
	}))
}

func TestTrackerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	budgets := gen.IntRange(0, 1000)

	properties.Property("used equals the sum of settled actuals", prop.ForAll(
		func(budget int, steps []spendStep) bool {
			tr, err := NewTracker(budget, audit.Discard{})
			if err != nil {
				return false
			}
			settled := 0
			for i, s := range steps {
				res, err := tr.Reserve(fmt.Sprintf("1.%03d", i+1), s.Estimate)
				if err != nil {
					continue // estimate did not fit; nothing settles
				}
				if err := tr.Settle(res, s.Actual); err != nil {
					return false
				}
				settled += s.Actual
			}
			return tr.Used() == settled
		},
		budgets, genSpendSteps(),
	))

	properties.Property("remaining is floored at zero and never exceeds budget", prop.ForAll(
		func(budget int, steps []spendStep) bool {
			tr, err := NewTracker(budget, audit.Discard{})
			if err != nil {
				return false
			}
			for i, s := range steps {
				res, err := tr.Reserve(fmt.Sprintf("1.%03d", i+1), s.Estimate)
				if err != nil {
					continue
				}
				if err := tr.Settle(res, s.Actual); err != nil {
					return false
				}
				if tr.Remaining() < 0 || (tr.Limited() && tr.Remaining() > tr.Budget()) {
					return false
				}
			}
			return true
		},
		budgets, genSpendSteps(),
	))

	properties.Property("remaining never increases across settles", prop.ForAll(
		func(budget int, steps []spendStep) bool {
			tr, err := NewTracker(budget, audit.Discard{})
			if err != nil {
				return false
			}
			last := tr.Remaining()
			for i, s := range steps {
				res, err := tr.Reserve(fmt.Sprintf("1.%03d", i+1), s.Estimate)
				if err != nil {
					continue
				}
				if err := tr.Settle(res, s.Actual); err != nil {
					return false
				}
				if tr.Remaining() > last {
					return false
				}
				last = tr.Remaining()
			}
			return true
		},
		budgets, genSpendSteps(),
	))

	properties.Property("overrun is exactly the usage above a limited budget", prop.ForAll(
		func(budget int, steps []spendStep) bool {
			tr, err := NewTracker(budget, audit.Discard{})
			if err != nil {
				return false
			}
			for i, s := range steps {
				res, err := tr.Reserve(fmt.Sprintf("1.%03d", i+1), s.Estimate)
				if err != nil {
					continue
				}
				if err := tr.Settle(res, s.Actual); err != nil {
					return false
				}
			}
			if !tr.Limited() {
				return tr.Overrun() == 0
			}
			want := tr.Used() - tr.Budget()
			if want < 0 {
				want = 0
			}
			return tr.Overrun() == want
		},
		budgets, genSpendSteps(),
	))

	properties.Property("drain mode rejects every nonzero estimate", prop.ForAll(
		func(steps []spendStep) bool {
			tr, err := NewTracker(50, audit.Discard{})
			if err != nil {
				return false
			}
			res, err := tr.Reserve("1.001", 10)
			if err != nil {
				return false
			}
			if err := tr.Settle(res, 80); err != nil {
				return false
			}
			if !tr.InDrain() {
				return false
			}
			for _, s := range steps {
				if s.Estimate > 0 && tr.Fits(s.Estimate) {
					return false
				}
			}
			return tr.Fits(0)
		},
		genSpendSteps(),
	))

	properties.TestingRun(t)
}
