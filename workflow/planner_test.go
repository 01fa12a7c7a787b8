package workflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/c360studio/semflow/runerr"
)

// mkStep builds a canonical step for planner tests. depends may be nil for
// a root; the planner only sees canonical documents with explicit lists.
func mkStep(id string, depends ...string) Step {
	if depends == nil {
		depends = []string{}
	}
	return Step{ID: id, Name: "step " + id, Actor: ActorDiag, DependsOn: depends}
}

func mkWorkflow(steps ...Step) *Workflow {
	return &Workflow{
		Name:   "planner-test",
		Policy: Policy{StepTimeoutMS: DefaultStepTimeoutMS, Retry: RetryPolicy{MaxAttempts: 1}},
		Steps:  steps,
	}
}

func TestPlan_Chain(t *testing.T) {
	wf := mkWorkflow(
		mkStep("1.001"),
		mkStep("1.002", "1.001"),
		mkStep("1.003", "1.002"),
	)
	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if want := []string{"1.001"}; !reflect.DeepEqual(plan.Roots, want) {
		t.Errorf("Roots = %v, want %v", plan.Roots, want)
	}
	if want := []string{"1.001", "1.002", "1.003"}; !reflect.DeepEqual(plan.Order, want) {
		t.Errorf("Order = %v, want %v", plan.Order, want)
	}
	for i, id := range plan.Order {
		if got := plan.Nodes[id].Rank; got != i {
			t.Errorf("rank(%s) = %d, want %d", id, got, i)
		}
	}
	if got := plan.Nodes["1.001"].Succs; !reflect.DeepEqual(got, []string{"1.002"}) {
		t.Errorf("Succs(1.001) = %v", got)
	}
}

func TestPlan_Diamond(t *testing.T) {
	wf := mkWorkflow(
		mkStep("1.001"),
		mkStep("1.002", "1.001"),
		mkStep("1.003", "1.001"),
		mkStep("1.004", "1.002", "1.003"),
	)
	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if want := []string{"1.001", "1.002", "1.003", "1.004"}; !reflect.DeepEqual(plan.Order, want) {
		t.Errorf("Order = %v, want %v", plan.Order, want)
	}
	wantRanks := map[string]int{"1.001": 0, "1.002": 1, "1.003": 1, "1.004": 2}
	for id, want := range wantRanks {
		if got := plan.Nodes[id].Rank; got != want {
			t.Errorf("rank(%s) = %d, want %d", id, got, want)
		}
	}
	if got := plan.Nodes["1.001"].Succs; !reflect.DeepEqual(got, []string{"1.002", "1.003"}) {
		t.Errorf("Succs(1.001) = %v", got)
	}
}

func TestPlan_ParallelRoots(t *testing.T) {
	wf := mkWorkflow(
		mkStep("1.002"),
		mkStep("1.001"),
		mkStep("1.003", "1.001", "1.002"),
	)
	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	// Rank ties are broken by lexicographic ID regardless of document order.
	if want := []string{"1.001", "1.002"}; !reflect.DeepEqual(plan.Roots, want) {
		t.Errorf("Roots = %v, want %v", plan.Roots, want)
	}
	if want := []string{"1.001", "1.002", "1.003"}; !reflect.DeepEqual(plan.Order, want) {
		t.Errorf("Order = %v, want %v", plan.Order, want)
	}
}

func TestPlan_UnresolvedDependency(t *testing.T) {
	wf := mkWorkflow(mkStep("1.001", "9.999"))
	_, err := Plan(wf)
	if !runerr.IsKind(err, runerr.KindPlan) {
		t.Fatalf("Plan error = %v, want PlanError", err)
	}
}

func TestPlan_Cycle(t *testing.T) {
	wf := mkWorkflow(
		mkStep("1.001", "1.003"),
		mkStep("1.002", "1.001"),
		mkStep("1.003", "1.002"),
	)
	_, err := Plan(wf)
	if !runerr.IsKind(err, runerr.KindPlan) {
		t.Fatalf("Plan error = %v, want PlanError", err)
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("error %v does not carry a CycleError", err)
	}
	if len(cycleErr.Cycle) != 4 {
		t.Errorf("cycle = %v, want three steps plus the repeated head", cycleErr.Cycle)
	}
	if cycleErr.Cycle[0] != cycleErr.Cycle[len(cycleErr.Cycle)-1] {
		t.Errorf("cycle = %v, want first ID repeated at the end", cycleErr.Cycle)
	}
}

func TestPlan_SelfDependency(t *testing.T) {
	wf := mkWorkflow(mkStep("1.001", "1.001"))
	_, err := Plan(wf)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("Plan error = %v, want CycleError", err)
	}
}

func TestPlan_DuplicateEmits(t *testing.T) {
	a := mkStep("1.001")
	a.Emits = []string{"out.json"}
	b := mkStep("1.002", "1.001")
	b.Emits = []string{"out.json"}

	_, err := Plan(mkWorkflow(a, b))
	if !runerr.IsKind(err, runerr.KindPlan) {
		t.Fatalf("Plan error = %v, want PlanError", err)
	}
}

func TestPlan_WhenReferences(t *testing.T) {
	producer := mkStep("1.001")
	producer.Emits = []string{"diagnostics.json"}

	tests := []struct {
		name    string
		guarded Step
		wantErr bool
	}{
		{
			name: "direct_predecessor",
			guarded: func() Step {
				s := mkStep("1.002", "1.001")
				s.When = &When{Kind: WhenArtifactExists, Path: "diagnostics.json"}
				return s
			}(),
		},
		{
			name: "not_a_predecessor",
			guarded: func() Step {
				s := mkStep("1.002")
				s.When = &When{Kind: WhenArtifactExists, Path: "diagnostics.json"}
				return s
			}(),
			wantErr: true,
		},
		{
			name: "unknown_when_kind",
			guarded: func() Step {
				s := mkStep("1.002", "1.001")
				s.When = &When{Kind: "lunar_phase"}
				return s
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Plan(mkWorkflow(producer, tt.guarded))
			if tt.wantErr {
				if !runerr.IsKind(err, runerr.KindPlan) {
					t.Errorf("Plan error = %v, want PlanError", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Plan: %v", err)
			}
		})
	}
}

func TestPlan_WhenTransitivePredecessor(t *testing.T) {
	producer := mkStep("1.001")
	producer.Emits = []string{"diagnostics.json"}
	middle := mkStep("1.002", "1.001")
	guarded := mkStep("1.003", "1.002")
	guarded.When = &When{
		Kind:     WhenArtifactProperty,
		Path:     "diagnostics.json",
		Property: "summary.errors",
		Equals:   0,
	}

	plan, err := Plan(mkWorkflow(producer, middle, guarded))
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if plan.Nodes["1.003"].Predicate.Kind() != WhenArtifactProperty {
		t.Errorf("predicate kind = %v", plan.Nodes["1.003"].Predicate.Kind())
	}
}

func TestPlan_Deterministic(t *testing.T) {
	wf := mkWorkflow(
		mkStep("2.001"),
		mkStep("1.001"),
		mkStep("1.002", "1.001", "2.001"),
		mkStep("3.001", "1.002"),
		mkStep("2.002", "1.002"),
	)

	first, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Plan(wf)
		if err != nil {
			t.Fatalf("Plan: %v", err)
		}
		if !reflect.DeepEqual(first.Order, again.Order) {
			t.Fatalf("Order varies: %v vs %v", first.Order, again.Order)
		}
		if !reflect.DeepEqual(first.Roots, again.Roots) {
			t.Fatalf("Roots vary: %v vs %v", first.Roots, again.Roots)
		}
	}
}

func TestPlan_EveryStepPlanned(t *testing.T) {
	wf := mkWorkflow(
		mkStep("1.001"),
		mkStep("1.002", "1.001"),
		mkStep("1.003", "1.001"),
	)
	plan, err := Plan(wf)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Order) != len(wf.Steps) || len(plan.Nodes) != len(wf.Steps) {
		t.Errorf("plan covers %d/%d steps", len(plan.Order), len(wf.Steps))
	}
	for _, id := range plan.Order {
		if plan.Nodes[id].Predicate == nil {
			t.Errorf("step %s has no compiled predicate", id)
		}
	}
}
