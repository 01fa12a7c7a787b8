package workflow

import (
	"fmt"
	"sort"
	"strings"

	"github.com/c360studio/semflow/runerr"
)

// RunPlan is the executable DAG built from a validated workflow. Nodes
// carry the transitive structure the executor needs for readiness checks;
// Order is the deterministic topological order (rank, then lexicographic
// step ID).
type RunPlan struct {
	// Workflow is the canonical document the plan was built from.
	Workflow *Workflow

	// Roots lists the IDs of steps with no predecessors, sorted.
	Roots []string

	// Order lists every step ID in deterministic topological order.
	Order []string

	// Nodes maps step ID to its plan node.
	Nodes map[string]*PlanNode
}

// Node returns the plan node for a step ID, or nil.
func (p *RunPlan) Node(id string) *PlanNode {
	return p.Nodes[id]
}

// PlanNode is one step in the DAG with its resolved edges.
type PlanNode struct {
	// Step points into the plan's workflow document.
	Step *Step

	// Preds lists direct predecessor IDs in document order, deduplicated.
	Preds []string

	// Succs lists direct successor IDs, sorted.
	Succs []string

	// Rank is the longest-path depth from a root (roots are rank 0).
	Rank int

	// Predicate is the parsed when clause; absent clauses parse to the
	// always-true predicate.
	Predicate Predicate
}

// CycleError reports a dependency cycle found during planning.
type CycleError struct {
	// Cycle lists the step IDs along the cycle; the first ID repeats at
	// the end.
	Cycle []string
}

// Error implements the error interface.
func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// Plan builds the run plan for a canonical workflow. It is pure: no IO,
// no clock, and the same document always yields the same plan. Unresolved
// dependencies, duplicate emitted paths, cycles, unparseable predicates,
// and predicates referencing artifacts outside the step's transitive
// predecessors all fail with a plan error.
func Plan(wf *Workflow) (*RunPlan, error) {
	nodes := make(map[string]*PlanNode, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]
		if _, dup := nodes[step.ID]; dup {
			return nil, runerr.Newf(runerr.KindPlan, "duplicate step id %s", step.ID)
		}
		nodes[step.ID] = &PlanNode{Step: step}
	}

	// Resolve edges. Repeated dependency declarations collapse to one edge.
	for _, node := range nodes {
		seen := make(map[string]bool, len(node.Step.DependsOn))
		for _, dep := range node.Step.DependsOn {
			if _, ok := nodes[dep]; !ok {
				return nil, runerr.Newf(runerr.KindPlan,
					"step %s: unresolved dependency %s", node.Step.ID, dep)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			node.Preds = append(node.Preds, dep)
			nodes[dep].Succs = append(nodes[dep].Succs, node.Step.ID)
		}
	}
	for _, node := range nodes {
		sort.Strings(node.Succs)
	}

	// Two steps declaring the same emitted path is a planning error:
	// artifact writes are serialized per path and owned by one step.
	producers := make(map[string]string)
	for _, id := range sortedIDs(nodes) {
		for _, path := range nodes[id].Step.Emits {
			if owner, taken := producers[path]; taken {
				return nil, runerr.Newf(runerr.KindPlan,
					"artifact %s declared by both %s and %s", path, owner, id)
			}
			producers[path] = id
		}
	}

	order, err := topoSort(nodes)
	if err != nil {
		return nil, err
	}

	plan := &RunPlan{
		Workflow: wf,
		Order:    order,
		Nodes:    nodes,
	}
	for _, id := range order {
		if len(nodes[id].Preds) == 0 {
			plan.Roots = append(plan.Roots, id)
		}
	}
	sort.Strings(plan.Roots)

	if err := compilePredicates(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// topoSort runs Kahn's algorithm, assigns longest-path ranks, and returns
// the order sorted by (rank, id). Leftover nodes indicate a cycle.
func topoSort(nodes map[string]*PlanNode) ([]string, error) {
	indegree := make(map[string]int, len(nodes))
	for id, node := range nodes {
		indegree[id] = len(node.Preds)
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	processed := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		processed = append(processed, id)

		node := nodes[id]
		for _, succ := range node.Succs {
			next := nodes[succ]
			if r := node.Rank + 1; r > next.Rank {
				next.Rank = r
			}
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
		sort.Strings(ready)
	}

	if len(processed) != len(nodes) {
		cycle := findCycle(nodes, indegree)
		return nil, runerr.Wrap(runerr.KindPlan, "plan workflow", &CycleError{Cycle: cycle})
	}

	sort.Slice(processed, func(i, j int) bool {
		a, b := nodes[processed[i]], nodes[processed[j]]
		if a.Rank != b.Rank {
			return a.Rank < b.Rank
		}
		return a.Step.ID < b.Step.ID
	})
	return processed, nil
}

// findCycle walks predecessor edges among the unprocessed nodes. Every
// unprocessed node keeps at least one unprocessed predecessor, so the walk
// must revisit a node; the revisited segment is the cycle.
func findCycle(nodes map[string]*PlanNode, indegree map[string]int) []string {
	leftover := make(map[string]bool)
	var start string
	for _, id := range sortedIDs(nodes) {
		if indegree[id] > 0 {
			leftover[id] = true
			if start == "" {
				start = id
			}
		}
	}

	pos := make(map[string]int)
	var path []string
	current := start
	for {
		if at, visited := pos[current]; visited {
			cycle := append([]string{}, path[at:]...)
			cycle = append(cycle, current)
			// Reverse into dependency order: each step waits on the next.
			for i, j := 0, len(cycle)-1; i < j; i, j = i+1, j-1 {
				cycle[i], cycle[j] = cycle[j], cycle[i]
			}
			return cycle
		}
		pos[current] = len(path)
		path = append(path, current)

		next := ""
		for _, pred := range nodes[current].Preds {
			if leftover[pred] && (next == "" || pred < next) {
				next = pred
			}
		}
		current = next
	}
}

// compilePredicates parses every when clause and checks that referenced
// artifacts are produced by the step's own transitive predecessors.
func compilePredicates(plan *RunPlan) error {
	// Ancestor emit sets accumulate along the topological order.
	ancestorEmits := make(map[string]map[string]bool, len(plan.Nodes))

	for _, id := range plan.Order {
		node := plan.Nodes[id]

		emits := make(map[string]bool)
		for _, pred := range node.Preds {
			for path := range ancestorEmits[pred] {
				emits[path] = true
			}
			for _, path := range plan.Nodes[pred].Step.Emits {
				emits[path] = true
			}
		}
		ancestorEmits[id] = emits

		pred, err := ParseWhen(node.Step.When)
		if err != nil {
			return runerr.Wrap(runerr.KindPlan, fmt.Sprintf("step %s", id), err)
		}
		node.Predicate = pred

		if w := node.Step.When; w != nil && w.Path != "" && !emits[w.Path] {
			return runerr.Newf(runerr.KindPlan,
				"step %s: when references %s, which no transitive predecessor emits", id, w.Path)
		}
	}
	return nil
}

func sortedIDs(nodes map[string]*PlanNode) []string {
	ids := make([]string, 0, len(nodes))
	for id := range nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
