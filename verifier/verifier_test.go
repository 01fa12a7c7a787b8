package verifier_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/schema"
	"github.com/c360studio/semflow/verifier"
	"github.com/c360studio/semflow/workflow"
)

func newRunContext(t *testing.T) *run.Context {
	t.Helper()
	store, err := artifact.NewStore(t.TempDir(), "run-verify")
	require.NoError(t, err)
	wf := &workflow.Workflow{Name: "verify"}
	return run.NewContext("run-verify", wf, nil, store, nil, nil)
}

func newVerifier(t *testing.T, plugins ...verifier.Plugin) *verifier.Verifier {
	t.Helper()
	schemas, err := schema.NewValidator()
	require.NoError(t, err)
	return verifier.New(schemas, plugins...)
}

func writeArtifact(t *testing.T, rc *run.Context, stepID, path, content string) {
	t.Helper()
	_, err := rc.Artifacts.Write(stepID, path, []byte(content))
	require.NoError(t, err)
}

func TestEvaluate_TestsPass(t *testing.T) {
	tests := []struct {
		name     string
		report   string
		params   map[string]any
		passed   bool
		contains string
	}{
		{
			name:   "passing report",
			report: `{"pass_count": 12, "failures": 0}`,
			passed: true,
		},
		{
			name:     "failures over allowance",
			report:   `{"pass_count": 12, "failures": 2}`,
			contains: "failures 2 > allowed 0",
		},
		{
			name:   "failures within allowance",
			report: `{"pass_count": 12, "failures": 2}`,
			params: map[string]any{"allow_failures": 2},
			passed: true,
		},
		{
			name:     "pass count below minimum",
			report:   `{"pass_count": 3, "failures": 0}`,
			params:   map[string]any{"min_pass": 5},
			contains: "pass_count 3 < required 5",
		},
		{
			name:     "report fails schema",
			report:   `{"failures": 0}`,
			contains: "invalid",
		},
		{
			name:     "report is not json",
			report:   `not json`,
			contains: "test report",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rc := newRunContext(t)
			writeArtifact(t, rc, "1.001", "test_report.json", tt.report)
			step := &workflow.Step{
				ID: "1.001",
				Gates: []workflow.Gate{
					{Kind: workflow.GateTestsPass, Severity: workflow.SeverityBlock, Params: tt.params},
				},
			}

			report := newVerifier(t).Evaluate(step, rc)
			require.Len(t, report, 1)
			assert.Equal(t, tt.passed, report[0].Passed)
			if tt.contains != "" {
				assert.Contains(t, report[0].Details, tt.contains)
			}
		})
	}
}

func TestEvaluate_TestsPassMissingReport(t *testing.T) {
	rc := newRunContext(t)
	step := &workflow.Step{
		ID:    "1.001",
		Gates: []workflow.Gate{{Kind: workflow.GateTestsPass, Severity: workflow.SeverityBlock}},
	}

	report := newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.False(t, report[0].Passed)
	assert.Contains(t, report[0].Details, "test_report.json")
}

func TestEvaluate_DiffLimits(t *testing.T) {
	diff := `--- a/main.go
+++ b/main.go
@@ -1,3 +1,4 @@
 package main
+import "fmt"
-func old() {}
+func new() {}
`
	rc := newRunContext(t)
	writeArtifact(t, rc, "1.001", "fix.patch", diff)

	step := &workflow.Step{
		ID:    "1.001",
		Emits: []string{"fix.patch"},
		Gates: []workflow.Gate{{Kind: workflow.GateDiffLimits, Severity: workflow.SeverityBlock}},
	}

	// 3 changed lines, headers excluded.
	report := newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.True(t, report[0].Passed)
	assert.Contains(t, report[0].Details, "changed_lines=3")

	step.Gates[0].Params = map[string]any{"max_lines": 2}
	report = newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.False(t, report[0].Passed)
	assert.Contains(t, report[0].Details, "changed_lines 3 > max_lines 2")
}

func TestCountChangedLines(t *testing.T) {
	tests := []struct {
		name string
		diff string
		want int
	}{
		{"empty", "", 0},
		{"headers only", "--- a/f\n+++ b/f\n@@ -1 +1 @@\n", 0},
		{"adds and removes", "+one\n-two\n context\n+three\n", 3},
		{"triple signs are headers", "+++ b/f\n--- a/f\n+real\n", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, verifier.CountChangedLines(tt.diff))
		})
	}
}

func TestEvaluate_SchemaValid(t *testing.T) {
	rc := newRunContext(t)
	writeArtifact(t, rc, "1.001", "report.json", `{"pass_count": 1, "failures": 0}`)

	step := &workflow.Step{
		ID:    "1.001",
		Emits: []string{"report.json"},
		Gates: []workflow.Gate{{
			Kind:     workflow.GateSchemaValid,
			Severity: workflow.SeverityBlock,
			Params:   map[string]any{"schema": schema.IDTestReport},
		}},
	}

	report := newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.True(t, report[0].Passed)

	// Missing schema parameter is a gate failure, not a crash.
	step.Gates[0].Params = nil
	report = newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.False(t, report[0].Passed)
	assert.Contains(t, report[0].Details, "schema parameter is required")
}

func TestEvaluate_SchemaValidInvalidArtifact(t *testing.T) {
	rc := newRunContext(t)
	writeArtifact(t, rc, "1.001", "report.json", `{"pass_count": "three"}`)

	step := &workflow.Step{
		ID:    "1.001",
		Emits: []string{"report.json"},
		Gates: []workflow.Gate{{
			Kind:     workflow.GateSchemaValid,
			Severity: workflow.SeverityBlock,
			Params:   map[string]any{"schema": schema.IDTestReport},
		}},
	}

	report := newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 1)
	assert.False(t, report[0].Passed)
	assert.Contains(t, report[0].Details, "invalid")
}

func TestEvaluate_ArtifactExists(t *testing.T) {
	rc := newRunContext(t)
	writeArtifact(t, rc, "1.001", "out/diag.json", `{}`)

	step := &workflow.Step{ID: "1.002"}

	tests := []struct {
		name   string
		params map[string]any
		passed bool
	}{
		{"exact path", map[string]any{"path": "out/diag.json"}, true},
		{"glob pattern", map[string]any{"path": "out/**/*.json"}, true},
		{"missing path", map[string]any{"path": "out/absent.json"}, false},
		{"mixed paths fail together", map[string]any{"paths": []any{"out/diag.json", "nope"}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			step.Gates = []workflow.Gate{{
				Kind:     workflow.GateArtifactExists,
				Severity: workflow.SeverityBlock,
				Params:   tt.params,
			}}
			report := newVerifier(t).Evaluate(step, rc)
			require.Len(t, report, 1)
			assert.Equal(t, tt.passed, report[0].Passed)
		})
	}
}

type stubPlugin struct {
	name    string
	passed  bool
	details string
	err     error
}

func (p *stubPlugin) Name() string { return p.name }

func (p *stubPlugin) Check(*workflow.Step, map[string]any, *run.Context) (bool, string, error) {
	return p.passed, p.details, p.err
}

func TestEvaluate_CustomPlugin(t *testing.T) {
	rc := newRunContext(t)
	v := newVerifier(t,
		&stubPlugin{name: "lint", passed: true, details: "0 findings"},
		&stubPlugin{name: "broken", err: errors.New("tool crashed")},
	)

	step := &workflow.Step{ID: "1.001", Gates: []workflow.Gate{
		{Kind: workflow.GateCustom, Severity: workflow.SeverityBlock, Params: map[string]any{"plugin": "lint"}},
		{Kind: workflow.GateCustom, Severity: workflow.SeverityWarn, Params: map[string]any{"plugin": "broken"}},
		{Kind: workflow.GateCustom, Severity: workflow.SeverityBlock, Params: map[string]any{"plugin": "absent"}},
		{Kind: workflow.GateCustom, Severity: workflow.SeverityBlock},
	}}

	report := v.Evaluate(step, rc)
	require.Len(t, report, 4)

	assert.True(t, report[0].Passed)
	assert.Equal(t, "0 findings", report[0].Details)

	assert.False(t, report[1].Passed)
	assert.Contains(t, report[1].Details, "tool crashed")

	assert.False(t, report[2].Passed)
	assert.Contains(t, report[2].Details, `plugin "absent" not registered`)

	assert.False(t, report[3].Passed)
	assert.Contains(t, report[3].Details, "plugin parameter is required")
}

func TestEvaluate_ReportCoversAllGates(t *testing.T) {
	rc := newRunContext(t)
	writeArtifact(t, rc, "1.001", "out.txt", "data")

	step := &workflow.Step{ID: "1.001", Gates: []workflow.Gate{
		{Kind: workflow.GateArtifactExists, Severity: workflow.SeverityBlock, Params: map[string]any{"path": "missing"}},
		{Kind: workflow.GateArtifactExists, Severity: workflow.SeverityWarn, Params: map[string]any{"path": "out.txt"}},
	}}

	report := newVerifier(t).Evaluate(step, rc)
	require.Len(t, report, 2, "a failed block gate must not short-circuit the rest")
	assert.False(t, report.Passed())

	first := report.FirstBlocked()
	require.NotNil(t, first)
	assert.Equal(t, workflow.GateArtifactExists, first.Kind)
}
