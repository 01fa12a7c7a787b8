// Package verifier evaluates the gates declared on a step against the
// artifacts the run has catalogued. Block gates gate step success; warn
// gates are recorded only. Every gate yields a result, so the report the
// executor merges into the step result covers the full declared list even
// when an early gate fails.
package verifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/run"
	"github.com/c360studio/semflow/schema"
	"github.com/c360studio/semflow/workflow"
)

// Default gate parameters.
const (
	// DefaultTestReportPath is the conventional test-report artifact.
	DefaultTestReportPath = "test_report.json"

	// DefaultMaxDiffLines is the diff_limits changed-line cap when the
	// gate does not configure one.
	DefaultMaxDiffLines = 500
)

// Plugin implements a custom gate. Plugins are registered at verifier
// construction and resolved by name from the gate's plugin parameter.
type Plugin interface {
	// Name is the identifier gates reference.
	Name() string

	// Check evaluates the gate. The returned details string explains the
	// outcome either way; err reports evaluation breakage, not a failed
	// predicate.
	Check(step *workflow.Step, params map[string]any, rc *run.Context) (passed bool, details string, err error)
}

// Verifier evaluates gates. It is stateless between runs; the schema
// registry and plugin set are fixed at construction.
type Verifier struct {
	schemas *schema.Validator
	plugins map[string]Plugin
}

// New creates a verifier over the given schema registry and plugins.
func New(schemas *schema.Validator, plugins ...Plugin) *Verifier {
	v := &Verifier{
		schemas: schemas,
		plugins: make(map[string]Plugin, len(plugins)),
	}
	for _, p := range plugins {
		v.plugins[p.Name()] = p
	}
	return v
}

// Evaluate runs every gate on the step and returns the collected report.
// Evaluation breakage (unreadable artifact store, bad gate parameters)
// marks the gate not passed with the cause in details rather than
// erroring out: a misconfigured block gate must fail its step, not the
// orchestrator.
func (v *Verifier) Evaluate(step *workflow.Step, rc *run.Context) workflow.GateReport {
	report := make(workflow.GateReport, 0, len(step.Gates))
	for _, gate := range step.Gates {
		passed, details := v.evaluateGate(step, gate, rc)
		report = append(report, workflow.GateResult{
			Kind:     gate.Kind,
			Passed:   passed,
			Severity: gate.Severity,
			Details:  details,
		})
	}
	return report
}

func (v *Verifier) evaluateGate(step *workflow.Step, gate workflow.Gate, rc *run.Context) (bool, string) {
	switch gate.Kind {
	case workflow.GateTestsPass:
		return v.testsPass(gate.Params, rc)
	case workflow.GateDiffLimits:
		return v.diffLimits(step, gate.Params, rc)
	case workflow.GateSchemaValid:
		return v.schemaValid(step, gate.Params, rc)
	case workflow.GateArtifactExists:
		return v.artifactExists(step, gate.Params, rc)
	case workflow.GateCustom:
		return v.custom(step, gate.Params, rc)
	default:
		return false, fmt.Sprintf("unknown gate kind %q", gate.Kind)
	}
}

// testsPass reads the test-report artifact, validates it against the
// test_report schema, and requires pass_count >= min_pass (default 1) and
// failures <= allow_failures (default 0).
func (v *Verifier) testsPass(params map[string]any, rc *run.Context) (bool, string) {
	path := paramString(params, "report", DefaultTestReportPath)
	minPass := paramInt(params, "min_pass", 1)
	allowFailures := paramInt(params, "allow_failures", 0)

	data, err := rc.ReadArtifact(path)
	if err != nil {
		return false, fmt.Sprintf("test report %s: %v", path, err)
	}

	issues, err := v.schemas.ValidateBytes(data, schema.IDTestReport)
	if err != nil {
		return false, fmt.Sprintf("test report %s: %v", path, err)
	}
	if len(issues) > 0 {
		return false, fmt.Sprintf("test report %s invalid: %s", path, issues)
	}

	var report struct {
		PassCount int `json:"pass_count"`
		Failures  int `json:"failures"`
	}
	if err := json.Unmarshal(data, &report); err != nil {
		return false, fmt.Sprintf("test report %s: %v", path, err)
	}

	if report.PassCount < minPass {
		return false, fmt.Sprintf("pass_count %d < required %d", report.PassCount, minPass)
	}
	if report.Failures > allowFailures {
		return false, fmt.Sprintf("failures %d > allowed %d", report.Failures, allowFailures)
	}
	return true, fmt.Sprintf("pass_count=%d failures=%d", report.PassCount, report.Failures)
}

// diffLimits counts changed lines in a unified-diff artifact, excluding
// file headers and hunk markers, and requires the count to stay within
// max_lines.
func (v *Verifier) diffLimits(step *workflow.Step, params map[string]any, rc *run.Context) (bool, string) {
	path := paramString(params, "path", "")
	if path == "" {
		path = defaultPatchPath(step)
	}
	maxLines := paramInt(params, "max_lines", DefaultMaxDiffLines)

	data, err := rc.ReadArtifact(path)
	if err != nil {
		return false, fmt.Sprintf("patch %s: %v", path, err)
	}

	changed := CountChangedLines(string(data))
	if changed > maxLines {
		return false, fmt.Sprintf("changed_lines %d > max_lines %d", changed, maxLines)
	}
	return true, fmt.Sprintf("changed_lines=%d max_lines=%d", changed, maxLines)
}

// CountChangedLines counts added and removed lines in a unified diff.
// File headers (+++/---), hunk markers (@@), and context lines do not
// count.
func CountChangedLines(diff string) int {
	count := 0
	for _, line := range strings.Split(diff, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"), strings.HasPrefix(line, "-"):
			count++
		}
	}
	return count
}

// defaultPatchPath picks the step's first emitted diff artifact, falling
// back to patch.diff.
func defaultPatchPath(step *workflow.Step) string {
	for _, p := range step.Emits {
		if strings.HasSuffix(p, ".diff") || strings.HasSuffix(p, ".patch") {
			return p
		}
	}
	return "patch.diff"
}

// schemaValid validates each named artifact (default: the step's declared
// emits) against the schema named in params.
func (v *Verifier) schemaValid(step *workflow.Step, params map[string]any, rc *run.Context) (bool, string) {
	schemaID := paramString(params, "schema", "")
	if schemaID == "" {
		return false, "schema parameter is required"
	}
	paths := paramStrings(params, "paths")
	if p := paramString(params, "path", ""); p != "" {
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		paths = step.Emits
	}
	if len(paths) == 0 {
		return false, "no artifact paths to validate"
	}

	for _, path := range paths {
		data, err := rc.ReadArtifact(path)
		if err != nil {
			return false, fmt.Sprintf("artifact %s: %v", path, err)
		}
		issues, err := v.schemas.ValidateBytes(data, schemaID)
		if err != nil {
			return false, fmt.Sprintf("artifact %s: %v", path, err)
		}
		if len(issues) > 0 {
			return false, fmt.Sprintf("artifact %s invalid against %s: %s", path, schemaID, issues)
		}
	}
	return true, fmt.Sprintf("%d artifact(s) valid against %s", len(paths), schemaID)
}

// artifactExists requires each named path (exact or doublestar pattern) to
// match at least one entry of the artifacts index.
func (v *Verifier) artifactExists(step *workflow.Step, params map[string]any, rc *run.Context) (bool, string) {
	paths := paramStrings(params, "paths")
	if p := paramString(params, "path", ""); p != "" {
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		paths = step.Emits
	}
	if len(paths) == 0 {
		return false, "no artifact paths to check"
	}

	index := rc.Artifacts.List()
	for _, want := range paths {
		if !matchesIndex(want, index, rc) {
			return false, fmt.Sprintf("artifact %s not in index", want)
		}
	}
	return true, fmt.Sprintf("%d path(s) present", len(paths))
}

func matchesIndex(pattern string, index []artifact.Descriptor, rc *run.Context) bool {
	if rc.HasArtifact(pattern) {
		return true
	}
	for _, desc := range index {
		if ok, err := doublestar.Match(pattern, desc.Path); err == nil && ok {
			return true
		}
	}
	return false
}

// custom resolves the plugin named in params and delegates to it.
func (v *Verifier) custom(step *workflow.Step, params map[string]any, rc *run.Context) (bool, string) {
	name := paramString(params, "plugin", "")
	if name == "" {
		return false, "plugin parameter is required"
	}
	plugin, ok := v.plugins[name]
	if !ok {
		return false, fmt.Sprintf("plugin %q not registered", name)
	}
	passed, details, err := plugin.Check(step, params, rc)
	if err != nil {
		return false, fmt.Sprintf("plugin %s: %v", name, err)
	}
	return passed, details
}

func paramString(params map[string]any, key, fallback string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return fallback
}

func paramInt(params map[string]any, key string, fallback int) int {
	v, ok := params[key]
	if !ok {
		return fallback
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	}
	return fallback
}

func paramStrings(params map[string]any, key string) []string {
	v, ok := params[key]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return append([]string(nil), list...)
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
