package workflow

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/c360studio/semflow/artifact"
	"github.com/c360studio/semflow/runerr"
	"github.com/c360studio/semflow/schema"
)

// DefaultStepTimeoutMS bounds an adapter invocation when the policy does
// not say otherwise.
const DefaultStepTimeoutMS = 300000

// stepIDPattern validates step IDs: a numeric prefix, a dot, three digits.
var stepIDPattern = regexp.MustCompile(`^\d+\.\d{3}$`)

// Loader reads workflow documents, validates them against the workflow
// schema, and canonicalizes them: policy defaults are materialized, gate
// severities default to block, emitted paths are normalized, and every
// step gets an explicit depends_on list (the sequential default resolves
// to the preceding step; an explicit empty list stays a root marker).
type Loader struct {
	validator *schema.Validator
}

// NewLoader creates a loader backed by the given schema registry.
func NewLoader(v *schema.Validator) *Loader {
	return &Loader{validator: v}
}

// Load reads and validates a workflow document from disk. YAML and JSON
// are both accepted; JSON parses through the same strict pipeline.
func (l *Loader) Load(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow: %w", err)
	}
	wf, err := l.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return wf, nil
}

// LoadBytes validates and canonicalizes a workflow document.
func (l *Loader) LoadBytes(data []byte) (*Workflow, error) {
	// Schema validation runs on the raw document so unknown keys, bad
	// enums, and malformed gates report schema paths.
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, runerr.Wrap(runerr.KindSchemaValidation, "parse workflow document", err)
	}
	issues, err := l.validator.Validate(doc, schema.IDWorkflow)
	if err != nil {
		return nil, runerr.Wrap(runerr.KindInternal, "validate workflow document", err)
	}
	if len(issues) > 0 {
		return nil, runerr.Newf(runerr.KindSchemaValidation, "workflow document invalid: %s", issues)
	}

	var wf Workflow
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, runerr.Wrap(runerr.KindSchemaValidation, "decode workflow document", err)
	}

	if err := canonicalize(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Serialize renders a workflow in its canonical YAML form. Loading the
// result yields an equal document.
func Serialize(w *Workflow) ([]byte, error) {
	data, err := yaml.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("serialize workflow: %w", err)
	}
	return data, nil
}

// canonicalize materializes defaults and runs the semantic checks the
// schema cannot express: unique step IDs and writable emit paths.
func canonicalize(wf *Workflow) error {
	if wf.Name == "" {
		return runerr.New(runerr.KindSchemaValidation, "workflow name is required")
	}

	applyPolicyDefaults(&wf.Policy)

	seen := make(map[string]int, len(wf.Steps))
	for i := range wf.Steps {
		step := &wf.Steps[i]

		if !stepIDPattern.MatchString(step.ID) {
			return runerr.Newf(runerr.KindSchemaValidation,
				"step %q: id must match %s", step.ID, stepIDPattern)
		}
		if prev, dup := seen[step.ID]; dup {
			return runerr.Newf(runerr.KindSchemaValidation,
				"duplicate step id %s (steps %d and %d)", step.ID, prev+1, i+1)
		}
		seen[step.ID] = i

		if !step.Actor.IsValid() {
			return runerr.Newf(runerr.KindSchemaValidation,
				"step %s: unknown actor %q", step.ID, step.Actor)
		}

		for j, raw := range step.Emits {
			clean, err := artifact.CleanPath(raw)
			if err != nil {
				return runerr.Newf(runerr.KindSchemaValidation,
					"step %s: emits[%d] %q: %v", step.ID, j, raw, err)
			}
			if artifact.IsReserved(clean) {
				return runerr.Newf(runerr.KindSchemaValidation,
					"step %s: emits[%d] %q is reserved for run outputs", step.ID, j, raw)
			}
			step.Emits[j] = clean
		}

		for j := range step.Gates {
			gate := &step.Gates[j]
			if !gate.Kind.IsValid() {
				return runerr.Newf(runerr.KindSchemaValidation,
					"step %s: unknown gate kind %q", step.ID, gate.Kind)
			}
			if gate.Severity == "" {
				gate.Severity = SeverityBlock
			}
			if !gate.Severity.IsValid() {
				return runerr.Newf(runerr.KindSchemaValidation,
					"step %s: unknown gate severity %q", step.ID, gate.Severity)
			}
		}

		if step.When != nil && !step.When.Kind.IsValid() {
			return runerr.Newf(runerr.KindSchemaValidation,
				"step %s: unknown when kind %q", step.ID, step.When.Kind)
		}

		// Sequential default: an omitted depends_on resolves to the
		// preceding step; the first step becomes a root. An explicit
		// empty list is already a root marker.
		if step.DependsOn == nil {
			if i == 0 {
				step.DependsOn = []string{}
			} else {
				step.DependsOn = []string{wf.Steps[i-1].ID}
			}
		}
	}

	return nil
}

func applyPolicyDefaults(p *Policy) {
	if p.MaxTokens < 0 {
		p.MaxTokens = 0
	}
	if p.StepTimeoutMS <= 0 {
		p.StepTimeoutMS = DefaultStepTimeoutMS
	}
	if p.Retry.MaxAttempts < 1 {
		p.Retry.MaxAttempts = 1
	}
}
