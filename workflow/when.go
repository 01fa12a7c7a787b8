package workflow

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ArtifactView is the read-only view a predicate evaluates against. The
// run context implements it over the artifacts index.
type ArtifactView interface {
	// HasArtifact reports whether the path is catalogued.
	HasArtifact(path string) bool

	// ReadArtifact returns the contents of a catalogued artifact.
	ReadArtifact(path string) ([]byte, error)
}

// Predicate is the evaluable form of a when clause. Parsing happens at
// plan time so unknown kinds fail before anything executes; evaluation
// happens at readiness time against the artifacts the step's predecessors
// produced.
type Predicate interface {
	// Kind returns the predicate kind.
	Kind() WhenKind

	// Eval evaluates the predicate against the artifacts index.
	Eval(view ArtifactView) (bool, error)

	// Describe returns a short human-readable form for skip reasons.
	Describe() string
}

// ParseWhen compiles a when clause. A nil clause yields the always-true
// predicate. Unknown kinds and missing required fields are errors.
func ParseWhen(w *When) (Predicate, error) {
	if w == nil {
		return alwaysPredicate{}, nil
	}
	switch w.Kind {
	case WhenAlways:
		return alwaysPredicate{}, nil
	case WhenArtifactExists:
		if w.Path == "" {
			return nil, fmt.Errorf("when %s: path is required", w.Kind)
		}
		return existsPredicate{path: w.Path}, nil
	case WhenArtifactProperty:
		if w.Path == "" {
			return nil, fmt.Errorf("when %s: path is required", w.Kind)
		}
		if w.Property == "" {
			return nil, fmt.Errorf("when %s: property is required", w.Kind)
		}
		return propertyPredicate{path: w.Path, property: w.Property, equals: w.Equals}, nil
	default:
		return nil, fmt.Errorf("unknown when kind %q", w.Kind)
	}
}

type alwaysPredicate struct{}

func (alwaysPredicate) Kind() WhenKind { return WhenAlways }

func (alwaysPredicate) Eval(ArtifactView) (bool, error) { return true, nil }

func (alwaysPredicate) Describe() string { return "always" }

type existsPredicate struct {
	path string
}

func (p existsPredicate) Kind() WhenKind { return WhenArtifactExists }

func (p existsPredicate) Eval(view ArtifactView) (bool, error) {
	return view.HasArtifact(p.path), nil
}

func (p existsPredicate) Describe() string {
	return fmt.Sprintf("artifact_exists(%s)", p.path)
}

type propertyPredicate struct {
	path     string
	property string
	equals   any
}

func (p propertyPredicate) Kind() WhenKind { return WhenArtifactProperty }

// Eval reads the artifact as JSON and walks the dot-separated property
// path. A missing artifact or missing property evaluates false; a
// catalogued artifact that is not valid JSON is an error.
func (p propertyPredicate) Eval(view ArtifactView) (bool, error) {
	if !view.HasArtifact(p.path) {
		return false, nil
	}
	data, err := view.ReadArtifact(p.path)
	if err != nil {
		return false, fmt.Errorf("read %s: %w", p.path, err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return false, fmt.Errorf("parse %s: %w", p.path, err)
	}

	value, ok := lookupProperty(doc, p.property)
	if !ok {
		return false, nil
	}
	if p.equals == nil {
		return true, nil
	}
	return looseEqual(value, p.equals), nil
}

func (p propertyPredicate) Describe() string {
	if p.equals == nil {
		return fmt.Sprintf("artifact_property(%s, %s)", p.path, p.property)
	}
	return fmt.Sprintf("artifact_property(%s, %s == %v)", p.path, p.property, p.equals)
}

// lookupProperty walks a dot-separated path through nested JSON objects.
func lookupProperty(doc any, property string) (any, bool) {
	current := doc
	for _, key := range strings.Split(property, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// looseEqual compares a JSON-decoded value with an expectation that may
// come from YAML. Numeric types are unified before comparing so a YAML 0
// matches a JSON 0.0.
func looseEqual(got, want any) bool {
	gf, gok := asFloat(got)
	wf, wok := asFloat(want)
	if gok && wok {
		return gf == wf
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
