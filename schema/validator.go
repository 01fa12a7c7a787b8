// Package schema validates workflow documents and emitted artifacts against
// JSON Schema (draft 2020-12). Schemas are resolved from a registry keyed by
// logical name; the registry is built once at construction and is read-only
// afterwards. Validation is deterministic and side-effect free.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.schema.json
var builtinFS embed.FS

// Well-known schema IDs shipped with the runtime.
const (
	IDWorkflow    = "workflow"
	IDDiagnostics = "diagnostics"
	IDTestReport  = "test_report"
)

// ErrUnknownSchema is returned when a schema ID is not in the registry.
var ErrUnknownSchema = errors.New("unknown schema")

// Issue is one validation finding: a JSON pointer into the document and a
// human-readable message.
type Issue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Issues is the ordered list of findings for one document. Empty means the
// document is valid.
type Issues []Issue

func (is Issues) String() string {
	if len(is) == 0 {
		return "valid"
	}
	var b strings.Builder
	for i, issue := range is {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s: %s", issue.Path, issue.Message)
	}
	return b.String()
}

// Validator holds compiled schemas keyed by logical name.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the builtin schemas (workflow, diagnostics,
// test_report). Additional schema files from extraDirs are layered on top;
// a file named <id>.schema.json registers (or overrides) the schema <id>.
func NewValidator(extraDirs ...string) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.DefaultDraft(jsonschema.Draft2020)

	ids := make(map[string]string) // id -> resource url

	if err := addFS(compiler, ids, builtinFS, "schemas"); err != nil {
		return nil, err
	}
	for _, dir := range extraDirs {
		if dir == "" {
			continue
		}
		if err := addDir(compiler, ids, dir); err != nil {
			return nil, err
		}
	}

	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(ids))}
	for id, url := range ids {
		sch, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", id, err)
		}
		v.schemas[id] = sch
	}
	return v, nil
}

func addFS(compiler *jsonschema.Compiler, ids map[string]string, fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read builtin schemas: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".schema.json") {
			continue
		}
		data, err := fs.ReadFile(fsys, root+"/"+entry.Name())
		if err != nil {
			return fmt.Errorf("read builtin schema %s: %w", entry.Name(), err)
		}
		if err := addResource(compiler, ids, entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

func addDir(compiler *jsonschema.Compiler, ids map[string]string, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read schema directory %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".schema.json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("read schema %s: %w", entry.Name(), err)
		}
		if err := addResource(compiler, ids, entry.Name(), data); err != nil {
			return err
		}
	}
	return nil
}

func addResource(compiler *jsonschema.Compiler, ids map[string]string, filename string, data []byte) error {
	id := strings.TrimSuffix(filename, ".schema.json")
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("parse schema %s: %w", filename, err)
	}
	url := "semflow:" + id
	if err := compiler.AddResource(url, doc); err != nil {
		return fmt.Errorf("register schema %s: %w", filename, err)
	}
	ids[id] = url
	return nil
}

// Has reports whether the registry holds a schema with the given ID.
func (v *Validator) Has(schemaID string) bool {
	_, ok := v.schemas[schemaID]
	return ok
}

// IDs returns the registered schema IDs in sorted order.
func (v *Validator) IDs() []string {
	out := make([]string, 0, len(v.schemas))
	for id := range v.schemas {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Validate checks doc against the named schema. It returns the list of
// findings (empty when valid). The error return is reserved for registry
// misuse (unknown schema ID) and non-JSON documents.
func (v *Validator) Validate(doc any, schemaID string) (Issues, error) {
	sch, ok := v.schemas[schemaID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, schemaID)
	}

	instance, err := normalize(doc)
	if err != nil {
		return nil, err
	}

	err = sch.Validate(instance)
	if err == nil {
		return nil, nil
	}
	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return collect(verr, nil), nil
	}
	return Issues{{Path: "/", Message: err.Error()}}, nil
}

// ValidateBytes checks a raw JSON document against the named schema.
func (v *Validator) ValidateBytes(data []byte, schemaID string) (Issues, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Issues{{Path: "/", Message: "document is not valid JSON: " + err.Error()}}, nil
	}
	return v.Validate(doc, schemaID)
}

// normalize converts an arbitrary Go value (including structs and
// yaml-decoded maps) into the decoded-JSON shape the validator expects.
func normalize(doc any) (any, error) {
	switch d := doc.(type) {
	case nil:
		return nil, nil
	case []byte:
		out, err := jsonschema.UnmarshalJSON(bytes.NewReader(d))
		if err != nil {
			return nil, fmt.Errorf("parse document: %w", err)
		}
		return out, nil
	default:
		raw, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("encode document for validation: %w", err)
		}
		out, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode document for validation: %w", err)
		}
		return out, nil
	}
}

// collect flattens a validation error tree into leaf issues, ordered by
// instance path for reproducible output.
func collect(verr *jsonschema.ValidationError, acc Issues) Issues {
	if len(verr.Causes) == 0 {
		acc = append(acc, Issue{
			Path:    pointer(verr.InstanceLocation),
			Message: verr.Error(),
		})
		return acc
	}
	for _, cause := range verr.Causes {
		acc = collect(cause, acc)
	}
	return acc
}

func pointer(segments []string) string {
	if len(segments) == 0 {
		return "/"
	}
	return "/" + strings.Join(segments, "/")
}
