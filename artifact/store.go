// Package artifact provides the run-scoped filesystem writer for emitted
// artifacts. All paths are relative to artifacts/<run_id>/; the store
// rejects absolute paths, parent traversal, and cross-step collisions, and
// computes a SHA-256 digest on every write.
package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Sentinel errors for path constraint violations.
var (
	ErrEmptyPath     = errors.New("artifact path is required")
	ErrAbsolutePath  = errors.New("artifact path must be relative")
	ErrPathTraversal = errors.New("artifact path escapes the run namespace")
	ErrPathCollision = errors.New("artifact path already produced by another step")
	ErrNotCatalogued = errors.New("artifact not catalogued")
	ErrReservedPath  = errors.New("artifact path is reserved for run outputs")
)

// Run-level output files written next to the artifacts at completion.
// Steps may not emit them.
const (
	ManifestName = "manifest.json"
	ReportName   = "report.md"
)

// IsReserved reports whether a cleaned path is claimed by run-level outputs.
func IsReserved(p string) bool {
	return p == ManifestName || p == ReportName
}

// Descriptor identifies one immutable emitted artifact.
type Descriptor struct {
	// Path is relative to the run's artifact root, forward-slash form.
	Path string `json:"path"`
	// Digest is the hex-encoded SHA-256 of the content.
	Digest string `json:"digest"`
	// SizeBytes is the content length.
	SizeBytes int64 `json:"size_bytes"`
	// ProducedBy is the ID of the emitting step.
	ProducedBy string `json:"produced_by"`
	// MimeHint is derived from the file extension; informational only.
	MimeHint string `json:"mime_hint,omitempty"`
}

// CleanPath normalizes an emitted path and enforces the namespace
// constraints: relative, forward-slash, no parent traversal.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", ErrEmptyPath
	}
	if strings.ContainsRune(p, '\\') {
		return "", fmt.Errorf("%w: backslash in %q", ErrPathTraversal, p)
	}
	if path.IsAbs(p) || filepath.IsAbs(p) {
		return "", fmt.Errorf("%w: %q", ErrAbsolutePath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, p)
	}
	return cleaned, nil
}

// Store writes artifacts under a run-scoped root. Writes are serialized;
// a step may overwrite its own path (retry attempts), but a path produced
// by a different step is a collision.
type Store struct {
	mu      sync.Mutex
	root    string
	runID   string
	written map[string]Descriptor
}

// NewStore creates artifacts/<run_id>/ under dir and returns the store.
func NewStore(dir, runID string) (*Store, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	root := filepath.Join(dir, "artifacts", runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &Store{
		root:    root,
		runID:   runID,
		written: make(map[string]Descriptor),
	}, nil
}

// Root returns the absolute artifact root for this run.
func (s *Store) Root() string {
	return s.root
}

// Write stores data at relPath on behalf of stepID and returns the
// descriptor. The digest is computed before the descriptor is visible to
// any reader.
func (s *Store) Write(stepID, relPath string, data []byte) (Descriptor, error) {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return Descriptor{}, err
	}
	if IsReserved(cleaned) {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrReservedPath, cleaned)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.written[cleaned]; ok && existing.ProducedBy != stepID {
		return Descriptor{}, fmt.Errorf("%w: %q (step %s, already written by %s)",
			ErrPathCollision, cleaned, stepID, existing.ProducedBy)
	}

	abs := filepath.Join(s.root, filepath.FromSlash(cleaned))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("create artifact directory: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil {
		return Descriptor{}, fmt.Errorf("write artifact %s: %w", cleaned, err)
	}

	sum := sha256.Sum256(data)
	desc := Descriptor{
		Path:       cleaned,
		Digest:     hex.EncodeToString(sum[:]),
		SizeBytes:  int64(len(data)),
		ProducedBy: stepID,
		MimeHint:   mimeHint(cleaned),
	}
	s.written[cleaned] = desc
	return desc, nil
}

// Read returns the content of a catalogued path. Reads of paths the store
// never wrote fail with ErrNotCatalogued.
func (s *Store) Read(relPath string) ([]byte, error) {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	_, ok := s.written[cleaned]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotCatalogued, cleaned)
	}

	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(cleaned)))
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", cleaned, err)
	}
	return data, nil
}

// Stat returns the descriptor for a written path.
func (s *Store) Stat(relPath string) (Descriptor, bool) {
	cleaned, err := CleanPath(relPath)
	if err != nil {
		return Descriptor{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	desc, ok := s.written[cleaned]
	return desc, ok
}

// WrittenBy returns the descriptors produced by one step, sorted by path.
func (s *Store) WrittenBy(stepID string) []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Descriptor
	for _, desc := range s.written {
		if desc.ProducedBy == stepID {
			out = append(out, desc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// List returns all written descriptors sorted by path.
func (s *Store) List() []Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Descriptor, 0, len(s.written))
	for _, desc := range s.written {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func mimeHint(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".json":
		return "application/json"
	case ".jsonl":
		return "application/jsonl"
	case ".diff", ".patch":
		return "text/x-diff"
	case ".md":
		return "text/markdown"
	case ".txt", ".log":
		return "text/plain"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return ""
	}
}
