package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Mirror receives each encoded log line after it is written to the file.
// Mirrors are best-effort: failures are logged, never propagated.
type Mirror interface {
	Publish(runID string, kind Kind, line []byte) error
}

// Log is the append-only JSONL execution log for one run. Every line
// carries ts, run_id, and event; timestamps are strictly monotonic within
// the run, assigned at append time under the log's lock.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	path   string
	runID  string
	lastTS time.Time
	now    func() time.Time
	mirror Mirror
	logger *slog.Logger
	closed bool
}

// Option configures a Log.
type Option func(*Log)

// WithClock overrides the time source. Monotonicity is still enforced on
// top of the provided clock.
func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// WithMirror attaches a best-effort secondary sink for each written line.
func WithMirror(m Mirror) Option {
	return func(l *Log) { l.mirror = m }
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

// NewLog creates logs/<run_id>.jsonl under dir and returns the log handle.
func NewLog(dir, runID string, opts ...Option) (*Log, error) {
	if runID == "" {
		return nil, fmt.Errorf("run id is required")
	}
	logsDir := filepath.Join(dir, "logs")
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create logs directory: %w", err)
	}
	path := filepath.Join(logsDir, runID+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	l := &Log{
		f:      f,
		path:   path,
		runID:  runID,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Path returns the log file path.
func (l *Log) Path() string {
	return l.path
}

// Append encodes one event line and writes it. The payload's fields are
// flattened into the line next to ts, run_id, and event; field sets are
// stable per kind, key order is alphabetical.
func (l *Log) Append(kind Kind, payload any) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit log %s: append after close", l.runID)
	}

	line, err := l.encode(kind, payload)
	if err != nil {
		return err
	}

	if _, err := l.f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append audit event %s: %w", kind, err)
	}

	if l.mirror != nil {
		if err := l.mirror.Publish(l.runID, kind, line); err != nil {
			l.logger.Warn("audit mirror publish failed",
				"event", string(kind),
				"run_id", l.runID,
				"error", err)
		}
	}
	return nil
}

// encode builds the flattened line. Caller holds l.mu.
func (l *Log) encode(kind Kind, payload any) ([]byte, error) {
	fields := map[string]any{}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("flatten %s payload: %w", kind, err)
		}
	}

	ts := l.now()
	if !ts.After(l.lastTS) {
		ts = l.lastTS.Add(time.Nanosecond)
	}
	l.lastTS = ts

	fields["ts"] = ts.UTC().Format(time.RFC3339Nano)
	fields["run_id"] = l.runID
	fields["event"] = string(kind)

	line, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", kind, err)
	}
	return line, nil
}

// Close syncs and closes the log file. Idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true

	if err := l.f.Sync(); err != nil {
		_ = l.f.Close()
		return fmt.Errorf("sync audit log: %w", err)
	}
	return l.f.Close()
}

// Record is one parsed log line.
type Record struct {
	TS     time.Time
	RunID  string
	Event  Kind
	Fields map[string]any
}

// ReadFile parses an audit log back into records, preserving order.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		var fields map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &fields); err != nil {
			return nil, fmt.Errorf("parse audit log line %d: %w", lineNo, err)
		}
		rec := Record{Fields: fields}
		if s, ok := fields["ts"].(string); ok {
			t, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				return nil, fmt.Errorf("parse audit log line %d ts: %w", lineNo, err)
			}
			rec.TS = t
		}
		if s, ok := fields["run_id"].(string); ok {
			rec.RunID = s
		}
		if s, ok := fields["event"].(string); ok {
			rec.Event = Kind(s)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

// Memory is an in-memory Sink for tests and unit wiring.
type Memory struct {
	mu      sync.Mutex
	entries []MemoryEntry
}

// MemoryEntry is one captured Append call.
type MemoryEntry struct {
	Kind    Kind
	Payload any
}

// Append implements Sink.
func (m *Memory) Append(kind Kind, payload any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, MemoryEntry{Kind: kind, Payload: payload})
	return nil
}

// Entries returns a copy of the captured events in append order.
func (m *Memory) Entries() []MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}
