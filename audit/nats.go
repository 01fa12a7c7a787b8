package audit

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is the subject prefix for mirrored audit events.
const DefaultSubjectPrefix = "semflow.audit"

// NATSMirror publishes each audit line to <prefix>.<run_id>.<event> so live
// consumers (dashboards, bus bridges) can follow a run. The JSONL file
// remains the source of truth; the mirror is best-effort by contract.
type NATSMirror struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSMirror connects to the given NATS URL. An empty prefix falls back
// to DefaultSubjectPrefix.
func NewNATSMirror(url, prefix string, logger *slog.Logger) (*NATSMirror, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := nats.Connect(url,
		nats.Name("semflow-audit"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(3),
	)
	if err != nil {
		return nil, fmt.Errorf("connect audit mirror: %w", err)
	}
	return &NATSMirror{conn: conn, prefix: prefix, logger: logger}, nil
}

// Publish implements Mirror.
func (m *NATSMirror) Publish(runID string, kind Kind, line []byte) error {
	subject := fmt.Sprintf("%s.%s.%s", m.prefix, runID, kind)
	return m.conn.Publish(subject, line)
}

// Close flushes pending publishes and closes the connection.
func (m *NATSMirror) Close() {
	if err := m.conn.Flush(); err != nil {
		m.logger.Warn("flush audit mirror", "error", err)
	}
	m.conn.Close()
}
