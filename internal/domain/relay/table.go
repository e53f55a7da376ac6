package relay

import (
	"fmt"
	"sync"

	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
	"go.uber.org/zap"
)

// Conn is one attached transport endpoint. The gorilla adapter lives in the
// ws handler; tests attach fakes.
type Conn interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
}

// Status describes the pairing state of one session.
type Status string

const (
	StatusNone              Status = "none"
	StatusProducerConnected Status = "producer_connected"
	StatusActive            Status = "active"
	StatusDisconnected      Status = "disconnected"
)

// Frame is an opaque payload forwarded between the two roles. Only the
// binary/text marker is inspected; bytes pass through unmodified.
type Frame struct {
	Binary bool
	Data   []byte
}

// Kind returns the frame marker as a metric/log label.
func (f Frame) Kind() string {
	if f.Binary {
		return "binary"
	}
	return "text"
}

// entry pairs the two endpoints of one session.
type entry struct {
	producer Conn
	consumer Conn
}

// Table pairs producer and consumer connections per session and forwards
// frames between them. Delivery is at-most-once: send failures are dropped,
// never retried, and never surfaced to the sender.
type Table struct {
	mu       sync.RWMutex
	sessions map[string]*entry // Protected by mu
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewTable creates an empty pairing table.
func NewTable(logger *logging.Logger) *Table {
	return &Table{
		sessions: make(map[string]*entry),
		logger:   logger,
	}
}

// WithMetrics adds metrics tracking to the table.
func (t *Table) WithMetrics(metrics *monitoring.Metrics) *Table {
	t.metrics = metrics
	return t
}

// Register attaches a connection to one role of a session, creating the
// session entry on first use. A connection already holding the role is
// replaced but NOT closed; its owner remains responsible for disposal.
func (t *Table) Register(sessionID, role string, conn Conn) error {
	if role != types.RoleProducer && role != types.RoleConsumer {
		return fmt.Errorf("unknown relay role: %q", role)
	}

	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	if !ok {
		e = &entry{}
		t.sessions[sessionID] = e
	}
	var replaced bool
	switch role {
	case types.RoleProducer:
		replaced = e.producer != nil
		e.producer = conn
	case types.RoleConsumer:
		replaced = e.consumer != nil
		e.consumer = conn
	}
	t.mu.Unlock()

	if replaced {
		t.logger.Info("relay endpoint replaced",
			zap.String("session_id", sessionID),
			zap.String("role", role))
	} else if t.metrics != nil {
		t.metrics.IncRelayConnections(role)
	}
	return nil
}

// Unregister clears one role of a session. The connection is not closed.
// The session entry is removed once both roles are empty.
func (t *Table) Unregister(sessionID, role string) {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	var cleared bool
	if ok {
		switch role {
		case types.RoleProducer:
			cleared = e.producer != nil
			e.producer = nil
		case types.RoleConsumer:
			cleared = e.consumer != nil
			e.consumer = nil
		}
		if e.producer == nil && e.consumer == nil {
			delete(t.sessions, sessionID)
		}
	}
	t.mu.Unlock()

	if cleared && t.metrics != nil {
		t.metrics.DecRelayConnections(role)
	}
}

// UnregisterConn clears one role of a session only if it still holds conn.
// A connection that was replaced unregisters through here without touching
// its replacement. The connection is not closed.
func (t *Table) UnregisterConn(sessionID, role string, conn Conn) {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	var cleared bool
	if ok {
		switch role {
		case types.RoleProducer:
			if e.producer == conn {
				cleared = true
				e.producer = nil
			}
		case types.RoleConsumer:
			if e.consumer == conn {
				cleared = true
				e.consumer = nil
			}
		}
		if e.producer == nil && e.consumer == nil {
			delete(t.sessions, sessionID)
		}
	}
	t.mu.Unlock()

	if cleared && t.metrics != nil {
		t.metrics.DecRelayConnections(role)
	}
}

// Forward delivers a frame to the role opposite fromRole. Unknown sessions
// and missing peers are silent no-ops; a failed send is dropped and the
// connection left for its owner to tear down.
func (t *Table) Forward(sessionID, fromRole string, frame Frame) {
	t.mu.RLock()
	e, ok := t.sessions[sessionID]
	var target Conn
	if ok {
		switch fromRole {
		case types.RoleProducer:
			target = e.consumer
		case types.RoleConsumer:
			target = e.producer
		}
	}
	t.mu.RUnlock()

	if target == nil {
		return
	}

	// Send outside the table lock; a slow peer must not stall other sessions.
	var err error
	if frame.Binary {
		err = target.WriteBinary(frame.Data)
	} else {
		err = target.WriteText(frame.Data)
	}
	if err != nil {
		t.logger.Debug("relay frame dropped",
			zap.String("session_id", sessionID),
			zap.String("from_role", fromRole),
			zap.String("kind", frame.Kind()),
			zap.Error(err))
		return
	}

	if t.metrics != nil {
		t.metrics.RecordRelayFrame(frame.Kind())
	}
}

// Status reports the pairing state of a session.
func (t *Table) Status(sessionID string) Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	e, ok := t.sessions[sessionID]
	switch {
	case !ok:
		return StatusNone
	case e.producer != nil && e.consumer != nil:
		return StatusActive
	case e.producer != nil:
		return StatusProducerConnected
	default:
		return StatusDisconnected
	}
}

// Cleanup force-closes both endpoints of a session and drops the entry.
// Close errors are ignored; the entry is removed regardless.
func (t *Table) Cleanup(sessionID string) {
	t.mu.Lock()
	e, ok := t.sessions[sessionID]
	if ok {
		delete(t.sessions, sessionID)
	}
	t.mu.Unlock()

	if !ok {
		return
	}

	for role, conn := range map[string]Conn{
		types.RoleProducer: e.producer,
		types.RoleConsumer: e.consumer,
	} {
		if conn == nil {
			continue
		}
		if err := conn.Close(); err != nil {
			t.logger.Debug("relay cleanup close failed",
				zap.String("session_id", sessionID),
				zap.String("role", role),
				zap.Error(err))
		}
		if t.metrics != nil {
			t.metrics.DecRelayConnections(role)
		}
	}

	t.logger.Info("relay session cleaned up", zap.String("session_id", sessionID))
}

// Count returns the number of sessions with at least one attached endpoint.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Sessions lists session ids with at least one attached endpoint.
func (t *Table) Sessions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	return ids
}
