package ws

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentpass/agentpass/backend/internal/domain/relay"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/logging"
	"github.com/agentpass/agentpass/backend/internal/infrastructure/monitoring"
	"github.com/agentpass/agentpass/backend/internal/shared/types"
)

const (
	// identifyWait bounds how long a fresh connection may stay silent
	// before sending its identify frame.
	identifyWait = 10 * time.Second

	// writeWait bounds a single relayed write so one stuck peer cannot
	// pin the forwarding goroutine.
	writeWait = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Producers and dashboard viewers connect from different origins
	},
}

// Handler terminates live websocket connections and plugs them into the
// pairing table. Each connection must identify as producer or consumer in
// its first message; everything after that is forwarded opaquely.
type Handler struct {
	table   *relay.Table
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a websocket handler around a pairing table.
func NewHandler(table *relay.Table, logger *logging.Logger) *Handler {
	return &Handler{
		table:  table,
		logger: logger.Component("ws"),
	}
}

// WithMetrics adds metrics tracking to the handler.
func (h *Handler) WithMetrics(metrics *monitoring.Metrics) *Handler {
	h.metrics = metrics
	return h
}

// HandleLive upgrades GET /live/:session_id and relays frames until the
// socket drops. The connection is unregistered but its peer left attached,
// so a producer reconnect resumes the same session.
func (h *Handler) HandleLive(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}
	link := newLink(conn)
	defer link.Close()

	// Replacement never closes the replaced socket, so two log streams can
	// overlap for one session+role; the connection id tells them apart.
	connID := uuid.New().String()

	role, err := h.identify(conn)
	if err != nil {
		h.logger.Warn("live socket rejected",
			zap.String("session_id", sessionID),
			zap.String("conn_id", connID),
			zap.Error(err))
		return
	}

	if err := h.table.Register(sessionID, role, link); err != nil {
		h.logger.Warn("relay registration failed",
			zap.String("session_id", sessionID),
			zap.String("role", role),
			zap.Error(err))
		return
	}
	defer h.table.UnregisterConn(sessionID, role, link)

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}
	h.logger.Info("live socket attached",
		zap.String("session_id", sessionID),
		zap.String("role", role),
		zap.String("conn_id", connID))

	h.relayLoop(sessionID, role, conn)

	h.logger.Info("live socket detached",
		zap.String("session_id", sessionID),
		zap.String("role", role),
		zap.String("conn_id", connID))
}

// identify reads the first frame and extracts the declared role.
func (h *Handler) identify(conn *websocket.Conn) (string, error) {
	_ = conn.SetReadDeadline(time.Now().Add(identifyWait))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("failed to read identify frame: %w", err)
	}
	if msgType != websocket.TextMessage {
		return "", fmt.Errorf("identify frame must be text")
	}

	var msg types.LiveMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("failed to decode identify frame: %w", err)
	}
	if msg.Type != types.LiveTypeIdentify {
		return "", fmt.Errorf("expected %s message, got %q", types.LiveTypeIdentify, msg.Type)
	}
	if msg.Role != types.RoleProducer && msg.Role != types.RoleConsumer {
		return "", fmt.Errorf("unknown live role: %q", msg.Role)
	}
	return msg.Role, nil
}

// relayLoop pumps inbound frames into the table until the socket errors.
func (h *Handler) relayLoop(sessionID, role string, conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var frame relay.Frame
		switch msgType {
		case websocket.BinaryMessage:
			frame = relay.Frame{Binary: true, Data: data}
		case websocket.TextMessage:
			frame = relay.Frame{Data: data}
		default:
			continue
		}

		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", frame.Kind())
		}
		h.table.Forward(sessionID, role, frame)
	}
}

// link adapts a gorilla connection to the pairing table's Conn interface.
// Gorilla permits one concurrent writer, and forwarded frames arrive from
// the peer's read goroutine, so all writes share a mutex.
type link struct {
	conn      *websocket.Conn
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newLink(conn *websocket.Conn) *link {
	return &link{conn: conn}
}

func (l *link) WriteText(data []byte) error {
	return l.write(websocket.TextMessage, data)
}

func (l *link) WriteBinary(data []byte) error {
	return l.write(websocket.BinaryMessage, data)
}

func (l *link) write(msgType int, data []byte) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	_ = l.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return l.conn.WriteMessage(msgType, data)
}

// Close is safe to call from both the handler's defer and table cleanup.
func (l *link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		err = l.conn.Close()
	})
	return err
}
