package websocket

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dropline/pkg/interfaces"
)

// Handler upgrades HTTP requests and runs one read pump per connection.
// ARCHITECTURAL DISCOVERY: The handler owns transport concerns only (upgrade,
// heartbeat, framing); every inbound frame is passed to the MessageHandler
type Handler struct {
	registry *Registry
	handler  interfaces.MessageHandler
	opts     Options
	upgrader websocket.Upgrader
	logger   logrus.FieldLogger
	wg       sync.WaitGroup
}

// NewHandler creates a WebSocket handler
func NewHandler(registry *Registry, handler interfaces.MessageHandler, opts Options, logger logrus.FieldLogger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		registry: registry,
		handler:  handler,
		opts:     opts.WithDefaults(),
		upgrader: websocket.Upgrader{
			// FUNCTIONAL DISCOVERY: Room ids are the only capability; any origin may connect
			CheckOrigin:      func(r *http.Request) bool { return true },
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logger.WithField("component", "websocket"),
	}
}

// HandleWebSocket upgrades the request and starts the connection's read pump
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	wsConn := NewConnection(conn, uuid.New().String(), h.opts)
	if err := h.registry.RegisterConnection(wsConn); err != nil {
		h.logger.WithError(err).Error("Failed to register connection")
		_ = wsConn.Close()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"connection_id": wsConn.ID(),
		"remote_addr":   wsConn.RemoteAddr(),
	}).Info("Connection opened")

	h.wg.Add(1)
	go h.handleConnection(wsConn)
}

// Wait blocks until every read pump has exited
func (h *Handler) Wait() {
	h.wg.Wait()
}

// handleConnection runs the heartbeat and the read pump. Frames are handed to the
// message handler one at a time, in arrival order.
func (h *Handler) handleConnection(conn *Connection) {
	defer h.wg.Done()
	defer func() {
		h.registry.UnregisterConnection(conn)
		_ = conn.Close()
		h.handler.HandleDisconnect(conn)
		h.logger.WithField("connection_id", conn.ID()).Info("Connection closed")
	}()

	conn.conn.SetReadLimit(h.opts.MaxMessageSize)
	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	go h.pingLoop(conn)

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.WithField("connection_id", conn.ID()).WithError(err).Warn("WebSocket read error")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			h.handler.HandleText(conn.ctx, conn, data)
		case websocket.BinaryMessage:
			h.handler.HandleBinary(conn.ctx, conn, data)
		}
	}
}

// pingLoop keeps the read deadline alive on idle connections
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.opts.WriteTimeout)); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
