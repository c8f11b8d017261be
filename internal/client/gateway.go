package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	wsconn "dropline/internal/websocket"
	"dropline/pkg/types"
)

const (
	inboundBuffer    = 64
	handshakeTimeout = 10 * time.Second
	shutdownTimeout  = 2 * time.Second
)

// Inbound is one decoded frame from the relay: either a control envelope or a
// chunk frame.
type Inbound struct {
	Envelope *types.Envelope
	Frame    *types.ChunkFrame
}

// Gateway is the client end of the relay connection. Writes share the server's
// single-writer Connection; reads run in one pump that decodes frames onto a
// channel.
type Gateway struct {
	conn    *websocket.Conn
	out     *wsconn.Connection
	opts    wsconn.Options
	inbound chan Inbound
	logger  logrus.FieldLogger

	mu  sync.Mutex
	err error
}

// Dial opens a relay connection at url (ws:// or wss://, path /ws).
func Dial(ctx context.Context, url string, opts wsconn.Options, logger logrus.FieldLogger) (*Gateway, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	opts = opts.WithDefaults()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay %s: %w", url, err)
	}

	g := &Gateway{
		conn:    conn,
		out:     wsconn.NewConnection(conn, conn.LocalAddr().String(), opts),
		opts:    opts,
		inbound: make(chan Inbound, inboundBuffer),
		logger:  logger.WithField("component", "gateway"),
	}
	go g.readPump()
	return g, nil
}

// Inbound delivers frames in arrival order. It is closed when the connection ends;
// Err then reports why.
func (g *Gateway) Inbound() <-chan Inbound {
	return g.inbound
}

// Err is the read error that ended the connection, or nil while it is open.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Send queues a control message.
func (g *Gateway) Send(msgType string, payload interface{}) error {
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}
	return g.out.WriteJSON(env)
}

// SendFrame queues a chunk frame as a binary message.
func (g *Gateway) SendFrame(frame *types.ChunkFrame) error {
	data, err := types.EncodeChunkFrame(frame)
	if err != nil {
		return fmt.Errorf("encode chunk %d: %w", frame.ChunkIndex, err)
	}
	return g.out.WriteBinary(data)
}

// Pending is the number of frames waiting in the write queue.
func (g *Gateway) Pending() int {
	return g.out.Pending()
}

// Close flushes queued frames behind a close frame and closes the socket.
func (g *Gateway) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.out.Shutdown(ctx)
}

func (g *Gateway) readPump() {
	defer close(g.inbound)
	defer func() { _ = g.out.Close() }()

	g.conn.SetReadLimit(g.opts.MaxMessageSize)
	if err := g.conn.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout)); err != nil {
		g.setErr(err)
		return
	}
	// TECHNICAL DISCOVERY: The relay pings every PingInterval; answering resets the
	// read deadline. WriteControl is safe alongside the connection's writer.
	g.conn.SetPingHandler(func(appData string) error {
		_ = g.conn.SetReadDeadline(time.Now().Add(g.opts.ReadTimeout))
		err := g.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(g.opts.WriteTimeout))
		var netErr net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil
		}
		return err
	})

	for {
		messageType, data, err := g.conn.ReadMessage()
		if err != nil {
			g.setErr(err)
			return
		}

		var in Inbound
		switch messageType {
		case websocket.TextMessage:
			env, err := types.ParseEnvelope(data)
			if err != nil {
				g.logger.WithError(err).Warn("Dropping malformed control message")
				continue
			}
			in.Envelope = env
		case websocket.BinaryMessage:
			frame, err := types.DecodeChunkFrame(data)
			if err != nil {
				g.logger.WithError(err).Warn("Dropping malformed chunk frame")
				continue
			}
			in.Frame = frame
		default:
			continue
		}

		select {
		case g.inbound <- in:
		case <-g.out.Done():
			g.setErr(ErrGatewayClosed)
			return
		}
	}
}

func (g *Gateway) setErr(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		err = ErrGatewayClosed
	}
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
}
