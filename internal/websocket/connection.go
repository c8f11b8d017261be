package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dropline/pkg/interfaces"
)

var _ interfaces.Connection = (*Connection)(nil)

// Options tunes a connection and, on the server, its heartbeat.
type Options struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
}

// DefaultOptions mirror the websocket section of the default configuration.
func DefaultOptions() Options {
	return Options{
		PingInterval:   25 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 1 << 20,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	def := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = def.PingInterval
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = def.ReadTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = def.WriteTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = def.BufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = def.MaxMessageSize
	}
	return o
}

type outbound struct {
	messageType int
	data        []byte
}

// Connection wraps a gorilla connection with a single writer goroutine.
// ARCHITECTURAL DISCOVERY: WebSocket writes must be serialized to prevent races;
// every WriteJSON/WriteBinary goes through one bounded queue
type Connection struct {
	id         string
	conn       *websocket.Conn
	writeCh    chan outbound
	opts       Options
	ctx        context.Context
	cancel     context.CancelFunc
	writerDone chan struct{}
	closeOnce  sync.Once
}

// NewConnection wraps conn and starts its writer.
func NewConnection(conn *websocket.Conn, id string, opts Options) *Connection {
	opts = opts.WithDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:         id,
		conn:       conn,
		writeCh:    make(chan outbound, opts.BufferSize),
		opts:       opts,
		ctx:        ctx,
		cancel:     cancel,
		writerDone: make(chan struct{}),
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	defer close(c.writerDone)

	for {
		select {
		case msg := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				_ = c.Close()
				return
			}
			if err := c.conn.WriteMessage(msg.messageType, msg.data); err != nil {
				_ = c.Close()
				return
			}
			if msg.messageType == websocket.CloseMessage {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ID returns the connection id.
func (c *Connection) ID() string {
	return c.id
}

// RemoteAddr returns the peer address.
func (c *Connection) RemoteAddr() string {
	if c.conn == nil {
		return ""
	}
	return c.conn.RemoteAddr().String()
}

// Done is closed when the connection closes.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// WriteJSON queues v as a text frame.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.enqueue(outbound{messageType: websocket.TextMessage, data: data})
}

// WriteBinary queues data as a binary frame. The slice must not be modified after
// the call.
func (c *Connection) WriteBinary(data []byte) error {
	return c.enqueue(outbound{messageType: websocket.BinaryMessage, data: data})
}

// enqueue blocks while the queue is full, up to the write timeout.
func (c *Connection) enqueue(msg outbound) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	timer := time.NewTimer(c.opts.WriteTimeout)
	defer timer.Stop()

	select {
	case c.writeCh <- msg:
		return nil
	case <-timer.C:
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Pending returns the number of queued frames.
func (c *Connection) Pending() int {
	return len(c.writeCh)
}

// Shutdown queues a normal close frame behind everything already queued, waits for
// the writer to flush it, then closes.
func (c *Connection) Shutdown(ctx context.Context) error {
	closeFrame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.enqueue(outbound{messageType: websocket.CloseMessage, data: closeFrame}); err != nil {
		return c.Close()
	}

	select {
	case <-c.writerDone:
	case <-ctx.Done():
	}
	return c.Close()
}

// Close cancels the writer and closes the socket. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
