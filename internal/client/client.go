package client

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	wsconn "dropline/internal/websocket"
)

// DefaultPace is the delay between chunks on the relay data path.
const DefaultPace = 10 * time.Millisecond

// Options configure a Client. Zero values take defaults.
type Options struct {
	// ServerURL is the relay websocket endpoint, e.g. ws://localhost:8080/ws.
	ServerURL  string
	Connection wsconn.Options
	Pace       time.Duration
	Direct     DirectConfig
	Logger     logrus.FieldLogger
}

// Client runs sender and receiver sessions against one relay. Every session
// dials its own connection.
type Client struct {
	opts   Options
	logger logrus.FieldLogger
}

func New(opts Options) *Client {
	if opts.Pace < 0 {
		opts.Pace = 0
	} else if opts.Pace == 0 {
		opts.Pace = DefaultPace
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Client{opts: opts, logger: opts.Logger.WithField("component", "client")}
}

func (c *Client) dial(ctx context.Context) (*Gateway, error) {
	return Dial(ctx, c.opts.ServerURL, c.opts.Connection, c.opts.Logger)
}
