package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"dropline/internal/api"
	"dropline/internal/config"
	"dropline/internal/database"
	"dropline/internal/logging"
	"dropline/internal/relay"
	"dropline/internal/room"
	"dropline/internal/websocket"
	"dropline/pkg/interfaces"
)

// Application coordinates all relay components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     logrus.FieldLogger
	history    *database.Manager
	rooms      *room.Registry
	limiter    *relay.RateLimiter
	registry   *websocket.Registry
	broker     *relay.Broker
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// History → Rooms → Limiter → Registry → Broker → Gateway → API → HTTP
func NewApplication(cfg *config.Config, logger logrus.FieldLogger) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if logger == nil {
		base, err := logging.New(cfg.Log)
		if err != nil {
			return nil, err
		}
		logger = base
	}

	// STEP 1: Transfer history (optional foundation layer)
	var (
		history  *database.Manager
		recorder interfaces.TransferRecorder
		reader   api.HistoryReader
	)
	if cfg.HistoryEnabled() {
		manager, err := database.NewManager(cfg.HistoryDatabase(), logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize transfer history: %w", err)
		}

		// FUNCTIONAL DISCOVERY: Rooms never survive a restart, so rows a previous
		// process left active are closed as cancelled
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Database.Timeout)
		stale, err := manager.CloseStaleTransfers(ctx, time.Now())
		cancel()
		if err != nil {
			_ = manager.Close()
			return nil, fmt.Errorf("failed to close stale transfers: %w", err)
		}
		if stale > 0 {
			logger.WithField("count", stale).Info("Closed transfers left active by a previous run")
		}

		history, recorder, reader = manager, manager, manager
	} else {
		logger.Info("Transfer history disabled")
	}

	// STEP 2: Room registry and rate limiter
	rooms := room.NewRegistry(cfg.Relay.MaxRecipients, logger)
	limiter := relay.NewRateLimiter(cfg.Relay.MessageLimit)

	// STEP 3: Connection registry, broker and gateway
	registry := websocket.NewRegistry()
	broker := relay.NewBroker(rooms, registry, limiter, recorder, logger)
	wsHandler := websocket.NewHandler(registry, broker, cfg.WebSocketOptions(), logger)

	// STEP 4: API server with the gateway mounted at /ws
	apiServer := api.NewServer(rooms, reader, registry, logger)
	apiServer.Handle("/ws", http.HandlerFunc(wsHandler.HandleWebSocket))

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger.WithField("component", "app"),
		history:    history,
		rooms:      rooms,
		limiter:    limiter,
		registry:   registry,
		broker:     broker,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// Handler serves the API and the websocket gateway, for embedding and tests
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Start binds the listen address and serves in the background
// ARCHITECTURAL DISCOVERY: Binding before returning surfaces address errors
// synchronously and makes Addr exact when the port was chosen by the OS
func (app *Application) Start(ctx context.Context) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.WithError(err).Error("HTTP server error")
		}
	}()

	app.logger.WithFields(logrus.Fields{
		"addr":          listener.Addr().String(),
		"history":       app.history != nil,
		"message_limit": app.limiter.Limit(),
	}).Info("Dropline relay started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Connections → History
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("Shutting down dropline relay")

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.WithError(err).Warn("HTTP server shutdown error")
	}

	// STEP 2: Close upgraded connections; Shutdown does not track hijacked sockets.
	// Each read pump then runs disconnect propagation.
	app.registry.CloseAll()
	drained := make(chan struct{})
	go func() {
		app.wsHandler.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		app.logger.Warn("Timed out waiting for connections to drain")
	}

	// STEP 3: Close the history database
	if app.history != nil {
		if err := app.history.Close(); err != nil {
			app.logger.WithError(err).Warn("Database shutdown error")
		}
	}

	app.logger.Info("Dropline relay shutdown complete")
	return nil
}

// Addr returns the bound address once started, else the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// History exposes the transfer history store; nil when disabled
func (app *Application) History() *database.Manager {
	return app.history
}

// Rooms exposes the live room registry
func (app *Application) Rooms() *room.Registry {
	return app.rooms
}
