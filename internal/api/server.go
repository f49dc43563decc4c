package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-mqttroute/internal/auth"
	"github.com/nerrad567/gray-logic-mqttroute/internal/clients"
	"github.com/nerrad567/gray-logic-mqttroute/internal/dispatch"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-mqttroute/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-mqttroute/internal/journal"
	"github.com/nerrad567/gray-logic-mqttroute/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// ClientManager is the part of clients.Manager used by the API.
type ClientManager interface {
	Publish(ctx context.Context, clientID, topicName string, payload any, opts ...clients.PublishOption) error
	Statuses() []clients.Status
	HealthCheck(ctx context.Context) error
	Disabled() bool
}

// HealthChecker is an optional backend reported by the health endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// JournalReader is the part of journal.Journal used by the API.
type JournalReader interface {
	List(ctx context.Context, f journal.Filter) ([]journal.Entry, error)
	Stats() journal.Stats
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Logger    *logging.Logger
	Table     *dispatch.Table
	Clients   ClientManager       // optional
	Journal   JournalReader       // optional
	Telemetry *telemetry.Recorder // optional
	DB        *database.DB        // optional
	InfluxDB  HealthChecker       // optional
	Version   string
}

// Server is the admin HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	table     *dispatch.Table
	clients   ClientManager
	journal   JournalReader
	telemetry *telemetry.Recorder
	db        *database.DB
	influx    HealthChecker
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	tickets   *ticketStore
	operators *auth.Operators
	cancel    context.CancelFunc // cancels background goroutines on Close()
}

// New creates a new API server with the given dependencies.
//
// The WebSocket hub is registered as a dispatch observer immediately, so
// events are streamed from the moment the server is started.
//
// Returns an error if the logger or dispatch table is missing.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Table == nil {
		return nil, fmt.Errorf("dispatch table is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger.Component("api"),
		table:     deps.Table,
		clients:   deps.Clients,
		journal:   deps.Journal,
		telemetry: deps.Telemetry,
		db:        deps.DB,
		influx:    deps.InfluxDB,
		version:   deps.Version,
		startTime: time.Now(),
		tickets:   newTicketStore(),
		operators: auth.NewOperators(deps.Config.Auth.Operators),
	}
	s.hub = NewHub(deps.Config.WebSocket, s.logger)
	s.table.AddObserver(s.hub)

	return s, nil
}

// Hub returns the server's WebSocket hub.
func (s *Server) Hub() *Hub { return s.hub }

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub and ticket cleanup, builds the router, and
// launches the HTTP listener in a background goroutine. The server can be
// stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	go s.hub.Run(srvCtx)
	go s.cleanTicketsLoop(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.authEnabled())
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
