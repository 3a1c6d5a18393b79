package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-lightify/internal/bridges/lightify"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-lightify/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-lightify/internal/inventory"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Bridge is the subset of *lightify.Bridge the API serves.
type Bridge interface {
	LightSnapshots() []lightify.LightSnapshot
	GroupSnapshots() []lightify.GroupSnapshot
	LightStatus(ctx context.Context, addr lightify.Address) (lightify.LightSnapshot, error)
	Refresh(ctx context.Context) (lightify.RefreshResult, error)
	ExecuteCommand(cmd lightify.CommandMessage, name string) error
	Gateway() lightify.GatewayClient
}

// Inventory reads persisted snapshots. *inventory.Repository satisfies it.
type Inventory interface {
	ListLights(ctx context.Context) ([]inventory.LightRecord, error)
	ListGroups(ctx context.Context) ([]inventory.GroupRecord, error)
}

// StateSubscriber subscribes to MQTT topics. *mqtt.Client satisfies it.
type StateSubscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	IsConnected() bool
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	Logger     *logging.Logger
	Bridge     Bridge
	Inventory  Inventory       // optional; snapshot routes return 503 without it
	CommandLog CommandLog      // optional; /commands returns 503 without it
	MQTT       StateSubscriber // optional; the WebSocket stream stays silent without it
	Version    string
}

// Server is the HTTP API server for the Lightify bridge.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	logger    *logging.Logger
	bridge    Bridge
	inventory Inventory
	commands  CommandLog
	mqtt      StateSubscriber
	version   string
	startTime time.Time
	server    *http.Server
	hub       *Hub
	cancel    context.CancelFunc // cancels the hub on Close()
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, bridge)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Bridge == nil {
		return nil, fmt.Errorf("lightify bridge is required")
	}

	s := &Server{
		cfg:       deps.Config,
		logger:    deps.Logger,
		bridge:    deps.Bridge,
		inventory: deps.Inventory,
		commands:  deps.CommandLog,
		mqtt:      deps.MQTT,
		version:   deps.Version,
		startTime: time.Now(),
		hub:       NewHub(deps.Config.WebSocket, deps.Logger),
	}
	s.hub.initialState = s.currentLightStates
	return s, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, subscribes to light state topics for the
// stream, and launches the HTTP listener in a background goroutine. The
// server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	if err := s.subscribeStateUpdates(); err != nil {
		s.logger.Warn("failed to subscribe to state updates for WebSocket", "error", err)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
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
//
// Returns:
//   - error: If shutdown encounters an error
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
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
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
