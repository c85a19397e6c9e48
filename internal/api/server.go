package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/gray-logic-iot/internal/audit"
	"github.com/nerrad567/gray-logic-iot/internal/automation"
	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/device"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-iot/internal/metrics"
	"github.com/nerrad567/gray-logic-iot/internal/statestore"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Dispatcher records and publishes one command.
type Dispatcher interface {
	Dispatch(ctx context.Context, req command.Request) (*command.Command, error)
}

// Sweeper times out stale in-flight commands.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
	Cutoff() time.Time
}

// RuleExecutor runs an automation rule on demand.
type RuleExecutor interface {
	Execute(ctx context.Context, ruleID, triggerSubject string) (*automation.Execution, error)
}

// AuditRecorder queues an audit entry. It must not block.
type AuditRecorder interface {
	Record(entry audit.Entry)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Devices  device.Repository
	Commands command.Repository

	// Optional. Without a Dispatcher the dispatch endpoint answers 503,
	// and likewise for States and Expirer.
	Dispatcher Dispatcher
	States     statestore.Store
	Expirer    Sweeper
	Metrics    *metrics.Sink

	// Optional automation surface. Rules and Executions enable the rule
	// routes; Executor additionally enables manual execution.
	Rules      *automation.Registry
	Executions automation.Repository
	Executor   RuleExecutor

	// Optional audit trail. AuditLog serves reads, Auditor takes writes.
	AuditLog audit.Repository
	Auditor  AuditRecorder

	// Hub is shared with the event fan-out. New creates one when nil.
	Hub *Hub

	Version string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	logger     *logging.Logger
	devices    device.Repository
	commands   command.Repository
	dispatcher Dispatcher
	states     statestore.Store
	expirer    Sweeper
	metrics    *metrics.Sink
	rules      *automation.Registry
	executions automation.Repository
	executor   RuleExecutor
	auditLog   audit.Repository
	auditor    AuditRecorder
	version    string
	server     *http.Server
	hub        *Hub
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}
	if deps.Commands == nil {
		return nil, fmt.Errorf("command repository is required")
	}

	s := &Server{
		cfg:        deps.Config,
		logger:     deps.Logger,
		devices:    deps.Devices,
		commands:   deps.Commands,
		dispatcher: deps.Dispatcher,
		states:     deps.States,
		expirer:    deps.Expirer,
		metrics:    deps.Metrics,
		rules:      deps.Rules,
		executions: deps.Executions,
		executor:   deps.Executor,
		auditLog:   deps.AuditLog,
		auditor:    deps.Auditor,
		version:    deps.Version,
		hub:        deps.Hub,
	}
	if s.hub == nil {
		s.hub = NewHub(deps.Logger)
	}
	return s, nil
}

// Hub returns the WebSocket hub, for wiring into the event fan-out.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The hub runs until ctx is cancelled or Close is called.
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr, "auth", s.cfg.JWTSecret != "")
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

// HealthCheck verifies the API server has been started.
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
