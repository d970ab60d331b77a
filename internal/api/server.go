package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/hnode2-datasink/internal/audit"
	"github.com/nerrad567/hnode2-datasink/internal/hnode"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/config"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/influxdb"
	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/logging"
	"github.com/nerrad567/hnode2-datasink/internal/lifecycle"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// HealthChecker is a dependency reported by /health.
// *database.DB, *mqtt.Client and *influxdb.Client satisfy it.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// OperationRecorder receives one sample per dispatched operation.
// *influxdb.Client satisfies it.
type OperationRecorder interface {
	WriteOperation(sample influxdb.OperationSample)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Device    *hnode.Device
	Lifecycle *lifecycle.Lifecycle

	// Metrics is optional; a private registry is used when nil.
	Metrics *Metrics

	// Telemetry is optional.
	Telemetry OperationRecorder

	// HealthChecks are optional named dependencies reported by /health.
	HealthChecks map[string]HealthChecker

	// Audit is optional; without it configuration history is not served.
	Audit audit.Repository

	Version string
}

// Server is the HTTP server of the device.
//
// It serves every endpoint set registered with the device plus the
// framework endpoints under /hnode2/device. The router is built once in
// New from the endpoint tables; endpoints added to the device afterwards
// are not served.
type Server struct {
	cfg          config.APIConfig
	secCfg       config.SecurityConfig
	logger       *logging.Logger
	device       *hnode.Device
	lifecycle    *lifecycle.Lifecycle
	metrics      *Metrics
	telemetry    OperationRecorder
	healthChecks map[string]HealthChecker
	audit        audit.Repository
	version      string

	router http.Handler

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Device == nil {
		return nil, fmt.Errorf("device is required")
	}
	if deps.Lifecycle == nil {
		return nil, fmt.Errorf("config lifecycle is required")
	}

	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}

	s := &Server{
		cfg:          deps.Config,
		secCfg:       deps.Security,
		logger:       deps.Logger,
		device:       deps.Device,
		lifecycle:    deps.Lifecycle,
		metrics:      metrics,
		telemetry:    deps.Telemetry,
		healthChecks: deps.HealthChecks,
		audit:        deps.Audit,
		version:      deps.Version,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the listener and serves in a background goroutine.
//
// Binding happens before Start returns, so an unusable address is reported
// to the caller rather than logged later.
//
// Returns:
//   - error: If the listener cannot be bound (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(s.cfg.Host, fmt.Sprint(s.cfg.Port)),
		Handler:           s.router,
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", srv.Addr, err)
	}
	s.server = srv
	s.addr = ln.Addr()

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("API server starting with TLS", "address", ln.Addr().String(), "cert", s.cfg.TLS.CertFile)
			err = srv.ServeTLS(ln, s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			s.logger.Info("API server starting", "address", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
