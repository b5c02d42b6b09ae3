package directory

import (
	"context"
	"net"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/SokratisVidros/eurechat/pkg/adapter"
	"github.com/SokratisVidros/eurechat/pkg/metrics"
)

// Server defaults.
const (
	DefaultBindAddress = "127.0.0.1"
	DefaultPort        = 8888
	DefaultBacklog     = 15
)

// ServerConfig holds the directory server configuration.
type ServerConfig struct {
	BindAddress     string
	Port            int
	MaxConnections  int
	ShutdownTimeout time.Duration
	Checker         CheckerConfig
}

// Server is the directory service: an accept loop handing each connection
// to a fresh Session, plus the registry they share and the liveness checker
// that prunes it.
type Server struct {
	cfg      ServerConfig
	listener *adapter.Listener
	registry *Registry
	checker  *Checker
	metrics  metrics.DirectoryMetrics
}

// DefaultServerConfig returns the reference configuration: loopback on
// port 8888 with a 10s checker loop.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		BindAddress: DefaultBindAddress,
		Port:        DefaultPort,
		Checker: CheckerConfig{
			Interval:     DefaultCheckInterval,
			ProbeTimeout: DefaultProbeTimeout,
		},
	}
}

// NewServer assembles a directory server. The metrics recorder and clock
// may be nil (metrics disabled, real clock). Port 0 asks the OS for an
// ephemeral port, which tests rely on.
func NewServer(cfg ServerConfig, m metrics.DirectoryMetrics, clock clockwork.Clock) *Server {
	if cfg.BindAddress == "" {
		cfg.BindAddress = DefaultBindAddress
	}

	registry := NewRegistry(m)

	listener := adapter.NewListener(adapter.Config{
		BindAddress:     cfg.BindAddress,
		Port:            cfg.Port,
		Backlog:         DefaultBacklog,
		MaxConnections:  cfg.MaxConnections,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, "directory")
	if cm, ok := m.(adapter.ConnectionMetrics); ok {
		listener.Metrics = cm
	}

	return &Server{
		cfg:      cfg,
		listener: listener,
		registry: registry,
		checker:  NewChecker(registry, cfg.Checker, clock, m),
		metrics:  m,
	}
}

// Registry exposes the shared registry, mainly for tests and tooling.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Addr returns the bound listen address once Serve has started.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Serve starts the liveness checker and runs the accept loop until ctx is
// cancelled. Each accepted connection gets its own session goroutine;
// per-session failures never stop the loop.
func (s *Server) Serve(ctx context.Context) error {
	checkerCtx, stopChecker := context.WithCancel(ctx)
	defer stopChecker()
	go s.checker.Run(checkerCtx)

	return s.listener.Serve(ctx, adapter.ConnectionFactoryFunc(func(nc net.Conn) adapter.ConnectionHandler {
		return NewSession(nc, s.registry, s.metrics)
	}))
}

// Stop shuts the server down, waiting for in-flight sessions up to the
// configured timeout.
func (s *Server) Stop() error {
	return s.listener.Stop()
}
