package directory

import (
	"context"
	"errors"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/internal/protocol"
	"github.com/SokratisVidros/eurechat/pkg/metrics"
	"github.com/SokratisVidros/eurechat/pkg/transport"
)

// Checker configuration defaults.
const (
	DefaultCheckInterval = 10 * time.Second
	DefaultProbeTimeout  = transport.DefaultIdleTimeout
)

// CheckerConfig tunes the liveness checker.
type CheckerConfig struct {
	// Interval is the pause between sweeps. The first sweep runs after the
	// interval, not at startup.
	Interval time.Duration

	// ProbeTimeout bounds each probe's wait for a PONG.
	ProbeTimeout time.Duration

	// Parallelism is the number of concurrent probes per sweep. Values
	// below 2 probe serially.
	Parallelism int
}

// dialFunc opens a framed connection to a peer endpoint. Substituted in
// tests.
type dialFunc func(ctx context.Context, addr string) (*transport.Conn, error)

// Checker periodically verifies that every registered client still answers
// PING on its advertised endpoint, and deregisters the ones that do not.
// It runs inside the directory process and speaks the same peer protocol
// the clients speak among themselves.
//
// The checker never holds the registry lock across network I/O: each sweep
// works from a snapshot, and each probe re-checks that its user is still
// registered before dialing.
type Checker struct {
	registry *Registry
	cfg      CheckerConfig
	clock    clockwork.Clock
	metrics  metrics.DirectoryMetrics
	dial     dialFunc
}

// NewChecker creates a checker for the given registry. A nil clock uses the
// real clock; tests pass a clockwork fake to drive sweeps deterministically.
func NewChecker(registry *Registry, cfg CheckerConfig, clock clockwork.Clock, m metrics.DirectoryMetrics) *Checker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultCheckInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	c := &Checker{
		registry: registry,
		cfg:      cfg,
		clock:    clock,
		metrics:  m,
	}
	c.dial = func(ctx context.Context, addr string) (*transport.Conn, error) {
		return transport.Dial(ctx, addr, transport.WithIdleTimeout(cfg.ProbeTimeout))
	}
	return c
}

// Run sweeps the registry every interval until ctx is cancelled. Blocks;
// run it on its own goroutine.
func (c *Checker) Run(ctx context.Context) {
	ticker := c.clock.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.Sweep(ctx)
		}
	}
}

// Sweep probes every registered user once. Exported so tests and operators
// can force a pass outside the timer.
func (c *Checker) Sweep(ctx context.Context) {
	records := c.registry.Snapshot()
	logger.Debug("checker sweep", logger.Users(len(records)))

	if c.cfg.Parallelism > 1 {
		pool := pond.NewPool(c.cfg.Parallelism)
		for _, rec := range records {
			pool.Submit(func() { c.probeUser(ctx, rec.Username) })
		}
		pool.StopAndWait()
		return
	}

	for _, rec := range records {
		c.probeUser(ctx, rec.Username)
	}
}

// probeUser dials the user's advertised endpoint, sends PING, and waits for
// PONG. Anything else — connect failure, timeout, wrong reply — deregisters
// the user.
func (c *Checker) probeUser(ctx context.Context, username string) {
	// The record may be gone by the time this probe runs.
	rec, ok := c.registry.Query(username)
	if !ok {
		return
	}

	log := logger.With(logger.KeyUsername, username, logger.KeyEndpoint, rec.Endpoint.Addr())

	conn, err := c.dial(ctx, rec.Endpoint.Addr())
	if err != nil {
		log.Error("USER unreachable", logger.Err(err))
		c.fail(username, "unreachable")
		return
	}
	defer conn.Close()

	log.Debug("sending ping")
	if err := conn.Send(protocol.TypePing, nil, nil); err != nil {
		log.Error("USER ping failed", logger.Err(err))
		c.fail(username, "unreachable")
		return
	}

	msg, err := conn.Recv()
	switch {
	case errors.Is(err, transport.ErrTimeout):
		log.Error("USER probe timed out")
		c.fail(username, "timeout")
	case err != nil:
		log.Error("USER probe failed", logger.Err(err))
		c.fail(username, "unreachable")
	case msg.Type != protocol.TypePong:
		log.Error("USER sent no PONG", logger.Command(msg.Type))
		c.fail(username, "no_pong")
	default:
		log.Info("USER OK")
		if c.metrics != nil {
			c.metrics.RecordProbe("ok")
		}
	}
}

func (c *Checker) fail(username, result string) {
	if c.metrics != nil {
		c.metrics.RecordProbe(result)
	}
	c.registry.Deregister(username)
}
