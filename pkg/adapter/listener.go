package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SokratisVidros/eurechat/internal/logger"
)

// Listener runs the shared TCP accept loop.
//
// Lifecycle: construct with NewListener, then call Serve. Serve returns nil
// after a graceful shutdown (ctx cancelled or Stop called) and an error if
// the listening socket could not be created or in-flight connections had to
// be force-closed.
//
// All exported methods are safe for concurrent use; shutdown is idempotent.
type Listener struct {
	Config Config

	// name identifies the listener in logs ("directory", "peer").
	name string

	// Metrics optionally records connection lifecycle events.
	Metrics ConnectionMetrics

	ln         net.Listener
	lnMu       sync.RWMutex
	ready      chan struct{}
	shutdown   chan struct{}
	once       sync.Once
	conns      sync.WaitGroup
	connCount  atomic.Int32
	active     sync.Map // remote addr -> net.Conn, for forced closure
	semaphore  chan struct{}
	serveCtx   context.Context
	cancelSrv  context.CancelFunc
}

// NewListener creates a listener in a stopped state. Call Serve to start.
func NewListener(cfg Config, name string) *Listener {
	var sem chan struct{}
	if cfg.MaxConnections > 0 {
		sem = make(chan struct{}, cfg.MaxConnections)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{
		Config:    cfg,
		name:      name,
		ready:     make(chan struct{}),
		shutdown:  make(chan struct{}),
		semaphore: sem,
		serveCtx:  ctx,
		cancelSrv: cancel,
	}
}

// Serve binds the listening socket and accepts connections until shutdown,
// handing each accepted socket to a handler built by factory. Accept errors
// other than shutdown are logged and swallowed; the loop continues.
func (l *Listener) Serve(ctx context.Context, factory ConnectionFactory) error {
	addr := fmt.Sprintf("%s:%d", l.Config.BindAddress, l.Config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%s listener on %s: %w", l.name, addr, err)
	}

	l.lnMu.Lock()
	l.ln = ln
	l.lnMu.Unlock()
	close(l.ready)

	logger.Info(l.name+" listening", logger.KeyAddress, ln.Addr().String())

	go func() {
		<-ctx.Done()
		l.initiateShutdown()
	}()

	for {
		if l.semaphore != nil {
			select {
			case l.semaphore <- struct{}{}:
			case <-l.shutdown:
				return l.drain()
			}
		}

		nc, err := ln.Accept()
		if err != nil {
			if l.semaphore != nil {
				<-l.semaphore
			}
			select {
			case <-l.shutdown:
				return l.drain()
			default:
				logger.Debug(l.name+" accept error", logger.Err(err))
				continue
			}
		}

		if tcp, ok := nc.(*net.TCPConn); ok {
			_ = tcp.SetNoDelay(true)
		}

		l.conns.Add(1)
		count := l.connCount.Add(1)
		remote := nc.RemoteAddr().String()
		l.active.Store(remote, nc)

		if l.Metrics != nil {
			l.Metrics.RecordConnectionAccepted()
			l.Metrics.SetActiveConnections(count)
		}
		logger.Debug(l.name+" connection accepted", logger.KeyAddress, remote, "active", count)

		handler := factory.NewConnection(nc)
		go func(remote string) {
			defer func() {
				l.active.Delete(remote)
				l.conns.Done()
				remaining := l.connCount.Add(-1)
				if l.semaphore != nil {
					<-l.semaphore
				}
				if l.Metrics != nil {
					l.Metrics.RecordConnectionClosed()
					l.Metrics.SetActiveConnections(remaining)
				}
				logger.Debug(l.name+" connection closed", logger.KeyAddress, remote, "active", remaining)
			}()
			handler.Serve(l.serveCtx)
		}(remote)
	}
}

// Stop initiates shutdown and waits for in-flight connections up to the
// configured timeout. Safe to call multiple times and concurrently with
// Serve.
func (l *Listener) Stop() error {
	l.initiateShutdown()
	return l.drain()
}

// initiateShutdown closes the listening socket, interrupts blocking reads,
// and cancels the per-connection contexts. Runs at most once.
func (l *Listener) initiateShutdown() {
	l.once.Do(func() {
		close(l.shutdown)

		l.lnMu.Lock()
		if l.ln != nil {
			_ = l.ln.Close()
		}
		l.lnMu.Unlock()

		// Unblock reads stuck inside handler Recvs.
		deadline := time.Now().Add(100 * time.Millisecond)
		l.active.Range(func(_, value any) bool {
			if nc, ok := value.(net.Conn); ok {
				_ = nc.SetReadDeadline(deadline)
			}
			return true
		})

		l.cancelSrv()
	})
}

// drain waits for connection handlers to finish, force-closing leftovers
// after the shutdown timeout.
func (l *Listener) drain() error {
	timeout := l.Config.ShutdownTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	done := make(chan struct{})
	go func() {
		l.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info(l.name + " shut down cleanly")
		return nil
	case <-time.After(timeout):
		remaining := l.connCount.Load()
		logger.Warn(l.name+" shutdown timeout, force-closing", "active", remaining)
		l.active.Range(func(_, value any) bool {
			if nc, ok := value.(net.Conn); ok {
				_ = nc.Close()
				if l.Metrics != nil {
					l.Metrics.RecordConnectionForceClosed()
				}
			}
			return true
		})
		return fmt.Errorf("%s shutdown timeout: %d connections force-closed", l.name, remaining)
	}
}

// Ready returns a channel closed once the listening socket exists. Callers
// that need to know whether startup succeeded should select on Ready and on
// the error from Serve.
func (l *Listener) Ready() <-chan struct{} {
	return l.ready
}

// Addr returns the bound listener address, blocking until Serve has created
// the socket. With Port 0 this is how callers learn the ephemeral port.
func (l *Listener) Addr() net.Addr {
	<-l.ready

	l.lnMu.RLock()
	defer l.lnMu.RUnlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// BoundPort returns the TCP port the listener is accepting on.
func (l *Listener) BoundPort() int {
	addr, ok := l.Addr().(*net.TCPAddr)
	if !ok {
		return 0
	}
	return addr.Port
}

// ActiveConnections returns the current number of live connections.
func (l *Listener) ActiveConnections() int32 {
	return l.connCount.Load()
}
