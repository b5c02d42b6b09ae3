package adapter

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler reads one line worth of bytes and writes them back.
type echoHandler struct {
	nc     net.Conn
	served *atomic.Int32
}

func (h *echoHandler) Serve(ctx context.Context) {
	defer h.nc.Close()
	h.served.Add(1)

	buf := make([]byte, 64)
	n, err := h.nc.Read(buf)
	if err != nil {
		return
	}
	_, _ = h.nc.Write(buf[:n])
}

func startEchoListener(t *testing.T) (*Listener, *atomic.Int32, context.CancelFunc) {
	t.Helper()

	served := new(atomic.Int32)
	l := NewListener(Config{
		BindAddress:     "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
	}, "echo")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- l.Serve(ctx, ConnectionFactoryFunc(func(nc net.Conn) ConnectionHandler {
			return &echoHandler{nc: nc, served: served}
		}))
	}()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("listener did not stop")
		}
	})

	return l, served, cancel
}

func TestListenerServesConnections(t *testing.T) {
	l, served, _ := startEchoListener(t)

	addr := l.Addr().String()
	require.NotEmpty(t, addr)
	assert.NotZero(t, l.BoundPort(), "ephemeral port must be resolved")

	for i := 0; i < 3; i++ {
		nc, err := net.Dial("tcp", addr)
		require.NoError(t, err)

		_, err = nc.Write([]byte("ping"))
		require.NoError(t, err)

		buf := make([]byte, 4)
		_, err = nc.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, "ping", string(buf))
		_ = nc.Close()
	}

	assert.Eventually(t, func() bool {
		return served.Load() == 3
	}, time.Second, 10*time.Millisecond)
}

func TestListenerGracefulShutdown(t *testing.T) {
	l, _, cancel := startEchoListener(t)
	addr := l.Addr().String()

	cancel()

	// Once shut down, new connections must be refused.
	assert.Eventually(t, func() bool {
		nc, err := net.Dial("tcp", addr)
		if err != nil {
			return true
		}
		_ = nc.Close()
		return false
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(0), l.ActiveConnections())
}

func TestListenerStopIsIdempotent(t *testing.T) {
	l, _, _ := startEchoListener(t)
	_ = l.Addr()

	require.NoError(t, l.Stop())
	require.NoError(t, l.Stop())
}

func TestListenerMaxConnections(t *testing.T) {
	blocked := make(chan struct{})
	l := NewListener(Config{
		BindAddress:     "127.0.0.1",
		MaxConnections:  1,
		ShutdownTimeout: time.Second,
	}, "limited")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = l.Serve(ctx, ConnectionFactoryFunc(func(nc net.Conn) ConnectionHandler {
			return handlerFunc(func(context.Context) {
				<-blocked
				_ = nc.Close()
			})
		}))
	}()

	addr := l.Addr().String()

	first, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer first.Close()

	// The first connection holds the only slot.
	assert.Eventually(t, func() bool {
		return l.ActiveConnections() == 1
	}, time.Second, 10*time.Millisecond)

	second, err := net.Dial("tcp", addr)
	require.NoError(t, err, "dial succeeds; accept is what stalls")
	defer second.Close()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), l.ActiveConnections(), "second connection must wait for a slot")

	close(blocked)
	assert.Eventually(t, func() bool {
		return l.ActiveConnections() == 0
	}, time.Second, 10*time.Millisecond)
}

type handlerFunc func(ctx context.Context)

func (f handlerFunc) Serve(ctx context.Context) { f(ctx) }
