package directory

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SokratisVidros/eurechat/internal/protocol"
	"github.com/SokratisVidros/eurechat/pkg/transport"
)

// startResponder runs a minimal peer listener that answers every PING with
// the given reply type. Returns its port.
func startResponder(t *testing.T, replyType string) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			go func(nc net.Conn) {
				conn := transport.New(nc)
				defer conn.Close()
				msg, err := conn.Recv()
				if err != nil || msg.Type != protocol.TypePing {
					return
				}
				_ = conn.Send(replyType, []string{"responder"}, nil)
			}(nc)
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// closedPort returns a loopback port with nothing listening on it.
func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestSweepKeepsResponsiveUser(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("alice", "127.0.0.1", startResponder(t, protocol.TypePong))

	c := NewChecker(reg, CheckerConfig{ProbeTimeout: time.Second}, nil, nil)
	c.Sweep(context.Background())

	_, ok := reg.Query("alice")
	assert.True(t, ok, "a user answering PONG stays registered")
}

func TestSweepDeregistersUnreachableUser(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("alice", "127.0.0.1", startResponder(t, protocol.TypePong))
	reg.Register("bob", "127.0.0.1", closedPort(t))

	c := NewChecker(reg, CheckerConfig{ProbeTimeout: time.Second}, nil, nil)
	c.Sweep(context.Background())

	_, ok := reg.Query("alice")
	assert.True(t, ok)
	_, ok = reg.Query("bob")
	assert.False(t, ok, "a dead endpoint must be deregistered")
}

func TestSweepDeregistersWrongReply(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("impostor", "127.0.0.1", startResponder(t, protocol.TypeAck))

	c := NewChecker(reg, CheckerConfig{ProbeTimeout: time.Second}, nil, nil)
	c.Sweep(context.Background())

	_, ok := reg.Query("impostor")
	assert.False(t, ok, "a non-PONG reply counts as failure")
}

func TestSweepDeregistersSilentPeer(t *testing.T) {
	// Listener accepts but never replies; the probe must time out.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			if _, err := ln.Accept(); err != nil {
				return
			}
		}
	}()

	reg := NewRegistry(nil)
	reg.Register("mute", "127.0.0.1", ln.Addr().(*net.TCPAddr).Port)

	c := NewChecker(reg, CheckerConfig{ProbeTimeout: 100 * time.Millisecond}, nil, nil)
	c.Sweep(context.Background())

	_, ok := reg.Query("mute")
	assert.False(t, ok, "a silent peer must be deregistered on timeout")
}

func TestSweepParallelProbes(t *testing.T) {
	reg := NewRegistry(nil)
	alivePort := startResponder(t, protocol.TypePong)
	for _, name := range []string{"a", "b", "c", "d"} {
		reg.Register(name, "127.0.0.1", alivePort)
	}
	reg.Register("dead", "127.0.0.1", closedPort(t))

	c := NewChecker(reg, CheckerConfig{ProbeTimeout: time.Second, Parallelism: 4}, nil, nil)
	c.Sweep(context.Background())

	assert.Equal(t, 4, reg.Count())
	_, ok := reg.Query("dead")
	assert.False(t, ok)
}

func TestRunSweepsOnTicks(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("ghost", "127.0.0.1", closedPort(t))

	clock := clockwork.NewFakeClock()
	c := NewChecker(reg, CheckerConfig{Interval: 10 * time.Second, ProbeTimeout: time.Second}, clock, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	// The first sweep happens after the interval, not at startup.
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 1, reg.Count())

	clock.Advance(10 * time.Second)

	assert.Eventually(t, func() bool {
		return reg.Count() == 0
	}, 2*time.Second, 10*time.Millisecond, "tick must trigger a sweep that prunes the dead user")
}
