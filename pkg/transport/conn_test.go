package transport

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SokratisVidros/eurechat/internal/protocol"
)

// pipePair returns two framed connections joined back to back.
func pipePair(t *testing.T, opts ...Option) (*Conn, *Conn) {
	t.Helper()
	p1, p2 := net.Pipe()
	a := New(p1, opts...)
	b := New(p2, opts...)
	t.Cleanup(func() {
		_ = a.Close()
		_ = b.Close()
	})
	return a, b
}

func TestSendRecv(t *testing.T) {
	a, b := pipePair(t)

	go func() {
		_ = a.Send(protocol.TypeMessage, []string{"alice"}, []byte("hello bob"))
	}()

	msg, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeMessage, msg.Type)
	assert.Equal(t, []string{"alice"}, msg.Args)
	assert.Equal(t, "hello bob", string(msg.Payload))
}

func TestRecvReassemblesSplitFrames(t *testing.T) {
	p1, p2 := net.Pipe()
	c := New(p2)
	t.Cleanup(func() { _ = c.Close(); _ = p1.Close() })

	frame := protocol.New(protocol.TypeAck, nil, []byte("successfully authenticated")).Serialize()

	go func() {
		// Dribble the frame out in three writes.
		third := len(frame) / 3
		_, _ = p1.Write(frame[:third])
		time.Sleep(10 * time.Millisecond)
		_, _ = p1.Write(frame[third : 2*third])
		time.Sleep(10 * time.Millisecond)
		_, _ = p1.Write(frame[2*third:])
	}()

	msg, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeAck, msg.Type)
	assert.Equal(t, "successfully authenticated", string(msg.Payload))
}

func TestRecvSplitsBackToBackFrames(t *testing.T) {
	p1, p2 := net.Pipe()
	c := New(p2)
	t.Cleanup(func() { _ = c.Close(); _ = p1.Close() })

	var wire []byte
	wire = append(wire, protocol.New(protocol.TypePing, []string{"alice"}, nil).Serialize()...)
	wire = append(wire, protocol.New(protocol.TypePong, []string{"bob"}, nil).Serialize()...)

	go func() {
		_, _ = p1.Write(wire)
	}()

	first, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePing, first.Type)

	// The second message is already buffered; no further read needed.
	second, err := c.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypePong, second.Type)
	assert.Equal(t, []string{"bob"}, second.Args)
}

func TestRecvEndOfStream(t *testing.T) {
	a, b := pipePair(t)

	go func() { _ = a.Close() }()

	_, err := b.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestRecvTimeoutIsDistinct(t *testing.T) {
	_, b := pipePair(t, WithIdleTimeout(30*time.Millisecond))

	_, err := b.Recv()
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRecvFramingError(t *testing.T) {
	p1, p2 := net.Pipe()
	c := New(p2)
	t.Cleanup(func() { _ = c.Close(); _ = p1.Close() })

	go func() {
		_, _ = p1.Write([]byte("HELLO world\n"))
	}()

	_, err := c.Recv()
	assert.ErrorIs(t, err, protocol.ErrFraming)
}

func TestCloseWithReasonSendsErr(t *testing.T) {
	a, b := pipePair(t)

	go func() {
		_ = a.Close("invalid bind notification")
	}()

	msg, err := b.Recv()
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeErr, msg.Type)
	assert.Equal(t, "invalid bind notification", string(msg.Payload))

	_, err = b.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSendAfterCloseFails(t *testing.T) {
	a, _ := pipePair(t)

	require.NoError(t, a.Close())
	err := a.Send(protocol.TypePing, nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDialAndProbe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			nc, err := ln.Accept()
			if err != nil {
				return
			}
			_ = nc.Close()
		}
	}()

	ctx := context.Background()

	require.NoError(t, Probe(ctx, ln.Addr().String()))

	c, err := Dial(ctx, ln.Addr().String())
	require.NoError(t, err)
	_ = c.Close()

	// A closed listener no longer passes the probe.
	_ = ln.Close()
	assert.Error(t, Probe(ctx, ln.Addr().String()))
}
