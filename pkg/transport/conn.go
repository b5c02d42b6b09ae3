// Package transport wraps a byte-stream socket with message-oriented
// send/receive semantics for the eurechat wire protocol. A Conn owns a
// reassembly buffer so that messages split across TCP segments, or packed
// back to back into a single segment, are delivered one at a time.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/internal/protocol"
)

const (
	// DefaultIdleTimeout is how long a Recv waits for traffic before giving
	// up on the remote side. The directory closes sessions that stay idle
	// past this.
	DefaultIdleTimeout = 30 * time.Second

	// readChunkSize is the per-read buffer handed to the socket.
	readChunkSize = 1024
)

var (
	// ErrTimeout reports that a Recv exceeded the idle timeout without a
	// complete message arriving. It is distinct from I/O failure so callers
	// can close with an idle reason instead of an error.
	ErrTimeout = errors.New("transport: read timed out")

	// ErrClosed reports an operation on a connection already closed locally.
	ErrClosed = errors.New("transport: connection closed")
)

// Conn is a framed connection. It is not safe for concurrent use; each
// connection belongs to exactly one goroutine, matching the one-goroutine-
// per-connection model used throughout.
type Conn struct {
	nc          net.Conn
	buf         []byte
	idleTimeout time.Duration
	closed      bool
	log         *slog.Logger
	debug       bool
}

// Option customizes a Conn.
type Option func(*Conn)

// WithIdleTimeout overrides the 30s idle read timeout. Mostly for tests.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Conn) { c.idleTimeout = d }
}

// New wraps an established net.Conn in a framed connection.
func New(nc net.Conn, opts ...Option) *Conn {
	c := &Conn{
		nc:          nc,
		idleTimeout: DefaultIdleTimeout,
		log:         logger.With(logger.KeyAddress, nc.RemoteAddr().String()),
		debug:       os.Getenv("EURECHAT_DEBUG") == "wire",
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log.Debug("new connection")
	return c
}

// RemoteAddr returns the remote address of the underlying socket.
func (c *Conn) RemoteAddr() net.Addr {
	return c.nc.RemoteAddr()
}

// LocalAddr returns the local address of the underlying socket.
func (c *Conn) LocalAddr() net.Addr {
	return c.nc.LocalAddr()
}

// Send serializes one message and writes it out in full. net.Conn retries
// short writes internally, so a nil error means the whole frame was handed
// to the kernel.
func (c *Conn) Send(typ string, args []string, payload []byte) error {
	if c.closed {
		return ErrClosed
	}

	frame := protocol.New(typ, args, payload).Serialize()
	if c.debug {
		fmt.Fprintf(os.Stderr, "wire out: %q\n", frame)
	}
	if _, err := c.nc.Write(frame); err != nil {
		c.log.Debug("send failed", logger.Command(typ), logger.Err(err))
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Recv returns the next complete message from the connection.
//
// Outcomes are distinguished by error value: io.EOF when the remote side
// closed with nothing buffered, ErrTimeout when the idle timeout expired,
// protocol.ErrFraming when the stream cannot be parsed, and other errors
// for I/O failure. The reassembly buffer survives across calls, so a
// message split over several reads is completed by later Recvs.
func (c *Conn) Recv() (*protocol.Message, error) {
	if c.closed {
		return nil, ErrClosed
	}

	for {
		// A complete message may already be buffered from a previous read.
		msg, n, err := protocol.Parse(c.buf)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			c.buf = c.buf[n:]
			if c.debug {
				fmt.Fprintf(os.Stderr, "wire in: %s\n", msg)
			}
			return msg, nil
		}

		if err := c.nc.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}

		chunk := make([]byte, readChunkSize)
		n, rerr := c.nc.Read(chunk)
		if n > 0 {
			c.buf = append(c.buf, chunk[:n]...)
		}
		if rerr != nil {
			if n > 0 {
				// Data arrived along with the error; give the parser a
				// chance at it before surfacing anything.
				continue
			}
			var nerr net.Error
			if errors.As(rerr, &nerr) && nerr.Timeout() {
				return nil, ErrTimeout
			}
			// EOF (or reset) with a partial message buffered is a framing
			// problem for the caller either way; surface the read error.
			return nil, rerr
		}
	}
}

// Close shuts the connection down. With a failure reason, it first makes a
// best-effort attempt to send an ERR message carrying the reason as its
// payload, the way the directory reports why it is hanging up.
func (c *Conn) Close(failure ...string) error {
	if c.closed {
		return nil
	}
	if len(failure) > 0 && failure[0] != "" {
		c.log.Debug("closing with failure", logger.Reason(failure[0]))
		_ = c.Send(protocol.TypeErr, nil, []byte(failure[0]))
	}
	c.closed = true
	c.log.Debug("closing connection")
	return c.nc.Close()
}
