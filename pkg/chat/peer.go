// Package chat implements the client side of eurechat: the peer listener
// that accepts direct connections from other users, and the client core
// that drives the directory session and outbound peer traffic.
package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/internal/protocol"
	"github.com/SokratisVidros/eurechat/pkg/adapter"
	"github.com/SokratisVidros/eurechat/pkg/transport"
)

// MessageSink receives inbound chat traffic from peers. The prompt layer
// implements it to paint messages on screen.
type MessageSink interface {
	DisplayMessage(from, text string)
}

// MessageSinkFunc adapts a function to the MessageSink interface.
type MessageSinkFunc func(from, text string)

// DisplayMessage calls f.
func (f MessageSinkFunc) DisplayMessage(from, text string) { f(from, text) }

// PeerListener is the small server every chat client runs: it accepts peer
// connections on an OS-assigned port, answers PING with PONG, and hands
// inbound MESSAGEs to the sink. The port it lands on is what the client
// announces to the directory via BIND.
type PeerListener struct {
	username string
	sink     MessageSink
	listener *adapter.Listener
}

// NewPeerListener creates a peer listener for username on an ephemeral port
// of bindAddress.
func NewPeerListener(bindAddress, username string, sink MessageSink) *PeerListener {
	return &PeerListener{
		username: username,
		sink:     sink,
		listener: adapter.NewListener(adapter.Config{
			BindAddress: bindAddress,
			Port:        0,
			Backlog:     5,
		}, "peer"),
	}
}

// Start brings the listener up and returns the port it bound, or the bind
// error. The accept loop keeps running in the background until ctx is
// cancelled or Stop is called.
func (p *PeerListener) Start(ctx context.Context) (int, error) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- p.listener.Serve(ctx, adapter.ConnectionFactoryFunc(func(nc net.Conn) adapter.ConnectionHandler {
			return &peerConn{username: p.username, sink: p.sink, conn: transport.New(nc)}
		}))
	}()

	select {
	case err := <-errCh:
		if err == nil {
			err = fmt.Errorf("peer listener exited before becoming ready")
		}
		return 0, err
	case <-p.listener.Ready():
		return p.listener.BoundPort(), nil
	}
}

// Port returns the bound peer port.
func (p *PeerListener) Port() int {
	return p.listener.BoundPort()
}

// Stop shuts the listener down.
func (p *PeerListener) Stop() {
	_ = p.listener.Stop()
}

// peerConn serves one inbound peer connection. A peer may send a single
// message and hang up, or hold the connection open for many; both work.
type peerConn struct {
	username string
	sink     MessageSink
	conn     *transport.Conn
}

// Serve implements adapter.ConnectionHandler.
func (p *peerConn) Serve(ctx context.Context) {
	defer p.conn.Close()

	for {
		msg, err := p.conn.Recv()
		switch {
		case errors.Is(err, io.EOF):
			return
		case errors.Is(err, transport.ErrTimeout):
			logger.Debug("peer connection idle, closing", logger.KeyAddress, p.conn.RemoteAddr().String())
			return
		case err != nil:
			logger.Debug("peer receive failed", logger.Err(err))
			return
		}

		switch msg.Type {
		case protocol.TypePing:
			if err := p.conn.Send(protocol.TypePong, []string{p.username}, nil); err != nil {
				return
			}

		case protocol.TypeMessage:
			from := "unknown"
			if msg.Arity() > 0 {
				from = msg.Args[0]
			}
			p.sink.DisplayMessage(from, string(msg.Payload))

		default:
			// Not part of the peer protocol; drop the connection.
			logger.Debug("unexpected peer message", logger.Command(msg.Type))
			return
		}
	}
}
