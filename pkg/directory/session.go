package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/internal/protocol"
	"github.com/SokratisVidros/eurechat/pkg/metrics"
	"github.com/SokratisVidros/eurechat/pkg/transport"
)

// State is the per-session authentication state. Transitions are one-way
// toward StateClosed.
type State int

const (
	StateAwaitingUser State = iota
	StateAwaitingPass
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingUser:
		return "AWAITING_USER"
	case StateAwaitingPass:
		return "AWAITING_PASS"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// probeFunc checks that a client endpoint accepts TCP connections. Sessions
// default to transport.Probe; tests substitute their own.
type probeFunc func(ctx context.Context, addr string) error

// Session handles one accepted directory connection: the USER/PASS
// handshake followed by the authenticated BIND/QUERY/LEAVE command loop.
// Any unexpected message, wrong-arity command, or I/O failure closes the
// connection, with an ERR carrying a human-readable reason when there is
// one to give.
//
// A session that simply loses its socket does not deregister its user; the
// record stays until a LEAVE or until the liveness checker finds the peer
// endpoint unreachable.
type Session struct {
	conn     *transport.Conn
	registry *Registry
	probe    probeFunc
	metrics  metrics.DirectoryMetrics
	log      *slog.Logger

	state    State
	username string
	bindAddr string
	bindPort int
}

// NewSession wraps an accepted socket in a session handler.
func NewSession(nc net.Conn, registry *Registry, m metrics.DirectoryMetrics) *Session {
	return &Session{
		conn:     transport.New(nc),
		registry: registry,
		probe:    transport.Probe,
		metrics:  m,
		log:      logger.With(logger.KeyAddress, nc.RemoteAddr().String()),
		state:    StateAwaitingUser,
	}
}

// Serve runs the session until it closes. Implements adapter.ConnectionHandler.
func (s *Session) Serve(ctx context.Context) {
	defer func() { s.state = StateClosed }()

	if !s.authenticate(ctx) {
		return
	}
	s.commandLoop(ctx)
}

// authenticate drives the USER/PASS handshake. Returns true once the
// session reaches StateAuthenticated.
func (s *Session) authenticate(ctx context.Context) bool {
	msg, ok := s.recv()
	if !ok {
		return false
	}
	if msg.Type != protocol.TypeUser || msg.Arity() != 1 {
		s.close("a 'USER <username>' command was expected!", "protocol")
		return false
	}
	s.username = msg.Args[0]
	s.log = s.log.With(logger.KeyUsername, s.username)
	if !s.send(protocol.TypeAck, nil, fmt.Sprintf("hi %s, authentication required", s.username)) {
		return false
	}
	s.state = StateAwaitingPass

	msg, ok = s.recv()
	if !ok {
		return false
	}
	if msg.Type != protocol.TypePass || msg.Arity() != 1 {
		s.close("a 'PASS <password>' command was expected!", "protocol")
		return false
	}
	if !s.registry.Login(s.username, msg.Args[0]) {
		if s.metrics != nil {
			s.metrics.RecordAuthFailure()
		}
		s.close("authentication failed", "auth")
		return false
	}
	if !s.send(protocol.TypeAck, nil, "successfully authenticated") {
		return false
	}
	s.state = StateAuthenticated
	s.log.Debug("session authenticated")
	return true
}

// commandLoop handles the authenticated command stream. The client may send
// any sequence of BIND, QUERY, and LEAVE; LEAVE keeps the session alive so
// a client can rebind later without reconnecting.
func (s *Session) commandLoop(ctx context.Context) {
	for {
		msg, ok := s.recv()
		if !ok {
			return
		}
		if s.metrics != nil {
			s.metrics.RecordCommand(msg.Type)
		}

		switch {
		case msg.Type == protocol.TypeBind && msg.Arity() == 2:
			if !s.handleBind(ctx, msg.Args[0], msg.Args[1]) {
				return
			}

		case msg.Type == protocol.TypeQuery && msg.Arity() <= 1:
			if !s.handleQuery(msg.Args) {
				return
			}

		case msg.Type == protocol.TypeLeave && msg.Arity() == 0:
			s.registry.Deregister(s.username)
			if !s.send(protocol.TypeAck, nil, "deregistered from directory") {
				return
			}

		default:
			s.close(fmt.Sprintf("I did not understand the message %s", msg.Type), "protocol")
			return
		}
	}
}

// handleBind validates the announced endpoint, reverse-probes it, and
// registers the user. A failed port test closes the session.
func (s *Session) handleBind(ctx context.Context, address, portArg string) bool {
	port, err := strconv.Atoi(portArg)
	if err != nil || port < 1 || port > 65535 {
		s.close("invalid bind notification", "protocol")
		return false
	}
	s.bindAddr = address
	s.bindPort = port

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = s.probe(probeCtx, s.bindEndpoint())
	cancel()
	if err != nil {
		s.log.Error("port test failed", logger.KeyEndpoint, s.bindEndpoint(), logger.Err(err))
		s.close("invalid bind notification", "protocol")
		return false
	}
	s.log.Debug("port test successful", logger.KeyEndpoint, s.bindEndpoint())

	s.registry.Register(s.username, s.bindAddr, s.bindPort)
	return s.send(protocol.TypeAck, nil,
		fmt.Sprintf("bound successfully to %s:%d", s.bindAddr, s.bindPort))
}

// handleQuery answers QUERY with a RESULT listing every matching record as
// "username,address,port", newline-joined.
func (s *Session) handleQuery(args []string) bool {
	var records []Record
	if len(args) == 1 {
		if rec, ok := s.registry.Query(args[0]); ok {
			records = append(records, rec)
		}
	} else {
		records = s.registry.Snapshot()
	}

	lines := make([]string, 0, len(records))
	for _, rec := range records {
		lines = append(lines, fmt.Sprintf("%s,%s,%d", rec.Username, rec.Endpoint.Address, rec.Endpoint.Port))
	}
	return s.send(protocol.TypeResult, nil, strings.Join(lines, "\n"))
}

func (s *Session) bindEndpoint() string {
	return fmt.Sprintf("%s:%d", s.bindAddr, s.bindPort)
}

// recv reads the next message, mapping each failure mode to its close
// behavior. A false return means the session is over.
func (s *Session) recv() (*protocol.Message, bool) {
	msg, err := s.conn.Recv()
	switch {
	case err == nil:
		return msg, true
	case errors.Is(err, transport.ErrTimeout):
		s.close("shutting down idle connection (timeout)", "idle")
	case errors.Is(err, io.EOF):
		s.closeSilent("eof")
	case errors.Is(err, protocol.ErrFraming):
		s.log.Error("framing error", logger.Err(err))
		s.closeSilent("framing")
	default:
		s.log.Error("receive failed", logger.Err(err))
		s.closeSilent("error")
	}
	return nil, false
}

// send writes one message; on failure the session closes without a reason,
// since the socket is already gone.
func (s *Session) send(typ string, args []string, payload string) bool {
	if err := s.conn.Send(typ, args, []byte(payload)); err != nil {
		s.log.Debug("send failed", logger.Command(typ), logger.Err(err))
		s.closeSilent("error")
		return false
	}
	return true
}

// close ends the session with an ERR explaining why.
func (s *Session) close(reason, cause string) {
	_ = s.conn.Close(reason)
	s.finish(cause)
}

// closeSilent ends the session without an ERR.
func (s *Session) closeSilent(cause string) {
	_ = s.conn.Close()
	s.finish(cause)
}

func (s *Session) finish(cause string) {
	if s.metrics != nil {
		s.metrics.RecordSessionClosed(cause)
	}
	s.state = StateClosed
}
