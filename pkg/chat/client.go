package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jellydator/ttlcache/v3"

	"github.com/SokratisVidros/eurechat/internal/logger"
	"github.com/SokratisVidros/eurechat/internal/protocol"
	"github.com/SokratisVidros/eurechat/pkg/directory"
	"github.com/SokratisVidros/eurechat/pkg/transport"
)

// DefaultCacheTTL bounds how long a cached user record is trusted. A stale
// entry only costs a failed connect, so the TTL is generous.
const DefaultCacheTTL = 5 * time.Minute

var (
	// ErrNoUserList is returned by peer commands before any QUERY has
	// populated the local user cache.
	ErrNoUserList = errors.New("Use the list command to see the online users")

	// ErrNotConnected is returned when the directory session is down and
	// could not be re-established.
	ErrNotConnected = errors.New("not connected to the directory")
)

// userRecordRe matches one "<name>,<ipv4>,<port>" record in a RESULT
// payload. Parsing is tolerant: the payload is split on any whitespace and
// tokens that do not match are skipped.
var userRecordRe = regexp.MustCompile(`^([a-zA-Z0-9]+),([0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}),([0-9]+)$`)

// Config holds chat client parameters.
type Config struct {
	// DirectoryAddr is the host:port of the directory service.
	DirectoryAddr string

	// Username and Password identify this client to the directory.
	Username string
	Password string

	// BindAddress is the local address the peer listener binds and the
	// address announced in BIND. Defaults to 127.0.0.1.
	BindAddress string

	// CacheTTL overrides DefaultCacheTTL for the local user cache.
	CacheTTL time.Duration
}

// Client is the chat client core. It keeps one long-lived directory session
// for authenticate/bind/query/leave, runs the peer listener for inbound
// traffic, and opens a fresh peer connection for each outbound chat or
// ping.
//
// Client methods are driven by the user-input loop only; the peer listener
// runs its own goroutines but never touches the user cache or the directory
// session.
type Client struct {
	cfg       Config
	listener  *PeerListener
	dir       *transport.Conn
	users     *ttlcache.Cache[string, directory.Endpoint]
	peerPort  int
	closeOnce sync.Once
}

// NewClient creates a client. The sink receives messages delivered by other
// peers to this client's listener.
func NewClient(cfg Config, sink MessageSink) *Client {
	if cfg.BindAddress == "" {
		cfg.BindAddress = "127.0.0.1"
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}

	users := ttlcache.New(
		ttlcache.WithTTL[string, directory.Endpoint](cfg.CacheTTL),
	)
	go users.Start()

	return &Client{
		cfg:      cfg,
		listener: NewPeerListener(cfg.BindAddress, cfg.Username, sink),
		users:    users,
	}
}

// Start brings the client online: peer listener first, then the directory
// session (authenticate followed by bind). The listener must be up before
// BIND or the directory's port test would reject us.
func (c *Client) Start(ctx context.Context) error {
	port, err := c.listener.Start(ctx)
	if err != nil {
		return fmt.Errorf("start peer listener: %w", err)
	}
	c.peerPort = port
	logger.Info("peer listener up", logger.Port(port))

	return c.connect(ctx)
}

// connect dials the directory, authenticates, and binds.
func (c *Client) connect(ctx context.Context) error {
	conn, err := transport.Dial(ctx, c.cfg.DirectoryAddr)
	if err != nil {
		return fmt.Errorf("connect directory: %w", err)
	}

	if err := c.authenticate(conn); err != nil {
		_ = conn.Close()
		return err
	}
	if err := c.bind(conn); err != nil {
		_ = conn.Close()
		return err
	}

	c.dir = conn
	logger.Info("directory session established",
		logger.KeyAddress, c.cfg.DirectoryAddr, logger.Username(c.cfg.Username))
	return nil
}

// authenticate performs the USER/PASS handshake on conn.
func (c *Client) authenticate(conn *transport.Conn) error {
	if err := conn.Send(protocol.TypeUser, []string{c.cfg.Username}, nil); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	reply, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if reply.Type != protocol.TypeAck {
		return fmt.Errorf("authenticate: unable to login: %s", reply.Payload)
	}

	if err := conn.Send(protocol.TypePass, []string{c.cfg.Password}, nil); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	reply, err = conn.Recv()
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if reply.Type != protocol.TypeAck {
		return fmt.Errorf("authenticate: invalid credentials: %s", reply.Payload)
	}
	return nil
}

// bind announces the peer listener endpoint to the directory.
func (c *Client) bind(conn *transport.Conn) error {
	args := []string{c.cfg.BindAddress, strconv.Itoa(c.peerPort)}
	if err := conn.Send(protocol.TypeBind, args, nil); err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	reply, err := conn.Recv()
	if err != nil {
		return fmt.Errorf("bind: %w", err)
	}
	if reply.Type == protocol.TypeErr {
		return fmt.Errorf("bind: port binding was not successful: %s", reply.Payload)
	}
	return nil
}

// ensureSession re-establishes the directory session if it was lost,
// re-authenticating and re-binding from scratch with exponential backoff.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.dir != nil {
		return nil
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.connect(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(4))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// dropSession discards a broken directory connection so the next command
// reconnects.
func (c *Client) dropSession() {
	if c.dir != nil {
		_ = c.dir.Close()
		c.dir = nil
	}
}

// List queries the directory, merges the result into the user cache, and
// returns the records. An empty username lists everyone.
func (c *Client) List(ctx context.Context, username string) ([]directory.Record, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	var args []string
	if username != "" {
		args = []string{username}
	}
	if err := c.dir.Send(protocol.TypeQuery, args, nil); err != nil {
		c.dropSession()
		return nil, fmt.Errorf("query: %w", err)
	}
	reply, err := c.dir.Recv()
	if err != nil {
		c.dropSession()
		return nil, fmt.Errorf("query: %w", err)
	}
	if reply.Type != protocol.TypeResult {
		return nil, fmt.Errorf("query: the user list is outdated: unexpected %s", reply.Type)
	}

	records := c.mergeResult(reply.Payload)
	return records, nil
}

// mergeResult parses a RESULT payload and overwrites cache entries for
// every record seen. Absent users are not evicted; their entries simply age
// out of the cache.
func (c *Client) mergeResult(payload []byte) []directory.Record {
	var records []directory.Record
	for _, token := range strings.Fields(string(payload)) {
		m := userRecordRe.FindStringSubmatch(token)
		if m == nil {
			logger.Debug("skipping malformed user record", "record", token)
			continue
		}
		port, err := strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			continue
		}

		ep := directory.Endpoint{Address: m[2], Port: port}
		c.users.Set(m[1], ep, ttlcache.DefaultTTL)
		records = append(records, directory.Record{Username: m[1], Endpoint: ep})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Username < records[j].Username
	})
	return records
}

// lookup resolves a username through the cache, with the reference error
// texts for an empty cache and for an unknown user.
func (c *Client) lookup(username string) (directory.Endpoint, error) {
	if c.users.Len() == 0 {
		return directory.Endpoint{}, ErrNoUserList
	}
	item := c.users.Get(username)
	if item == nil {
		return directory.Endpoint{}, fmt.Errorf("user %s can't be reached", username)
	}
	return item.Value(), nil
}

// Chat sends text to username over a fresh peer connection. No reply is
// expected; delivery failure surfaces as an error.
func (c *Client) Chat(ctx context.Context, username, text string) error {
	ep, err := c.lookup(username)
	if err != nil {
		return err
	}

	conn, err := transport.Dial(ctx, ep.Addr())
	if err != nil {
		return fmt.Errorf("user %s can't be reached: %w", username, err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.TypeMessage, []string{c.cfg.Username}, []byte(text)); err != nil {
		return fmt.Errorf("chat with %s: %w", username, err)
	}
	return nil
}

// Ping opens a fresh peer connection to username, sends PING, and returns
// the reply rendered as "<TYPE> <first-arg>".
func (c *Client) Ping(ctx context.Context, username string) (string, error) {
	ep, err := c.lookup(username)
	if err != nil {
		return "", err
	}

	conn, err := transport.Dial(ctx, ep.Addr())
	if err != nil {
		return "", fmt.Errorf("user %s can't be pinged: %w", username, err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.TypePing, []string{c.cfg.Username}, nil); err != nil {
		return "", fmt.Errorf("ping %s: %w", username, err)
	}
	reply, err := conn.Recv()
	if err != nil {
		return "", fmt.Errorf("ping %s: %w", username, err)
	}

	arg := ""
	if reply.Arity() > 0 {
		arg = reply.Args[0]
	}
	return strings.TrimSpace(reply.Type + " " + arg), nil
}

// Secret talks to the riddle bot: it sends text as a MESSAGE, then keeps
// the connection open and reads exactly three replies, answering any PING
// with PONG along the way. Returns the raw replies.
func (c *Client) Secret(ctx context.Context, username, text string) ([]string, error) {
	ep, err := c.lookup(username)
	if err != nil {
		return nil, err
	}

	conn, err := transport.Dial(ctx, ep.Addr())
	if err != nil {
		return nil, fmt.Errorf("user %s can't be reached: %w", username, err)
	}
	defer conn.Close()

	if err := conn.Send(protocol.TypeMessage, []string{c.cfg.Username}, []byte(text)); err != nil {
		return nil, fmt.Errorf("secret: %w", err)
	}

	replies := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		reply, err := conn.Recv()
		if err != nil {
			return replies, fmt.Errorf("secret: %w", err)
		}
		replies = append(replies, reply.String())

		if reply.Type == protocol.TypePing {
			if err := conn.Send(protocol.TypePong, []string{c.cfg.Username}, nil); err != nil {
				return replies, fmt.Errorf("secret: %w", err)
			}
		}
	}
	return replies, nil
}

// Leave deregisters from the directory. The session stays usable for
// further commands, but List does not re-bind; BIND is sent again only when
// a new session is established (a restart, or a reconnect after loss).
func (c *Client) Leave(ctx context.Context) error {
	if err := c.ensureSession(ctx); err != nil {
		return err
	}

	if err := c.dir.Send(protocol.TypeLeave, nil, nil); err != nil {
		c.dropSession()
		return fmt.Errorf("leave: %w", err)
	}
	reply, err := c.dir.Recv()
	if err != nil {
		c.dropSession()
		return fmt.Errorf("leave: %w", err)
	}
	if reply.Type != protocol.TypeAck {
		return fmt.Errorf("leave: unregistering was not successful, disconnecting anyway")
	}
	return nil
}

// PeerPort returns the port the peer listener bound.
func (c *Client) PeerPort() int {
	return c.peerPort
}

// Close tears the client down: the directory session, the peer listener,
// and the cache eviction loop. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.dir != nil {
			_ = c.dir.Close()
			c.dir = nil
		}
		c.listener.Stop()
		c.users.Stop()
	})
}
