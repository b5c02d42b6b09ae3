package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SokratisVidros/eurechat/pkg/directory"
)

// startDirectory runs an in-process directory server on an ephemeral port.
func startDirectory(t *testing.T) (string, *directory.Server) {
	t.Helper()

	srv := directory.NewServer(directory.ServerConfig{
		BindAddress:     "127.0.0.1",
		Port:            0,
		ShutdownTimeout: time.Second,
		Checker: directory.CheckerConfig{
			Interval:     time.Hour, // keep the checker quiet during tests
			ProbeTimeout: time.Second,
		},
	}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Error("directory did not stop")
		}
	})

	return srv.Addr().String(), srv
}

// startClient creates and starts a chat client against the given directory.
func startClient(t *testing.T, dirAddr, username string) (*Client, *recordingSink) {
	t.Helper()

	sink := &recordingSink{}
	c := NewClient(Config{
		DirectoryAddr: dirAddr,
		Username:      username,
		Password:      "secret",
		BindAddress:   "127.0.0.1",
	}, sink)

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(c.Close)
	return c, sink
}

func TestClientStartAuthenticatesAndBinds(t *testing.T) {
	addr, srv := startDirectory(t)
	c, _ := startClient(t, addr, "alice")

	rec, ok := srv.Registry().Query("alice")
	require.True(t, ok, "start must register the client")
	assert.Equal(t, c.PeerPort(), rec.Endpoint.Port)
}

func TestClientListPopulatesCache(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")
	bob, _ := startClient(t, addr, "bob")

	records, err := alice.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "bob", records[1].Username)
	assert.Equal(t, bob.PeerPort(), records[1].Endpoint.Port)

	// Filtered query.
	records, err = alice.List(context.Background(), "bob")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "bob", records[0].Username)

	// Filtered miss.
	records, err = alice.List(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestClientChatDeliversToPeer(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")
	_, bobSink := startClient(t, addr, "bob")

	_, err := alice.List(context.Background(), "")
	require.NoError(t, err)

	require.NoError(t, alice.Chat(context.Background(), "bob", "hello bob"))

	assert.Eventually(t, func() bool {
		got := bobSink.snapshot()
		return len(got) == 1 && got[0] == "alice: hello bob"
	}, time.Second, 10*time.Millisecond)
}

func TestClientPing(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")
	startClient(t, addr, "bob")

	_, err := alice.List(context.Background(), "")
	require.NoError(t, err)

	reply, err := alice.Ping(context.Background(), "bob")
	require.NoError(t, err)
	assert.Equal(t, "PONG bob", reply)
}

func TestClientPeerCommandsRequireUserList(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")

	err := alice.Chat(context.Background(), "bob", "hi")
	assert.ErrorIs(t, err, ErrNoUserList)

	_, err = alice.Ping(context.Background(), "bob")
	assert.ErrorIs(t, err, ErrNoUserList)
}

func TestClientChatUnknownUser(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")
	startClient(t, addr, "bob")

	_, err := alice.List(context.Background(), "")
	require.NoError(t, err)

	err = alice.Chat(context.Background(), "mallory", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mallory can't be reached")
}

func TestClientStaleCacheEntrySurfacesConnectError(t *testing.T) {
	addr, _ := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")
	bob, _ := startClient(t, addr, "bob")

	_, err := alice.List(context.Background(), "")
	require.NoError(t, err)

	// Bob goes away; alice's cache is now stale and the send must fail
	// without crashing anything.
	bob.Close()

	assert.Eventually(t, func() bool {
		return alice.Chat(context.Background(), "bob", "anyone home?") != nil
	}, 2*time.Second, 50*time.Millisecond)
}

func TestClientLeaveDeregisters(t *testing.T) {
	addr, srv := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")

	require.NoError(t, alice.Leave(context.Background()))
	_, ok := srv.Registry().Query("alice")
	assert.False(t, ok)
}

func TestClientReconnectsAfterSessionLoss(t *testing.T) {
	addr, srv := startDirectory(t)
	alice, _ := startClient(t, addr, "alice")

	// Simulate a lost directory session.
	alice.dropSession()

	// The next command re-authenticates and re-binds from scratch.
	records, err := alice.List(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "alice", records[0].Username)

	rec, ok := srv.Registry().Query("alice")
	require.True(t, ok)
	assert.Equal(t, alice.PeerPort(), rec.Endpoint.Port)
}

func TestClientResultParsingTolerance(t *testing.T) {
	c := NewClient(Config{DirectoryAddr: "127.0.0.1:1", Username: "alice"}, &recordingSink{})
	t.Cleanup(c.Close)

	records := c.mergeResult([]byte("alice,127.0.0.1,40001\n\n  bob,10.0.0.2,40002   junk not,a,record\tcarol,10.0.0.3,40003"))
	require.Len(t, records, 3)
	assert.Equal(t, "alice", records[0].Username)
	assert.Equal(t, "bob", records[1].Username)
	assert.Equal(t, "carol", records[2].Username)
	assert.Equal(t, 40002, records[1].Endpoint.Port)
}
