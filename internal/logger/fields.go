package logger

import "log/slog"

// Standard field keys for structured logging. Use these keys consistently
// across the directory server and the chat client so log lines from both
// sides of a conversation aggregate cleanly.
const (
	KeyUsername = "username" // chat username a record or session belongs to
	KeyAddress  = "address"  // remote address (host:port) of a connection
	KeyEndpoint = "endpoint" // advertised peer endpoint (host:port)
	KeyPort     = "port"     // listening port
	KeyState    = "state"    // session state name
	KeyCommand  = "command"  // protocol message type being handled
	KeyPeer     = "peer"     // username of the other side of a peer connection
	KeyUsers    = "users"    // number of registered users
	KeyReason   = "reason"   // close reason sent with an ERR
	KeyError    = "error"    // error message
)

// Username returns a slog.Attr for a chat username.
func Username(name string) slog.Attr {
	return slog.String(KeyUsername, name)
}

// Address returns a slog.Attr for a remote connection address.
func Address(addr string) slog.Attr {
	return slog.String(KeyAddress, addr)
}

// Endpoint returns a slog.Attr for an advertised peer endpoint.
func Endpoint(ep string) slog.Attr {
	return slog.String(KeyEndpoint, ep)
}

// Port returns a slog.Attr for a listening port.
func Port(port int) slog.Attr {
	return slog.Int(KeyPort, port)
}

// State returns a slog.Attr for a session state name.
func State(state string) slog.Attr {
	return slog.String(KeyState, state)
}

// Command returns a slog.Attr for a protocol message type.
func Command(typ string) slog.Attr {
	return slog.String(KeyCommand, typ)
}

// Peer returns a slog.Attr for the username on the far side of a peer
// connection.
func Peer(name string) slog.Attr {
	return slog.String(KeyPeer, name)
}

// Users returns a slog.Attr for a registered-user count.
func Users(n int) slog.Attr {
	return slog.Int(KeyUsers, n)
}

// Reason returns a slog.Attr for a connection close reason.
func Reason(reason string) slog.Attr {
	return slog.String(KeyReason, reason)
}

// Err returns a slog.Attr for an error, or the empty Attr when err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
