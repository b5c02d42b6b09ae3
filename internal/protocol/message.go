// Package protocol implements the eurechat wire protocol: a line-oriented,
// length-framed message format exchanged both on the directory control
// channel and on direct peer connections.
//
// A message on the wire is a header line followed by an opaque payload:
//
//	<TYPE> <LEN>[ <ARG1> <ARG2> ...]\n<PAYLOAD bytes>
//
// TYPE is an uppercase token, LEN is the exact payload byte count in ASCII
// decimal, and args are whitespace-free tokens. The payload follows the
// header verbatim with no escaping.
package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Message types understood by the directory and by peers.
const (
	TypeUser    = "USER"
	TypePass    = "PASS"
	TypeBind    = "BIND"
	TypeLeave   = "LEAVE"
	TypeQuery   = "QUERY"
	TypeAck     = "ACK"
	TypeErr     = "ERR"
	TypeResult  = "RESULT"
	TypePing    = "PING"
	TypePong    = "PONG"
	TypeMessage = "MESSAGE"
)

// MaxPayloadSize bounds the declared payload length accepted by the parser.
// A header announcing more than this is treated as a framing error, which
// protects the reassembly buffer from a single hostile header.
const MaxPayloadSize = 1 << 20 // 1MB

// Message is one protocol unit: a type token, ordered args, and an opaque
// payload. Payload may be nil; nil and empty are equivalent on the wire.
type Message struct {
	Type    string
	Args    []string
	Payload []byte
}

// New builds a Message. Args and payload may be nil.
func New(typ string, args []string, payload []byte) *Message {
	return &Message{Type: typ, Args: args, Payload: payload}
}

// Arity returns the number of args.
func (m *Message) Arity() int {
	return len(m.Args)
}

// Serialize encodes the message in wire form. When args is empty the header
// is exactly "TYPE LEN\n" with no trailing space.
func (m *Message) Serialize() []byte {
	var b strings.Builder
	b.Grow(len(m.Type) + 12 + len(m.Payload))
	b.WriteString(m.Type)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(len(m.Payload)))
	for _, arg := range m.Args {
		b.WriteByte(' ')
		b.WriteString(arg)
	}
	b.WriteByte('\n')
	b.Write(m.Payload)
	return []byte(b.String())
}

// String renders the message for logs, truncating long payloads.
func (m *Message) String() string {
	payload := string(m.Payload)
	if len(payload) > 64 {
		payload = payload[:61] + "..."
	}
	if len(m.Args) == 0 {
		return fmt.Sprintf("%s(%q)", m.Type, payload)
	}
	return fmt.Sprintf("%s %s (%q)", m.Type, strings.Join(m.Args, " "), payload)
}
