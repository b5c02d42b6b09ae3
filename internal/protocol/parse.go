package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrFraming reports a byte stream that can never resynchronize into a valid
// message: a complete header line that does not match the grammar, or a
// declared payload length beyond MaxPayloadSize. Callers must close the
// offending connection; no recovery is attempted.
var ErrFraming = errors.New("protocol: malformed frame")

// headerRe matches one complete header line anchored at the start of the
// buffer: type token, payload length, then zero or more space-prefixed args.
var headerRe = regexp.MustCompile(`^(\w+) (\d+)((?: [^\s]+)*)\n`)

// Parse attempts to extract a single message from the front of buf.
//
// Returns (msg, consumed, nil) when a complete header and payload are
// present. Returns (nil, 0, nil) when the buffer holds only a prefix of a
// valid message; nothing is consumed, so the caller can retry after the next
// read. Returns ErrFraming when the buffer starts with a complete header
// line that does not match the grammar.
func Parse(buf []byte) (*Message, int, error) {
	loc := headerRe.FindSubmatchIndex(buf)
	if loc == nil {
		// A newline in the buffer means a full header line arrived and
		// still failed to match. That stream is unrecoverable.
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			return nil, 0, fmt.Errorf("%w: %q", ErrFraming, truncate(buf[:i], 64))
		}
		return nil, 0, nil
	}

	typ := string(buf[loc[2]:loc[3]])
	length, err := strconv.Atoi(string(buf[loc[4]:loc[5]]))
	if err != nil || length > MaxPayloadSize {
		return nil, 0, fmt.Errorf("%w: bad payload length %q", ErrFraming, buf[loc[4]:loc[5]])
	}

	headerLen := loc[1]
	if len(buf) < headerLen+length {
		// Payload still in flight.
		return nil, 0, nil
	}

	var args []string
	if loc[6] != loc[7] {
		args = strings.Fields(string(buf[loc[6]:loc[7]]))
	}

	var payload []byte
	if length > 0 {
		payload = make([]byte, length)
		copy(payload, buf[headerLen:headerLen+length])
	}

	return &Message{Type: typ, Args: args, Payload: payload}, headerLen + length, nil
}

// ParseAll repeatedly extracts messages from buf until no complete message
// remains. It returns the extracted messages in order and the unconsumed
// residue, which may hold a partial header or partial payload.
func ParseAll(buf []byte) ([]*Message, []byte, error) {
	var msgs []*Message
	for {
		msg, n, err := Parse(buf)
		if err != nil {
			return msgs, buf, err
		}
		if msg == nil {
			return msgs, buf, nil
		}
		msgs = append(msgs, msg)
		buf = buf[n:]
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
