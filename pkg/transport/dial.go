package transport

import (
	"context"
	"fmt"
	"net"
)

// Dial opens a TCP connection to addr and wraps it in a framed Conn.
// Cancellation of ctx aborts the in-flight connect.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	d := &net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(nc, opts...), nil
}

// Probe checks that addr accepts TCP connections, closing immediately on
// success. This is the directory's port test: a BIND is only registered
// after the announced endpoint proves reachable.
func Probe(ctx context.Context, addr string) error {
	d := &net.Dialer{}
	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("probe %s: %w", addr, err)
	}
	return nc.Close()
}
