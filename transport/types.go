package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// ErrTimeout indicates no datagram arrived before the receive deadline.
var ErrTimeout = errors.New("receive timed out")

// ErrClosed indicates the transport has been closed.
var ErrClosed = errors.New("transport closed")

// Datagram is one received packet and the address it came from.
type Datagram struct {
	Data []byte
	Addr net.Addr
}

// Transport defines the datagram endpoint used by both session roles.
// This abstraction allows the sessions to run over a real UDP socket, a
// fault-injecting wrapper, or an in-memory network in tests.
type Transport interface {
	// Send writes one datagram to addr.
	Send(data []byte, addr net.Addr) error

	// Receive blocks until a datagram arrives, the timeout elapses (ErrTimeout)
	// or ctx is done (ctx.Err()).
	Receive(ctx context.Context, timeout time.Duration) (Datagram, error)

	// Drain discards every datagram already queued and returns how many were dropped.
	Drain() (int, error)

	// Close shuts down the transport.
	Close() error

	// LocalAddr returns the local address the transport is bound to.
	LocalAddr() net.Addr
}
