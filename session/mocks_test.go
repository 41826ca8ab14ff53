package session

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/udpxfer/transport"
)

// memNetwork delivers datagrams between memEndpoints in process. Like UDP it
// drops datagrams for unknown addresses or full queues.
type memNetwork struct {
	mu        sync.Mutex
	endpoints map[string]*memEndpoint
}

func newMemNetwork() *memNetwork {
	return &memNetwork{endpoints: make(map[string]*memEndpoint)}
}

type memEndpoint struct {
	net       *memNetwork
	addr      *net.UDPAddr
	inbox     chan transport.Datagram
	closed    chan struct{}
	closeOnce sync.Once

	// drained is closed by the first Drain so tests can start a sender
	// only after the receiver flushed its queue.
	drained   chan struct{}
	drainOnce sync.Once
}

func (n *memNetwork) endpoint(port int) *memEndpoint {
	ep := &memEndpoint{
		net:     n,
		addr:    &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		inbox:   make(chan transport.Datagram, 4096),
		closed:  make(chan struct{}),
		drained: make(chan struct{}),
	}
	n.mu.Lock()
	n.endpoints[ep.addr.String()] = ep
	n.mu.Unlock()
	return ep
}

func (e *memEndpoint) Send(data []byte, addr net.Addr) error {
	select {
	case <-e.closed:
		return transport.ErrClosed
	default:
	}

	e.net.mu.Lock()
	dst := e.net.endpoints[addr.String()]
	e.net.mu.Unlock()
	if dst == nil {
		return nil
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	select {
	case dst.inbox <- transport.Datagram{Data: buf, Addr: e.addr}:
	default:
	}
	return nil
}

func (e *memEndpoint) Receive(ctx context.Context, timeout time.Duration) (transport.Datagram, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case dg := <-e.inbox:
		return dg, nil
	case <-ctx.Done():
		return transport.Datagram{}, ctx.Err()
	case <-e.closed:
		return transport.Datagram{}, transport.ErrClosed
	case <-timer.C:
		return transport.Datagram{}, transport.ErrTimeout
	}
}

func (e *memEndpoint) Drain() (int, error) {
	defer e.drainOnce.Do(func() { close(e.drained) })

	dropped := 0
	for {
		select {
		case <-e.inbox:
			dropped++
		default:
			return dropped, nil
		}
	}
}

func (e *memEndpoint) Close() error {
	e.closeOnce.Do(func() { close(e.closed) })
	return nil
}

func (e *memEndpoint) LocalAddr() net.Addr {
	return e.addr
}

// scriptedReceiver replays queued results. Once the queue is empty it
// reports timeouts.
type scriptedReceiver struct {
	mu      sync.Mutex
	results []scriptedResult
	calls   int
}

type scriptedResult struct {
	dg  transport.Datagram
	err error
}

func (s *scriptedReceiver) receive(ctx context.Context, timeout time.Duration) (transport.Datagram, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.results) == 0 {
		return transport.Datagram{}, transport.ErrTimeout
	}
	r := s.results[0]
	s.results = s.results[1:]
	return r.dg, r.err
}

// testOptions returns options with short timeouts for fast tests.
func testOptions() *Options {
	opts := NewOptions()
	opts.PacingInterval = 0
	opts.AckTimeout = 100 * time.Millisecond
	opts.MaxRetries = 5
	opts.ReceiveTimeout = time.Second
	opts.MetadataPollInterval = 20 * time.Millisecond
	opts.CompletionLinger = 300 * time.Millisecond
	return opts
}
