package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	// receiveBufferSize holds any datagram the protocol can produce.
	receiveBufferSize = 64 * 1024

	// defaultPollInterval bounds each blocking read so cancellation is observed promptly.
	defaultPollInterval = 100 * time.Millisecond

	// DefaultDrainWait is how long Drain waits for one more queued datagram
	// before it considers the receive queue empty.
	DefaultDrainWait = 10 * time.Millisecond

	drainBatchSize = 16
)

// batchReader is satisfied by both ipv4.PacketConn and ipv6.PacketConn.
type batchReader interface {
	ReadBatch(ms []ipv4.Message, flags int) (int, error)
}

// UDPTransport implements UDP-based communication for udpxfer sessions.
// It satisfies the Transport interface. Receive and Drain are not safe for
// concurrent use; a session owns its transport.
type UDPTransport struct {
	conn         net.PacketConn
	listenAddr   net.Addr
	buffer       []byte
	batch        batchReader
	batchMsgs    []ipv4.Message
	pollInterval time.Duration
	drainWait    time.Duration
	closeOnce    sync.Once
	closeErr     error
}

// NewUDPTransport creates a new UDP transport bound to listenAddr. Use
// "127.0.0.1:0" or ":0" for an ephemeral port. If readBuffer is positive the
// socket receive buffer (SO_RCVBUF) is enlarged to that many bytes; the kernel
// may clamp the request.
func NewUDPTransport(listenAddr string, readBuffer int) (*UDPTransport, error) {
	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewUDPTransport",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, err
	}

	t := &UDPTransport{
		conn:         conn,
		listenAddr:   conn.LocalAddr(),
		buffer:       make([]byte, receiveBufferSize),
		pollInterval: defaultPollInterval,
		drainWait:    DefaultDrainWait,
	}

	if udpConn, ok := conn.(*net.UDPConn); ok {
		if readBuffer > 0 {
			if err := udpConn.SetReadBuffer(readBuffer); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":    "NewUDPTransport",
					"read_buffer": readBuffer,
					"error":       err.Error(),
				}).Warn("Failed to enlarge socket receive buffer")
			}
		}
		t.batch = newBatchReader(udpConn)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewUDPTransport",
		"local_addr":  t.listenAddr.String(),
		"read_buffer": readBuffer,
		"batch_drain": t.batch != nil,
	}).Info("UDP transport listening")

	return t, nil
}

// newBatchReader picks the x/net wrapper matching the socket's address family.
func newBatchReader(conn *net.UDPConn) batchReader {
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil
	}
	if addr.IP.To4() != nil {
		return ipv4.NewPacketConn(conn)
	}
	return ipv6.NewPacketConn(conn)
}

// SetDrainWait overrides how long Drain waits for stragglers.
func (t *UDPTransport) SetDrainWait(d time.Duration) {
	if d > 0 {
		t.drainWait = d
	}
}

// Send sends a datagram to the specified address.
func (t *UDPTransport) Send(data []byte, addr net.Addr) error {
	if _, err := t.conn.WriteTo(data, addr); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Receive reads one datagram. The wait is split into poll slices so a
// cancelled ctx is noticed within pollInterval.
func (t *UDPTransport) Receive(ctx context.Context, timeout time.Duration) (Datagram, error) {
	deadline := time.Now().Add(timeout)

	for {
		if err := ctx.Err(); err != nil {
			return Datagram{}, err
		}

		now := time.Now()
		if !now.Before(deadline) {
			return Datagram{}, ErrTimeout
		}

		slice := now.Add(t.pollInterval)
		if deadline.Before(slice) {
			slice = deadline
		}

		dg, err := t.readPacketData(slice)
		if err == nil {
			return dg, nil
		}
		if isTimeout(err) {
			continue
		}
		if errors.Is(err, net.ErrClosed) {
			return Datagram{}, ErrClosed
		}

		// Transient socket errors (ICMP feedback and the like) do not end the wait.
		logrus.WithFields(logrus.Fields{
			"function": "Receive",
			"error":    err.Error(),
		}).Debug("Ignoring socket read error")
	}
}

// readPacketData reads data from the connection with a read deadline.
func (t *UDPTransport) readPacketData(deadline time.Time) (Datagram, error) {
	_ = t.conn.SetReadDeadline(deadline)

	n, addr, err := t.conn.ReadFrom(t.buffer)
	if err != nil {
		return Datagram{}, err
	}

	data := make([]byte, n)
	copy(data, t.buffer[:n])
	return Datagram{Data: data, Addr: addr}, nil
}

// Drain discards every datagram already queued on the socket. Stragglers of
// an aborted session must not leak into the next one.
func (t *UDPTransport) Drain() (int, error) {
	defer func() { _ = t.conn.SetReadDeadline(time.Time{}) }()

	var (
		dropped int
		err     error
	)
	if t.batch != nil {
		dropped, err = t.drainBatch()
	} else {
		dropped, err = t.drainSingle()
	}

	logrus.WithFields(logrus.Fields{
		"function": "Drain",
		"dropped":  dropped,
	}).Debug("Flushed receive queue")

	return dropped, err
}

// drainBatch uses recvmmsg through x/net to empty the queue in batches.
func (t *UDPTransport) drainBatch() (int, error) {
	if t.batchMsgs == nil {
		t.batchMsgs = make([]ipv4.Message, drainBatchSize)
		for i := range t.batchMsgs {
			t.batchMsgs[i].Buffers = [][]byte{make([]byte, receiveBufferSize)}
		}
	}

	dropped := 0
	for {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.drainWait))
		n, err := t.batch.ReadBatch(t.batchMsgs, 0)
		dropped += n
		if err != nil {
			return t.finishDrain(dropped, err)
		}
	}
}

// drainSingle is the fallback for connections x/net cannot wrap.
func (t *UDPTransport) drainSingle() (int, error) {
	dropped := 0
	for {
		_ = t.conn.SetReadDeadline(time.Now().Add(t.drainWait))
		if _, _, err := t.conn.ReadFrom(t.buffer); err != nil {
			return t.finishDrain(dropped, err)
		}
		dropped++
	}
}

func (t *UDPTransport) finishDrain(dropped int, err error) (int, error) {
	switch {
	case isTimeout(err):
		return dropped, nil
	case errors.Is(err, net.ErrClosed):
		return dropped, ErrClosed
	default:
		return dropped, err
	}
}

// Close shuts down the transport. It is safe to call more than once.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
