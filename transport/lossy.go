package transport

import (
	"encoding/binary"
	"math/rand"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer/limits"
)

// Fault is the treatment a LossyTransport applies to one outgoing datagram.
type Fault uint8

const (
	// FaultNone delivers the datagram unchanged.
	FaultNone Fault = iota
	// FaultDrop silently discards the datagram.
	FaultDrop
	// FaultCorrupt rewrites the chunk length field past the end of the datagram.
	FaultCorrupt
	// FaultDuplicate delivers the datagram twice.
	FaultDuplicate
)

// FaultFunc decides the fault for an outgoing datagram.
type FaultFunc func(data []byte, addr net.Addr) Fault

// LossStats counts what a LossyTransport did to outgoing traffic.
type LossStats struct {
	Sent       int
	Dropped    int
	Corrupted  int
	Duplicated int
}

// LossyTransport wraps a Transport and injects faults on Send. Receive, Drain,
// Close and LocalAddr pass through to the wrapped transport.
type LossyTransport struct {
	Transport

	fault FaultFunc
	mu    sync.Mutex
	stats LossStats
}

// NewLossyTransport wraps inner. A nil fault delivers everything.
func NewLossyTransport(inner Transport, fault FaultFunc) *LossyTransport {
	return &LossyTransport{Transport: inner, fault: fault}
}

// Send applies the configured fault and forwards the datagram.
func (l *LossyTransport) Send(data []byte, addr net.Addr) error {
	fault := FaultNone
	if l.fault != nil {
		fault = l.fault(data, addr)
	}

	l.mu.Lock()
	l.stats.Sent++
	switch fault {
	case FaultDrop:
		l.stats.Dropped++
	case FaultCorrupt:
		l.stats.Corrupted++
	case FaultDuplicate:
		l.stats.Duplicated++
	}
	l.mu.Unlock()

	switch fault {
	case FaultDrop:
		logrus.WithFields(logrus.Fields{
			"function": "LossyTransport.Send",
			"size":     len(data),
			"to":       addr.String(),
		}).Debug("Dropping outgoing datagram")
		return nil
	case FaultCorrupt:
		return l.Transport.Send(corruptLength(data), addr)
	case FaultDuplicate:
		if err := l.Transport.Send(data, addr); err != nil {
			return err
		}
		return l.Transport.Send(data, addr)
	default:
		return l.Transport.Send(data, addr)
	}
}

// Stats returns a snapshot of the fault counters.
func (l *LossyTransport) Stats() LossStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// corruptLength returns a copy of data whose payload_length field claims more
// bytes than the datagram holds.
func corruptLength(data []byte) []byte {
	out := make([]byte, len(data))
	copy(out, data)
	if len(out) >= limits.ChunkHeaderSize {
		binary.BigEndian.PutUint32(out[4:8], uint32(len(out)))
	}
	return out
}

// RandomDrop drops each datagram independently with probability rate.
func RandomDrop(rate float64, seed int64) FaultFunc {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func([]byte, net.Addr) Fault {
		mu.Lock()
		defer mu.Unlock()
		if rng.Float64() < rate {
			return FaultDrop
		}
		return FaultNone
	}
}

// isMetadata reports whether data is a well-formed metadata packet.
func isMetadata(data []byte) bool {
	if len(data) != limits.MetadataSize {
		return false
	}
	_, err := DecodeMetadata(data)
	return err == nil
}

// chunkSeq extracts the sequence number of a chunk packet. Metadata packets
// and acks are not chunk packets.
func chunkSeq(data []byte) (uint32, bool) {
	if isMetadata(data) || len(data) < limits.ChunkHeaderSize {
		return 0, false
	}
	chunk, err := DecodeChunk(data)
	if err != nil {
		return 0, false
	}
	return chunk.Seq, true
}

// ChunksOnce applies fault to the first transmission of each listed chunk
// sequence number. Retransmissions pass through untouched.
func ChunksOnce(fault Fault, seqs ...uint32) FaultFunc {
	var mu sync.Mutex
	pending := make(map[uint32]bool, len(seqs))
	for _, s := range seqs {
		pending[s] = true
	}
	return func(data []byte, _ net.Addr) Fault {
		seq, ok := chunkSeq(data)
		if !ok {
			return FaultNone
		}
		mu.Lock()
		defer mu.Unlock()
		if pending[seq] {
			delete(pending, seq)
			return fault
		}
		return FaultNone
	}
}

// DropMetadata drops every metadata handshake packet.
func DropMetadata() FaultFunc {
	return func(data []byte, _ net.Addr) Fault {
		if isMetadata(data) {
			return FaultDrop
		}
		return FaultNone
	}
}

// DropAll drops every datagram.
func DropAll() FaultFunc {
	return func([]byte, net.Addr) Fault { return FaultDrop }
}
