package transport

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingTransport captures sent datagrams.
type recordingTransport struct {
	mu   sync.Mutex
	sent [][]byte
}

func (r *recordingTransport) Send(data []byte, _ net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, append([]byte(nil), data...))
	return nil
}

func (r *recordingTransport) Receive(context.Context, time.Duration) (Datagram, error) {
	return Datagram{}, ErrTimeout
}

func (r *recordingTransport) Drain() (int, error) { return 0, nil }
func (r *recordingTransport) Close() error        { return nil }
func (r *recordingTransport) LocalAddr() net.Addr { return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)} }

var testPeer = &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9999}

func TestLossyTransport_ChunksOnceDrop(t *testing.T) {
	inner := &recordingTransport{}
	lossy := NewLossyTransport(inner, ChunksOnce(FaultDrop, 1))

	for seq := uint32(0); seq < 3; seq++ {
		require.NoError(t, lossy.Send(EncodeChunk(seq, []byte("data")), testPeer))
	}
	// Retransmission of chunk 1 passes.
	require.NoError(t, lossy.Send(EncodeChunk(1, []byte("data")), testPeer))

	require.Len(t, inner.sent, 3)
	var seqs []uint32
	for _, d := range inner.sent {
		c, err := DecodeChunk(d)
		require.NoError(t, err)
		seqs = append(seqs, c.Seq)
	}
	assert.Equal(t, []uint32{0, 2, 1}, seqs)
	assert.Equal(t, LossStats{Sent: 4, Dropped: 1}, lossy.Stats())
}

func TestLossyTransport_Corrupt(t *testing.T) {
	inner := &recordingTransport{}
	lossy := NewLossyTransport(inner, ChunksOnce(FaultCorrupt, 0))

	original := EncodeChunk(0, []byte("payload"))
	require.NoError(t, lossy.Send(original, testPeer))
	require.Len(t, inner.sent, 1)

	_, err := DecodeChunk(inner.sent[0])
	assert.ErrorIs(t, err, ErrMalformedPacket)

	_, err = DecodeChunk(original)
	assert.NoError(t, err, "corruption must not touch the caller's buffer")
}

func TestLossyTransport_Duplicate(t *testing.T) {
	inner := &recordingTransport{}
	lossy := NewLossyTransport(inner, ChunksOnce(FaultDuplicate, 4))

	require.NoError(t, lossy.Send(EncodeChunk(4, []byte("x")), testPeer))
	assert.Len(t, inner.sent, 2)
}

func TestLossyTransport_DropMetadata(t *testing.T) {
	inner := &recordingTransport{}
	lossy := NewLossyTransport(inner, DropMetadata())

	meta, err := EncodeMetadata("f", 16, 1)
	require.NoError(t, err)
	require.NoError(t, lossy.Send(meta, testPeer))
	require.NoError(t, lossy.Send(EncodeChunk(0, []byte("x")), testPeer))

	require.Len(t, inner.sent, 1)
	assert.Equal(t, EncodeChunk(0, []byte("x")), inner.sent[0])
}

func TestLossyTransport_ChunkOfMetadataSize(t *testing.T) {
	inner := &recordingTransport{}
	lossy := NewLossyTransport(inner, DropMetadata())

	// 256 payload bytes make a chunk exactly as long as a metadata packet.
	chunk := EncodeChunk(3, []byte(strings.Repeat("a", 256)))
	require.NoError(t, lossy.Send(chunk, testPeer))
	assert.Len(t, inner.sent, 1)

	seq, ok := chunkSeq(chunk)
	assert.True(t, ok)
	assert.Equal(t, uint32(3), seq)
}

func TestRandomDrop_Deterministic(t *testing.T) {
	count := func() int {
		f := RandomDrop(0.5, 42)
		dropped := 0
		for i := 0; i < 1000; i++ {
			if f(nil, testPeer) == FaultDrop {
				dropped++
			}
		}
		return dropped
	}

	first := count()
	assert.Equal(t, first, count(), "same seed must give the same pattern")
	assert.InDelta(t, 500, first, 100)

	none := RandomDrop(0, 1)
	for i := 0; i < 100; i++ {
		assert.Equal(t, FaultNone, none(nil, testPeer))
	}
}
