package file

import (
	"errors"
	"fmt"
)

// ErrSeqOutOfRange indicates a chunk outside the session's address space.
var ErrSeqOutOfRange = errors.New("sequence number out of range")

// ChunkMap holds the payloads a receiving session has accepted, keyed by
// sequence number. It is owned by exactly one session and is not safe for
// concurrent use.
type ChunkMap struct {
	total  uint32
	chunks map[uint32][]byte
	bytes  uint64
}

// NewChunkMap creates an empty map for the address space [0, total).
func NewChunkMap(total uint32) *ChunkMap {
	return &ChunkMap{
		total:  total,
		chunks: make(map[uint32][]byte),
	}
}

// Insert stores payload under seq. It reports false without modifying the map
// when seq is already present, so duplicates never double-count.
func (m *ChunkMap) Insert(seq uint32, payload []byte) (bool, error) {
	if seq >= m.total {
		return false, fmt.Errorf("%w: %d not in [0, %d)", ErrSeqOutOfRange, seq, m.total)
	}
	if _, exists := m.chunks[seq]; exists {
		return false, nil
	}
	m.chunks[seq] = payload
	m.bytes += uint64(len(payload))
	return true, nil
}

// Get returns the payload stored under seq.
func (m *ChunkMap) Get(seq uint32) ([]byte, bool) {
	payload, ok := m.chunks[seq]
	return payload, ok
}

// Len returns the number of distinct chunks received.
func (m *ChunkMap) Len() int {
	return len(m.chunks)
}

// Bytes returns the number of payload bytes held.
func (m *ChunkMap) Bytes() uint64 {
	return m.bytes
}

// Missing returns every sequence number in [0, total) not yet received, in
// ascending order.
func (m *ChunkMap) Missing() []uint32 {
	missing := make([]uint32, 0, int(m.total)-len(m.chunks))
	for seq := uint32(0); seq < m.total; seq++ {
		if _, ok := m.chunks[seq]; !ok {
			missing = append(missing, seq)
		}
	}
	return missing
}

// Complete reports whether every chunk has been received.
func (m *ChunkMap) Complete() bool {
	return uint32(len(m.chunks)) == m.total
}
