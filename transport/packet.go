package transport

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/opd-ai/udpxfer/limits"
)

var (
	// ErrMalformedHeader indicates a metadata packet that cannot be decoded.
	ErrMalformedHeader = errors.New("malformed metadata header")

	// ErrMalformedPacket indicates a chunk packet that cannot be decoded.
	ErrMalformedPacket = errors.New("malformed chunk packet")

	// ErrMalformedAck indicates an acknowledgment that cannot be decoded.
	ErrMalformedAck = errors.New("malformed ack")
)

// Metadata is the handshake that opens a transfer session. It defines the chunk
// address space [0, TotalChunks).
type Metadata struct {
	FileName    string
	ChunkSize   uint32
	TotalChunks uint32
}

// LastSeq returns the highest sequence number of the session.
func (m Metadata) LastSeq() uint32 {
	return m.TotalChunks - 1
}

// Chunk is one sequence-numbered slice of the source file.
type Chunk struct {
	Seq     uint32
	Payload []byte
}

// EncodeMetadata builds the fixed-size metadata packet.
// Format: [chunk_size (4 bytes)][total_chunks (4 bytes)][file_name (256 bytes, null padded)]
// Names longer than MaxFileNameLength are truncated on a UTF-8 boundary, so
// the field always ends in at least one NUL.
func EncodeMetadata(fileName string, chunkSize, totalChunks uint32) ([]byte, error) {
	name := truncateUTF8(fileName, limits.MaxFileNameLength)
	if len(name) == 0 || bytes.IndexByte(name, 0) >= 0 {
		return nil, fmt.Errorf("%w: file name must be non-empty and NUL free", ErrMalformedHeader)
	}
	if err := limits.ValidateChunkSize(int(chunkSize)); err != nil {
		return nil, err
	}
	if err := limits.ValidateTotalChunks(uint64(totalChunks)); err != nil {
		return nil, err
	}

	data := make([]byte, limits.MetadataSize)
	binary.BigEndian.PutUint32(data[0:4], chunkSize)
	binary.BigEndian.PutUint32(data[4:8], totalChunks)
	copy(data[8:], name)

	return data, nil
}

// DecodeMetadata parses a metadata packet. Bytes past MetadataSize are ignored.
func DecodeMetadata(data []byte) (Metadata, error) {
	if len(data) < limits.MetadataSize {
		return Metadata{}, fmt.Errorf("%w: %d bytes, need %d", ErrMalformedHeader, len(data), limits.MetadataSize)
	}

	meta := Metadata{
		ChunkSize:   binary.BigEndian.Uint32(data[0:4]),
		TotalChunks: binary.BigEndian.Uint32(data[4:8]),
	}

	// The name is NUL terminated and the padding is all NULs. A chunk packet
	// that happens to be MetadataSize bytes long rarely has that shape.
	field := data[8:limits.MetadataSize]
	end := bytes.IndexByte(field, 0)
	if end <= 0 {
		return Metadata{}, fmt.Errorf("%w: file name is empty or unterminated", ErrMalformedHeader)
	}
	if len(bytes.TrimLeft(field[end:], "\x00")) != 0 {
		return Metadata{}, fmt.Errorf("%w: file name padding is not zeroed", ErrMalformedHeader)
	}
	name := field[:end]
	if !utf8.Valid(name) {
		return Metadata{}, fmt.Errorf("%w: file name is not valid UTF-8", ErrMalformedHeader)
	}
	meta.FileName = string(name)

	if meta.ChunkSize == 0 || meta.ChunkSize > limits.MaxChunkPayload {
		return Metadata{}, fmt.Errorf("%w: chunk size %d", ErrMalformedHeader, meta.ChunkSize)
	}
	if meta.TotalChunks == 0 || meta.TotalChunks > limits.MaxTotalChunks {
		return Metadata{}, fmt.Errorf("%w: total chunks %d", ErrMalformedHeader, meta.TotalChunks)
	}

	return meta, nil
}

// EncodeChunk builds a chunk packet.
// Format: [seq_num (4 bytes)][payload_length (4 bytes)][payload]
func EncodeChunk(seq uint32, payload []byte) []byte {
	data := make([]byte, limits.ChunkHeaderSize+len(payload))
	binary.BigEndian.PutUint32(data[0:4], seq)
	binary.BigEndian.PutUint32(data[4:8], uint32(len(payload)))
	copy(data[limits.ChunkHeaderSize:], payload)
	return data
}

// DecodeChunk parses a chunk packet. Trailing bytes past payload_length are
// ignored. The returned payload is a copy and does not alias data.
func DecodeChunk(data []byte) (Chunk, error) {
	if len(data) < limits.ChunkHeaderSize {
		return Chunk{}, fmt.Errorf("%w: %d bytes, need %d header bytes", ErrMalformedPacket, len(data), limits.ChunkHeaderSize)
	}

	seq := binary.BigEndian.Uint32(data[0:4])
	length := binary.BigEndian.Uint32(data[4:8])

	remaining := uint64(len(data) - limits.ChunkHeaderSize)
	if uint64(length) > remaining {
		return Chunk{}, fmt.Errorf("%w: seq %d declares %d payload bytes, %d present", ErrMalformedPacket, seq, length, remaining)
	}

	payload := make([]byte, length)
	copy(payload, data[limits.ChunkHeaderSize:limits.ChunkHeaderSize+int(length)])

	return Chunk{Seq: seq, Payload: payload}, nil
}

// EncodeAck serializes a missing set as big-endian int32 values.
// An empty missing set encodes to an empty datagram.
func EncodeAck(missing []int32) []byte {
	data := make([]byte, limits.AckEntrySize*len(missing))
	for i, seq := range missing {
		binary.BigEndian.PutUint32(data[i*limits.AckEntrySize:], uint32(seq))
	}
	return data
}

// DecodeAck parses an acknowledgment produced by EncodeAck.
func DecodeAck(data []byte) ([]int32, error) {
	if len(data)%limits.AckEntrySize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedAck, len(data), limits.AckEntrySize)
	}

	missing := make([]int32, len(data)/limits.AckEntrySize)
	for i := range missing {
		missing[i] = int32(binary.BigEndian.Uint32(data[i*limits.AckEntrySize:]))
	}
	return missing, nil
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune. Invalid
// sequences are replaced so the receiver can always decode the field.
func truncateUTF8(s string, n int) []byte {
	s = strings.ToValidUTF8(s, "_")
	if len(s) <= n {
		return []byte(s)
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return []byte(s[:n])
}
