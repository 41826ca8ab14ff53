// Package limits provides centralized wire size limits for the udpxfer protocol.
// This ensures consistent validation across the codec, the sender and the receiver.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagram is the largest UDP payload that fits in a single IPv4 datagram
	// (65535 - 8 byte UDP header - 20 byte IP header).
	MaxDatagram = 65507

	// ChunkHeaderSize is the size of the chunk header: seq_num and payload_length,
	// both big-endian uint32.
	ChunkHeaderSize = 8

	// FileNameFieldSize is the fixed width of the null-padded filename field
	// in the metadata packet.
	FileNameFieldSize = 256

	// MaxFileNameLength is the longest file name label the metadata packet
	// carries. The last byte of the field is always a NUL terminator.
	MaxFileNameLength = FileNameFieldSize - 1

	// MetadataSize is the fixed size of the metadata packet:
	// chunk_payload_size (4) + total_chunks (4) + filename (256).
	MetadataSize = 8 + FileNameFieldSize

	// MaxChunkPayload is the largest chunk payload that still fits in one datagram
	// together with its header.
	MaxChunkPayload = MaxDatagram - ChunkHeaderSize

	// AckEntrySize is the width of one missing sequence number in an ack.
	AckEntrySize = 4

	// MaxAckEntries is the number of missing sequence numbers a single ack
	// datagram can carry.
	MaxAckEntries = MaxDatagram / AckEntrySize

	// MaxTotalChunks bounds the chunk address space so every seq_num fits in the
	// signed 32-bit ack encoding.
	MaxTotalChunks = 1<<31 - 1
)

var (
	// ErrChunkSizeInvalid indicates a chunk payload size outside 1..MaxChunkPayload
	ErrChunkSizeInvalid = errors.New("invalid chunk payload size")

	// ErrTooManyChunks indicates the file needs more chunks than the protocol can address
	ErrTooManyChunks = errors.New("too many chunks")

	// ErrDatagramTooLarge indicates an encoded packet does not fit in one datagram
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// ValidateChunkSize validates a chunk payload size.
// Returns an error with context including the actual size and the accepted range.
func ValidateChunkSize(size int) error {
	if size < 1 || size > MaxChunkPayload {
		return fmt.Errorf("%w: size %d outside 1..%d", ErrChunkSizeInvalid, size, MaxChunkPayload)
	}
	return nil
}

// ValidateTotalChunks validates that a chunk count is addressable.
func ValidateTotalChunks(total uint64) error {
	if total == 0 || total > MaxTotalChunks {
		return fmt.Errorf("%w: %d chunks outside 1..%d", ErrTooManyChunks, total, MaxTotalChunks)
	}
	return nil
}

// ValidateDatagram validates an encoded packet against MaxDatagram.
func ValidateDatagram(packet []byte) error {
	if len(packet) > MaxDatagram {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(packet), MaxDatagram)
	}
	return nil
}

// TotalChunks returns the number of chunks needed to carry fileSize bytes in
// chunkSize payloads. An empty file still occupies one (empty) chunk so that
// the chunk address space is never empty.
func TotalChunks(fileSize uint64, chunkSize int) uint64 {
	if chunkSize <= 0 {
		return 0
	}
	if fileSize == 0 {
		return 1
	}
	cs := uint64(chunkSize)
	return (fileSize + cs - 1) / cs
}
