// Package limits provides wire size constants and validation functions for the
// udpxfer protocol. This package ensures consistent size enforcement across the
// codec, the sending session and the receiving session.
//
// # Size Hierarchy
//
//   - MaxDatagram (65507 bytes): the largest UDP payload of a single IPv4 datagram.
//     Every packet the protocol emits must fit in one datagram.
//
//   - MetadataSize (264 bytes): the fixed metadata handshake, two big-endian uint32
//     fields followed by a 256 byte null-padded filename.
//
//   - MaxChunkPayload (65499 bytes): MaxDatagram minus the 8 byte chunk header.
//
//   - MaxAckEntries (16376): the number of int32 missing sequence numbers a single
//     ack datagram can carry.
//
// # Validation Functions
//
//	if err := limits.ValidateChunkSize(opts.ChunkSize); err != nil {
//	    return err
//	}
//
// All validation errors wrap a sentinel so callers can use errors.Is:
//
//	if errors.Is(err, limits.ErrChunkSizeInvalid) {
//	    // reject configuration
//	}
package limits
