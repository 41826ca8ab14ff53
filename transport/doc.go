// Package transport implements the datagram layer of the udpxfer protocol:
// the binary codec for the three packet kinds and the UDP endpoint both session
// roles send and receive through.
//
// # Wire Format
//
// All integers are big-endian (network byte order).
//
//	Metadata  [chunk_size u32][total_chunks u32][file_name 256 bytes, null padded]
//	Chunk     [seq_num u32][payload_length u32][payload]
//	Ack       [missing_seq i32]...            (empty = nothing missing)
//
// The metadata packet is always limits.MetadataSize bytes and is the first
// datagram of a session. Chunk payloads are limits.ChunkHeaderSize bytes
// shorter than the datagram that carries them. An ack carries at most
// limits.MaxAckEntries sequence numbers.
//
// # Codec
//
//	meta, err := transport.EncodeMetadata("report.pdf", 4096, 3)
//	packet := transport.EncodeChunk(0, payload)
//	chunk, err := transport.DecodeChunk(packet)
//	if errors.Is(err, transport.ErrMalformedPacket) {
//	    // skip and keep receiving
//	}
//
// # UDP Transport
//
// UDPTransport wraps a net.PacketConn. Receive blocks with an explicit timeout
// and honours context cancellation between short read-deadline slices:
//
//	t, err := transport.NewUDPTransport(":9999", 8<<20)
//	dg, err := t.Receive(ctx, 10*time.Second)
//	if errors.Is(err, transport.ErrTimeout) {
//	    // peer went quiet
//	}
//
// Drain empties the socket receive queue before a new session starts. On
// Linux it uses recvmmsg through golang.org/x/net/ipv4 and ipv6 batch reads.
//
// # Fault Injection
//
// LossyTransport wraps any Transport and drops, corrupts or duplicates
// outgoing datagrams according to a FaultFunc. It backs the tests and the
// command's -drop-rate experiment flag:
//
//	lossy := transport.NewLossyTransport(t, transport.RandomDrop(0.05, 1))
package transport
