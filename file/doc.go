// Package file implements the receive-side storage of udpxfer transfers:
// the session-owned chunk map, reassembly of chunks into a file on disk, and
// progress tracking shared by both session roles.
//
// # Overview
//
// The file package provides three primary components:
//
//   - ChunkMap: the receiver's arena of accepted payloads keyed by sequence
//     number, with idempotent insertion and missing-set computation
//   - Assembler: writes a ChunkMap to a collision-free path in one ordered
//     pass, reporting gaps, throughput and a BLAKE2b-256 digest
//   - Progress: byte counters with an exponential moving average speed and
//     an optional callback
//
// # Chunk Map
//
//	chunks := file.NewChunkMap(meta.TotalChunks)
//	added, err := chunks.Insert(seq, payload) // added is false for duplicates
//	missing := chunks.Missing()               // ascending, empty when complete
//
// # Assembly
//
//	assembler := file.NewAssembler()
//	assembly, err := assembler.Assemble("received", meta, chunks, startedAt)
//	if err != nil {
//	    return err
//	}
//	if !assembly.Complete() {
//	    log.Printf("gaps at %v", assembly.Gaps)
//	}
//
// The destination name comes from the metadata label passed through
// SanitizeFileName. If a file already exists there, UniqueFilePath appends an
// increasing counter to the stem's base (the part before its first
// underscore): "data.bin" becomes "data_1.bin", then "data_2.bin".
//
// Before writing, the free space of the target filesystem is checked with
// statfs (golang.org/x/sys/unix) where the platform supports it.
//
// # Deterministic Testing
//
// Progress and Assembler accept a TimeProvider so speed and elapsed-time
// figures can be tested without sleeping.
package file
