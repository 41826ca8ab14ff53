package file

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/udpxfer/transport"
)

// maxCreateAttempts bounds retries when another process claims the chosen name
// between the existence check and the exclusive create.
const maxCreateAttempts = 16

// Assembly describes a file written from a chunk map.
type Assembly struct {
	Path         string
	BytesWritten uint64
	// Gaps lists sequence numbers absent from the chunk map; their byte ranges
	// are not present in the output.
	Gaps   []uint32
	Digest []byte // BLAKE2b-256 of the bytes written

	TransferElapsed time.Duration // session start until assembly began
	TotalElapsed    time.Duration // session start until the file was closed
	TransferRate    float64       // bytes per second over TransferElapsed
	TotalRate       float64       // bytes per second over TotalElapsed
}

// Complete reports whether the file was written without gaps.
func (a *Assembly) Complete() bool {
	return len(a.Gaps) == 0
}

// Assembler writes received chunk maps to disk.
type Assembler struct {
	timeProvider TimeProvider
}

// NewAssembler creates an assembler using the real clock.
func NewAssembler() *Assembler {
	return &Assembler{timeProvider: defaultTimeProvider}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
func (a *Assembler) SetTimeProvider(tp TimeProvider) {
	a.timeProvider = tp
}

// Assemble writes chunks to a collision-free file in targetDir, creating the
// directory if needed. Chunks are written in sequence order in one pass;
// missing sequence numbers are skipped, logged and returned in Assembly.Gaps.
// startedAt is when the session began and anchors the throughput metrics.
func (a *Assembler) Assemble(targetDir string, meta transport.Metadata, chunks *ChunkMap, startedAt time.Time) (*Assembly, error) {
	transferElapsed := a.timeProvider.Since(startedAt)

	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "Assemble",
			"target_dir": targetDir,
			"error":      err.Error(),
		}).Error("Failed to create target directory")
		return nil, fmt.Errorf("create target directory: %w", err)
	}

	if err := CheckSpace(targetDir, chunks.Bytes()); err != nil {
		return nil, err
	}

	name, err := SanitizeFileName(meta.FileName)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Assemble",
			"file_name": meta.FileName,
			"fallback":  DefaultFileName,
			"error":     err.Error(),
		}).Warn("Unsafe file name label, using fallback")
		name = DefaultFileName
	}

	f, path, err := createUnique(filepath.Join(targetDir, name))
	if err != nil {
		return nil, err
	}

	assembly, err := a.writeChunks(f, meta, chunks)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", path, closeErr)
	}
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Assemble",
			"path":     path,
			"error":    err.Error(),
		}).Error("Failed to write assembled file")
		return nil, err
	}

	assembly.Path = path
	assembly.TransferElapsed = transferElapsed
	assembly.TotalElapsed = a.timeProvider.Since(startedAt)
	assembly.TransferRate = rate(assembly.BytesWritten, assembly.TransferElapsed)
	assembly.TotalRate = rate(assembly.BytesWritten, assembly.TotalElapsed)

	logrus.WithFields(logrus.Fields{
		"function":                "Assemble",
		"path":                    path,
		"file_name":               meta.FileName,
		"bytes_written":           assembly.BytesWritten,
		"total_chunks":            meta.TotalChunks,
		"gaps":                    len(assembly.Gaps),
		"transfer_elapsed":        assembly.TransferElapsed,
		"total_elapsed":           assembly.TotalElapsed,
		"measured_transfer_speed": assembly.TransferRate,
		"measured_total_speed":    assembly.TotalRate,
		"digest":                  fmt.Sprintf("%x", assembly.Digest),
	}).Info("File assembled")

	return assembly, nil
}

// writeChunks streams every present chunk, in order, through a buffered writer
// that also feeds the digest.
func (a *Assembler) writeChunks(f io.Writer, meta transport.Metadata, chunks *ChunkMap) (*Assembly, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}

	w := bufio.NewWriterSize(io.MultiWriter(f, hasher), 256*1024)
	assembly := &Assembly{}

	for seq := uint32(0); seq < meta.TotalChunks; seq++ {
		payload, ok := chunks.Get(seq)
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function": "Assemble",
				"seq_num":  seq,
			}).Warn("Chunk missing, leaving gap in output")
			assembly.Gaps = append(assembly.Gaps, seq)
			continue
		}
		n, err := w.Write(payload)
		assembly.BytesWritten += uint64(n)
		if err != nil {
			return nil, fmt.Errorf("write chunk %d: %w", seq, err)
		}
	}

	if err := w.Flush(); err != nil {
		return nil, fmt.Errorf("flush assembled file: %w", err)
	}

	assembly.Digest = hasher.Sum(nil)
	return assembly, nil
}

// createUnique exclusively creates a file at the first free name derived from
// path, retrying if the name is claimed concurrently.
func createUnique(path string) (*os.File, string, error) {
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		candidate, err := UniqueFilePath(path)
		if err != nil {
			return nil, "", fmt.Errorf("choose destination name: %w", err)
		}

		f, err := os.OpenFile(candidate, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create %s: %w", candidate, err)
		}
	}
	return nil, "", fmt.Errorf("create %s: %w", path, fs.ErrExist)
}

// rate returns bytes per second, or 0 for a zero duration.
func rate(bytes uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytes) / elapsed.Seconds()
}

// Digest returns the BLAKE2b-256 digest of everything read from r.
func Digest(r io.Reader) ([]byte, error) {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(hasher, r); err != nil {
		return nil, err
	}
	return hasher.Sum(nil), nil
}
