package session

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrAckTimeout indicates the retry budget ran out without an acknowledgment.
	ErrAckTimeout = errors.New("acknowledgment timed out")

	// ErrPartialTimeout indicates the receiver saw no chunk traffic for the
	// receive timeout before every chunk arrived.
	ErrPartialTimeout = errors.New("transfer incomplete: receive timed out")

	// ErrFileNotFound indicates the source file does not exist.
	ErrFileNotFound = errors.New("source file not found")

	// ErrInvalidOptions indicates an unusable session configuration.
	ErrInvalidOptions = errors.New("invalid options")

	// ErrFileChanged indicates the source file shrank while it was being read.
	ErrFileChanged = errors.New("source file changed during transfer")
)

// AckTimeoutError reports an exhausted retry budget together with the
// sequence number that was outstanding.
type AckTimeoutError struct {
	Seq      uint32        // in-flight frontier sequence number
	Attempts int           // consecutive timeouts observed
	Timeout  time.Duration // wait per attempt
}

func (e *AckTimeoutError) Error() string {
	return fmt.Sprintf("%v: seq %d outstanding after %d attempts of %v", ErrAckTimeout, e.Seq, e.Attempts, e.Timeout)
}

func (e *AckTimeoutError) Unwrap() error {
	return ErrAckTimeout
}

// PartialTimeoutError reports which chunks never arrived. Path is set when the
// partial file was still written.
type PartialTimeoutError struct {
	Missing []uint32
	Path    string
}

func (e *PartialTimeoutError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%v: %d chunks missing, partial file at %s", ErrPartialTimeout, len(e.Missing), e.Path)
	}
	return fmt.Sprintf("%v: %d chunks missing", ErrPartialTimeout, len(e.Missing))
}

func (e *PartialTimeoutError) Unwrap() error {
	return ErrPartialTimeout
}
