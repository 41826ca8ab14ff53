package session

import (
	"fmt"
	"time"

	"github.com/opd-ai/udpxfer/limits"
)

// Options contains session configuration shared by both roles.
type Options struct {
	// ChunkSize is the payload size of every chunk but the last.
	ChunkSize int
	// PacingInterval is slept between consecutive chunk sends. Zero disables pacing.
	PacingInterval time.Duration
	// AckTimeout is how long the sender waits for each acknowledgment (T_ack).
	AckTimeout time.Duration
	// MaxRetries is the number of consecutive ack timeouts that fail a transfer.
	MaxRetries int

	// ReceiveTimeout ends a receiving session when no chunk arrives for this long (T_recv).
	ReceiveTimeout time.Duration
	// MetadataPollInterval is how often an idle receiver re-checks for cancellation.
	MetadataPollInterval time.Duration
	// CompletionLinger keeps answering late frontier resends after completion.
	CompletionLinger time.Duration
	// RequireComplete discards incomplete transfers instead of writing a partial file.
	RequireComplete bool

	// ReadBufferSize is the requested socket receive buffer in bytes.
	ReadBufferSize int
	// DrainWait is how long the stale-datagram flush waits for stragglers.
	DrainWait time.Duration

	// OnSendProgress is called with payload bytes sent on the first pass.
	OnSendProgress func(sent, total uint64)
	// OnReceiveProgress is called with the number of distinct chunks received.
	OnReceiveProgress func(received, total uint64)
	// OnSession is called by Server after every receiving session.
	OnSession func(report *ReceiveReport, err error)
}

// NewOptions creates a new Options instance with default values.
func NewOptions() *Options {
	return &Options{
		ChunkSize:            4096,
		PacingInterval:       time.Millisecond,
		AckTimeout:           500 * time.Millisecond,
		MaxRetries:           5,
		ReceiveTimeout:       10 * time.Second,
		MetadataPollInterval: time.Second,
		CompletionLinger:     time.Second,
		ReadBufferSize:       8 << 20,
		DrainWait:            10 * time.Millisecond,
	}
}

// Validate checks every field and returns the first problem found.
func (o *Options) Validate() error {
	if err := limits.ValidateChunkSize(o.ChunkSize); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}

	switch {
	case o.PacingInterval < 0:
		return fmt.Errorf("%w: pacing interval cannot be negative", ErrInvalidOptions)
	case o.AckTimeout <= 0:
		return fmt.Errorf("%w: ack timeout must be positive", ErrInvalidOptions)
	case o.MaxRetries < 1:
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidOptions)
	case o.ReceiveTimeout <= 0:
		return fmt.Errorf("%w: receive timeout must be positive", ErrInvalidOptions)
	case o.MetadataPollInterval <= 0:
		return fmt.Errorf("%w: metadata poll interval must be positive", ErrInvalidOptions)
	case o.CompletionLinger < 0:
		return fmt.Errorf("%w: completion linger cannot be negative", ErrInvalidOptions)
	case o.ReadBufferSize < 0:
		return fmt.Errorf("%w: read buffer size cannot be negative", ErrInvalidOptions)
	case o.DrainWait < 0:
		return fmt.Errorf("%w: drain wait cannot be negative", ErrInvalidOptions)
	}
	return nil
}

// orDefault returns opts, or the defaults when opts is nil.
func orDefault(opts *Options) *Options {
	if opts == nil {
		return NewOptions()
	}
	return opts
}
