package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/opd-ai/udpxfer/limits"
)

func TestNewOptions_Defaults(t *testing.T) {
	opts := NewOptions()

	assert.Equal(t, 4096, opts.ChunkSize)
	assert.Equal(t, 500*time.Millisecond, opts.AckTimeout)
	assert.Equal(t, 5, opts.MaxRetries)
	assert.Equal(t, 10*time.Second, opts.ReceiveTimeout)
	assert.False(t, opts.RequireComplete)
	assert.NoError(t, opts.Validate())
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"zero chunk size", func(o *Options) { o.ChunkSize = 0 }},
		{"oversized chunk", func(o *Options) { o.ChunkSize = limits.MaxChunkPayload + 1 }},
		{"negative pacing", func(o *Options) { o.PacingInterval = -time.Millisecond }},
		{"zero ack timeout", func(o *Options) { o.AckTimeout = 0 }},
		{"zero retries", func(o *Options) { o.MaxRetries = 0 }},
		{"zero receive timeout", func(o *Options) { o.ReceiveTimeout = 0 }},
		{"zero poll interval", func(o *Options) { o.MetadataPollInterval = 0 }},
		{"negative linger", func(o *Options) { o.CompletionLinger = -time.Second }},
		{"negative read buffer", func(o *Options) { o.ReadBufferSize = -1 }},
		{"negative drain wait", func(o *Options) { o.DrainWait = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := NewOptions()
			tt.modify(opts)
			assert.ErrorIs(t, opts.Validate(), ErrInvalidOptions)
		})
	}
}

func TestOptions_MaxChunkAccepted(t *testing.T) {
	opts := NewOptions()
	opts.ChunkSize = limits.MaxChunkPayload
	assert.NoError(t, opts.Validate())
}

func TestStates_String(t *testing.T) {
	assert.Equal(t, "awaiting_ack", SenderAwaitingAck.String())
	assert.Equal(t, "failed", SenderFailed.String())
	assert.Equal(t, "unknown", SenderState(99).String())
	assert.Equal(t, "partial_timeout", ReceiverPartialTimeout.String())
	assert.Equal(t, "waiting_metadata", ReceiverWaitingMetadata.String())
}

func TestErrors_Messages(t *testing.T) {
	ackErr := &AckTimeoutError{Seq: 4, Attempts: 5, Timeout: time.Second}
	assert.Contains(t, ackErr.Error(), "seq 4")
	assert.ErrorIs(t, ackErr, ErrAckTimeout)

	partial := &PartialTimeoutError{Missing: []uint32{1, 2}, Path: "/tmp/x"}
	assert.Contains(t, partial.Error(), "2 chunks missing")
	assert.Contains(t, partial.Error(), "/tmp/x")
	assert.ErrorIs(t, partial, ErrPartialTimeout)
}
