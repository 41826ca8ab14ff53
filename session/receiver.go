package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/udpxfer/file"
	"github.com/opd-ai/udpxfer/limits"
	"github.com/opd-ai/udpxfer/transport"
)

// maxAckEntries caps the missing list carried by one acknowledgment.
var maxAckEntries = limits.MaxAckEntries

var (
	errForeignPeer       = errors.New("datagram from another peer")
	errDuplicateMetadata = errors.New("duplicate metadata")
	errChunkOutOfRange   = errors.New("chunk outside session range")
	errChunkLength       = errors.New("chunk length does not match session chunk size")
)

// ReceiveReport summarizes one receiving session.
type ReceiveReport struct {
	SessionID uuid.UUID
	Peer      net.Addr
	Metadata  transport.Metadata
	State     ReceiverState

	Received   int // distinct chunks stored
	Duplicates int
	Rejected   int // malformed or inconsistent chunk packets
	AcksSent   int

	// Missing lists chunks that never arrived when the session ended early.
	Missing []uint32
	// Assembly describes the written file. It is nil when nothing was written.
	Assembly *file.Assembly
}

// Complete reports whether every chunk arrived and the file was written.
func (r *ReceiveReport) Complete() bool {
	return r.State == ReceiverComplete && r.Assembly != nil
}

// Receiver accepts transfers on a Transport, one session at a time.
type Receiver struct {
	transport transport.Transport
	targetDir string
	opts      *Options
	assembler *file.Assembler

	// pending holds a metadata datagram that arrived while the previous
	// session was lingering.
	pending *transport.Datagram
}

// NewReceiver creates a receiver writing into targetDir. A nil opts uses
// NewOptions.
func NewReceiver(t transport.Transport, targetDir string, opts *Options) (*Receiver, error) {
	opts = orDefault(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Receiver{
		transport: t,
		targetDir: targetDir,
		opts:      opts,
		assembler: file.NewAssembler(),
	}, nil
}

// recvSession is the state of one ReceiveOne call.
type recvSession struct {
	*Receiver
	report   *ReceiveReport
	chunks   *file.ChunkMap
	frontier uint32
	answered map[uint32]bool
	started  time.Time
	progress *file.Progress
	log      *logrus.Entry
}

// ReceiveOne flushes stale datagrams, waits for a metadata handshake and
// runs the session it opens to a terminal state. It blocks until ctx is
// cancelled if no sender shows up. The report is nil only when no session
// was opened.
func (r *Receiver) ReceiveOne(ctx context.Context) (*ReceiveReport, error) {
	if r.pending == nil {
		if _, err := r.transport.Drain(); err != nil {
			return nil, fmt.Errorf("drain stale datagrams: %w", err)
		}
	}

	meta, peer, err := r.awaitMetadata(ctx)
	if err != nil {
		return nil, err
	}

	rs := &recvSession{
		Receiver: r,
		report: &ReceiveReport{
			SessionID: uuid.New(),
			Peer:      peer,
			Metadata:  meta,
			State:     ReceiverReceiving,
		},
		chunks:   file.NewChunkMap(meta.TotalChunks),
		frontier: meta.LastSeq(),
		answered: make(map[uint32]bool),
		started:  time.Now(),
		progress: file.NewProgress(uint64(meta.TotalChunks)),
	}
	if r.opts.OnReceiveProgress != nil {
		rs.progress.OnProgress(r.opts.OnReceiveProgress)
	}
	rs.log = logrus.WithFields(logrus.Fields{
		"session_id": rs.report.SessionID.String(),
		"peer":       peer.String(),
	})

	rs.log.WithFields(logrus.Fields{
		"function":     "ReceiveOne",
		"file_name":    meta.FileName,
		"chunk_size":   meta.ChunkSize,
		"total_chunks": meta.TotalChunks,
	}).Info("Session opened")

	return rs.report, rs.run(ctx)
}

// awaitMetadata polls until a well-formed metadata packet arrives. Anything
// else is discarded.
func (r *Receiver) awaitMetadata(ctx context.Context) (transport.Metadata, net.Addr, error) {
	if r.pending != nil {
		dg := *r.pending
		r.pending = nil
		if meta, err := parseMetadata(dg); err == nil {
			return meta, dg.Addr, nil
		}
	}

	for {
		dg, err := r.transport.Receive(ctx, r.opts.MetadataPollInterval)
		if errors.Is(err, transport.ErrTimeout) {
			continue
		}
		if err != nil {
			return transport.Metadata{}, nil, err
		}

		meta, err := parseMetadata(dg)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "ReceiveOne",
				"from":     dg.Addr.String(),
				"size":     len(dg.Data),
				"error":    err.Error(),
			}).Warn("Discarding datagram while waiting for metadata")
			continue
		}
		return meta, dg.Addr, nil
	}
}

// parseMetadata accepts only datagrams of exactly the metadata size.
func parseMetadata(dg transport.Datagram) (transport.Metadata, error) {
	if len(dg.Data) != limits.MetadataSize {
		return transport.Metadata{}, fmt.Errorf("%w: %d bytes, want %d", transport.ErrMalformedHeader, len(dg.Data), limits.MetadataSize)
	}
	return transport.DecodeMetadata(dg.Data)
}

func (rs *recvSession) run(ctx context.Context) error {
	for {
		chunk, err := AwaitWithRetry(ctx, rs.transport.Receive, nil, rs.decodeChunk, rs.opts.ReceiveTimeout, 1, rs.frontier)
		if err != nil {
			var timeoutErr *AckTimeoutError
			if errors.As(err, &timeoutErr) {
				return rs.partial()
			}
			return rs.abort(err)
		}

		added, err := rs.chunks.Insert(chunk.Seq, chunk.Payload)
		if err != nil {
			return rs.abort(err)
		}
		if added {
			rs.report.Received++
			rs.progress.Add(1)
		} else {
			rs.report.Duplicates++
		}

		// A repeat of an earlier frontier means its ack was lost and the
		// sender is still waiting on it.
		if chunk.Seq != rs.frontier && (added || !rs.answered[chunk.Seq]) {
			continue
		}

		rs.answered[chunk.Seq] = true
		if err := rs.acknowledge(rs.chunks.Missing()); err != nil {
			return rs.abort(err)
		}
		if rs.chunks.Complete() {
			return rs.complete(ctx)
		}
	}
}

// decodeChunk accepts chunk packets from the session peer that fit the
// negotiated geometry. Rejections are logged and do not reset the receive
// timeout.
func (rs *recvSession) decodeChunk(dg transport.Datagram) (transport.Chunk, error) {
	if dg.Addr.String() != rs.report.Peer.String() {
		return transport.Chunk{}, fmt.Errorf("%w: %s", errForeignPeer, dg.Addr)
	}

	if len(dg.Data) == limits.MetadataSize {
		if meta, err := transport.DecodeMetadata(dg.Data); err == nil && meta == rs.report.Metadata {
			rs.log.WithFields(logrus.Fields{
				"function": "ReceiveOne",
			}).Debug("Ignoring repeated metadata")
			return transport.Chunk{}, errDuplicateMetadata
		}
	}

	chunk, err := transport.DecodeChunk(dg.Data)
	if err == nil {
		err = rs.checkGeometry(chunk)
	}
	if err != nil {
		rs.report.Rejected++
		rs.log.WithFields(logrus.Fields{
			"function": "ReceiveOne",
			"size":     len(dg.Data),
			"error":    err.Error(),
		}).Warn("Rejecting chunk packet")
		return transport.Chunk{}, err
	}
	return chunk, nil
}

// checkGeometry requires every chunk but the last to be exactly ChunkSize
// bytes and the last to be at most ChunkSize.
func (rs *recvSession) checkGeometry(chunk transport.Chunk) error {
	meta := rs.report.Metadata
	if chunk.Seq >= meta.TotalChunks {
		return fmt.Errorf("%w: seq %d, total %d", errChunkOutOfRange, chunk.Seq, meta.TotalChunks)
	}

	n := uint32(len(chunk.Payload))
	if chunk.Seq < meta.LastSeq() && n != meta.ChunkSize {
		return fmt.Errorf("%w: seq %d has %d bytes, want %d", errChunkLength, chunk.Seq, n, meta.ChunkSize)
	}
	if n > meta.ChunkSize {
		return fmt.Errorf("%w: seq %d has %d bytes, max %d", errChunkLength, chunk.Seq, n, meta.ChunkSize)
	}
	return nil
}

// acknowledge sends the missing set, truncated to what fits in one datagram,
// and moves the frontier to the highest sequence number it names.
func (rs *recvSession) acknowledge(missing []uint32) error {
	if len(missing) > maxAckEntries {
		rs.log.WithFields(logrus.Fields{
			"function": "ReceiveOne",
			"missing":  len(missing),
			"sent":     maxAckEntries,
		}).Debug("Missing set exceeds one ack, sending lowest entries")
		missing = missing[:maxAckEntries]
	}

	entries := make([]int32, len(missing))
	for i, seq := range missing {
		entries[i] = int32(seq)
	}

	if err := rs.transport.Send(transport.EncodeAck(entries), rs.report.Peer); err != nil {
		return fmt.Errorf("send ack: %w", err)
	}
	rs.report.AcksSent++

	if len(missing) > 0 {
		rs.frontier = missing[len(missing)-1]
	}

	rs.log.WithFields(logrus.Fields{
		"function": "ReceiveOne",
		"missing":  len(missing),
		"frontier": rs.frontier,
		"received": rs.chunks.Len(),
		"total":    rs.progress.Total(),
		"eta":      rs.progress.EstimatedTimeRemaining(),
	}).Debug("Ack sent")

	return nil
}

func (rs *recvSession) complete(ctx context.Context) error {
	rs.report.State = ReceiverComplete

	assembly, err := rs.assembler.Assemble(rs.targetDir, rs.report.Metadata, rs.chunks, rs.started)
	if err != nil {
		return err
	}
	rs.report.Assembly = assembly

	rs.linger(ctx)
	return nil
}

// linger answers late frontier resends with an empty ack so a sender whose
// final ack was lost still completes. A metadata packet ends the linger and
// is kept for the next session.
func (rs *recvSession) linger(ctx context.Context) {
	deadline := time.Now().Add(rs.opts.CompletionLinger)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}

		dg, err := rs.transport.Receive(ctx, remaining)
		if err != nil {
			return
		}

		if len(dg.Data) == limits.MetadataSize {
			if meta, err := transport.DecodeMetadata(dg.Data); err == nil && (meta != rs.report.Metadata || dg.Addr.String() != rs.report.Peer.String()) {
				rs.pending = &dg
				return
			}
		}

		if dg.Addr.String() != rs.report.Peer.String() {
			continue
		}
		if _, err := transport.DecodeChunk(dg.Data); err != nil {
			continue
		}

		if err := rs.transport.Send(transport.EncodeAck(nil), rs.report.Peer); err != nil {
			return
		}
		rs.report.AcksSent++
		rs.log.WithFields(logrus.Fields{
			"function": "ReceiveOne",
		}).Debug("Re-sent completion ack")
	}
}

// partial ends a session that went quiet before all chunks arrived. Nothing
// is written when no chunk arrived at all.
func (rs *recvSession) partial() error {
	rs.report.State = ReceiverPartialTimeout
	rs.report.Missing = rs.chunks.Missing()

	rs.log.WithFields(logrus.Fields{
		"function": "ReceiveOne",
		"missing":  len(rs.report.Missing),
		"received": rs.chunks.Len(),
		"timeout":  rs.opts.ReceiveTimeout,
	}).Warn("Receive timed out with chunks missing")

	timeoutErr := &PartialTimeoutError{Missing: rs.report.Missing}
	if rs.opts.RequireComplete || rs.chunks.Len() == 0 {
		return timeoutErr
	}

	assembly, err := rs.assembler.Assemble(rs.targetDir, rs.report.Metadata, rs.chunks, rs.started)
	if err != nil {
		return errors.Join(timeoutErr, err)
	}
	rs.report.Assembly = assembly
	timeoutErr.Path = assembly.Path
	return timeoutErr
}

// abort ends the session on cancellation or a transport failure. Whatever
// arrived is kept on disk unless complete files are required.
func (rs *recvSession) abort(cause error) error {
	rs.report.State = ReceiverAborted
	rs.report.Missing = rs.chunks.Missing()

	rs.log.WithFields(logrus.Fields{
		"function": "ReceiveOne",
		"missing":  len(rs.report.Missing),
		"error":    cause.Error(),
	}).Warn("Session aborted")

	if rs.opts.RequireComplete || rs.chunks.Len() == 0 {
		return cause
	}

	assembly, err := rs.assembler.Assemble(rs.targetDir, rs.report.Metadata, rs.chunks, rs.started)
	if err != nil {
		return errors.Join(cause, err)
	}
	rs.report.Assembly = assembly
	return cause
}
