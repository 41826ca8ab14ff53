package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/opd-ai/udpxfer/file"
	"github.com/opd-ai/udpxfer/limits"
	"github.com/opd-ai/udpxfer/transport"
)

// lostMarker is recorded in SendReport.Losses for a round that ended without
// any acknowledgment.
const lostMarker int32 = -1

// SendReport summarizes one sending session.
type SendReport struct {
	SessionID   uuid.UUID
	FileName    string
	FileSize    uint64
	ChunkSize   int
	TotalChunks uint32
	State       SenderState

	// Rounds counts acknowledgments received.
	Rounds int
	// Losses holds the missing list of every round in order. A round that
	// timed out for good is recorded as [-1].
	Losses [][]int32
	// Retransmitted counts chunk packets resent after the first pass.
	Retransmitted int
	// Digest is the BLAKE2b-256 of the source bytes.
	Digest  []byte
	Elapsed time.Duration
}

// Success reports whether the receiver confirmed every chunk.
func (r *SendReport) Success() bool {
	return r.State == SenderComplete
}

// Sender pushes files to a single peer over a Transport.
type Sender struct {
	transport transport.Transport
	peer      net.Addr
	opts      *Options
}

// NewSender creates a sender targeting peer. A nil opts uses NewOptions.
func NewSender(t transport.Transport, peer net.Addr, opts *Options) (*Sender, error) {
	opts = orDefault(opts)
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Sender{transport: t, peer: peer, opts: opts}, nil
}

// sendSession is the state of one SendFile call. packets keeps every encoded
// chunk so retransmissions never touch the file again.
type sendSession struct {
	*Sender
	report   *SendReport
	packets  map[uint32][]byte
	progress *file.Progress
	log      *logrus.Entry
}

// SendFile transfers the file at path and waits until the receiver confirms
// completion or the retry budget runs out. The returned report is non-nil
// whenever the session got past opening the file.
func (s *Sender) SendFile(ctx context.Context, path string) (*SendReport, error) {
	start := time.Now()

	f, info, err := openSource(path)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "SendFile",
			"path":     path,
			"error":    err.Error(),
		}).Error("Cannot open source file")
		return nil, err
	}
	defer f.Close()

	size := uint64(info.Size())
	total := limits.TotalChunks(size, s.opts.ChunkSize)
	if err := limits.ValidateTotalChunks(total); err != nil {
		return nil, err
	}

	ss := &sendSession{
		Sender: s,
		report: &SendReport{
			SessionID:   uuid.New(),
			FileName:    filepath.Base(path),
			FileSize:    size,
			ChunkSize:   s.opts.ChunkSize,
			TotalChunks: uint32(total),
			State:       SenderIdle,
		},
		packets:  make(map[uint32][]byte, total),
		progress: file.NewProgress(size),
	}
	if s.opts.OnSendProgress != nil {
		ss.progress.OnProgress(s.opts.OnSendProgress)
	}
	ss.log = logrus.WithFields(logrus.Fields{
		"session_id": ss.report.SessionID.String(),
		"peer":       s.peer.String(),
	})

	ss.log.WithFields(logrus.Fields{
		"function":     "SendFile",
		"file_name":    ss.report.FileName,
		"file_size":    size,
		"chunk_size":   s.opts.ChunkSize,
		"total_chunks": total,
	}).Info("Starting transfer")

	err = ss.run(ctx, f)
	ss.report.Elapsed = time.Since(start)

	fields := logrus.Fields{
		"function":      "SendFile",
		"state":         ss.report.State.String(),
		"rounds":        ss.report.Rounds,
		"retransmitted": ss.report.Retransmitted,
		"elapsed":       ss.report.Elapsed,
	}
	if err != nil {
		fields["error"] = err.Error()
		ss.log.WithFields(fields).Error("Transfer failed")
	} else {
		ss.log.WithFields(fields).Info("Transfer complete")
	}

	return ss.report, err
}

func openSource(path string) (*os.File, fs.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, fmt.Errorf("%w: %w", ErrFileNotFound, err)
		}
		return nil, nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is not a regular file", path)
	}
	return f, info, nil
}

func (ss *sendSession) run(ctx context.Context, src io.Reader) error {
	meta, err := transport.EncodeMetadata(ss.report.FileName, uint32(ss.opts.ChunkSize), ss.report.TotalChunks)
	if err != nil {
		return ss.fail(err)
	}
	if err := ss.send(meta); err != nil {
		return ss.fail(fmt.Errorf("send metadata: %w", err))
	}
	ss.report.State = SenderMetadataSent

	if err := ss.sendAll(ctx, src); err != nil {
		return ss.fail(err)
	}
	ss.report.State = SenderChunksSent

	return ss.awaitCompletion(ctx)
}

// sendAll reads the source once, in order, sending each chunk as it is read.
func (ss *sendSession) sendAll(ctx context.Context, src io.Reader) error {
	hasher, err := blake2b.New256(nil)
	if err != nil {
		return err
	}

	total := ss.report.TotalChunks
	buf := make([]byte, ss.opts.ChunkSize)
	remaining := ss.report.FileSize

	for seq := uint32(0); seq < total; seq++ {
		want := uint64(len(buf))
		if remaining < want {
			want = remaining
		}

		n, err := io.ReadFull(src, buf[:want])
		if err != nil && !(errors.Is(err, io.EOF) && want == 0) {
			return fmt.Errorf("%w: chunk %d: %w", ErrFileChanged, seq, err)
		}
		remaining -= uint64(n)
		hasher.Write(buf[:n])

		packet := transport.EncodeChunk(seq, buf[:n])
		ss.packets[seq] = packet
		if err := ss.send(packet); err != nil {
			return fmt.Errorf("send chunk %d: %w", seq, err)
		}
		ss.progress.Add(uint64(n))

		if err := pace(ctx, ss.opts.PacingInterval); err != nil {
			return err
		}
	}

	ss.report.Digest = hasher.Sum(nil)

	ss.log.WithFields(logrus.Fields{
		"function":     "SendFile",
		"total_chunks": total,
		"bytes":        ss.progress.Transferred(),
		"speed":        ss.progress.Speed(),
	}).Debug("First pass complete")

	return nil
}

// awaitCompletion runs acknowledgment rounds until the receiver reports an
// empty missing set.
func (ss *sendSession) awaitCompletion(ctx context.Context) error {
	last := ss.report.TotalChunks - 1

	for {
		ss.report.State = SenderAwaitingAck

		frontier := last
		retry := func(attempt int) error {
			ss.log.WithFields(logrus.Fields{
				"function": "SendFile",
				"seq_num":  frontier,
				"attempt":  attempt,
			}).Debug("Ack timeout, re-sending frontier chunk")
			return ss.resend(frontier)
		}

		missing, err := AwaitWithRetry(ctx, ss.transport.Receive, retry, ss.decodeAck, ss.opts.AckTimeout, ss.opts.MaxRetries, frontier)
		if err != nil {
			var timeoutErr *AckTimeoutError
			if errors.As(err, &timeoutErr) {
				ss.report.Losses = append(ss.report.Losses, []int32{lostMarker})
			}
			return ss.fail(err)
		}

		ss.report.Rounds++
		ss.report.Losses = append(ss.report.Losses, missing)

		if len(missing) == 0 {
			ss.report.State = SenderComplete
			return nil
		}

		ss.report.State = SenderRetransmitting
		ss.log.WithFields(logrus.Fields{
			"function": "SendFile",
			"round":    ss.report.Rounds,
			"missing":  len(missing),
		}).Info("Retransmitting missing chunks")

		for _, seq := range missing {
			if err := ss.resend(uint32(seq)); err != nil {
				return ss.fail(err)
			}
			ss.report.Retransmitted++
			if err := pace(ctx, ss.opts.PacingInterval); err != nil {
				return ss.fail(err)
			}
		}

		last = uint32(maxSeq(missing))
	}
}

// decodeAck accepts acknowledgments whose entries all name a chunk of this
// session.
func (ss *sendSession) decodeAck(dg transport.Datagram) ([]int32, error) {
	missing, err := transport.DecodeAck(dg.Data)
	if err != nil {
		return nil, err
	}
	for _, seq := range missing {
		if seq < 0 || uint32(seq) >= ss.report.TotalChunks {
			return nil, fmt.Errorf("%w: seq %d outside [0, %d)", transport.ErrMalformedAck, seq, ss.report.TotalChunks)
		}
	}
	return missing, nil
}

func (ss *sendSession) resend(seq uint32) error {
	packet, ok := ss.packets[seq]
	if !ok {
		return fmt.Errorf("no stored packet for chunk %d", seq)
	}
	if err := ss.send(packet); err != nil {
		return fmt.Errorf("resend chunk %d: %w", seq, err)
	}
	return nil
}

// send refuses packets that could not travel as one datagram.
func (ss *sendSession) send(packet []byte) error {
	if err := limits.ValidateDatagram(packet); err != nil {
		return err
	}
	return ss.transport.Send(packet, ss.peer)
}

func (ss *sendSession) fail(err error) error {
	ss.report.State = SenderFailed
	return err
}

func maxSeq(seqs []int32) int32 {
	highest := seqs[0]
	for _, s := range seqs[1:] {
		if s > highest {
			highest = s
		}
	}
	return highest
}

// pace sleeps for d unless ctx is cancelled first.
func pace(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
