package session

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/udpxfer/transport"
)

// peerDriver plays the sender side by hand so acknowledgments can be
// inspected exactly.
type peerDriver struct {
	t    *testing.T
	ep   *memEndpoint
	peer net.Addr
}

func (d *peerDriver) metadata(name string, chunkSize, total uint32) {
	d.t.Helper()
	packet, err := transport.EncodeMetadata(name, chunkSize, total)
	require.NoError(d.t, err)
	require.NoError(d.t, d.ep.Send(packet, d.peer))
}

func (d *peerDriver) chunk(seq uint32, payload []byte) {
	d.t.Helper()
	require.NoError(d.t, d.ep.Send(transport.EncodeChunk(seq, payload), d.peer))
}

func (d *peerDriver) raw(data []byte) {
	d.t.Helper()
	require.NoError(d.t, d.ep.Send(data, d.peer))
}

func (d *peerDriver) ack() []int32 {
	d.t.Helper()
	dg, err := d.ep.Receive(context.Background(), 2*time.Second)
	require.NoError(d.t, err)
	missing, err := transport.DecodeAck(dg.Data)
	require.NoError(d.t, err)
	return missing
}

func (d *peerDriver) noAck() {
	d.t.Helper()
	_, err := d.ep.Receive(context.Background(), 50*time.Millisecond)
	require.ErrorIs(d.t, err, transport.ErrTimeout)
}

// startReceiver runs one ReceiveOne in the background and returns a driver
// bound to it.
func startReceiver(t *testing.T, opts *Options) (*peerDriver, *memEndpoint, string, <-chan receiveResult) {
	t.Helper()
	n := newMemNetwork()
	receiverEP := n.endpoint(receiverPort)
	driver := &peerDriver{t: t, ep: n.endpoint(senderPort), peer: receiverEP.LocalAddr()}

	dir := t.TempDir()
	receiver, err := NewReceiver(receiverEP, dir, opts)
	require.NoError(t, err)

	results := make(chan receiveResult, 1)
	go func() {
		report, err := receiver.ReceiveOne(context.Background())
		results <- receiveResult{report: report, err: err}
	}()
	<-receiverEP.drained

	return driver, receiverEP, dir, results
}

type receiveResult struct {
	report *ReceiveReport
	err    error
}

func TestReceiver_AcksOnlyAtFrontier(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("ordered.bin", 4, 4)
	d.chunk(1, []byte("bbbb"))
	d.noAck()
	d.chunk(3, []byte("dd"))
	assert.Equal(t, []int32{0, 2}, d.ack())

	// 0 is not the frontier, 2 is.
	d.chunk(0, []byte("aaaa"))
	d.noAck()
	d.chunk(2, []byte("cccc"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	data, err := os.ReadFile(res.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbbccccdd", string(data))
}

func TestReceiver_ReordersAndDeduplicates(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("shuffled.bin", 2, 3)
	d.chunk(2, []byte("z"))
	assert.Equal(t, []int32{0, 1}, d.ack())
	d.chunk(1, []byte("yy"))
	assert.Equal(t, []int32{0}, d.ack())
	// 1 was answered before, so its duplicate means that ack was lost.
	d.chunk(1, []byte("yy"))
	assert.Equal(t, []int32{0}, d.ack())
	d.chunk(0, []byte("xx"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, 1, res.report.Duplicates)
	assert.Equal(t, 4, res.report.AcksSent)

	data, err := os.ReadFile(res.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "xxyyz", string(data))
}

func TestReceiver_RejectsInconsistentChunks(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("strict.bin", 4, 2)
	// short non-final chunk
	d.chunk(0, []byte("abc"))
	// final chunk longer than the chunk size
	d.chunk(1, []byte("abcde"))
	// outside the session
	d.chunk(7, []byte("abcd"))
	// truncated header
	d.raw([]byte{0, 0, 0, 1, 0})
	// declared length past the end
	d.raw([]byte{0, 0, 0, 0, 0, 0, 0, 9, 1})
	d.noAck()

	d.chunk(0, []byte("abcd"))
	d.chunk(1, []byte("e"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, 5, res.report.Rejected)
	assert.Equal(t, 2, res.report.Received)
}

func TestReceiver_IgnoresRepeatedMetadata(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("again.bin", 4, 2)
	d.metadata("again.bin", 4, 2)
	d.chunk(0, []byte("1234"))
	d.metadata("again.bin", 4, 2)
	d.chunk(1, []byte("5"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Zero(t, res.report.Rejected)

	data, err := os.ReadFile(res.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "12345", string(data))
}

func TestReceiver_IgnoresForeignPeers(t *testing.T) {
	d, receiverEP, _, results := startReceiver(t, testOptions())
	intruder := &peerDriver{t: t, ep: d.ep.net.endpoint(senderPort + 1), peer: receiverEP.LocalAddr()}

	d.metadata("mine.bin", 4, 1)
	intruder.chunk(0, []byte("evil"))
	intruder.noAck()
	d.chunk(0, []byte("good"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	data, err := os.ReadFile(res.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "good", string(data))
}

func TestReceiver_DiscardsGarbageBeforeMetadata(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.raw([]byte("hello"))
	d.chunk(0, []byte("stale"))
	d.raw(make([]byte, 264)) // zero chunk size
	d.metadata("late.bin", 8, 1)
	d.chunk(0, []byte("payload"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, "late.bin", res.report.Metadata.FileName)
}

func TestReceiver_RepeatsAckForEarlierFrontier(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("gap.bin", 2, 4)
	d.chunk(0, []byte("aa"))
	d.chunk(3, []byte("d"))
	assert.Equal(t, []int32{1, 2}, d.ack())

	// Duplicates that were never a frontier stay quiet.
	d.chunk(0, []byte("aa"))
	d.noAck()

	d.chunk(3, []byte("d"))
	assert.Equal(t, []int32{1, 2}, d.ack())
	d.chunk(3, []byte("d"))
	assert.Equal(t, []int32{1, 2}, d.ack())

	d.chunk(1, []byte("bb"))
	d.noAck()
	d.chunk(2, []byte("cc"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.report.Duplicates)
	assert.Equal(t, 4, res.report.AcksSent)
}

func TestReceiver_ChunksOfMetadataSizeOpenNoSession(t *testing.T) {
	n := newMemNetwork()
	receiverEP := n.endpoint(receiverPort)
	d := &peerDriver{t: t, ep: n.endpoint(senderPort), peer: receiverEP.LocalAddr()}

	receiver, err := NewReceiver(receiverEP, t.TempDir(), testOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	results := make(chan receiveResult, 1)
	go func() {
		report, err := receiver.ReceiveOne(ctx)
		results <- receiveResult{report: report, err: err}
	}()
	<-receiverEP.drained

	// Each packet is exactly as long as a metadata handshake.
	name := strings.Repeat("a", 256)
	d.chunk(0, []byte(name))
	d.chunk(1, []byte(name))

	res := <-results
	require.ErrorIs(t, res.err, context.DeadlineExceeded)
	assert.Nil(t, res.report)
	d.noAck()
}

func TestReceiver_TruncatesOversizedAck(t *testing.T) {
	saved := maxAckEntries
	maxAckEntries = 3
	defer func() { maxAckEntries = saved }()

	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("wide.bin", 1, 8)
	d.chunk(7, []byte("h"))
	// Missing 0..6, only the lowest three fit; the frontier becomes 2.
	assert.Equal(t, []int32{0, 1, 2}, d.ack())

	d.chunk(0, []byte("a"))
	d.chunk(1, []byte("b"))
	d.noAck()
	d.chunk(2, []byte("c"))
	assert.Equal(t, []int32{3, 4, 5}, d.ack())

	d.chunk(3, []byte("d"))
	d.chunk(4, []byte("e"))
	d.chunk(5, []byte("f"))
	assert.Equal(t, []int32{6}, d.ack())

	d.chunk(6, []byte("g"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	data, err := os.ReadFile(res.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(data))
}

func TestReceiver_LingerAnswersResends(t *testing.T) {
	d, _, _, results := startReceiver(t, testOptions())

	d.metadata("done.bin", 4, 1)
	d.chunk(0, []byte("done"))
	assert.Empty(t, d.ack())

	// A sender that lost the ack resends the frontier.
	d.chunk(0, []byte("done"))
	assert.Empty(t, d.ack())

	res := <-results
	require.NoError(t, res.err)
	assert.Equal(t, 2, res.report.AcksSent)
}

func TestReceiver_MetadataDuringLingerStartsNextSession(t *testing.T) {
	opts := testOptions()
	opts.CompletionLinger = 2 * time.Second

	n := newMemNetwork()
	receiverEP := n.endpoint(receiverPort)
	d := &peerDriver{t: t, ep: n.endpoint(senderPort), peer: receiverEP.LocalAddr()}
	other := &peerDriver{t: t, ep: n.endpoint(senderPort + 1), peer: receiverEP.LocalAddr()}

	receiver, err := NewReceiver(receiverEP, t.TempDir(), opts)
	require.NoError(t, err)

	results := make(chan receiveResult, 2)
	go func() {
		for i := 0; i < 2; i++ {
			report, err := receiver.ReceiveOne(context.Background())
			results <- receiveResult{report: report, err: err}
		}
	}()
	<-receiverEP.drained

	d.metadata("first.bin", 4, 1)
	d.chunk(0, []byte("one"))
	assert.Empty(t, d.ack())

	start := time.Now()
	other.metadata("second.bin", 4, 1)
	first := <-results
	require.NoError(t, first.err)
	assert.Less(t, time.Since(start), opts.CompletionLinger)

	other.chunk(0, []byte("two"))
	assert.Empty(t, other.ack())

	second := <-results
	require.NoError(t, second.err)
	assert.Equal(t, "second.bin", second.report.Metadata.FileName)
	data, err := os.ReadFile(second.report.Assembly.Path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
}

func TestReceiver_CancelKeepsPartialFile(t *testing.T) {
	n := newMemNetwork()
	receiverEP := n.endpoint(receiverPort)
	d := &peerDriver{t: t, ep: n.endpoint(senderPort), peer: receiverEP.LocalAddr()}

	receiver, err := NewReceiver(receiverEP, t.TempDir(), testOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	results := make(chan receiveResult, 1)
	go func() {
		report, err := receiver.ReceiveOne(ctx)
		results <- receiveResult{report: report, err: err}
	}()
	<-receiverEP.drained

	d.metadata("cut.bin", 2, 3)
	d.chunk(0, []byte("ab"))
	time.Sleep(50 * time.Millisecond)
	cancel()

	res := <-results
	require.ErrorIs(t, res.err, context.Canceled)
	assert.Equal(t, ReceiverAborted, res.report.State)
	assert.Equal(t, []uint32{1, 2}, res.report.Missing)
	require.NotNil(t, res.report.Assembly)
	assert.Equal(t, []uint32{1, 2}, res.report.Assembly.Gaps)
}

func TestNewReceiver_InvalidOptions(t *testing.T) {
	opts := testOptions()
	opts.ReceiveTimeout = 0

	_, err := NewReceiver(newMemNetwork().endpoint(receiverPort), t.TempDir(), opts)
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
