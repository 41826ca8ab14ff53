package file

import (
	"sync"
	"time"
)

// TimeProvider abstracts time operations for deterministic testing.
type TimeProvider interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// DefaultTimeProvider uses the standard library time functions.
type DefaultTimeProvider struct{}

// Now returns the current time.
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

// Since returns the duration since t.
func (DefaultTimeProvider) Since(t time.Time) time.Duration { return time.Since(t) }

// defaultTimeProvider is the package-level default time provider.
var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// Progress tracks how many bytes of a transfer have moved and how fast.
// It is safe for concurrent use so a UI goroutine can poll it while the
// session goroutine updates it.
type Progress struct {
	total       uint64
	transferred uint64

	progressCallback func(transferred, total uint64)

	mu            sync.Mutex
	lastChunkTime time.Time
	transferSpeed float64 // bytes per second
	timeProvider  TimeProvider
}

// NewProgress creates a tracker for a transfer of total bytes.
func NewProgress(total uint64) *Progress {
	tp := defaultTimeProvider
	return &Progress{
		total:         total,
		lastChunkTime: tp.Now(),
		timeProvider:  tp,
	}
}

// SetTimeProvider sets a custom time provider for deterministic testing.
// Also resets lastChunkTime to the new provider's current time.
func (p *Progress) SetTimeProvider(tp TimeProvider) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeProvider = tp
	p.lastChunkTime = tp.Now()
}

// OnProgress sets a callback invoked after every Add.
func (p *Progress) OnProgress(callback func(transferred, total uint64)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.progressCallback = callback
}

// Add records n more bytes.
func (p *Progress) Add(n uint64) {
	p.mu.Lock()
	p.transferred += n
	p.updateTransferSpeed(n)
	callback := p.progressCallback
	transferred, total := p.transferred, p.total
	p.mu.Unlock()

	if callback != nil {
		callback(transferred, total)
	}
}

// updateTransferSpeed calculates the current transfer speed.
func (p *Progress) updateTransferSpeed(chunkSize uint64) {
	now := p.timeProvider.Now()
	duration := p.timeProvider.Since(p.lastChunkTime).Seconds()

	if duration > 0 {
		instantSpeed := float64(chunkSize) / duration

		// Exponential moving average with alpha = 0.3
		if p.transferSpeed == 0 {
			p.transferSpeed = instantSpeed
		} else {
			p.transferSpeed = 0.7*p.transferSpeed + 0.3*instantSpeed
		}
	}

	p.lastChunkTime = now
}

// Transferred returns the bytes recorded so far.
func (p *Progress) Transferred() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transferred
}

// Total returns the expected transfer size.
func (p *Progress) Total() uint64 {
	return p.total
}

// Fraction returns progress in [0, 1]. An empty transfer counts as done.
func (p *Progress) Fraction() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total == 0 {
		return 1
	}
	f := float64(p.transferred) / float64(p.total)
	if f > 1 {
		return 1
	}
	return f
}

// Speed returns the current transfer speed in bytes per second.
func (p *Progress) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.transferSpeed
}

// EstimatedTimeRemaining returns the estimated time remaining for the transfer.
func (p *Progress) EstimatedTimeRemaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.transferSpeed <= 0 || p.transferred >= p.total {
		return 0
	}

	secondsRemaining := float64(p.total-p.transferred) / p.transferSpeed
	return time.Duration(secondsRemaining * float64(time.Second))
}
