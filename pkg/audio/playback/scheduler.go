// Package playback schedules model speech for gapless output. Chunks arrive
// in bursts faster than realtime; a cursor assigns each one the instant it
// should start so consecutive chunks butt up against each other exactly.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/parlato-app/parlato/pkg/audio"
)

// Sink receives PCM16LE bytes at their scheduled instants. A failed write is
// logged and the chunk dropped; it never ends the call.
type Sink interface {
	Write(pcm []byte) error

	// Discard drops everything buffered but not yet played.
	Discard()
}

// Scheduler assigns start times to audio chunks so playback is gapless.
//
// Each enqueued chunk starts at max(now, cursor) and advances the cursor by
// its own duration. The cursor never moves backward; when the stream falls
// behind it snaps forward to now instead of accumulating a backlog.
type Scheduler struct {
	sink   Sink
	rate   int
	logger *slog.Logger
	now    func() time.Time

	// after schedules a deferred write; swapped out in tests.
	after func(d time.Duration, f func()) *time.Timer

	mu        sync.Mutex
	nextStart time.Time
	pending   map[int]*time.Timer
	nextID    int
	closed    bool
}

// Config configures a Scheduler.
type Config struct {
	Sink Sink

	// Rate is the sample rate of enqueued audio.
	// Defaults to audio.ModelOutputRate.
	Rate int

	Logger *slog.Logger

	// Now is the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// NewScheduler creates a scheduler with the cursor at now.
func NewScheduler(cfg Config) *Scheduler {
	if cfg.Rate <= 0 {
		cfg.Rate = audio.ModelOutputRate
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		sink:    cfg.Sink,
		rate:    cfg.Rate,
		logger:  logger,
		now:     cfg.Now,
		after:   time.AfterFunc,
		pending: map[int]*time.Timer{},
	}
}

// Enqueue schedules samples for playback and returns the instant they will
// start. Chunks due now or in the past are written to the sink immediately.
func (s *Scheduler) Enqueue(samples []float32) time.Time {
	duration := time.Duration(len(samples)) * time.Second / time.Duration(s.rate)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return time.Time{}
	}

	now := s.now()
	startAt := s.nextStart
	if startAt.Before(now) {
		startAt = now
	}
	s.nextStart = startAt.Add(duration)

	pcm := audio.PCM16Bytes(samples)
	delay := startAt.Sub(now)
	if delay <= 0 {
		s.mu.Unlock()
		s.write(pcm)
		return startAt
	}

	id := s.nextID
	s.nextID++
	s.pending[id] = s.after(delay, func() {
		s.mu.Lock()
		if _, ok := s.pending[id]; !ok {
			// Reset won the race; this chunk was cancelled.
			s.mu.Unlock()
			return
		}
		delete(s.pending, id)
		s.mu.Unlock()
		s.write(pcm)
	})
	s.mu.Unlock()
	return startAt
}

func (s *Scheduler) write(pcm []byte) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Write(pcm); err != nil {
		s.logger.Warn("playback write failed, dropping chunk", "bytes", len(pcm), "error", err)
	}
}

// Reset cancels all pending chunks, discards buffered sink audio, and snaps
// the cursor to now. Used when the model is interrupted.
func (s *Scheduler) Reset() {
	s.mu.Lock()
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	s.nextStart = s.now()
	sink := s.sink
	closed := s.closed
	s.mu.Unlock()

	if sink != nil && !closed {
		sink.Discard()
	}
}

// Buffered returns how far the cursor sits ahead of now: the audio still
// owed to the speaker. Zero when idle. Advisory, for UI display only.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.nextStart.Sub(s.now())
	if d < 0 {
		return 0
	}
	return d
}

// Close cancels pending chunks and stops accepting new ones. Idempotent.
// It does not close the sink; the sink has its own owner.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for id, timer := range s.pending {
		timer.Stop()
		delete(s.pending, id)
	}
	return nil
}
