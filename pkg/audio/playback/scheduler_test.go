package playback

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type fakeSink struct {
	writes   [][]byte
	discards int
}

func (s *fakeSink) Write(pcm []byte) error { s.writes = append(s.writes, pcm); return nil }
func (s *fakeSink) Discard()               { s.discards++ }

// testScheduler returns a scheduler whose deferred writes are captured
// instead of armed on real timers.
func testScheduler(clk *fakeClock, sink Sink) (*Scheduler, *[]time.Duration) {
	var delays []time.Duration
	s := NewScheduler(Config{Sink: sink, Rate: 24000, Now: clk.Now})
	s.after = func(d time.Duration, f func()) *time.Timer {
		delays = append(delays, d)
		return time.AfterFunc(24*time.Hour, func() {})
	}
	return s, &delays
}

func TestScheduler_GaplessCursor(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := &fakeSink{}
	s, delays := testScheduler(clk, sink)

	// First chunk is due immediately.
	oneSecond := make([]float32, 24000)
	if got := s.Enqueue(oneSecond); !got.Equal(clk.t) {
		t.Fatalf("first startAt = %v, want now", got)
	}
	if len(sink.writes) != 1 {
		t.Fatalf("writes = %d, want 1 (immediate)", len(sink.writes))
	}

	// Second chunk arrives while the first still plays: it must start
	// exactly where the first ends, deferred by one second.
	want := clk.t.Add(time.Second)
	if got := s.Enqueue(oneSecond); !got.Equal(want) {
		t.Fatalf("second startAt = %v, want %v", got, want)
	}
	if len(*delays) != 1 || (*delays)[0] != time.Second {
		t.Fatalf("deferred delays = %v, want [1s]", *delays)
	}

	if got := s.Buffered(); got != 2*time.Second {
		t.Fatalf("Buffered = %v, want 2s", got)
	}
}

func TestScheduler_CatchesUpWhenBehind(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := &fakeSink{}
	s, _ := testScheduler(clk, sink)

	s.Enqueue(make([]float32, 24000)) // cursor -> t+1s

	// The stream stalls; by the next chunk the cursor is in the past.
	clk.t = clk.t.Add(5 * time.Second)
	got := s.Enqueue(make([]float32, 12000))
	if !got.Equal(clk.t) {
		t.Fatalf("startAt = %v, want now (cursor must snap forward)", got)
	}
	if len(sink.writes) != 2 {
		t.Fatalf("writes = %d, want 2 (late chunk plays immediately)", len(sink.writes))
	}
	if got := s.Buffered(); got != 500*time.Millisecond {
		t.Fatalf("Buffered = %v, want 500ms", got)
	}
}

func TestScheduler_CursorNeverMovesBackward(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	s, _ := testScheduler(clk, &fakeSink{})

	first := s.Enqueue(make([]float32, 24000))
	second := s.Enqueue(make([]float32, 2400))
	third := s.Enqueue(make([]float32, 2400))

	if !second.After(first) || !third.After(second) {
		t.Fatalf("start times not increasing: %v, %v, %v", first, second, third)
	}
}

func TestScheduler_ResetCancelsPendingAndSnapsCursor(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := &fakeSink{}
	s, _ := testScheduler(clk, sink)

	s.Enqueue(make([]float32, 24000))
	s.Enqueue(make([]float32, 24000)) // deferred

	s.Reset()
	if sink.discards != 1 {
		t.Fatalf("discards = %d, want 1", sink.discards)
	}
	if got := s.Buffered(); got != 0 {
		t.Fatalf("Buffered after reset = %v, want 0", got)
	}
	if len(s.pending) != 0 {
		t.Fatalf("pending = %d, want 0", len(s.pending))
	}

	// Next chunk starts fresh at now.
	if got := s.Enqueue(make([]float32, 2400)); !got.Equal(clk.t) {
		t.Fatalf("startAt after reset = %v, want now", got)
	}
}

func TestScheduler_CloseStopsAccepting(t *testing.T) {
	clk := &fakeClock{t: time.Unix(1000, 0)}
	sink := &fakeSink{}
	s, _ := testScheduler(clk, sink)

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if got := s.Enqueue(make([]float32, 2400)); !got.IsZero() {
		t.Fatalf("enqueue after close = %v, want zero time", got)
	}
	if len(sink.writes) != 0 {
		t.Fatalf("writes after close = %d, want 0", len(sink.writes))
	}
}
