package playback

import (
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

// Speaker plays PCM16LE mono audio through the default output device. It
// implements Sink. The oto player pulls from an internal buffer via Read.
type Speaker struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	cond    *sync.Cond
	player  *oto.Player
	buf     []byte
	playing bool
	closed  bool
}

// NewSpeaker opens the output device at the given rate and waits until the
// audio context is ready.
func NewSpeaker(rate int) (*Speaker, error) {
	opts := &oto.NewContextOptions{
		SampleRate:   rate,
		ChannelCount: 1,
		Format:       oto.FormatSignedInt16LE,
		// ~100 ms device buffer keeps latency low without glitching.
		BufferSize: rate / 10 * 2,
	}
	otoCtx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("playback: open speaker: %w", err)
	}
	<-ready

	s := &Speaker{
		otoCtx: otoCtx,
		buf:    make([]byte, 0, rate*4),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// Write queues PCM16LE bytes for playback, starting the player on first use.
func (s *Speaker) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("playback: speaker closed")
	}

	s.buf = append(s.buf, pcm...)

	if !s.playing {
		s.playing = true
		// Some platforms suspend the audio context until user interaction;
		// resume is a no-op when already running.
		_ = s.otoCtx.Resume()
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}

	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player. It blocks until data is
// available, and feeds silence after Close so oto can drain.
func (s *Speaker) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Discard drops all queued audio and resets the player so stale speech does
// not overlap what comes next.
func (s *Speaker) Discard() {
	s.mu.Lock()
	s.buf = s.buf[:0]

	if s.player != nil && s.playing {
		player := s.player
		s.player = nil
		s.playing = false
		s.mu.Unlock()

		player.Pause()
		player.Reset()
		_ = player.Close()
		return
	}
	s.mu.Unlock()
}

// Close stops playback and releases the player. Idempotent.
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	player := s.player
	s.player = nil
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	return nil
}
