package capture

import (
	"encoding/binary"
	"math"
	"testing"
)

func f32Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*4)
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(s))
	}
	return out
}

func newTestTap(blockSamples int, onBlock func(Block)) *Tap {
	t := New(Config{BlockSamples: blockSamples})
	t.onBlock = onBlock
	t.pending = make([]float32, 0, blockSamples*2)
	t.rate = 48000
	return t
}

func TestTap_AssemblesFixedBlocks(t *testing.T) {
	var blocks []Block
	tap := newTestTap(4, func(b Block) { blocks = append(blocks, b) })

	// 3 samples: below block size, nothing delivered.
	tap.onData(f32Bytes([]float32{0.1, 0.2, 0.3}))
	if len(blocks) != 0 {
		t.Fatalf("blocks = %d, want 0", len(blocks))
	}

	// 6 more: two full blocks, one sample left pending.
	tap.onData(f32Bytes([]float32{0.4, 0.5, 0.6, 0.7, 0.8, 0.9}))
	if len(blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(blocks))
	}
	for _, b := range blocks {
		if len(b.Samples) != 4 {
			t.Fatalf("block size = %d, want 4", len(b.Samples))
		}
		if b.Rate != 48000 {
			t.Fatalf("rate = %d, want device rate 48000", b.Rate)
		}
	}
	if got := blocks[0].Samples[0]; math.Abs(float64(got)-0.1) > 1e-6 {
		t.Fatalf("first sample = %v, want 0.1", got)
	}
	if got := blocks[1].Samples[3]; math.Abs(float64(got)-0.8) > 1e-6 {
		t.Fatalf("last delivered sample = %v, want 0.8", got)
	}
}

func TestTap_SilenceIsForwarded(t *testing.T) {
	var blocks int
	tap := newTestTap(4, func(Block) { blocks++ })

	tap.onData(f32Bytes(make([]float32, 8)))
	if blocks != 2 {
		t.Fatalf("blocks = %d, want 2 (silence must not be dropped)", blocks)
	}
}

func TestTap_CloseIsIdempotent(t *testing.T) {
	tap := newTestTap(4, func(Block) { t.Fatal("block after close") })

	if err := tap.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tap.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	// Late device callbacks after close are ignored.
	tap.onData(f32Bytes(make([]float32, 8)))
}

func TestTap_StartAfterCloseFails(t *testing.T) {
	tap := New(Config{})
	if err := tap.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := tap.Start(func(Block) {}); err == nil {
		t.Fatal("expected error starting a closed tap")
	}
}
