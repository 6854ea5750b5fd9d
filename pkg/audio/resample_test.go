package audio

import (
	"math"
	"testing"
)

func TestDownsample_IdentityWhenRatesEqual(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3, -0.4}
	out := Downsample(in, 24000, 24000)

	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], in[i])
		}
	}
}

func TestDownsample_OutputLength(t *testing.T) {
	tests := []struct {
		name     string
		inLen    int
		fromRate int
		toRate   int
		wantLen  int
	}{
		{"48k to 16k exact", 4096, 48000, 16000, 1366}, // ceil(4096/3)
		{"24k to 16k", 4096, 24000, 16000, 2731},       // ceil(4096*2/3)
		{"44.1k to 16k", 4410, 44100, 16000, 1600},
		{"single sample", 1, 48000, 16000, 1},
		{"empty", 0, 48000, 16000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := make([]float32, tt.inLen)
			out := Downsample(in, tt.fromRate, tt.toRate)
			if len(out) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(out), tt.wantLen)
			}
		})
	}
}

func TestDownsample_ConstantSignalIsPreserved(t *testing.T) {
	in := make([]float32, 4800)
	for i := range in {
		in[i] = 0.5
	}

	out := Downsample(in, 48000, 16000)
	for i, s := range out {
		if math.Abs(float64(s)-0.5) > 1e-6 {
			t.Fatalf("out[%d] = %v, want 0.5", i, s)
		}
	}
}

func TestDownsample_BoxFilterAverages(t *testing.T) {
	// 3:1 decimation; each output sample is the mean of 3 inputs.
	in := []float32{0, 0.3, 0.6, 1, 1, 1}
	out := Downsample(in, 48000, 16000)

	want := []float64{0.3, 1}
	if len(out) != len(want) {
		t.Fatalf("len = %d, want %d", len(out), len(want))
	}
	for i := range want {
		if math.Abs(float64(out[i])-want[i]) > 1e-6 {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestDownsample_InvalidRates(t *testing.T) {
	if out := Downsample([]float32{1}, 0, 16000); out != nil {
		t.Fatalf("zero fromRate: got %v, want nil", out)
	}
	if out := Downsample([]float32{1}, 16000, -1); out != nil {
		t.Fatalf("negative toRate: got %v, want nil", out)
	}
}
