package audio

import (
	"math"
	"testing"
)

func TestLevel(t *testing.T) {
	sine := make([]float32, 4096)
	for i := range sine {
		sine[i] = float32(math.Sin(2 * math.Pi * float64(i) / 64))
	}

	tests := []struct {
		name    string
		samples []float32
		stride  int
		want    float64
		tol     float64
	}{
		{"silence", make([]float32, 4096), 4, 0, 0.001},
		{"empty", nil, 4, 0, 0.001},
		{"full-scale sine", sine, 1, 70.7, 0.5},
		{"strided sine close to full", sine, 4, 70.7, 1.5},
		{"dc full scale", []float32{1, 1, 1, 1}, 1, 100, 0.001},
		{"zero stride treated as 1", []float32{0.5, 0.5}, 0, 50, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Level(tt.samples, tt.stride)
			if math.Abs(got-tt.want) > tt.tol {
				t.Fatalf("Level = %v, want %v ± %v", got, tt.want, tt.tol)
			}
		})
	}
}

func TestLevel_NeverExceeds100(t *testing.T) {
	loud := []float32{4, -4, 4, -4}
	if got := Level(loud, 1); got != 100 {
		t.Fatalf("Level = %v, want clamped to 100", got)
	}
}
