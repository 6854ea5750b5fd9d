package audio

import "math"

// Level computes a coarse RMS level over every stride-th sample, scaled to
// 0..100 for UI display. It is advisory only and never gates forwarding:
// silent blocks still go to the model.
//
// A stride of 4 keeps the cost negligible on 4096-sample blocks while still
// tracking speech energy closely enough for a meter.
func Level(samples []float32, stride int) float64 {
	if stride <= 0 {
		stride = 1
	}

	var sum float64
	var n int
	for i := 0; i < len(samples); i += stride {
		s := float64(samples[i])
		sum += s * s
		n++
	}
	if n == 0 {
		return 0
	}

	level := math.Sqrt(sum/float64(n)) * 100
	if level > 100 {
		level = 100
	}
	return level
}
