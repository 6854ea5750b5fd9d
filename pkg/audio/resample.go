package audio

import "math"

// Downsample converts float PCM from fromRate to toRate with a box filter:
// each output sample is the mean of the input samples that map onto it.
// Speech survives this fine; anything near Nyquist does not, which is
// acceptable for a 16 kHz model input.
//
// When fromRate == toRate the input is returned unchanged, same backing
// array. The output length is ceil(len(samples) * toRate / fromRate).
func Downsample(samples []float32, fromRate, toRate int) []float32 {
	if fromRate <= 0 || toRate <= 0 {
		return nil
	}
	if fromRate == toRate {
		return samples
	}
	if len(samples) == 0 {
		return []float32{}
	}

	ratio := float64(fromRate) / float64(toRate)
	outLen := int(math.Ceil(float64(len(samples)) * float64(toRate) / float64(fromRate)))
	out := make([]float32, outLen)

	for i := 0; i < outLen; i++ {
		start := int(math.Round(float64(i) * ratio))
		end := int(math.Round(float64(i+1) * ratio))
		if end > len(samples) {
			end = len(samples)
		}
		if start >= end {
			// Rounding produced an empty window; emit silence rather than
			// duplicating a neighbor.
			out[i] = 0
			continue
		}
		var sum float64
		for _, s := range samples[start:end] {
			sum += float64(s)
		}
		out[i] = float32(sum / float64(end-start))
	}

	return out
}
