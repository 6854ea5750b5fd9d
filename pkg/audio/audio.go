// Package audio implements the PCM plumbing between the microphone, the
// model wire format, and the speaker: sample-rate conversion, the base64
// PCM16 codec, and coarse level metering for the UI.
package audio

// Protocol sample rates. The model consumes 16 kHz mono PCM16 and produces
// 24 kHz mono PCM16; neither is negotiated.
const (
	ModelInputRate  = 16000
	ModelOutputRate = 24000

	// CaptureBlockSamples is the fixed block size the capture tap delivers.
	CaptureBlockSamples = 4096
)

// Config specifies PCM format parameters.
type Config struct {
	// SampleRate in Hz. Common values: 16000, 24000, 44100, 48000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// InputConfig returns the wire format for audio sent to the model.
func InputConfig() Config {
	return Config{SampleRate: ModelInputRate, Channels: 1, BitsPerSample: 16}
}

// OutputConfig returns the wire format for audio received from the model.
func OutputConfig() Config {
	return Config{SampleRate: ModelOutputRate, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c Config) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c Config) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
