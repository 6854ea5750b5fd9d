package audio

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// encodeChunkBytes bounds how much PCM is fed to the base64 encoder per
// write, so a long model turn never pins one giant scratch buffer.
const encodeChunkBytes = 8192

// DecodeError reports a malformed inbound audio payload. Callers drop the
// chunk and keep the session alive.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("audio: decode: %s", e.Reason)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PCM16Bytes converts float samples to 16-bit signed little-endian PCM.
// Samples are clamped to [-1, 1]. Negative values scale by 32768 and
// positive by 32767 so both rails map onto representable int16 values.
func PCM16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1 {
			s = -1
		} else if s > 1 {
			s = 1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// EncodePCM16 converts float samples to PCM16LE and returns the standard
// base64 encoding of the whole payload, written through the encoder in
// bounded chunks.
func EncodePCM16(samples []float32) string {
	pcm := PCM16Bytes(samples)

	var sb strings.Builder
	sb.Grow(base64.StdEncoding.EncodedLen(len(pcm)))
	enc := base64.NewEncoder(base64.StdEncoding, &sb)
	for off := 0; off < len(pcm); off += encodeChunkBytes {
		end := off + encodeChunkBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		// strings.Builder never errors; the encoder only propagates
		// writer errors.
		enc.Write(pcm[off:end])
	}
	enc.Close()
	return sb.String()
}

// DecodePCM16 decodes a base64 PCM16LE payload into float samples in
// [-1, 1). Malformed input returns a *DecodeError. The sample rate is the
// protocol constant ModelOutputRate; it is not discovered from the payload.
func DecodePCM16(wire string) ([]float32, error) {
	pcm, err := base64.StdEncoding.DecodeString(wire)
	if err != nil {
		return nil, &DecodeError{Reason: "invalid base64", Err: err}
	}
	if len(pcm)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("odd byte count %d", len(pcm))}
	}

	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		v := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		samples[i] = float32(v) / 32768.0
	}
	return samples, nil
}
