package audio

import (
	"encoding/binary"
	"math"
)

// RMS returns sqrt(mean(x²)) over samples. Callers are expected to pass a
// non-empty slice; an empty slice yields 0.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSPCM16 computes the RMS energy of 16-bit signed little-endian PCM,
// normalized to [0, 1].
func RMSPCM16(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		normalized := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}
