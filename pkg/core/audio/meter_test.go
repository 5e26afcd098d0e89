package audio

import (
	"math"
	"testing"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name    string
		samples []float32
		want    float64
	}{
		{name: "empty", samples: nil, want: 0},
		{name: "silence", samples: []float32{0, 0, 0}, want: 0},
		{name: "constant", samples: []float32{0.5, 0.5, 0.5, 0.5}, want: 0.5},
		{name: "alternating", samples: []float32{1, -1, 1, -1}, want: 1},
		{name: "mixed", samples: []float32{0.6, 0.8}, want: math.Sqrt((0.36 + 0.64) / 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RMS(tt.samples); math.Abs(got-tt.want) > 1e-6 {
				t.Errorf("RMS()=%.6f, want %.6f", got, tt.want)
			}
		})
	}
}

func TestRMSPCM16(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0},
		{name: "max amplitude", samples: []int16{32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := make([]byte, len(tt.samples)*2)
			for i, s := range tt.samples {
				pcm[i*2] = byte(s & 0xFF)
				pcm[i*2+1] = byte((s >> 8) & 0xFF)
			}
			if got := RMSPCM16(pcm); math.Abs(got-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, got)
			}
		})
	}
}
