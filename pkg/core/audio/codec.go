package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

// Sample rates used by the voice channel.
const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
)

// Buffer is planar float audio. Each channel holds samples in [-1, 1).
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel.
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// Channel returns the samples of channel i, or nil if out of range.
func (b *Buffer) Channel(i int) []float32 {
	if b == nil || i < 0 || i >= len(b.Channels) {
		return nil
	}
	return b.Channels[i]
}

// DecodeBase64 decodes standard base64 text.
func DecodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, core.Wrap(core.ErrMalformedPayload, "invalid base64 audio payload", err)
	}
	return b, nil
}

// EncodeBase64 is the inverse of DecodeBase64.
func EncodeBase64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// PCM16ToBuffer de-interleaves signed 16-bit little-endian PCM into a planar
// float buffer. The byte length must be a multiple of 2*channels.
func PCM16ToBuffer(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, core.NewError(core.ErrInvalidRequest, fmt.Sprintf("invalid channel count %d", channels))
	}
	stride := 2 * channels
	if len(b)%stride != 0 {
		return nil, core.NewError(core.ErrInsufficientData,
			fmt.Sprintf("pcm length %d is not a multiple of %d", len(b), stride))
	}

	frames := len(b) / stride
	out := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range out.Channels {
		out.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < channels; c++ {
			off := i*stride + c*2
			s := int16(binary.LittleEndian.Uint16(b[off:]))
			out.Channels[c][i] = float32(s) / 32768.0
		}
	}
	return out, nil
}

// FloatToPCM16 converts mono float samples to 16-bit little-endian PCM by
// multiplying by 32768 and truncating. Samples are not clamped: values at or
// above 1.0 (or below -1.0) wrap around the int16 range, so 1.0 becomes
// -32768. Callers should keep samples inside [-1, 1).
func FloatToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Frame is one outbound chunk of captured audio, ready for the wire.
type Frame struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// PCMMIMEType returns the MIME type for raw PCM at the given rate.
func PCMMIMEType(sampleRate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(sampleRate)
}

// EncodeFrame converts captured float samples into a wire frame.
func EncodeFrame(samples []float32, sampleRate int) Frame {
	return Frame{
		Data:     EncodeBase64(FloatToPCM16(samples)),
		MIMEType: PCMMIMEType(sampleRate),
	}
}
