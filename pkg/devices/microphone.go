// Package devices adapts host programs to the assistant's device ports:
// ffmpeg for capture, ffplay for playback, espeak-ng for speech, the
// system browser for links and ip-api.com for a coarse position.
package devices

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/live"
)

// FFmpegMicrophone captures mono s16le PCM through ffmpeg.
type FFmpegMicrophone struct {
	Path       string // default "ffmpeg"
	Format     string // ffmpeg input format; default by OS
	Device     string // input device; default by OS
	SampleRate int    // default 16000
	Logger     *slog.Logger
}

var _ live.Microphone = (*FFmpegMicrophone)(nil)

// defaultInput picks the capture driver for goos.
func defaultInput(goos string) (format, device string) {
	switch goos {
	case "darwin":
		// none:<index> keeps avfoundation from opening a camera.
		return "avfoundation", "none:0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

func (m *FFmpegMicrophone) args() []string {
	format, device := defaultInput(runtime.GOOS)
	if m.Format != "" {
		format = m.Format
	}
	if m.Device != "" {
		device = m.Device
	}
	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.InputSampleRate
	}
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", format,
		"-i", device,
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"-",
	}
}

// Acquire starts ffmpeg. The returned stream yields raw PCM until Release.
func (m *FFmpegMicrophone) Acquire(ctx context.Context) (live.MicStream, error) {
	path := m.Path
	if path == "" {
		path = "ffmpeg"
	}
	if _, err := exec.LookPath(path); err != nil {
		return nil, core.Wrap(core.ErrDeviceUnavailable, "ffmpeg not found", err)
	}
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// The capture outlives the acquiring request.
	cmd := exec.Command(path, m.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, core.Wrap(core.ErrDeviceUnavailable, "open ffmpeg stdout", err)
	}
	stderr, _ := cmd.StderrPipe()
	if err := cmd.Start(); err != nil {
		return nil, core.Wrap(core.ErrDeviceUnavailable, "start ffmpeg", err)
	}
	go logFFmpegStderr(stderr, logger)

	rate := m.SampleRate
	if rate <= 0 {
		rate = audio.InputSampleRate
	}
	return &PCMStream{r: stdout, rate: rate, release: func() error {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil
	}}, nil
}

func logFFmpegStderr(r io.ReadCloser, logger *slog.Logger) {
	if r == nil {
		return
	}
	defer r.Close()
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		// Noisy macOS AVFoundation warnings are not actionable.
		if strings.Contains(line, "NSCameraUseContinuityCameraDeviceType") ||
			strings.Contains(line, "AVCaptureDeviceTypeExternal is deprecated") {
			continue
		}
		logger.Warn("ffmpeg", "line", line)
	}
}

// PCMStream is an acquired source of mono s16le PCM.
type PCMStream struct {
	r       io.Reader
	rate    int
	release func() error
	once    sync.Once
	err     error
}

// NewPCMStream wraps r, e.g. a recorded file, as a microphone stream.
func NewPCMStream(r io.Reader, sampleRate int, release func() error) *PCMStream {
	return &PCMStream{r: r, rate: sampleRate, release: release}
}

// Release stops the capture. It is idempotent.
func (s *PCMStream) Release() error {
	s.once.Do(func() {
		if s.release != nil {
			s.err = s.release()
		}
	})
	return s.err
}

// InputContext converts a PCMStream into float frames.
type InputContext struct {
	rate int

	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

var _ live.InputContext = (*InputContext)(nil)

// Tap starts reading mic in frames of frameSamples samples. A trailing
// partial frame is dropped.
func (c *InputContext) Tap(mic live.MicStream, frameSamples int) (<-chan []float32, error) {
	s, ok := mic.(*PCMStream)
	if !ok {
		return nil, core.NewError(core.ErrAudioContext, fmt.Sprintf("unsupported microphone stream %T", mic))
	}
	if s.rate != c.rate {
		return nil, core.NewError(core.ErrAudioContext, fmt.Sprintf("microphone rate %d does not match input context rate %d", s.rate, c.rate))
	}
	if frameSamples <= 0 {
		return nil, core.NewInvalidRequestError("frame size must be positive")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, core.NewError(core.ErrAudioContext, "input context is closed")
	}

	frames := make(chan []float32, 4)
	go func() {
		defer close(frames)
		raw := make([]byte, frameSamples*2)
		for {
			if _, err := io.ReadFull(s.r, raw); err != nil {
				return
			}
			buf, err := audio.PCM16ToBuffer(raw, c.rate, 1)
			if err != nil {
				return
			}
			select {
			case frames <- buf.Channel(0):
			case <-c.done:
				return
			}
		}
	}()
	return frames, nil
}

// Close stops delivering frames.
func (c *InputContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.done)
	}
	return nil
}

var errClosed = errors.New("audio context is closed")
