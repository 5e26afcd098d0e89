package devices

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"sync"
)

// Sink receives raw s16le PCM for immediate playback.
type Sink interface {
	Write(p []byte) error

	// Flush discards anything queued but not yet heard.
	Flush() error

	Close() error
}

// FFplaySink pipes PCM into an ffplay process. Flush restarts the process,
// which is the only way to drop audio ffplay has already buffered.
type FFplaySink struct {
	path       string
	sampleRate int

	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

// NewFFplaySink starts ffplay for mono PCM at sampleRate.
func NewFFplaySink(path string, sampleRate int) (*FFplaySink, error) {
	if path == "" {
		path = "ffplay"
	}
	s := &FFplaySink{path: path, sampleRate: sampleRate}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FFplaySink) args() []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-nostats",
		"-nodisp",
		"-f", "s16le",
		// ffplay does not accept ffmpeg-style -ac.
		"-ch_layout", "mono",
		"-ar", strconv.Itoa(s.sampleRate),
		"-i", "-",
	}
}

func (s *FFplaySink) startLocked() error {
	cmd := exec.Command(s.path, s.args()...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		// SDL may otherwise pick a silent dummy backend.
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = io.Discard
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.cmd = cmd
	s.stdin = stdin
	go func(c *exec.Cmd) {
		_ = c.Wait()
		s.mu.Lock()
		if s.cmd == c {
			s.cmd = nil
			s.stdin = nil
		}
		s.mu.Unlock()
	}(cmd)
	return nil
}

func (s *FFplaySink) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		if err := s.startLocked(); err != nil {
			return err
		}
	}
	_, err := s.stdin.Write(p)
	return err
}

func (s *FFplaySink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return s.startLocked()
}

func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
	return nil
}

func (s *FFplaySink) stopLocked() {
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.cmd = nil
	s.stdin = nil
}
