package voice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

// Synthesizer is a host speech engine.
type Synthesizer interface {
	// Voices lists the voices the engine can speak with.
	Voices(ctx context.Context) ([]Voice, error)

	// Say speaks text and blocks until playback ends or ctx is canceled.
	Say(ctx context.Context, text string, v Voice) error
}

// Speaker plays at most one utterance at a time. A new Speak or a Cancel
// silences whatever is still playing.
type Speaker struct {
	synth  Synthesizer
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSpeaker wraps synth. A nil logger uses slog.Default().
func NewSpeaker(synth Synthesizer, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{synth: synth, logger: logger}
}

// Speak starts speaking text in language code and returns once playback has
// been started. It returns a voice_synthesis_unavailable error when there is
// no engine or no voice for the language; empty text is a no-op.
func (s *Speaker) Speak(ctx context.Context, text, code, preferredURI string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if s == nil || s.synth == nil {
		return core.NewError(core.ErrVoiceUnavailable, "speech synthesis is not available")
	}

	voices, err := s.synth.Voices(ctx)
	if err != nil {
		return core.Wrap(core.ErrVoiceUnavailable, "list voices", err)
	}
	v, ok := Select(voices, preferredURI, code)
	if !ok {
		return core.NewError(core.ErrVoiceUnavailable, fmt.Sprintf("no voice available for language %q", code))
	}

	s.Cancel()

	playCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer cancel()
		if err := s.synth.Say(playCtx, text, v); err != nil && playCtx.Err() == nil {
			s.logger.Warn("speech playback failed", "voice", v.URI, "error", err)
		}
	}()
	return nil
}

// Cancel stops the current utterance, if any, and waits for it to end.
func (s *Speaker) Cancel() {
	if s == nil {
		return
	}
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Wait blocks until the current utterance, if any, has finished.
func (s *Speaker) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}
