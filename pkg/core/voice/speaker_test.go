package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

type blockingSynth struct {
	voices []Voice

	mu       sync.Mutex
	said     []string
	canceled int
	started  chan struct{}
}

func (s *blockingSynth) Voices(context.Context) ([]Voice, error) { return s.voices, nil }

func (s *blockingSynth) Say(ctx context.Context, text string, _ Voice) error {
	s.mu.Lock()
	s.said = append(s.said, text)
	s.mu.Unlock()
	if s.started != nil {
		s.started <- struct{}{}
	}
	<-ctx.Done()
	s.mu.Lock()
	s.canceled++
	s.mu.Unlock()
	return ctx.Err()
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSpeaker_NewSpeechCancelsPrevious(t *testing.T) {
	synth := &blockingSynth{voices: testVoices, started: make(chan struct{}, 2)}
	sp := NewSpeaker(synth, quietLogger())

	if err := sp.Speak(context.Background(), "first", "en-US", ""); err != nil {
		t.Fatalf("Speak first: %v", err)
	}
	waitStarted(t, synth.started)
	if err := sp.Speak(context.Background(), "second", "en-US", ""); err != nil {
		t.Fatalf("Speak second: %v", err)
	}
	waitStarted(t, synth.started)

	synth.mu.Lock()
	if synth.canceled != 1 {
		t.Fatalf("canceled=%d, want 1 before explicit cancel", synth.canceled)
	}
	synth.mu.Unlock()

	sp.Cancel()
	synth.mu.Lock()
	defer synth.mu.Unlock()
	if synth.canceled != 2 {
		t.Fatalf("canceled=%d, want 2", synth.canceled)
	}
	if len(synth.said) != 2 || synth.said[0] != "first" || synth.said[1] != "second" {
		t.Fatalf("said=%v", synth.said)
	}
}

func TestSpeaker_NoVoiceForLanguage(t *testing.T) {
	sp := NewSpeaker(&blockingSynth{voices: testVoices}, quietLogger())
	err := sp.Speak(context.Background(), "konnichiwa", "ja-JP", "")
	if !core.IsType(err, core.ErrVoiceUnavailable) {
		t.Fatalf("err=%v, want voice unavailable", err)
	}
}

func TestSpeaker_NilSynthesizer(t *testing.T) {
	sp := NewSpeaker(nil, quietLogger())
	err := sp.Speak(context.Background(), "hello", "en-US", "")
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrVoiceUnavailable {
		t.Fatalf("err=%v, want voice unavailable", err)
	}
}

func TestSpeaker_EmptyTextIsNoop(t *testing.T) {
	synth := &blockingSynth{voices: testVoices}
	sp := NewSpeaker(synth, quietLogger())
	if err := sp.Speak(context.Background(), "   ", "en-US", ""); err != nil {
		t.Fatalf("Speak: %v", err)
	}
	sp.Wait()
	if len(synth.said) != 0 {
		t.Fatalf("said=%v, want nothing", synth.said)
	}
}

func waitStarted(t *testing.T, ch <-chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("utterance did not start")
	}
}
