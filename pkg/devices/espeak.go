package devices

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/voice"
)

const espeakURIPrefix = "espeak:"

// ESpeak speaks through espeak-ng. It satisfies voice.Synthesizer.
type ESpeak struct {
	Path string // default "espeak-ng"

	mu     sync.Mutex
	voices []voice.Voice
}

var _ voice.Synthesizer = (*ESpeak)(nil)

func (e *ESpeak) path() string {
	if e.Path == "" {
		return "espeak-ng"
	}
	return e.Path
}

// Voices lists installed voices. The first successful listing is cached.
func (e *ESpeak) Voices(ctx context.Context) ([]voice.Voice, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.voices != nil {
		return e.voices, nil
	}
	out, err := exec.CommandContext(ctx, e.path(), "--voices").Output()
	if err != nil {
		return nil, core.Wrap(core.ErrVoiceUnavailable, "list espeak-ng voices", err)
	}
	e.voices = parseESpeakVoices(out)
	return e.voices, nil
}

// Say speaks text and blocks until espeak-ng exits.
func (e *ESpeak) Say(ctx context.Context, text string, v voice.Voice) error {
	id := strings.TrimPrefix(v.URI, espeakURIPrefix)
	if id == "" {
		id = v.Lang
	}
	cmd := exec.CommandContext(ctx, e.path(), "-v", id, "--", text)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("espeak-ng: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// parseESpeakVoices reads the table printed by `espeak-ng --voices`:
//
//	Pty Language       Age/Gender VoiceName          File                 Other Languages
//	 5  af              --/M      Afrikaans          gmw/af
func parseESpeakVoices(out []byte) []voice.Voice {
	voices := []voice.Voice{}
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || fields[0] == "Pty" {
			continue
		}
		lang, name, file := fields[1], fields[3], fields[4]
		voices = append(voices, voice.Voice{
			URI:     espeakURIPrefix + file,
			Name:    strings.ReplaceAll(name, "_", " "),
			Lang:    lang,
			Default: lang == "en-us",
			Local:   true,
		})
	}
	return voices
}
