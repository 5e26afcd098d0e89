// Package voice picks a synthesis voice for a reply language and speaks
// replies asynchronously, one utterance at a time.
package voice

import (
	"sort"
	"strings"

	"github.com/vango-go/vai-jarvis/pkg/core/lang"
)

// Voice is one voice offered by a synthesizer.
type Voice struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	Lang    string `json:"lang"`
	Default bool   `json:"default,omitempty"`
	Local   bool   `json:"local,omitempty"`
}

func (v Voice) score() int {
	name := strings.ToLower(v.Name)
	s := 0
	if strings.Contains(name, "google") || strings.Contains(name, "microsoft") {
		s += 5
	}
	if strings.Contains(name, "natural") || strings.Contains(name, "enhanced") {
		s += 3
	}
	if !v.Default {
		s += 2
	}
	if v.Local {
		s++
	}
	return s
}

// Select chooses a voice for language code. The voice named by preferredURI
// wins when it speaks the same base language; otherwise the highest scoring
// voice for that language is used. ok is false when no voice speaks it.
func Select(voices []Voice, preferredURI, code string) (Voice, bool) {
	var candidates []Voice
	for _, v := range voices {
		if lang.SameBase(v.Lang, code) {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		return Voice{}, false
	}

	if preferredURI != "" {
		for _, v := range candidates {
			if v.URI == preferredURI {
				return v, true
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score() > candidates[j].score()
	})
	return candidates[0], true
}
