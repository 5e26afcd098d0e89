package types

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTitleFromPrompt(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{name: "short", prompt: "hello", want: "hello"},
		{name: "exactly thirty", prompt: strings.Repeat("a", 30), want: strings.Repeat("a", 30)},
		{name: "long", prompt: strings.Repeat("b", 31), want: strings.Repeat("b", 30) + "..."},
		{name: "multibyte", prompt: strings.Repeat("é", 40), want: strings.Repeat("é", 30) + "..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TitleFromPrompt(tt.prompt); got != tt.want {
				t.Fatalf("TitleFromPrompt()=%q, want %q", got, tt.want)
			}
		})
	}
}

func TestMessageClone_DoesNotShareSlices(t *testing.T) {
	orig := Message{
		ID:      "m1",
		Sender:  SenderBot,
		Text:    "hi",
		Sources: []Citation{WebSource("https://a", "A")},
		Actions: []ToolInvocation{{Name: "toggleSystemFeature"}},
		Image:   &Image{MIMEType: "image/png", Data: []byte{1}},
	}
	cp := orig.Clone()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	cp.Sources[0].Title = "changed"
	cp.Actions[0].Name = "changed"
	cp.Image.MIMEType = "changed"
	if orig.Sources[0].Title != "A" || orig.Actions[0].Name != "toggleSystemFeature" || orig.Image.MIMEType != "image/png" {
		t.Fatal("mutating the clone changed the original")
	}
}

func TestPreferencesFromMap_Defaults(t *testing.T) {
	p := PreferencesFromMap(nil)
	if p.SelectedLanguage != DefaultLanguageCode {
		t.Fatalf("SelectedLanguage=%q, want %q", p.SelectedLanguage, DefaultLanguageCode)
	}
	if p.VoiceOutputEnabled || p.TutorModeEnabled {
		t.Fatal("toggles should default to false")
	}

	p = PreferencesFromMap(map[string]string{
		PrefVoiceOutputEnabled: "true",
		PrefSelectedLanguage:   "hi-IN",
		PrefLongTermMemory:     "likes tea",
	})
	want := Preferences{VoiceOutputEnabled: true, SelectedLanguage: "hi-IN", LongTermMemory: "likes tea"}
	if diff := cmp.Diff(want, p); diff != "" {
		t.Fatalf("unexpected preferences (-want +got):\n%s", diff)
	}
}

func TestNewIDs_AreDistinct(t *testing.T) {
	if NewMessageID() == NewMessageID() {
		t.Fatal("message ids should differ")
	}
	a, b := NewConversationID(), NewConversationID()
	if a == b || len(a) != 26 {
		t.Fatalf("unexpected conversation ids %q %q", a, b)
	}
}
