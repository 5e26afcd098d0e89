package turn

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/lang"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Persona names the assistant and its author.
type Persona struct {
	Name    string `yaml:"name" json:"name"`
	Creator string `yaml:"creator" json:"creator"`
}

// DefaultPersona is Jarvis, made by Mr. Kalpesh.
func DefaultPersona() Persona {
	return Persona{Name: "Jarvis", Creator: "Mr. Kalpesh"}
}

const locationRules = `**LOCATION & CURRENT POSITION:**
- If toolConfig includes 'latLng', these coordinates are the user's EXACT CURRENT PHYSICAL LOCATION.
- Use the Google Maps tool to determine the user's address, city, or nearby landmarks if they ask "Where am I?".
- If the user asks for their location, provide a helpful and precise description based on the grounding results.
- If the user asks to "navigate" or "set location", or "show map", ALWAYS use the googleMaps tool and verbally confirm: "Certainly, opening the map for you now."
- Always act as if you have real-time access to their physical position through your sensors.`

// SystemInstruction builds the chat system instruction for prefs.
func SystemInstruction(p Persona, prefs types.Preferences) string {
	var b strings.Builder
	if code := prefs.SelectedLanguage; code != "" && !lang.IsEnglish(code) {
		fmt.Fprintf(&b, "**OUTPUT LANGUAGE: %s.** Do not use English.\n", code)
	}
	fmt.Fprintf(&b, "You are %s, a witty AI assistant created by %s.\n", p.Name, p.Creator)
	fmt.Fprintf(&b, "Always answer \"Made by %s.\" if asked about your origin.\n\n", p.Creator)
	b.WriteString(locationRules)
	if mem := strings.TrimSpace(prefs.LongTermMemory); mem != "" {
		b.WriteString("\n\nUser Profile Memory:\n")
		b.WriteString(mem)
	}
	return b.String()
}

// BuildContents maps prior messages and the new prompt to model history.
// Messages without text or carrying an image are left out; the new user
// entry puts the inline image before the prompt text.
func BuildContents(history []types.Message, prompt string, img *types.Image) []types.Content {
	out := make([]types.Content, 0, len(history)+1)
	for _, m := range history {
		if m.Text == "" || m.Image != nil {
			continue
		}
		role := types.RoleUser
		if m.Sender == types.SenderBot {
			role = types.RoleModel
		}
		out = append(out, types.TextContent(role, m.Text))
	}

	user := types.Content{Role: types.RoleUser}
	if img != nil {
		user.Parts = append(user.Parts, types.Part{Image: img})
	}
	if prompt != "" {
		user.Parts = append(user.Parts, types.Part{Text: prompt})
	}
	return append(out, user)
}

// MemoryTranscript renders a conversation as "User:" / "<name>:" lines.
func MemoryTranscript(p Persona, msgs []types.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Text == "" {
			continue
		}
		who := "User"
		if m.Sender == types.SenderBot {
			who = p.Name
		}
		lines = append(lines, who+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}

const (
	overloadedReply  = "My brain is a bit overloaded right now (503 Service Unavailable). Please try again in a few seconds!"
	rateLimitedReply = "Whoa, slow down! I've reached my message limit for now. Please wait a bit."
	genericReply     = "I encountered a problem connecting to my servers."

	// ImageReply introduces a generated image.
	ImageReply = "Here is the image I created for you:"
)

// FailureReply is the bot text shown in place of a failed reply.
func FailureReply(err error) string {
	status := core.StatusOf(err)
	switch {
	case status == 503 || strings.Contains(err.Error(), "503"):
		return overloadedReply
	case status == 429:
		return rateLimitedReply
	default:
		return genericReply
	}
}
