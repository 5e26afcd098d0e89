package live

import "github.com/vango-go/vai-jarvis/pkg/core/types"

// ServerEvent is one inbound message from the live channel, already
// unpacked from its wire form. Any field may be empty.
type ServerEvent struct {
	InputTranscript  string
	OutputTranscript string
	TurnComplete     bool
	Interrupted      bool

	// Audio holds base64 PCM16 chunks (24 kHz mono) in part order.
	Audio []string

	ToolCalls []types.FunctionCall
}

// ToolResponse answers one tool call.
type ToolResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// State is a point-in-time snapshot of a session.
type State struct {
	Phase Phase

	InputAmplitude  float64
	OutputAmplitude float64

	PendingInputTranscript  string
	PendingOutputTranscript string

	MicrophoneMuted bool
	ModelSpeaking   bool

	Location *types.Location

	// Err is set in PhaseError. It is a *core.Error whose Type names the
	// failure: device_unavailable, audio_context_failure or transport_failure.
	Err error
}

// Observer receives a snapshot after every visible state change.
type Observer func(State)
