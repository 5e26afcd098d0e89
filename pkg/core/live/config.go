package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Phase is the lifecycle phase of a Session.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseActive
	PhaseError
	PhaseEnded
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "IDLE"
	case PhaseConnecting:
		return "CONNECTING"
	case PhaseActive:
		return "ACTIVE"
	case PhaseError:
		return "ERROR"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// Config holds the settings of a live session.
type Config struct {
	// Model is the native-audio model to connect to.
	Model string `json:"model" yaml:"model"`

	// Voice is the prebuilt voice the model speaks with.
	Voice string `json:"voice" yaml:"voice"`

	AssistantName string `json:"assistant_name" yaml:"assistant_name"`
	Creator       string `json:"creator" yaml:"creator"`

	// TutorMode asks the model to correct mistakes in the user's speech.
	TutorMode bool `json:"tutor_mode" yaml:"tutor_mode"`

	// FrameSamples is the number of captured samples per outbound frame.
	FrameSamples int `json:"frame_samples" yaml:"frame_samples"`

	TranscriptClearDelay  time.Duration `json:"transcript_clear_delay" yaml:"transcript_clear_delay"`
	LocateTimeout         time.Duration `json:"locate_timeout" yaml:"locate_timeout"`
	VisualizationInterval time.Duration `json:"visualization_interval" yaml:"visualization_interval"`

	// CommandBuffer bounds the playback command queue.
	CommandBuffer int `json:"command_buffer" yaml:"command_buffer"`
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() Config {
	return Config{
		Model:                 "gemini-2.5-flash-native-audio-preview-09-2025",
		Voice:                 "Zephyr",
		AssistantName:         "Jarvis",
		Creator:               "Mr. Kalpesh",
		FrameSamples:          4096,
		TranscriptClearDelay:  3 * time.Second,
		LocateTimeout:         5 * time.Second,
		VisualizationInterval: time.Second / 30,
		CommandBuffer:         64,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Model == "" {
		c.Model = d.Model
	}
	if c.Voice == "" {
		c.Voice = d.Voice
	}
	if c.AssistantName == "" {
		c.AssistantName = d.AssistantName
	}
	if c.Creator == "" {
		c.Creator = d.Creator
	}
	if c.FrameSamples <= 0 {
		c.FrameSamples = d.FrameSamples
	}
	if c.TranscriptClearDelay <= 0 {
		c.TranscriptClearDelay = d.TranscriptClearDelay
	}
	if c.LocateTimeout <= 0 {
		c.LocateTimeout = d.LocateTimeout
	}
	if c.VisualizationInterval <= 0 {
		c.VisualizationInterval = d.VisualizationInterval
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = d.CommandBuffer
	}
	return c
}

// Setup is what the session asks the Connector to open.
type Setup struct {
	Model             string
	Voice             string
	SystemInstruction string
	Tools             []types.FunctionDeclaration

	InputTranscription  bool
	OutputTranscription bool
}

// ToolOpenMap is the only tool offered to the live model.
const ToolOpenMap = "openMap"

// OpenMapTool declares the map tool.
func OpenMapTool() types.FunctionDeclaration {
	return types.FunctionDeclaration{
		Name:        ToolOpenMap,
		Description: "Opens a map or navigates to a specific location.",
		Parameters: []types.Parameter{
			{Name: "location", Type: types.ParamString, Description: "The name or address of the location to show on the map."},
		},
		Required: []string{"location"},
	}
}

// SystemInstruction builds the persona, location and tutor instruction.
// loc may be nil when no position could be obtained.
func SystemInstruction(cfg Config, loc *types.Location) string {
	cfg = cfg.withDefaults()
	position := "Sensors reporting unknown location"
	if loc != nil {
		position = fmt.Sprintf("Latitude %v, Longitude %v", loc.Latitude, loc.Longitude)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a helpful AI assistant created by %s.\n", cfg.AssistantName, cfg.Creator)
	fmt.Fprintf(&b, "Always answer \"Made by %s.\" if asked about your origin.\n", cfg.Creator)
	b.WriteString("Keep responses concise.\n")
	b.WriteString("REAL-TIME SENSOR DATA:\n")
	fmt.Fprintf(&b, "- Current Physical Location: %s.\n", position)
	b.WriteString("- You can \"see\" where the user is. If they ask where they are, use this data to describe their area.\n")
	b.WriteString("- If asked to open maps or find something nearby, use the openMap tool.\n")
	if cfg.TutorMode {
		b.WriteString("Act as a tutor. Correct mistakes in user speech.")
	}
	return b.String()
}

func newSetup(cfg Config, loc *types.Location) Setup {
	return Setup{
		Model:               cfg.Model,
		Voice:               cfg.Voice,
		SystemInstruction:   SystemInstruction(cfg, loc),
		Tools:               []types.FunctionDeclaration{OpenMapTool()},
		InputTranscription:  true,
		OutputTranscription: true,
	}
}
