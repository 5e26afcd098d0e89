package gemini

import (
	"encoding/json"
	"strings"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/live"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Wire shapes of the BidiGenerateContent protocol. Only the fields the
// session uses are modeled.

type wireSetupMessage struct {
	Setup wireSetup `json:"setup"`
}

type wireSetup struct {
	Model                    string               `json:"model"`
	GenerationConfig         wireGenerationConfig `json:"generationConfig"`
	SystemInstruction        *wireContent         `json:"systemInstruction,omitempty"`
	Tools                    []wireTool           `json:"tools,omitempty"`
	InputAudioTranscription  *struct{}            `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}            `json:"outputAudioTranscription,omitempty"`
}

type wireGenerationConfig struct {
	ResponseModalities []string          `json:"responseModalities"`
	SpeechConfig       *wireSpeechConfig `json:"speechConfig,omitempty"`
}

type wireSpeechConfig struct {
	VoiceConfig struct {
		PrebuiltVoiceConfig struct {
			VoiceName string `json:"voiceName"`
		} `json:"prebuiltVoiceConfig"`
	} `json:"voiceConfig"`
}

type wireContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []wirePart `json:"parts"`
}

type wirePart struct {
	Text       string          `json:"text,omitempty"`
	InlineData *wireInlineData `json:"inlineData,omitempty"`
}

type wireInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type wireTool struct {
	FunctionDeclarations []wireFunctionDeclaration `json:"functionDeclarations"`
}

type wireFunctionDeclaration struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  *wireSchema `json:"parameters,omitempty"`
}

type wireSchema struct {
	Type        string                 `json:"type"`
	Description string                 `json:"description,omitempty"`
	Enum        []string               `json:"enum,omitempty"`
	Properties  map[string]*wireSchema `json:"properties,omitempty"`
	Required    []string               `json:"required,omitempty"`
}

type wireRealtimeInput struct {
	RealtimeInput struct {
		Audio audio.Frame `json:"audio"`
	} `json:"realtimeInput"`
}

type wireToolResponse struct {
	ToolResponse struct {
		FunctionResponses []live.ToolResponse `json:"functionResponses"`
	} `json:"toolResponse"`
}

type wireServerMessage struct {
	SetupComplete *struct{}          `json:"setupComplete,omitempty"`
	ServerContent *wireServerContent `json:"serverContent,omitempty"`
	ToolCall      *struct {
		FunctionCalls []types.FunctionCall `json:"functionCalls"`
	} `json:"toolCall,omitempty"`
	GoAway *struct {
		TimeLeft string `json:"timeLeft"`
	} `json:"goAway,omitempty"`
}

type wireServerContent struct {
	ModelTurn           *wireContent    `json:"modelTurn,omitempty"`
	InputTranscription  *wireTranscript `json:"inputTranscription,omitempty"`
	OutputTranscription *wireTranscript `json:"outputTranscription,omitempty"`
	TurnComplete        bool            `json:"turnComplete,omitempty"`
	Interrupted         bool            `json:"interrupted,omitempty"`
}

type wireTranscript struct {
	Text string `json:"text"`
}

func encodeSetup(s live.Setup) ([]byte, error) {
	model := s.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := wireSetupMessage{Setup: wireSetup{
		Model:            model,
		GenerationConfig: wireGenerationConfig{ResponseModalities: []string{"AUDIO"}},
	}}
	if s.Voice != "" {
		sc := &wireSpeechConfig{}
		sc.VoiceConfig.PrebuiltVoiceConfig.VoiceName = s.Voice
		msg.Setup.GenerationConfig.SpeechConfig = sc
	}
	if s.SystemInstruction != "" {
		msg.Setup.SystemInstruction = &wireContent{Parts: []wirePart{{Text: s.SystemInstruction}}}
	}
	if len(s.Tools) > 0 {
		decls := make([]wireFunctionDeclaration, 0, len(s.Tools))
		for _, fn := range s.Tools {
			decls = append(decls, wireDeclaration(fn))
		}
		msg.Setup.Tools = []wireTool{{FunctionDeclarations: decls}}
	}
	if s.InputTranscription {
		msg.Setup.InputAudioTranscription = &struct{}{}
	}
	if s.OutputTranscription {
		msg.Setup.OutputAudioTranscription = &struct{}{}
	}
	return json.Marshal(msg)
}

func wireDeclaration(fn types.FunctionDeclaration) wireFunctionDeclaration {
	d := wireFunctionDeclaration{Name: fn.Name, Description: fn.Description}
	if len(fn.Parameters) == 0 {
		return d
	}
	schema := &wireSchema{Type: "OBJECT", Properties: map[string]*wireSchema{}, Required: fn.Required}
	for _, p := range fn.Parameters {
		schema.Properties[p.Name] = &wireSchema{
			Type:        strings.ToUpper(string(p.Type)),
			Description: p.Description,
			Enum:        p.Enum,
		}
	}
	d.Parameters = schema
	return d
}

func encodeAudio(frame audio.Frame) ([]byte, error) {
	var msg wireRealtimeInput
	msg.RealtimeInput.Audio = frame
	return json.Marshal(msg)
}

func encodeToolResponses(responses []live.ToolResponse) ([]byte, error) {
	var msg wireToolResponse
	msg.ToolResponse.FunctionResponses = responses
	return json.Marshal(msg)
}

// decodeServerMessage parses one inbound frame. setupDone reports a
// setupComplete acknowledgement; ev is nil for frames that carry nothing the
// session consumes.
func decodeServerMessage(data []byte) (ev *live.ServerEvent, setupDone bool, err error) {
	var msg wireServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, false, core.Wrap(core.ErrMalformedPayload, "decode live server message", err)
	}
	if msg.SetupComplete != nil {
		setupDone = true
	}

	out := &live.ServerEvent{}
	has := false
	if sc := msg.ServerContent; sc != nil {
		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData != nil && part.InlineData.Data != "" {
					out.Audio = append(out.Audio, part.InlineData.Data)
				}
			}
		}
		if sc.InputTranscription != nil {
			out.InputTranscript = sc.InputTranscription.Text
		}
		if sc.OutputTranscription != nil {
			out.OutputTranscript = sc.OutputTranscription.Text
		}
		out.TurnComplete = sc.TurnComplete
		out.Interrupted = sc.Interrupted
		has = true
	}
	if msg.ToolCall != nil && len(msg.ToolCall.FunctionCalls) > 0 {
		out.ToolCalls = msg.ToolCall.FunctionCalls
		has = true
	}
	if !has {
		return nil, setupDone, nil
	}
	return out, setupDone, nil
}
