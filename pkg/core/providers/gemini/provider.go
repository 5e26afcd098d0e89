// Package gemini implements the assistant's remote model on Google Gemini:
// intent classification, streamed chat, image synthesis and memory updates
// over the REST API, and the live voice channel over the BidiGenerateContent
// websocket.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

const (
	DefaultChatModel       = "gemini-3-flash-preview"
	DefaultMapsModel       = "gemini-2.5-flash" // maps grounding is only served by 2.5
	DefaultClassifierModel = "gemini-3-flash-preview"
	DefaultImageModel      = "gemini-2.5-flash-image"
	DefaultMemoryModel     = "gemini-3-flash-preview"
)

// Models names the model used for each task.
type Models struct {
	Chat       string `yaml:"chat" json:"chat"`
	Maps       string `yaml:"maps" json:"maps"`
	Classifier string `yaml:"classifier" json:"classifier"`
	Image      string `yaml:"image" json:"image"`
	Memory     string `yaml:"memory" json:"memory"`
}

// DefaultModels returns the stock model set.
func DefaultModels() Models {
	return Models{
		Chat:       DefaultChatModel,
		Maps:       DefaultMapsModel,
		Classifier: DefaultClassifierModel,
		Image:      DefaultImageModel,
		Memory:     DefaultMemoryModel,
	}
}

func (m Models) withDefaults() Models {
	d := DefaultModels()
	if m.Chat == "" {
		m.Chat = d.Chat
	}
	if m.Maps == "" {
		m.Maps = d.Maps
	}
	if m.Classifier == "" {
		m.Classifier = d.Classifier
	}
	if m.Image == "" {
		m.Image = d.Image
	}
	if m.Memory == "" {
		m.Memory = d.Memory
	}
	return m
}

// Provider talks to the Gemini REST API. It satisfies turn.Model.
type Provider struct {
	client     *genai.Client
	models     Models
	baseURL    string
	httpClient *http.Client
}

var _ turn.Model = (*Provider)(nil)

// New creates a Provider authenticated with apiKey.
func New(ctx context.Context, apiKey string, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, core.NewInvalidRequestError("gemini api key is required")
	}
	p := &Provider{models: DefaultModels()}
	for _, opt := range opts {
		opt(p)
	}

	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: p.httpClient,
	}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	p.client = client
	return p, nil
}

// Name returns the provider identifier.
func (p *Provider) Name() string {
	return "gemini"
}

// Models returns the configured model set.
func (p *Provider) Models() Models {
	return p.models
}

const classifierInstruction = `You are Jarvis AI's intent analyzer.
Analyze the user's prompt and return ONLY a valid JSON object.

**Intents:**
- "location_query": User asks about locations, maps, directions, distances, or asks "where am I?", "what is my current location?".
- "image_generation": User wants to see/create an image.
- "device_control": Commands for hardware (wifi, volume, etc).
- "text_generation": General chat.

**Critical Rules:**
1. If the user wants to "set", "change", "go to", "open map", or "navigate" to a place, set "isSetLocationCommand": true.
2. If the user asks "Where am I?" or for their current location, categorize as "location_query".
3. Detect the BCP-47 language code.
4. If it's a location request, extract the place name into "imagePrompt" (misused field for simplicity here) or just ensure "isSetLocationCommand" is true.`

// Classify implements turn.Model.
func (p *Provider) Classify(ctx context.Context, prompt string) (types.Analysis, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(classifierInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    analysisSchema(),
		Temperature:       genai.Ptr[float32](0),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.models.Classifier, genai.Text(`Analyze: "`+prompt+`"`), cfg)
	if err != nil {
		return types.Analysis{}, mapError(err)
	}
	return parseAnalysis(resp.Text())
}

func parseAnalysis(text string) (types.Analysis, error) {
	var a types.Analysis
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &a); err != nil {
		return types.Analysis{}, core.Wrap(core.ErrClassification, "decode classifier response", err)
	}
	if a.Intent == "" {
		return types.Analysis{}, core.NewError(core.ErrClassification, "classifier returned no intent")
	}
	return a, nil
}

func analysisSchema() *genai.Schema {
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"intent":               {Type: genai.TypeString},
			"detectedLanguageCode": {Type: genai.TypeString},
			"isSetLocationCommand": {Type: genai.TypeBoolean, Nullable: genai.Ptr(true)},
			"imagePrompt":          {Type: genai.TypeString, Nullable: genai.Ptr(true)},
		},
		Required: []string{"intent", "detectedLanguageCode"},
	}
}

// Stream implements turn.Model. The first response chunk is awaited before
// returning so establishment failures can be retried by the caller.
func (p *Provider) Stream(ctx context.Context, req turn.StreamRequest) (types.FragmentStream, error) {
	model := p.models.Chat
	if req.Tools.Maps {
		model = p.models.Maps
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.SystemInstruction, genai.RoleUser),
		Tools:             buildTools(req.Tools),
		ToolConfig:        buildToolConfig(req.Tools),
	}
	return newFragmentStream(ctx, p.client.Models.GenerateContentStream(ctx, model, buildContents(req.Contents), cfg))
}

// GenerateImage implements turn.Model.
func (p *Provider) GenerateImage(ctx context.Context, prompt string) (*types.Image, error) {
	cfg := &genai.GenerateContentConfig{
		ImageConfig: &genai.ImageConfig{AspectRatio: "1:1"},
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.models.Image, genai.Text(prompt), cfg)
	if err != nil {
		return nil, mapError(err)
	}
	if img := firstImage(resp); img != nil {
		return img, nil
	}
	return nil, core.NewError(core.ErrTerminalRemote, "No image data found.")
}

// UpdateMemory implements turn.Model.
func (p *Provider) UpdateMemory(ctx context.Context, existing, transcript string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(
			"Update user profile memory list.\nCurrent:\n"+existing+"\n\nNew:\n"+transcript, genai.RoleUser),
		Temperature: genai.Ptr[float32](0),
	}
	resp, err := p.client.Models.GenerateContent(ctx, p.models.Memory, genai.Text("Update memory."), cfg)
	if err != nil {
		return "", mapError(err)
	}
	return strings.TrimSpace(resp.Text()), nil
}
