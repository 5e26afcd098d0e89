package turn

import (
	"context"

	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// StreamRequest is everything the model needs for one streamed reply.
type StreamRequest struct {
	Contents          []types.Content
	SystemInstruction string
	Tools             types.ToolConfig
}

// Model is the remote generative model.
type Model interface {
	// Classify reads the intent and language of a prompt.
	Classify(ctx context.Context, prompt string) (types.Analysis, error)

	// Stream opens a streamed reply. Errors returned here are establishment
	// failures; errors from the stream itself surface through Next.
	Stream(ctx context.Context, req StreamRequest) (types.FragmentStream, error)

	// GenerateImage synthesizes a single image from prompt.
	GenerateImage(ctx context.Context, prompt string) (*types.Image, error)

	// UpdateMemory merges transcript into the existing memory notes.
	UpdateMemory(ctx context.Context, existing, transcript string) (string, error)
}

// ConversationStore persists conversations. Get returns a not_found error for
// unknown ids.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*types.Conversation, error)
	Save(ctx context.Context, c *types.Conversation) error
}

// PreferenceStore persists scalar user preferences.
type PreferenceStore interface {
	Load(ctx context.Context) (types.Preferences, error)
	Save(ctx context.Context, key, value string) error
}

// Speaker plays replies aloud. *voice.Speaker satisfies it.
type Speaker interface {
	Speak(ctx context.Context, text, code, preferredURI string) error
	Cancel()
}

// Geolocator resolves the user's current position.
type Geolocator interface {
	Locate(ctx context.Context) (*types.Location, error)
}

// LinkOpener opens a URI in the host's browser.
type LinkOpener interface {
	Open(uri string) error
}

// Recorder observes finished turns. Implementations must be safe for
// concurrent use.
type Recorder interface {
	TurnCompleted(intent types.Intent, outcome string, seconds float64)
	RemoteRetry(op string)
}
