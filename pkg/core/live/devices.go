package live

import (
	"context"

	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

// Microphone grants access to the capture device.
type Microphone interface {
	Acquire(ctx context.Context) (MicStream, error)
}

// MicStream is an acquired microphone.
type MicStream interface {
	Release() error
}

// AudioBackend opens the input and output audio contexts.
type AudioBackend interface {
	OpenInput(sampleRate int) (InputContext, error)
	OpenOutput(sampleRate int) (OutputContext, error)
}

// InputContext turns an acquired microphone into mono float frames.
type InputContext interface {
	// Tap starts delivering frames of frameSamples samples. The channel is
	// closed when the context is closed.
	Tap(mic MicStream, frameSamples int) (<-chan []float32, error)
	Close() error
}

// OutputContext plays buffers against its own clock.
type OutputContext interface {
	// CurrentTime is the context clock in seconds.
	CurrentTime() float64

	// Play schedules buf to start at the given context time.
	Play(buf *audio.Buffer, at float64) (Playback, error)

	Close() error
}

// Playback is one scheduled buffer.
type Playback interface {
	Stop()

	// Done is closed when playback finishes or is stopped.
	Done() <-chan struct{}
}

// Connector opens the bidirectional channel to the model.
type Connector interface {
	// Connect returns once the remote side has acknowledged the setup. ctx
	// bounds the handshake only, not the lifetime of the channel.
	Connect(ctx context.Context, setup Setup) (Channel, error)
}

// Channel is an open live connection.
type Channel interface {
	SendAudio(ctx context.Context, frame audio.Frame) error
	SendToolResponses(ctx context.Context, responses []ToolResponse) error

	// Receive blocks for the next server message. It returns io.EOF when the
	// remote side closes the channel normally.
	Receive(ctx context.Context) (*ServerEvent, error)

	Close() error
}

// Geolocator reports the device's position.
type Geolocator interface {
	Locate(ctx context.Context) (*types.Location, error)
}

// LinkOpener opens a URL on the host.
type LinkOpener interface {
	Open(url string) error
}

// Visualizer draws the current input and output amplitudes.
type Visualizer interface {
	Render(input, output float64)
}

// Recorder receives session telemetry. All methods must be safe for
// concurrent use.
type Recorder interface {
	LiveSessionStarted()
	LiveSessionEnded(status string, seconds float64)
	LiveAudio(direction string, bytes int)
}

// Dependencies are the collaborators of a Session. Geolocator, Links,
// Visualizer and Recorder are optional.
type Dependencies struct {
	Microphone Microphone
	Audio      AudioBackend
	Connector  Connector
	Geolocator Geolocator
	Links      LinkOpener
	Visualizer Visualizer
	Recorder   Recorder
}
