package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/audio"
	"github.com/vango-go/vai-jarvis/pkg/core/live"
)

// DefaultLiveURL is the BidiGenerateContent websocket endpoint.
const DefaultLiveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const liveWriteTimeout = 5 * time.Second

// LiveConnector opens Gemini Live sessions. It satisfies live.Connector.
type LiveConnector struct {
	apiKey string
	url    string
	dialer *websocket.Dialer
	logger *slog.Logger
}

var _ live.Connector = (*LiveConnector)(nil)

// LiveOption configures a LiveConnector.
type LiveOption func(*LiveConnector)

// WithLiveURL overrides the websocket endpoint.
func WithLiveURL(u string) LiveOption {
	return func(c *LiveConnector) {
		if u != "" {
			c.url = u
		}
	}
}

// WithLiveLogger sets the logger for dropped or unknown frames.
func WithLiveLogger(l *slog.Logger) LiveOption {
	return func(c *LiveConnector) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewLiveConnector(apiKey string, opts ...LiveOption) *LiveConnector {
	c := &LiveConnector{
		apiKey: apiKey,
		url:    DefaultLiveURL,
		dialer: websocket.DefaultDialer,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the endpoint, sends the setup and waits for setupComplete.
func (c *LiveConnector) Connect(ctx context.Context, setup live.Setup) (live.Channel, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return nil, core.NewInvalidRequestError("gemini api key is required")
	}
	wsURL, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		if resp != nil {
			return nil, core.NewRemoteError(resp.StatusCode, "live dial failed", err)
		}
		return nil, fmt.Errorf("live dial: %w", err)
	}

	ch := &liveChannel{conn: conn, logger: c.logger}
	payload, err := encodeSetup(setup)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := ch.write(payload); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send live setup: %w", err)
	}

	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		data, err := ch.read()
		if err != nil {
			_ = conn.Close()
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("await live setup: %w", err)
		}
		_, done, err := decodeServerMessage(data)
		if err != nil {
			c.logger.Debug("ignoring malformed frame during setup", "error", err)
			continue
		}
		if done {
			break
		}
	}
	if !stop() {
		_ = conn.Close()
		return nil, ctx.Err()
	}
	_ = conn.SetReadDeadline(time.Time{})
	return ch, nil
}

func (c *LiveConnector) endpoint() (string, error) {
	u, err := url.Parse(c.url)
	if err != nil {
		return "", fmt.Errorf("invalid live url: %w", err)
	}
	q := u.Query()
	q.Set("key", c.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// liveChannel is one open Gemini Live connection. Writes are serialized;
// Receive must be called from a single goroutine.
type liveChannel struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (ch *liveChannel) SendAudio(_ context.Context, frame audio.Frame) error {
	payload, err := encodeAudio(frame)
	if err != nil {
		return err
	}
	return ch.write(payload)
}

func (ch *liveChannel) SendToolResponses(_ context.Context, responses []live.ToolResponse) error {
	if len(responses) == 0 {
		return nil
	}
	payload, err := encodeToolResponses(responses)
	if err != nil {
		return err
	}
	return ch.write(payload)
}

// Receive returns the next message that carries session content. Frames
// with nothing to consume are skipped.
func (ch *liveChannel) Receive(ctx context.Context) (*live.ServerEvent, error) {
	stop := context.AfterFunc(ctx, func() { _ = ch.conn.SetReadDeadline(time.Now()) })
	defer stop()
	for {
		data, err := ch.read()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, net.ErrClosed) {
				return nil, io.EOF
			}
			return nil, err
		}
		ev, _, err := decodeServerMessage(data)
		if err != nil {
			ch.logger.Warn("dropping malformed live frame", "error", err)
			continue
		}
		if ev != nil {
			return ev, nil
		}
	}
}

func (ch *liveChannel) Close() error {
	ch.closeOnce.Do(func() {
		ch.writeMu.Lock()
		_ = ch.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		ch.writeMu.Unlock()
		ch.closeErr = ch.conn.Close()
	})
	return ch.closeErr
}

func (ch *liveChannel) write(payload []byte) error {
	ch.writeMu.Lock()
	defer ch.writeMu.Unlock()
	_ = ch.conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
	return ch.conn.WriteMessage(websocket.TextMessage, payload)
}

// read returns the payload of the next text or binary frame.
func (ch *liveChannel) read() ([]byte, error) {
	for {
		mt, data, err := ch.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}
