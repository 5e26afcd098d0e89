package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/gateway/apierror"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	"github.com/vango-go/vai-jarvis/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-jarvis/pkg/gateway/mw"
	"github.com/vango-go/vai-jarvis/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-jarvis/pkg/gateway/sse"
)

// TurnRequest is the body of POST /v1/turns.
type TurnRequest struct {
	ConversationID string       `json:"conversation_id,omitempty"`
	Prompt         string       `json:"prompt"`
	Image          *types.Image `json:"image,omitempty"`
}

// TurnDone is the payload of the final "done" event.
type TurnDone struct {
	ConversationID string         `json:"conversation_id"`
	Title          string         `json:"title"`
	Message        types.Message  `json:"message"`
	Analysis       types.Analysis `json:"analysis"`
	Error          *apierror.Body `json:"error,omitempty"`
}

// Turns runs chat turns. *turn.Orchestrator satisfies it.
type Turns interface {
	Run(ctx context.Context, req turn.Request) (*turn.Result, error)
	RefreshMemory(ctx context.Context, conversationID string) (string, error)
}

// TurnsHandler handles POST /v1/turns. The reply streams as server-sent
// events: "analysis" once, "message" after every change of the bot message,
// then "done" (or "error" if the turn could not be persisted).
type TurnsHandler struct {
	Config      config.Config
	Turns       Turns
	Preferences turn.PreferenceStore
	Limiter     *ratelimit.Limiter
	Lifecycle   *lifecycle.Lifecycle
	Inflight    *Inflight
	Logger      *slog.Logger
}

func (h TurnsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if h.Lifecycle.Draining() {
		apierror.Write(w, http.StatusServiceUnavailable, &apierror.Body{
			Type:      core.ErrTransientRemote,
			Message:   "server is shutting down",
			Code:      "draining",
			RequestID: reqID,
		})
		return
	}

	req, err := decodeTurnRequest(w, r, h.Config.MaxBodyBytes)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	if h.Limiter != nil {
		dec := h.Limiter.AcquireTurn(mw.PrincipalKey(r), time.Now())
		if !dec.Allowed {
			mw.WriteRateLimited(w, r, dec.RetryAfter, "too many concurrent turns")
			return
		}
		defer dec.Permit.Release()
	}

	if req.ConversationID != "" {
		release, ok := h.Inflight.Acquire(req.ConversationID)
		if !ok {
			writeErr(w, r, core.NewError(core.ErrConflict, "a turn is already running on this conversation"))
			return
		}
		defer release()
		w.Header().Set("X-Conversation-ID", req.ConversationID)
	}

	var prefs types.Preferences
	if h.Preferences != nil {
		prefs, err = h.Preferences.Load(r.Context())
		if err != nil {
			writeErr(w, r, err)
			return
		}
	} else {
		prefs = types.PreferencesFromMap(nil)
	}

	sw, err := sse.New(w)
	if err != nil {
		writeErr(w, r, core.NewError(core.ErrTransport, "streaming not supported"))
		return
	}

	ctx := r.Context()
	if h.Config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Config.TurnTimeout)
		defer cancel()
	}

	// Headers go out with the first event, so failures before it still get a
	// plain JSON error.
	var streaming atomic.Bool
	send := func(event string, data any) {
		streaming.Store(true)
		if err := sw.Send(event, data); err != nil {
			logger.Debug("sse send failed", "request_id", reqID, "event", event, "error", err)
		}
	}

	stopPing := h.startPing(sw, &streaming)
	res, err := h.Turns.Run(ctx, turn.Request{
		ConversationID: req.ConversationID,
		Prompt:         req.Prompt,
		Image:          req.Image,
		Preferences:    prefs,
		OnAnalysis:     func(a types.Analysis) { send("analysis", a) },
		OnUpdate:       func(m types.Message) { send("message", m) },
	})
	stopPing()

	if err != nil {
		if !streaming.Load() {
			writeErr(w, r, err)
			return
		}
		body, _ := apierror.FromError(err, reqID)
		send("error", body)
		return
	}

	done := TurnDone{
		ConversationID: res.Conversation.ID,
		Title:          res.Conversation.Title,
		Message:        res.Message,
		Analysis:       res.Analysis,
	}
	if res.Err != nil {
		done.Error, _ = apierror.FromError(res.Err, reqID)
	}
	send("done", done)
}

func (h TurnsHandler) startPing(sw *sse.Writer, streaming *atomic.Bool) (stop func()) {
	if h.Config.SSEPingInterval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(h.Config.SSEPingInterval)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if streaming.Load() {
					_ = sw.Ping()
				}
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		wg.Wait()
	}
}

func decodeTurnRequest(w http.ResponseWriter, r *http.Request, maxBytes int64) (TurnRequest, error) {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	var req TurnRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return req, core.NewInvalidRequestError("request body too large")
		case errors.Is(err, io.EOF):
			return req, core.NewInvalidRequestError("request body is empty")
		default:
			return req, core.NewInvalidRequestError("invalid JSON body: " + err.Error())
		}
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	if strings.TrimSpace(req.Prompt) == "" && req.Image == nil {
		return req, core.NewInvalidRequestError("prompt or image is required")
	}
	if req.Image != nil && (req.Image.MIMEType == "" || len(req.Image.Data) == 0) {
		return req, core.NewInvalidRequestError("image requires mime_type and data")
	}
	return req, nil
}

// Inflight guards conversations against concurrent turns.
type Inflight struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewInflight() *Inflight {
	return &Inflight{ids: make(map[string]struct{})}
}

// Acquire claims id. It reports false if another turn holds it.
func (f *Inflight) Acquire(id string) (release func(), ok bool) {
	if f == nil {
		return func() {}, true
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, busy := f.ids[id]; busy {
		return nil, false
	}
	f.ids[id] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.ids, id)
			f.mu.Unlock()
		})
	}, true
}
