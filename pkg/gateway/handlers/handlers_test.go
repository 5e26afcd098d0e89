package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/gateway/apierror"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	"github.com/vango-go/vai-jarvis/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

type fragments struct{ frags []types.Fragment }

func (s *fragments) Next() (types.Fragment, error) {
	if len(s.frags) == 0 {
		return types.Fragment{}, io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *fragments) Close() error { return nil }

type fakeModel struct {
	reply  []string
	memory string
}

func (m *fakeModel) Classify(context.Context, string) (types.Analysis, error) {
	return types.Analysis{Intent: types.IntentTextGeneration, DetectedLanguageCode: "en-US"}, nil
}

func (m *fakeModel) Stream(context.Context, turn.StreamRequest) (types.FragmentStream, error) {
	s := &fragments{}
	for _, t := range m.reply {
		s.frags = append(s.frags, types.Fragment{Text: t})
	}
	return s, nil
}

func (m *fakeModel) GenerateImage(context.Context, string) (*types.Image, error) {
	return &types.Image{MIMEType: "image/png", Data: []byte{1}}, nil
}

func (m *fakeModel) UpdateMemory(context.Context, string, string) (string, error) {
	return m.memory, nil
}

type fixture struct {
	convs *store.MemoryConversations
	prefs *store.MemoryPreferences
	orch  *turn.Orchestrator
	turns TurnsHandler
}

func newFixture(t *testing.T, model *fakeModel) *fixture {
	t.Helper()
	f := &fixture{convs: store.NewMemoryConversations(), prefs: store.NewMemoryPreferences()}
	f.orch = turn.New(turn.Deps{
		Model:         model,
		Conversations: f.convs,
		Preferences:   f.prefs,
	}, turn.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	cfg := config.Default()
	f.turns = TurnsHandler{
		Config:      cfg,
		Turns:       f.orch,
		Preferences: f.prefs,
		Inflight:    NewInflight(),
	}
	return f
}

func (f *fixture) seed(t *testing.T, id string) {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	err := f.convs.Save(context.Background(), &types.Conversation{
		ID:    id,
		Title: "tea",
		Messages: []types.Message{
			{ID: "u1", Sender: types.SenderUser, Text: "I like green tea"},
			{ID: "b1", Sender: types.SenderBot, Text: "Noted."},
		},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

type event struct {
	name string
	data string
}

func parseEvents(t *testing.T, body string) []event {
	t.Helper()
	var out []event
	for _, chunk := range strings.Split(body, "\n\n") {
		var ev event
		for _, line := range strings.Split(chunk, "\n") {
			switch {
			case strings.HasPrefix(line, "event: "):
				ev.name = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" {
			out = append(out, ev)
		}
	}
	return out
}

func errorType(t *testing.T, body []byte) string {
	t.Helper()
	var env apierror.Envelope
	if err := json.Unmarshal(body, &env); err != nil || env.Error == nil {
		t.Fatalf("not an error envelope: %q (%v)", body, err)
	}
	return string(env.Error.Type)
}

func TestTurnsHandler_StreamsAndPersists(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: []string{"Hello", " world"}})

	rr := httptest.NewRecorder()
	f.turns.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"prompt":"say hello"}`)))

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%q", ct)
	}

	events := parseEvents(t, rr.Body.String())
	var names []string
	for _, ev := range events {
		names = append(names, ev.name)
	}
	want := []string{"message", "analysis", "message", "message", "done"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("events (-want +got):\n%s", diff)
	}

	var done TurnDone
	if err := json.Unmarshal([]byte(events[len(events)-1].data), &done); err != nil {
		t.Fatalf("done payload: %v", err)
	}
	if done.Message.Text != "Hello world" || done.Title != "say hello" || done.Error != nil {
		t.Fatalf("done=%+v", done)
	}

	conv, err := f.convs.Get(context.Background(), done.ConversationID)
	if err != nil {
		t.Fatalf("stored conversation: %v", err)
	}
	if len(conv.Messages) != 2 || conv.Messages[0].Text != "say hello" || conv.Messages[1].Text != "Hello world" {
		t.Fatalf("stored messages=%+v", conv.Messages)
	}
}

func TestTurnsHandler_RejectsBeforeStreaming(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		setup    func(f *fixture)
		wantCode int
		wantType string
	}{
		{name: "empty prompt", body: `{"prompt":"  "}`, wantCode: http.StatusBadRequest, wantType: "invalid_request_error"},
		{name: "unknown field", body: `{"prompt":"hi","model":"x"}`, wantCode: http.StatusBadRequest, wantType: "invalid_request_error"},
		{name: "image without data", body: `{"image":{"mime_type":"image/png"}}`, wantCode: http.StatusBadRequest, wantType: "invalid_request_error"},
		{name: "unknown conversation", body: `{"conversation_id":"nope","prompt":"hi"}`, wantCode: http.StatusNotFound, wantType: "not_found_error"},
		{
			name: "busy conversation",
			body: `{"conversation_id":"c1","prompt":"hi"}`,
			setup: func(f *fixture) {
				if _, ok := f.turns.Inflight.Acquire("c1"); !ok {
					panic("acquire")
				}
			},
			wantCode: http.StatusConflict,
			wantType: "conflict_error",
		},
		{
			name: "draining",
			body: `{"prompt":"hi"}`,
			setup: func(f *fixture) {
				f.turns.Lifecycle = &lifecycle.Lifecycle{}
				f.turns.Lifecycle.BeginDrain()
			},
			wantCode: http.StatusServiceUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, &fakeModel{reply: []string{"x"}})
			if tt.setup != nil {
				tt.setup(f)
			}
			rr := httptest.NewRecorder()
			f.turns.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(tt.body)))
			if rr.Code != tt.wantCode {
				t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
			}
			got := errorType(t, rr.Body.Bytes())
			if tt.wantType != "" && got != tt.wantType {
				t.Fatalf("type=%q want %q", got, tt.wantType)
			}
		})
	}
}

func TestTurnsHandler_ContinuesConversation(t *testing.T) {
	f := newFixture(t, &fakeModel{reply: []string{"Sure."}})
	f.seed(t, "c1")

	rr := httptest.NewRecorder()
	f.turns.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/turns", strings.NewReader(`{"conversation_id":"c1","prompt":"more"}`)))
	if rr.Code != http.StatusOK || rr.Header().Get("X-Conversation-ID") != "c1" {
		t.Fatalf("status=%d conv=%q", rr.Code, rr.Header().Get("X-Conversation-ID"))
	}
	conv, _ := f.convs.Get(context.Background(), "c1")
	if len(conv.Messages) != 4 || conv.Title != "tea" {
		t.Fatalf("conversation=%+v", conv)
	}
	if _, ok := f.turns.Inflight.Acquire("c1"); !ok {
		t.Fatal("conversation still marked busy after the turn")
	}
}

func TestConversationHandlers(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	f.seed(t, "c1")

	rr := httptest.NewRecorder()
	ListConversationsHandler{Store: f.convs}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversations?limit=10", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("list status=%d", rr.Code)
	}
	var list struct {
		Conversations []ConversationSummary `json:"conversations"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Conversations) != 1 || list.Conversations[0].ID != "c1" || list.Conversations[0].Title != "tea" {
		t.Fatalf("list=%+v", list)
	}

	rr = httptest.NewRecorder()
	ListConversationsHandler{Store: f.convs}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/conversations?limit=-1", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status=%d", rr.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/conversations/c1", nil)
	req.SetPathValue("id", "c1")
	rr = httptest.NewRecorder()
	GetConversationHandler{Store: f.convs}.ServeHTTP(rr, req)
	var conv types.Conversation
	if err := json.Unmarshal(rr.Body.Bytes(), &conv); err != nil {
		t.Fatal(err)
	}
	if rr.Code != http.StatusOK || len(conv.Messages) != 2 {
		t.Fatalf("get status=%d conv=%+v", rr.Code, conv)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/conversations/missing", nil)
	req.SetPathValue("id", "missing")
	rr = httptest.NewRecorder()
	GetConversationHandler{Store: f.convs}.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("missing status=%d", rr.Code)
	}
}

func TestPreferencesHandler(t *testing.T) {
	f := newFixture(t, &fakeModel{})
	h := PreferencesHandler{Store: f.prefs, MaxBodyBytes: 1024}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/preferences", nil))
	var prefs types.Preferences
	if err := json.Unmarshal(rr.Body.Bytes(), &prefs); err != nil {
		t.Fatal(err)
	}
	if prefs.SelectedLanguage != types.DefaultLanguageCode || prefs.VoiceOutputEnabled {
		t.Fatalf("defaults=%+v", prefs)
	}

	put := func(key, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPut, "/v1/preferences/"+key, strings.NewReader(body))
		req.SetPathValue("key", key)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr = put(types.PrefVoiceOutputEnabled, `{"value":"true"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status=%d body=%q", rr.Code, rr.Body.String())
	}
	prefs = types.Preferences{}
	_ = json.Unmarshal(rr.Body.Bytes(), &prefs)
	if !prefs.VoiceOutputEnabled {
		t.Fatalf("after put=%+v", prefs)
	}

	if rr := put(types.PrefTutorModeEnabled, `{"value":"maybe"}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("bad bool status=%d", rr.Code)
	}
	if rr := put("theme", `{"value":"dark"}`); rr.Code != http.StatusNotFound {
		t.Fatalf("unknown key status=%d", rr.Code)
	}
	if rr := put(types.PrefSelectedLanguage, `{}`); rr.Code != http.StatusBadRequest {
		t.Fatalf("missing value status=%d", rr.Code)
	}
}

func TestMemoryHandler(t *testing.T) {
	f := newFixture(t, &fakeModel{memory: "  Likes green tea.  "})
	f.seed(t, "c1")
	h := MemoryHandler{Turns: f.orch, Inflight: NewInflight()}

	req := httptest.NewRequest(http.MethodPost, "/v1/conversations/c1/memory", nil)
	req.SetPathValue("id", "c1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	var got map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &got)
	if got[types.PrefLongTermMemory] != "Likes green tea." {
		t.Fatalf("body=%v", got)
	}
	prefs, _ := f.prefs.Load(context.Background())
	if prefs.LongTermMemory != "Likes green tea." {
		t.Fatalf("stored memory=%q", prefs.LongTermMemory)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestReadyHandler(t *testing.T) {
	lc := &lifecycle.Lifecycle{}
	h := ReadyHandler{Config: config.Default(), Store: pinger{}, Lifecycle: lc}

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%q", rr.Code, rr.Body.String())
	}

	h.Store = pinger{err: io.ErrUnexpectedEOF}
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "store unreachable") {
		t.Fatalf("store down status=%d body=%q", rr.Code, rr.Body.String())
	}

	h.Store = pinger{}
	lc.BeginDrain()
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable || !strings.Contains(rr.Body.String(), "draining") {
		t.Fatalf("draining status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestNotFoundHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	NotFoundHandler{}.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rr.Code != http.StatusNotFound || errorType(t, rr.Body.Bytes()) != "not_found_error" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}
