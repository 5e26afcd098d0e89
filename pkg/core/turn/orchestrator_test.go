package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/device"
	"github.com/vango-go/vai-jarvis/pkg/core/retry"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
)

type scriptedStream struct {
	frags  []types.Fragment
	err    error // returned after frags instead of io.EOF
	closed bool
}

func (s *scriptedStream) Next() (types.Fragment, error) {
	if len(s.frags) == 0 {
		if s.err != nil {
			return types.Fragment{}, s.err
		}
		return types.Fragment{}, io.EOF
	}
	f := s.frags[0]
	s.frags = s.frags[1:]
	return f, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}

type fakeModel struct {
	mu sync.Mutex

	analysis    types.Analysis
	classifyErr error

	streamErrs []error // consumed one per Stream call before succeeding
	stream     *scriptedStream
	streamReqs []StreamRequest

	image      *types.Image
	imageCalls int

	memory     string
	memoryArgs [2]string
}

func (m *fakeModel) Classify(context.Context, string) (types.Analysis, error) {
	return m.analysis, m.classifyErr
}

func (m *fakeModel) Stream(_ context.Context, req StreamRequest) (types.FragmentStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamReqs = append(m.streamReqs, req)
	if len(m.streamErrs) > 0 {
		err := m.streamErrs[0]
		m.streamErrs = m.streamErrs[1:]
		return nil, err
	}
	if m.stream == nil {
		m.stream = &scriptedStream{}
	}
	return m.stream, nil
}

func (m *fakeModel) GenerateImage(context.Context, string) (*types.Image, error) {
	m.imageCalls++
	return m.image, nil
}

func (m *fakeModel) UpdateMemory(_ context.Context, existing, transcript string) (string, error) {
	m.memoryArgs = [2]string{existing, transcript}
	return m.memory, nil
}

type memConversations struct {
	convs map[string]*types.Conversation
	saves int
}

func newMemConversations() *memConversations {
	return &memConversations{convs: map[string]*types.Conversation{}}
}

func (s *memConversations) Get(_ context.Context, id string) (*types.Conversation, error) {
	c, ok := s.convs[id]
	if !ok {
		return nil, core.NewNotFoundError("conversation not found")
	}
	cp := c.Clone()
	return &cp, nil
}

func (s *memConversations) Save(_ context.Context, c *types.Conversation) error {
	s.saves++
	cp := c.Clone()
	s.convs[c.ID] = &cp
	return nil
}

type memPrefs struct{ kv map[string]string }

func (p *memPrefs) Load(context.Context) (types.Preferences, error) {
	return types.PreferencesFromMap(p.kv), nil
}

func (p *memPrefs) Save(_ context.Context, key, value string) error {
	p.kv[key] = value
	return nil
}

type fakeSpeaker struct {
	cancels int
	spoken  []string
	langs   []string
	err     error
}

func (s *fakeSpeaker) Speak(_ context.Context, text, code, _ string) error {
	s.spoken = append(s.spoken, text)
	s.langs = append(s.langs, code)
	return s.err
}

func (s *fakeSpeaker) Cancel() { s.cancels++ }

type fakeGeo struct {
	loc *types.Location
	err error
}

func (g fakeGeo) Locate(context.Context) (*types.Location, error) { return g.loc, g.err }

type fakeLinks struct{ opened []string }

func (l *fakeLinks) Open(uri string) error {
	l.opened = append(l.opened, uri)
	return nil
}

type delayed struct {
	d time.Duration
	f func()
}

type harness struct {
	model   *fakeModel
	convs   *memConversations
	prefs   *memPrefs
	speaker *fakeSpeaker
	links   *fakeLinks
	timers  []delayed
	orch    *Orchestrator
}

func newHarness(t *testing.T, geo Geolocator) *harness {
	t.Helper()
	h := &harness{
		model:   &fakeModel{analysis: types.DefaultAnalysis()},
		convs:   newMemConversations(),
		prefs:   &memPrefs{kv: map[string]string{}},
		speaker: &fakeSpeaker{},
		links:   &fakeLinks{},
	}
	h.orch = New(Deps{
		Model:         h.model,
		Conversations: h.convs,
		Preferences:   h.prefs,
		Speaker:       h.speaker,
		Geolocator:    geo,
		Links:         h.links,
		Devices:       device.Simulator{},
	},
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithRetryPolicy(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}),
		WithAfterFunc(func(d time.Duration, f func()) { h.timers = append(h.timers, delayed{d, f}) }),
	)
	return h
}

func TestRun_StreamsTextAndPersistsOnce(t *testing.T) {
	h := newHarness(t, nil)
	h.model.stream = &scriptedStream{frags: []types.Fragment{
		{Text: "Hel"},
		{Text: "lo", Citations: []types.Citation{types.WebSource("https://a", "A")}},
		{Citations: []types.Citation{types.WebSource("https://b", "B")}},
	}}

	var texts []string
	res, err := h.orch.Run(context.Background(), Request{
		Prompt:      "Say hello to everyone in the room please",
		Preferences: types.PreferencesFromMap(nil),
		OnUpdate:    func(m types.Message) { texts = append(texts, m.Text) },
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("Result.Err = %v", res.Err)
	}

	if diff := cmp.Diff([]string{"", "Hel", "Hello", "Hello"}, texts); diff != "" {
		t.Fatalf("updates (-want +got):\n%s", diff)
	}
	if got := len(res.Message.Sources); got != 2 {
		t.Fatalf("sources = %d, want 2", got)
	}
	if h.convs.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.convs.saves)
	}
	if !h.model.stream.closed {
		t.Fatal("stream was not closed")
	}

	stored := h.convs.convs[res.Conversation.ID]
	if stored.Title != "Say hello to everyone in the r..." {
		t.Fatalf("title = %q", stored.Title)
	}
	if len(stored.Messages) != 2 || stored.Messages[0].Sender != types.SenderUser || stored.Messages[1].Text != "Hello" {
		t.Fatalf("unexpected stored messages: %+v", stored.Messages)
	}
	if tools := h.model.streamReqs[0].Tools; !tools.WebSearch || tools.Maps || len(tools.Functions) != 0 {
		t.Fatalf("tools = %+v, want web search only", tools)
	}
	if h.speaker.cancels != 1 {
		t.Fatalf("speaker cancels = %d, want 1", h.speaker.cancels)
	}
	if len(h.speaker.spoken) != 0 {
		t.Fatal("voice output disabled but reply was spoken")
	}
}

func TestRun_DeviceControlOffersOnlyDeviceTools(t *testing.T) {
	h := newHarness(t, nil)
	h.model.analysis = types.Analysis{Intent: types.IntentDeviceControl, DetectedLanguageCode: "en-US"}
	h.model.stream = &scriptedStream{frags: []types.Fragment{
		{FunctionCalls: []types.FunctionCall{{Name: device.ToolToggleSystemFeature, Args: map[string]any{"feature": "wifi", "enabled": true}}}},
		{Text: "Done."},
	}}

	res, err := h.orch.Run(context.Background(), Request{Prompt: "turn on wifi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tools := h.model.streamReqs[0].Tools
	if tools.WebSearch || tools.Maps {
		t.Fatalf("device turn must not carry search or maps: %+v", tools)
	}
	if diff := cmp.Diff(device.Tools(), tools.Functions); diff != "" {
		t.Fatalf("functions (-want +got):\n%s", diff)
	}
	if len(res.Message.Actions) != 1 {
		t.Fatalf("actions = %+v, want one", res.Message.Actions)
	}
	if got := res.Message.Actions[0].Result; got != "Simulated turning wifi on." {
		t.Fatalf("action result = %q", got)
	}
}

func TestRun_RetriesTransientEstablishment(t *testing.T) {
	h := newHarness(t, nil)
	h.model.streamErrs = []error{
		core.NewRemoteError(503, "overloaded", nil),
		core.NewRemoteError(503, "overloaded", nil),
	}
	h.model.stream = &scriptedStream{frags: []types.Fragment{{Text: "fine"}}}

	res, err := h.orch.Run(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Message.Text != "fine" || res.Err != nil {
		t.Fatalf("message = %q err = %v", res.Message.Text, res.Err)
	}
	if got := len(h.model.streamReqs); got != 3 {
		t.Fatalf("stream attempts = %d, want 3", got)
	}
	if h.convs.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.convs.saves)
	}
}

func TestRun_FailureReplies(t *testing.T) {
	tests := []struct {
		name     string
		streamEs []error
		midErr   error
		want     string
	}{
		{
			name:     "rate limited",
			streamEs: []error{core.NewRemoteError(429, "quota", nil), core.NewRemoteError(429, "quota", nil), core.NewRemoteError(429, "quota", nil)},
			want:     rateLimitedReply,
		},
		{
			name:   "overloaded mid stream",
			midErr: errors.New("upstream said 503 Service Unavailable"),
			want:   overloadedReply,
		},
		{
			name:     "terminal",
			streamEs: []error{core.NewRemoteError(400, "bad", nil)},
			want:     genericReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.model.streamErrs = tt.streamEs
			h.model.stream = &scriptedStream{
				frags: []types.Fragment{{Text: "partial", Citations: []types.Citation{types.WebSource("https://a", "A")}}},
				err:   tt.midErr,
			}
			if tt.midErr == nil {
				h.model.stream = nil
			}

			res, err := h.orch.Run(context.Background(), Request{Prompt: "hi"})
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.Err == nil {
				t.Fatal("expected Result.Err")
			}
			if res.Message.Text != tt.want {
				t.Fatalf("text = %q, want %q", res.Message.Text, tt.want)
			}
			if tt.midErr != nil && len(res.Message.Sources) != 1 {
				t.Fatalf("citations received before the failure were dropped: %+v", res.Message.Sources)
			}
			if h.convs.saves != 1 {
				t.Fatalf("saves = %d, want 1", h.convs.saves)
			}
		})
	}
}

func TestRun_ClassificationFailureFallsBack(t *testing.T) {
	h := newHarness(t, nil)
	h.model.classifyErr = errors.New("bad json")
	h.model.stream = &scriptedStream{frags: []types.Fragment{{Text: "ok"}}}

	var got types.Analysis
	_, err := h.orch.Run(context.Background(), Request{Prompt: "hi", OnAnalysis: func(a types.Analysis) { got = a }})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(types.DefaultAnalysis(), got); diff != "" {
		t.Fatalf("analysis (-want +got):\n%s", diff)
	}
	if !h.model.streamReqs[0].Tools.WebSearch {
		t.Fatal("fallback turn should use web search")
	}
}

func TestRun_ImageGeneration(t *testing.T) {
	h := newHarness(t, nil)
	h.model.analysis = types.Analysis{Intent: types.IntentImageGeneration, DetectedLanguageCode: "en-US", ImagePrompt: "a red fox"}
	h.model.image = &types.Image{MIMEType: "image/png", Data: []byte{1, 2, 3}}

	res, err := h.orch.Run(context.Background(), Request{
		Prompt:      "draw a red fox",
		Preferences: types.Preferences{VoiceOutputEnabled: true, SelectedLanguage: "en-US"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Message.Text != ImageReply || res.Message.Image == nil {
		t.Fatalf("unexpected image reply: %+v", res.Message)
	}
	if len(h.model.streamReqs) != 0 {
		t.Fatal("image turn must not stream a reply")
	}
	if len(h.speaker.spoken) != 0 {
		t.Fatal("image turn must not speak")
	}
	if h.convs.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.convs.saves)
	}
}

func TestRun_LocationQuery(t *testing.T) {
	loc := &types.Location{Latitude: 19.07, Longitude: 72.87}
	tests := []struct {
		name    string
		geo     Geolocator
		wantLoc *types.Location
	}{
		{name: "located", geo: fakeGeo{loc: loc}, wantLoc: loc},
		{name: "geolocation fails", geo: fakeGeo{err: errors.New("denied")}, wantLoc: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.geo)
			h.model.analysis = types.Analysis{Intent: types.IntentLocationQuery, DetectedLanguageCode: "en-US", IsSetLocationCommand: true}
			h.model.stream = &scriptedStream{frags: []types.Fragment{{
				Text: "Certainly, opening the map for you now.",
				Citations: []types.Citation{
					types.WebSource("https://web", "W"),
					types.MapSource("https://maps/1", "Cafe", ""),
					types.MapSource("https://maps/2", "Bar", ""),
				},
			}}}

			if _, err := h.orch.Run(context.Background(), Request{Prompt: "show map of cafes"}); err != nil {
				t.Fatalf("Run: %v", err)
			}

			tools := h.model.streamReqs[0].Tools
			if !tools.Maps || !tools.WebSearch {
				t.Fatalf("tools = %+v, want maps and search", tools)
			}
			if diff := cmp.Diff(tt.wantLoc, tools.Location); diff != "" {
				t.Fatalf("location (-want +got):\n%s", diff)
			}

			if len(h.timers) != 1 || h.timers[0].d != time.Second {
				t.Fatalf("timers = %+v, want one after 1s", h.timers)
			}
			if len(h.links.opened) != 0 {
				t.Fatal("map opened before the delay")
			}
			h.timers[0].f()
			if diff := cmp.Diff([]string{"https://maps/1"}, h.links.opened); diff != "" {
				t.Fatalf("opened (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRun_SpeaksStrippedReply(t *testing.T) {
	h := newHarness(t, nil)
	h.model.stream = &scriptedStream{frags: []types.Fragment{{Text: "**Namaste** dost"}}}
	h.speaker.err = core.NewError(core.ErrVoiceUnavailable, "no voice")

	res, err := h.orch.Run(context.Background(), Request{
		Prompt:      "hello",
		Preferences: types.Preferences{VoiceOutputEnabled: true, SelectedLanguage: "hi-IN"},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Err != nil {
		t.Fatalf("unavailable voice must not fail the turn: %v", res.Err)
	}
	if diff := cmp.Diff([]string{"Namaste dost"}, h.speaker.spoken); diff != "" {
		t.Fatalf("spoken (-want +got):\n%s", diff)
	}
	if h.speaker.langs[0] != "hi-IN" {
		t.Fatalf("language = %q", h.speaker.langs[0])
	}
	if !strings.HasPrefix(h.model.streamReqs[0].SystemInstruction, "**OUTPUT LANGUAGE: hi-IN.**") {
		t.Fatalf("instruction missing language prefix: %q", h.model.streamReqs[0].SystemInstruction)
	}
}

func TestRun_ExistingConversationKeepsTitleAndFiltersHistory(t *testing.T) {
	h := newHarness(t, nil)
	h.convs.convs["c1"] = &types.Conversation{
		ID:    "c1",
		Title: "first prompt",
		Messages: []types.Message{
			{ID: "1", Sender: types.SenderUser, Text: "first prompt"},
			{ID: "2", Sender: types.SenderBot, Text: "first reply"},
			{ID: "3", Sender: types.SenderBot, Text: ImageReply, Image: &types.Image{MIMEType: "image/png"}},
			{ID: "4", Sender: types.SenderBot, Text: ""},
		},
	}
	h.model.stream = &scriptedStream{frags: []types.Fragment{{Text: "second reply"}}}
	img := &types.Image{MIMEType: "image/jpeg", Data: []byte{9}}

	res, err := h.orch.Run(context.Background(), Request{ConversationID: "c1", Prompt: "what is this?", Image: img})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	want := []types.Content{
		types.TextContent(types.RoleUser, "first prompt"),
		types.TextContent(types.RoleModel, "first reply"),
		{Role: types.RoleUser, Parts: []types.Part{{Image: img}, {Text: "what is this?"}}},
	}
	if diff := cmp.Diff(want, h.model.streamReqs[0].Contents); diff != "" {
		t.Fatalf("contents (-want +got):\n%s", diff)
	}
	if res.Conversation.Title != "first prompt" {
		t.Fatalf("title changed to %q", res.Conversation.Title)
	}
	if got := len(h.convs.convs["c1"].Messages); got != 6 {
		t.Fatalf("stored messages = %d, want 6", got)
	}
}

func TestRun_Validation(t *testing.T) {
	h := newHarness(t, nil)
	if _, err := h.orch.Run(context.Background(), Request{Prompt: "  "}); !core.IsType(err, core.ErrInvalidRequest) {
		t.Fatalf("empty prompt err = %v, want invalid request", err)
	}
	if _, err := h.orch.Run(context.Background(), Request{ConversationID: "missing", Prompt: "hi"}); !core.IsType(err, core.ErrNotFound) {
		t.Fatalf("unknown conversation err = %v, want not found", err)
	}
	if h.convs.saves != 0 {
		t.Fatal("rejected turns must not persist")
	}
}

func TestRun_CancelledKeepsPartialReply(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.model.stream = &scriptedStream{frags: []types.Fragment{{Text: "partial"}, {Text: " more"}}}

	res, err := h.orch.Run(ctx, Request{
		Prompt: "hi",
		OnUpdate: func(m types.Message) {
			if m.Text == "partial" {
				cancel()
			}
		},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("Result.Err = %v, want canceled", res.Err)
	}
	if res.Message.Text != "partial" {
		t.Fatalf("text = %q, want partial", res.Message.Text)
	}
	if h.convs.saves != 1 {
		t.Fatalf("saves = %d, want 1", h.convs.saves)
	}
}

func TestRefreshMemory(t *testing.T) {
	h := newHarness(t, nil)
	h.prefs.kv[types.PrefLongTermMemory] = "- likes tea"
	h.convs.convs["c1"] = &types.Conversation{ID: "c1", Messages: []types.Message{
		{Sender: types.SenderUser, Text: "I live in Pune"},
		{Sender: types.SenderBot, Text: "Noted!"},
	}}
	h.model.memory = "- likes tea\n- lives in Pune\n"

	mem, err := h.orch.RefreshMemory(context.Background(), "c1")
	if err != nil {
		t.Fatalf("RefreshMemory: %v", err)
	}
	if mem != "- likes tea\n- lives in Pune" {
		t.Fatalf("memory = %q", mem)
	}
	if h.prefs.kv[types.PrefLongTermMemory] != mem {
		t.Fatal("memory not saved")
	}
	want := [2]string{"- likes tea", "User: I live in Pune\nJarvis: Noted!"}
	if h.model.memoryArgs != want {
		t.Fatalf("UpdateMemory args = %q, want %q", h.model.memoryArgs, want)
	}
}

func TestSystemInstruction(t *testing.T) {
	p := DefaultPersona()

	en := SystemInstruction(p, types.Preferences{SelectedLanguage: "en-GB"})
	if !strings.HasPrefix(en, "You are Jarvis, a witty AI assistant created by Mr. Kalpesh.\n") {
		t.Fatalf("unexpected persona line: %q", en)
	}
	if strings.Contains(en, "OUTPUT LANGUAGE") || strings.Contains(en, "User Profile Memory") {
		t.Fatalf("english instruction without memory has extras: %q", en)
	}

	hi := SystemInstruction(p, types.Preferences{SelectedLanguage: "hi-IN", LongTermMemory: "likes cricket"})
	if !strings.HasPrefix(hi, "**OUTPUT LANGUAGE: hi-IN.** Do not use English.\n") {
		t.Fatalf("missing language prefix: %q", hi)
	}
	if !strings.HasSuffix(hi, "\n\nUser Profile Memory:\nlikes cricket") {
		t.Fatalf("missing memory block: %q", hi)
	}
}

func TestFailureReply(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{core.NewRemoteError(503, "x", nil), overloadedReply},
		{errors.New("got 503 from upstream"), overloadedReply},
		{core.NewRemoteError(429, "x", nil), rateLimitedReply},
		{errors.New("dial tcp: refused"), genericReply},
	}
	for _, tt := range tests {
		if got := FailureReply(tt.err); got != tt.want {
			t.Errorf("FailureReply(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
