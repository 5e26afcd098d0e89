package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/live"
	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	gatewayserver "github.com/vango-go/vai-jarvis/pkg/gateway/server"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(config.Config{LogLevel: "debug", LogFormat: "json"}, &buf)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("hello", "k", "v")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %q", buf.String())
	}
	if rec["msg"] != "hello" || rec["k"] != "v" {
		t.Fatalf("record=%v", rec)
	}

	if _, err := newLogger(config.Config{LogLevel: "loud"}, io.Discard); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestBuildHTTPServer_UsesConfiguredAddress(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Addr: "127.0.0.1:9999", ReadHeaderTimeout: 2 * time.Second}
	srv := buildHTTPServer(cfg, http.NotFoundHandler())
	if srv.Addr != cfg.Addr || srv.ReadHeaderTimeout != cfg.ReadHeaderTimeout {
		t.Fatalf("server=%+v", srv)
	}
}

type scriptedTurns struct {
	updates  [][]string
	sources  []types.Citation
	convIDs  []string
	memories int
}

func (s *scriptedTurns) Run(_ context.Context, req turn.Request) (*turn.Result, error) {
	s.convIDs = append(s.convIDs, req.ConversationID)
	texts := s.updates[0]
	s.updates = s.updates[1:]
	var msg types.Message
	for _, text := range texts {
		msg = types.Message{Sender: types.SenderBot, Text: text}
		req.OnUpdate(msg)
	}
	msg.Sources = s.sources
	return &turn.Result{Conversation: &types.Conversation{ID: "c1"}, Message: msg}, nil
}

func (s *scriptedTurns) RefreshMemory(context.Context, string) (string, error) {
	s.memories++
	return "Likes tea.", nil
}

func TestChatSession(t *testing.T) {
	turns := &scriptedTurns{
		updates: [][]string{
			{"", "Hel", "Hello"},
			{"", "Thinking", "I encountered a problem connecting to my servers."},
			{"", "Fresh"},
		},
		sources: []types.Citation{types.WebSource("https://example.com", "Example")},
	}
	var out bytes.Buffer
	s := &chatSession{turns: turns, prefs: store.NewMemoryPreferences(), out: &out, name: "Jarvis"}

	in := strings.NewReader("hi\nagain\n/memory\n/new\nfresh start\n/exit\nignored\n")
	if err := s.loop(context.Background(), in); err != nil {
		t.Fatalf("loop: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Jarvis: Hello\n",
		"  [1] Example (https://example.com)\n",
		"Jarvis: Thinking\nI encountered a problem connecting to my servers.\n",
		"(memory)\nLikes tea.\n",
		"(new conversation)\n",
		"Jarvis: Fresh\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
	if strings.Join(turns.convIDs, ",") != ",c1," {
		t.Fatalf("conversation ids=%q", turns.convIDs)
	}
	if turns.memories != 1 {
		t.Fatalf("memory refreshes=%d", turns.memories)
	}
}

func TestTranscriptPrinter(t *testing.T) {
	var out bytes.Buffer
	p := &transcriptPrinter{w: &out, name: "Jarvis"}

	p.Observe(live.State{Phase: live.PhaseConnecting})
	p.Observe(live.State{Phase: live.PhaseActive, PendingInputTranscript: "what time"})
	p.Observe(live.State{Phase: live.PhaseActive, PendingInputTranscript: "what time is it", PendingOutputTranscript: "It is"})
	p.Observe(live.State{Phase: live.PhaseActive, PendingOutputTranscript: "It is noon."})
	p.Observe(live.State{Phase: live.PhaseActive, MicrophoneMuted: true})
	p.Observe(live.State{Phase: live.PhaseError, MicrophoneMuted: true, Err: core.NewError(core.ErrTransport, "socket closed")})

	want := "\n(CONNECTING)\n" +
		"\n(ACTIVE)\n" +
		"\nYou: what time is it\n" +
		"\nJarvis: It is noon.\n" +
		"\n(muted)\n" +
		"\n(ERROR: transport_failure: socket closed)\n"
	if got := out.String(); got != want {
		t.Fatalf("output:\n%q\nwant:\n%q", got, want)
	}
}

type fakeControl struct {
	toggles int
	ended   bool
}

func (f *fakeControl) ToggleMute() bool { f.toggles++; return f.toggles%2 == 1 }
func (f *fakeControl) End() error       { f.ended = true; return nil }

func TestReadLiveControls(t *testing.T) {
	c := &fakeControl{}
	stopped := false
	readLiveControls(strings.NewReader("m\nx\nM\nq\nm\n"), c, func() { stopped = true })
	if c.toggles != 2 || !c.ended || !stopped {
		t.Fatalf("toggles=%d ended=%v stopped=%v", c.toggles, c.ended, stopped)
	}
}

type noTurns struct{}

func (noTurns) Run(context.Context, turn.Request) (*turn.Result, error) {
	return nil, context.Canceled
}

func (noTurns) RefreshMemory(context.Context, string) (string, error) { return "", nil }

func TestRunServer_ServesUntilCancelled(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = store.DriverMemory
	cfg.ShutdownGracePeriod = 2 * time.Second
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores, err := store.Open(context.Background(), store.DriverMemory, "", logger)
	if err != nil {
		t.Fatal(err)
	}
	gw := gatewayserver.New(cfg, gatewayserver.Deps{Turns: noTurns{}, Stores: stores, Logger: logger})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- runServer(ctx, cfg, gw, ln, logger) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("runServer: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCmd(&stdout, &stderr)
	root.SetArgs(append([]string{"--env-file="}, args...))
	if err := root.Execute(); err != nil {
		t.Fatalf("jarvis %v: %v\nstderr: %s", args, err, stderr.String())
	}
	return stdout.String()
}

func TestPrefsAndConversationsCommands(t *testing.T) {
	t.Setenv("JARVIS_CONFIG", "")
	t.Setenv("JARVIS_STORE_DRIVER", store.DriverSQLite)
	t.Setenv("JARVIS_STORE_DSN", filepath.Join(t.TempDir(), "jarvis.db"))
	t.Setenv("JARVIS_LOG_LEVEL", "error")

	runRoot(t, "prefs", "set", types.PrefSelectedLanguage, "hi-IN")
	if got := runRoot(t, "prefs", "get", types.PrefSelectedLanguage); got != "hi-IN\n" {
		t.Fatalf("prefs get=%q", got)
	}
	if got := runRoot(t, "prefs", "get"); !strings.Contains(got, "selected_language=hi-IN\n") {
		t.Fatalf("prefs get all=%q", got)
	}
	if got := runRoot(t, "conversations", "list"); !strings.HasPrefix(got, "ID") {
		t.Fatalf("conversations list=%q", got)
	}
}
