package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"JARVIS_ADDR",
	"JARVIS_AUTH_MODE",
	"JARVIS_API_KEYS",
	"JARVIS_CORS_ORIGINS",
	"JARVIS_MAX_BODY_BYTES",
	"JARVIS_TURN_TIMEOUT",
	"JARVIS_SSE_PING_INTERVAL",
	"JARVIS_RATE_LIMIT_RPS",
	"JARVIS_RATE_LIMIT_BURST",
	"JARVIS_MAX_CONCURRENT_TURNS",
	"JARVIS_READ_HEADER_TIMEOUT",
	"JARVIS_SHUTDOWN_GRACE_PERIOD",
	"GEMINI_API_KEY",
	"GEMINI_BASE_URL",
	"JARVIS_LIVE_URL",
	"JARVIS_CHAT_MODEL",
	"JARVIS_MAPS_MODEL",
	"JARVIS_CLASSIFIER_MODEL",
	"JARVIS_IMAGE_MODEL",
	"JARVIS_MEMORY_MODEL",
	"JARVIS_LIVE_MODEL",
	"JARVIS_LIVE_VOICE",
	"JARVIS_TUTOR_MODE",
	"JARVIS_STORE_DRIVER",
	"JARVIS_STORE_DSN",
	"JARVIS_PERSONA_NAME",
	"JARVIS_PERSONA_CREATOR",
	"JARVIS_RETRY_ATTEMPTS",
	"JARVIS_RETRY_BASE_DELAY",
	"JARVIS_FFMPEG",
	"JARVIS_FFPLAY",
	"JARVIS_ESPEAK",
	"JARVIS_MIC_FORMAT",
	"JARVIS_MIC_DEVICE",
	"JARVIS_LOCATE_URL",
	"JARVIS_LOCATION",
	"JARVIS_LOG_LEVEL",
	"JARVIS_LOG_FORMAT",
	"JARVIS_METRICS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "jarvis.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.AuthMode != AuthModeDisabled {
		t.Fatalf("AuthMode = %q, want disabled", cfg.AuthMode)
	}
	if cfg.MaxBodyBytes != 8<<20 {
		t.Fatalf("MaxBodyBytes = %d", cfg.MaxBodyBytes)
	}
	if cfg.TurnTimeout != 2*time.Minute {
		t.Fatalf("TurnTimeout = %v, want 2m", cfg.TurnTimeout)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN == "" {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.RetryAttempts != 3 || cfg.RetryBaseDelay != time.Second {
		t.Fatalf("retry = %d/%v, want 3/1s", cfg.RetryAttempts, cfg.RetryBaseDelay)
	}
	if cfg.Gemini.Models.Maps != "gemini-2.5-flash" {
		t.Fatalf("Maps model = %q", cfg.Gemini.Models.Maps)
	}
	if cfg.Live.AssistantName != "Jarvis" || cfg.Live.Voice != "Zephyr" {
		t.Fatalf("Live = %+v", cfg.Live)
	}
	if err := cfg.RequireGemini(); err == nil {
		t.Fatal("RequireGemini should fail without GEMINI_API_KEY")
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JARVIS_ADDR", ":9090")
	t.Setenv("JARVIS_AUTH_MODE", "required")
	t.Setenv("JARVIS_API_KEYS", "k1, k2")
	t.Setenv("JARVIS_CORS_ORIGINS", "http://localhost:3000")
	t.Setenv("JARVIS_TURN_TIMEOUT", "45s")
	t.Setenv("GEMINI_API_KEY", "secret")
	t.Setenv("JARVIS_CHAT_MODEL", "gemini-x")
	t.Setenv("JARVIS_STORE_DRIVER", "memory")
	t.Setenv("JARVIS_STORE_DSN", "")
	t.Setenv("JARVIS_PERSONA_NAME", "Friday")
	t.Setenv("JARVIS_TUTOR_MODE", "yes")
	t.Setenv("JARVIS_LOCATION", "19.07, 72.87")
	t.Setenv("JARVIS_LOG_FORMAT", "json")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Addr != ":9090" || cfg.AuthMode != AuthModeRequired {
		t.Fatalf("Addr/AuthMode = %q/%q", cfg.Addr, cfg.AuthMode)
	}
	if diff := cmp.Diff([]string{"k1", "k2"}, cfg.APIKeys); diff != "" {
		t.Fatalf("APIKeys (-want +got):\n%s", diff)
	}
	if cfg.TurnTimeout != 45*time.Second {
		t.Fatalf("TurnTimeout = %v", cfg.TurnTimeout)
	}
	if err := cfg.RequireGemini(); err != nil {
		t.Fatalf("RequireGemini: %v", err)
	}
	if cfg.Gemini.Models.Chat != "gemini-x" || cfg.Gemini.Models.Image != "gemini-2.5-flash-image" {
		t.Fatalf("Models = %+v", cfg.Gemini.Models)
	}
	if cfg.Live.AssistantName != "Friday" || !cfg.Live.TutorMode {
		t.Fatalf("Live = %+v", cfg.Live)
	}
	if cfg.Store.Driver != "memory" {
		t.Fatalf("Store.Driver = %q", cfg.Store.Driver)
	}
}

func TestLoad_YAMLOverlayThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, `
addr: ":7000"
turn_timeout: 90s
persona_name: Karen
gemini:
  models:
    chat: gemini-from-file
store:
  driver: postgres
  dsn: postgres://localhost/jarvis
live:
  voice: Puck
devices:
  location: "28.61,77.20"
`)
	t.Setenv("JARVIS_ADDR", ":7001")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr != ":7001" {
		t.Fatalf("env must win over the file: Addr = %q", cfg.Addr)
	}
	if cfg.TurnTimeout != 90*time.Second {
		t.Fatalf("TurnTimeout = %v, want 90s", cfg.TurnTimeout)
	}
	if cfg.Gemini.Models.Chat != "gemini-from-file" || cfg.Gemini.Models.Maps != "gemini-2.5-flash" {
		t.Fatalf("Models = %+v", cfg.Gemini.Models)
	}
	if cfg.Store.Driver != "postgres" || cfg.Store.DSN != "postgres://localhost/jarvis" {
		t.Fatalf("Store = %+v", cfg.Store)
	}
	if cfg.Live.Voice != "Puck" || cfg.Live.FrameSamples != 4096 || cfg.Live.AssistantName != "Karen" {
		t.Fatalf("Live = %+v", cfg.Live)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		file    string
		wantSub string
	}{
		{name: "auth mode", env: map[string]string{"JARVIS_AUTH_MODE": "sometimes"}, wantSub: "JARVIS_AUTH_MODE"},
		{name: "required without keys", env: map[string]string{"JARVIS_AUTH_MODE": "required"}, wantSub: "JARVIS_API_KEYS"},
		{name: "store driver", env: map[string]string{"JARVIS_STORE_DRIVER": "mysql"}, wantSub: "JARVIS_STORE_DRIVER"},
		{name: "retry attempts", env: map[string]string{"JARVIS_RETRY_ATTEMPTS": "0"}, wantSub: "JARVIS_RETRY_ATTEMPTS"},
		{name: "location", env: map[string]string{"JARVIS_LOCATION": "north"}, wantSub: "JARVIS_LOCATION"},
		{name: "log format", env: map[string]string{"JARVIS_LOG_FORMAT": "xml"}, wantSub: "JARVIS_LOG_FORMAT"},
		{name: "bad yaml", file: "addr: [", wantSub: "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			if tt.file != "" {
				path = writeFile(t, tt.file)
			}
			_, err := Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantSub) {
				t.Fatalf("err = %v, want mention of %s", err, tt.wantSub)
			}
		})
	}
}

func TestParseLocation(t *testing.T) {
	lat, lon, err := ParseLocation(" 19.07 , 72.87 ")
	if err != nil || lat != 19.07 || lon != 72.87 {
		t.Fatalf("ParseLocation = %v, %v, %v", lat, lon, err)
	}
	for _, bad := range []string{"", "1", "91,0", "0,181", "a,b"} {
		if _, _, err := ParseLocation(bad); err == nil {
			t.Errorf("ParseLocation(%q) should fail", bad)
		}
	}
}
