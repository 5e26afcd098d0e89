package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-jarvis/pkg/core/live"
	"github.com/vango-go/vai-jarvis/pkg/core/providers/gemini"
	"github.com/vango-go/vai-jarvis/pkg/core/retry"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

// Config is the full runtime configuration of the assistant. Defaults are
// overlaid by an optional YAML file, which is in turn overlaid by the
// environment.
type Config struct {
	Addr string `yaml:"addr"`

	AuthMode AuthMode `yaml:"auth_mode"`
	APIKeys  []string `yaml:"api_keys"`

	CORSAllowedOrigins []string `yaml:"cors_origins"` // empty => disabled

	// MaxBodyBytes bounds request bodies, which may carry an inline image.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	TurnTimeout     time.Duration `yaml:"turn_timeout"`
	SSEPingInterval time.Duration `yaml:"sse_ping_interval"`

	// In-memory limits (per principal).
	LimitRPS                float64 `yaml:"rate_limit_rps"`
	LimitBurst              int     `yaml:"rate_limit_burst"`
	LimitMaxConcurrentTurns int     `yaml:"max_concurrent_turns"`

	ReadHeaderTimeout   time.Duration `yaml:"read_header_timeout"`
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period"`

	Gemini GeminiConfig `yaml:"gemini"`
	Live   live.Config  `yaml:"live"`
	Store  StoreConfig  `yaml:"store"`

	PersonaName    string `yaml:"persona_name"`
	PersonaCreator string `yaml:"persona_creator"`

	RetryAttempts  int           `yaml:"retry_attempts"`
	RetryBaseDelay time.Duration `yaml:"retry_base_delay"`

	Devices DevicesConfig `yaml:"devices"`

	LogLevel       string `yaml:"log_level"`
	LogFormat      string `yaml:"log_format"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

type GeminiConfig struct {
	APIKey  string        `yaml:"-"`
	BaseURL string        `yaml:"base_url"`
	LiveURL string        `yaml:"live_url"`
	Models  gemini.Models `yaml:"models"`
}

type StoreConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type DevicesConfig struct {
	FFmpeg    string `yaml:"ffmpeg"`
	FFplay    string `yaml:"ffplay"`
	ESpeak    string `yaml:"espeak"`
	MicFormat string `yaml:"mic_format"`
	MicDevice string `yaml:"mic_device"`

	// LocateURL answers IP geolocation lookups. Location, when set as
	// "lat,lon", pins the position instead.
	LocateURL string `yaml:"locate_url"`
	Location  string `yaml:"location"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Addr:                    ":8080",
		AuthMode:                AuthModeDisabled,
		MaxBodyBytes:            8 << 20, // 8 MiB
		TurnTimeout:             2 * time.Minute,
		SSEPingInterval:         15 * time.Second,
		LimitRPS:                2,
		LimitBurst:              4,
		LimitMaxConcurrentTurns: 2,
		ReadHeaderTimeout:       10 * time.Second,
		ShutdownGracePeriod:     30 * time.Second,
		Gemini: GeminiConfig{
			LiveURL: gemini.DefaultLiveURL,
			Models:  gemini.DefaultModels(),
		},
		Live: live.DefaultConfig(),
		Store: StoreConfig{
			Driver: store.DriverSQLite,
			DSN:    defaultDBPath(),
		},
		PersonaName:    "Jarvis",
		PersonaCreator: "Mr. Kalpesh",
		RetryAttempts:  retry.DefaultMaxAttempts,
		RetryBaseDelay: retry.DefaultBaseDelay,
		Devices: DevicesConfig{
			FFmpeg: "ffmpeg",
			FFplay: "ffplay",
			ESpeak: "espeak-ng",
		},
		LogLevel:       "info",
		LogFormat:      "text",
		MetricsEnabled: true,
	}
}

func defaultDBPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return dir + "/jarvis/jarvis.db"
	}
	return "jarvis.db"
}

// LoadFromEnv reads the environment on top of the defaults.
func LoadFromEnv() (Config, error) {
	return Load("")
}

// Load reads the YAML file at path (skipped when empty) and then the
// environment, and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Addr = envOr("JARVIS_ADDR", cfg.Addr)
	cfg.AuthMode = AuthMode(envOr("JARVIS_AUTH_MODE", string(cfg.AuthMode)))
	if keys := splitCSV(os.Getenv("JARVIS_API_KEYS")); keys != nil {
		cfg.APIKeys = keys
	}
	if origins := splitCSV(os.Getenv("JARVIS_CORS_ORIGINS")); origins != nil {
		cfg.CORSAllowedOrigins = origins
	}
	cfg.MaxBodyBytes = envInt64Or("JARVIS_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.TurnTimeout = envDurationOr("JARVIS_TURN_TIMEOUT", cfg.TurnTimeout)
	cfg.SSEPingInterval = envDurationOr("JARVIS_SSE_PING_INTERVAL", cfg.SSEPingInterval)
	cfg.LimitRPS = envFloat64Or("JARVIS_RATE_LIMIT_RPS", cfg.LimitRPS)
	cfg.LimitBurst = envIntOr("JARVIS_RATE_LIMIT_BURST", cfg.LimitBurst)
	cfg.LimitMaxConcurrentTurns = envIntOr("JARVIS_MAX_CONCURRENT_TURNS", cfg.LimitMaxConcurrentTurns)
	cfg.ReadHeaderTimeout = envDurationOr("JARVIS_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ShutdownGracePeriod = envDurationOr("JARVIS_SHUTDOWN_GRACE_PERIOD", cfg.ShutdownGracePeriod)

	cfg.Gemini.APIKey = envOr("GEMINI_API_KEY", cfg.Gemini.APIKey)
	cfg.Gemini.BaseURL = envOr("GEMINI_BASE_URL", cfg.Gemini.BaseURL)
	cfg.Gemini.LiveURL = envOr("JARVIS_LIVE_URL", cfg.Gemini.LiveURL)
	m := &cfg.Gemini.Models
	m.Chat = envOr("JARVIS_CHAT_MODEL", m.Chat)
	m.Maps = envOr("JARVIS_MAPS_MODEL", m.Maps)
	m.Classifier = envOr("JARVIS_CLASSIFIER_MODEL", m.Classifier)
	m.Image = envOr("JARVIS_IMAGE_MODEL", m.Image)
	m.Memory = envOr("JARVIS_MEMORY_MODEL", m.Memory)
	cfg.Live.Model = envOr("JARVIS_LIVE_MODEL", cfg.Live.Model)
	cfg.Live.Voice = envOr("JARVIS_LIVE_VOICE", cfg.Live.Voice)
	cfg.Live.TutorMode = envBoolOr("JARVIS_TUTOR_MODE", cfg.Live.TutorMode)

	cfg.Store.Driver = envOr("JARVIS_STORE_DRIVER", cfg.Store.Driver)
	cfg.Store.DSN = envOr("JARVIS_STORE_DSN", cfg.Store.DSN)

	cfg.PersonaName = envOr("JARVIS_PERSONA_NAME", cfg.PersonaName)
	cfg.PersonaCreator = envOr("JARVIS_PERSONA_CREATOR", cfg.PersonaCreator)
	cfg.RetryAttempts = envIntOr("JARVIS_RETRY_ATTEMPTS", cfg.RetryAttempts)
	cfg.RetryBaseDelay = envDurationOr("JARVIS_RETRY_BASE_DELAY", cfg.RetryBaseDelay)

	d := &cfg.Devices
	d.FFmpeg = envOr("JARVIS_FFMPEG", d.FFmpeg)
	d.FFplay = envOr("JARVIS_FFPLAY", d.FFplay)
	d.ESpeak = envOr("JARVIS_ESPEAK", d.ESpeak)
	d.MicFormat = envOr("JARVIS_MIC_FORMAT", d.MicFormat)
	d.MicDevice = envOr("JARVIS_MIC_DEVICE", d.MicDevice)
	d.LocateURL = envOr("JARVIS_LOCATE_URL", d.LocateURL)
	d.Location = envOr("JARVIS_LOCATION", d.Location)

	cfg.LogLevel = envOr("JARVIS_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("JARVIS_LOG_FORMAT", cfg.LogFormat)
	cfg.MetricsEnabled = envBoolOr("JARVIS_METRICS", cfg.MetricsEnabled)

	// The persona also names the voice in live sessions.
	cfg.Live.AssistantName = cfg.PersonaName
	cfg.Live.Creator = cfg.PersonaCreator
}

// Validate reports the first invalid setting, named by its variable.
func (c Config) Validate() error {
	switch c.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return fmt.Errorf("JARVIS_AUTH_MODE must be one of required|optional|disabled")
	}
	if c.AuthMode == AuthModeRequired && len(c.APIKeys) == 0 {
		return fmt.Errorf("JARVIS_API_KEYS must be set when JARVIS_AUTH_MODE=required")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("JARVIS_MAX_BODY_BYTES must be > 0")
	}
	if c.TurnTimeout <= 0 {
		return fmt.Errorf("JARVIS_TURN_TIMEOUT must be > 0")
	}
	if c.SSEPingInterval <= 0 {
		return fmt.Errorf("JARVIS_SSE_PING_INTERVAL must be > 0")
	}
	if c.LimitRPS < 0 {
		return fmt.Errorf("JARVIS_RATE_LIMIT_RPS must be >= 0")
	}
	if c.LimitBurst < 0 {
		return fmt.Errorf("JARVIS_RATE_LIMIT_BURST must be >= 0")
	}
	if c.LimitMaxConcurrentTurns < 0 {
		return fmt.Errorf("JARVIS_MAX_CONCURRENT_TURNS must be >= 0")
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("JARVIS_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("JARVIS_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	switch c.Store.Driver {
	case store.DriverSQLite, store.DriverPostgres, store.DriverMemory:
	default:
		return fmt.Errorf("JARVIS_STORE_DRIVER must be one of sqlite|postgres|memory")
	}
	if c.Store.Driver != store.DriverMemory && strings.TrimSpace(c.Store.DSN) == "" {
		return fmt.Errorf("JARVIS_STORE_DSN must not be empty")
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("JARVIS_RETRY_ATTEMPTS must be >= 1")
	}
	if c.RetryBaseDelay <= 0 {
		return fmt.Errorf("JARVIS_RETRY_BASE_DELAY must be > 0")
	}
	if strings.TrimSpace(c.PersonaName) == "" {
		return fmt.Errorf("JARVIS_PERSONA_NAME must not be empty")
	}
	if c.Devices.Location != "" {
		if _, _, err := ParseLocation(c.Devices.Location); err != nil {
			return fmt.Errorf("JARVIS_LOCATION: %w", err)
		}
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("JARVIS_LOG_FORMAT must be text or json")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("JARVIS_LOG_LEVEL must be one of debug|info|warn|error")
	}
	return nil
}

// RequireGemini reports a missing API key. Commands that talk to the model
// call it; listing stored data does not need a key.
func (c Config) RequireGemini() error {
	if strings.TrimSpace(c.Gemini.APIKey) == "" {
		return fmt.Errorf("GEMINI_API_KEY must be set")
	}
	return nil
}

// RetryPolicy builds the retry policy for remote calls.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: c.RetryAttempts, BaseDelay: c.RetryBaseDelay}
}

// ParseLocation reads "lat,lon".
func ParseLocation(s string) (lat, lon float64, err error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want \"lat,lon\", got %q", s)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || lat < -90 || lat > 90 {
		return 0, 0, fmt.Errorf("invalid latitude %q", parts[0])
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || lon < -180 || lon > 180 {
		return 0, 0, fmt.Errorf("invalid longitude %q", parts[1])
	}
	return lat, lon, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
