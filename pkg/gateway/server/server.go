package server

import (
	"log/slog"
	"net/http"

	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	"github.com/vango-go/vai-jarvis/pkg/gateway/handlers"
	"github.com/vango-go/vai-jarvis/pkg/gateway/lifecycle"
	"github.com/vango-go/vai-jarvis/pkg/gateway/mw"
	"github.com/vango-go/vai-jarvis/pkg/gateway/ratelimit"
	"github.com/vango-go/vai-jarvis/pkg/metrics"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

// Deps are the long-lived collaborators behind the HTTP surface.
type Deps struct {
	Turns   handlers.Turns
	Stores  *store.Stores
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Server struct {
	cfg       config.Config
	deps      Deps
	logger    *slog.Logger
	mux       *http.ServeMux
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	inflight  *handlers.Inflight
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		mux:    http.NewServeMux(),
		limiter: ratelimit.New(ratelimit.Config{
			RPS:                cfg.LimitRPS,
			Burst:              cfg.LimitBurst,
			MaxConcurrentTurns: cfg.LimitMaxConcurrentTurns,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		inflight:  handlers.NewInflight(),
	}

	s.routes()
	return s
}

func (s *Server) handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, mw.Instrument(s.deps.Metrics, pattern, h))
}

func (s *Server) routes() {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Config: s.cfg, Store: s.deps.Stores, Lifecycle: s.lifecycle})
	if s.cfg.MetricsEnabled && s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	var (
		convs = s.deps.Stores.Conversations
		prefs = s.deps.Stores.Preferences
	)

	s.handle("POST /v1/turns", handlers.TurnsHandler{
		Config:      s.cfg,
		Turns:       s.deps.Turns,
		Preferences: prefs,
		Limiter:     s.limiter,
		Lifecycle:   s.lifecycle,
		Inflight:    s.inflight,
		Logger:      s.logger,
	})
	s.handle("GET /v1/conversations", handlers.ListConversationsHandler{Store: convs})
	s.handle("GET /v1/conversations/{id}", handlers.GetConversationHandler{Store: convs})
	s.handle("POST /v1/conversations/{id}/memory", handlers.MemoryHandler{Turns: s.deps.Turns, Inflight: s.inflight})

	prefsHandler := handlers.PreferencesHandler{Store: prefs, MaxBodyBytes: s.cfg.MaxBodyBytes}
	s.handle("GET /v1/preferences", prefsHandler)
	s.handle("PUT /v1/preferences/{key}", prefsHandler)

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

// SetDraining fails readiness and new turns while the process shuts down.
func (s *Server) SetDraining() {
	s.lifecycle.BeginDrain()
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, h)
	h = mw.Auth(s.cfg, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
