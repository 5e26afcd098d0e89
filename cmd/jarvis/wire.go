package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vango-go/vai-jarvis/pkg/core/device"
	"github.com/vango-go/vai-jarvis/pkg/core/providers/gemini"
	"github.com/vango-go/vai-jarvis/pkg/core/turn"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/core/voice"
	"github.com/vango-go/vai-jarvis/pkg/devices"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	"github.com/vango-go/vai-jarvis/pkg/metrics"
	"github.com/vango-go/vai-jarvis/pkg/store"
)

// app is the wired assistant shared by serve and chat.
type app struct {
	cfg     config.Config
	logger  *slog.Logger
	stores  *store.Stores
	metrics *metrics.Metrics
	speaker *voice.Speaker
	turns   *turn.Orchestrator
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	if err := cfg.RequireGemini(); err != nil {
		return nil, err
	}
	stores, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var gopts []gemini.Option
	gopts = append(gopts, gemini.WithModels(cfg.Gemini.Models))
	if cfg.Gemini.BaseURL != "" {
		gopts = append(gopts, gemini.WithBaseURL(cfg.Gemini.BaseURL))
	}
	model, err := gemini.New(ctx, cfg.Gemini.APIKey, gopts...)
	if err != nil {
		stores.Close()
		return nil, err
	}

	geo, err := newGeolocator(cfg)
	if err != nil {
		stores.Close()
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, stores: stores}
	if cfg.MetricsEnabled {
		a.metrics = metrics.New("jarvis")
	}
	a.speaker = voice.NewSpeaker(&devices.ESpeak{Path: cfg.Devices.ESpeak}, logger)

	deps := turn.Deps{
		Model:         model,
		Conversations: stores.Conversations,
		Preferences:   stores.Preferences,
		Speaker:       a.speaker,
		Geolocator:    geo,
		Links:         devices.BrowserOpener{Logger: logger},
		Devices:       device.Simulator{},
	}
	// A nil *Metrics must not become a non-nil interface.
	if a.metrics != nil {
		deps.Recorder = a.metrics
	}
	a.turns = turn.New(deps,
		turn.WithLogger(logger),
		turn.WithPersona(turn.Persona{Name: cfg.PersonaName, Creator: cfg.PersonaCreator}),
		turn.WithRetryPolicy(cfg.RetryPolicy()),
		turn.WithLocateTimeout(cfg.Live.LocateTimeout),
	)
	return a, nil
}

func (a *app) Close() error {
	a.speaker.Cancel()
	return a.stores.Close()
}

// newGeolocator prefers a fixed JARVIS_LOCATION over IP lookup.
func newGeolocator(cfg config.Config) (turn.Geolocator, error) {
	if cfg.Devices.Location == "" {
		return &devices.IPGeolocator{URL: cfg.Devices.LocateURL}, nil
	}
	lat, lon, err := config.ParseLocation(cfg.Devices.Location)
	if err != nil {
		return nil, fmt.Errorf("JARVIS_LOCATION: %w", err)
	}
	return devices.StaticGeolocator{Location: &types.Location{Latitude: lat, Longitude: lon}}, nil
}

// openStores is enough for the commands that never reach the model.
func openStores(ctx context.Context, o *rootOptions) (*store.Stores, config.Config, error) {
	cfg, logger, err := o.load()
	if err != nil {
		return nil, cfg, err
	}
	stores, err := store.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, logger)
	if err != nil {
		return nil, cfg, fmt.Errorf("open store: %w", err)
	}
	return stores, cfg, nil
}
