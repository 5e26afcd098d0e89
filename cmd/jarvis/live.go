package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-jarvis/pkg/core/live"
	"github.com/vango-go/vai-jarvis/pkg/core/providers/gemini"
	"github.com/vango-go/vai-jarvis/pkg/devices"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
	"github.com/vango-go/vai-jarvis/pkg/metrics"
)

func liveCmd(o *rootOptions) *cobra.Command {
	var (
		meter       bool
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Talk to the assistant in real time",
		Long: `Opens the microphone and speaker and starts a live voice session.

Type m and Enter to toggle mute, q and Enter (or Ctrl-C) to hang up.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load()
			if err != nil {
				return err
			}
			if err := cfg.RequireGemini(); err != nil {
				return err
			}
			geo, err := newGeolocator(cfg)
			if err != nil {
				return err
			}

			deps := newLiveDeps(cfg, logger)
			deps.Geolocator = geo
			if meter {
				deps.Visualizer = &devices.MeterVisualizer{W: o.stderr}
			}

			if metricsAddr != "" {
				m := metrics.New("jarvis")
				deps.Recorder = m
				stopMetrics, err := serveMetrics(metricsAddr, m, logger)
				if err != nil {
					return err
				}
				defer stopMetrics()
			}

			printer := &transcriptPrinter{w: o.stdout, name: cfg.PersonaName}
			session := live.NewSession(cfg.Live, deps,
				live.WithLogger(logger),
				live.WithObserver(printer.Observe),
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := session.Start(ctx); err != nil {
				return err
			}

			go readLiveControls(cmd.InOrStdin(), session, stop)
			go func() {
				<-ctx.Done()
				_ = session.End()
			}()
			err = session.Wait()
			_ = session.End()
			fmt.Fprintln(o.stderr)
			return err
		},
	}
	cmd.Flags().BoolVar(&meter, "meter", true, "draw input and output levels")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics for the session on this address")
	return cmd
}

// serveMetrics exposes m on addr until the returned stop func is called.
func serveMetrics(addr string, m *metrics.Metrics, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", ln.Addr().String())
	return func() { _ = srv.Close() }, nil
}

func newLiveDeps(cfg config.Config, logger *slog.Logger) live.Dependencies {
	return live.Dependencies{
		Microphone: &devices.FFmpegMicrophone{
			Path:   cfg.Devices.FFmpeg,
			Format: cfg.Devices.MicFormat,
			Device: cfg.Devices.MicDevice,
			Logger: logger,
		},
		Audio: &devices.Backend{FFplayPath: cfg.Devices.FFplay, Logger: logger},
		Connector: gemini.NewLiveConnector(cfg.Gemini.APIKey,
			gemini.WithLiveURL(cfg.Gemini.LiveURL),
			gemini.WithLiveLogger(logger),
		),
		Links: devices.BrowserOpener{Logger: logger},
	}
}

type liveControl interface {
	ToggleMute() bool
	End() error
}

func readLiveControls(in io.Reader, s liveControl, stop func()) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "m":
			s.ToggleMute()
		case "q":
			_ = s.End()
			stop()
			return
		}
	}
}

// transcriptPrinter prints each transcript once, when the session clears it,
// plus phase changes and mute toggles.
type transcriptPrinter struct {
	w    io.Writer
	name string

	mu     sync.Mutex
	phase  live.Phase
	muted  bool
	input  string
	output string
}

func (p *transcriptPrinter) Observe(st live.State) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.input != "" && st.PendingInputTranscript == "" {
		fmt.Fprintf(p.w, "\nYou: %s\n", strings.TrimSpace(p.input))
	}
	if p.output != "" && st.PendingOutputTranscript == "" {
		fmt.Fprintf(p.w, "\n%s: %s\n", p.name, strings.TrimSpace(p.output))
	}
	p.input = st.PendingInputTranscript
	p.output = st.PendingOutputTranscript

	if st.MicrophoneMuted != p.muted {
		p.muted = st.MicrophoneMuted
		if p.muted {
			fmt.Fprintln(p.w, "\n(muted)")
		} else {
			fmt.Fprintln(p.w, "\n(unmuted)")
		}
	}
	if st.Phase != p.phase {
		p.phase = st.Phase
		switch {
		case st.Phase == live.PhaseError && st.Err != nil:
			fmt.Fprintf(p.w, "\n(%s: %v)\n", st.Phase, st.Err)
		default:
			fmt.Fprintf(p.w, "\n(%s)\n", st.Phase)
		}
	}
}
