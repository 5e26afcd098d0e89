// Command jarvis runs the assistant: an HTTP gateway, a terminal chat, and a
// real-time voice session, all sharing one conversation store.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vango-go/vai-jarvis/internal/dotenv"
	"github.com/vango-go/vai-jarvis/pkg/gateway/config"
)

var version = "0.1.0"

type rootOptions struct {
	configPath string
	envFiles   []string
	stdout     io.Writer
	stderr     io.Writer
}

func defaultEnvFiles() []string {
	files := []string{".env"}
	if dir, err := os.UserConfigDir(); err == nil {
		files = append(files, filepath.Join(dir, "jarvis", ".env"))
	}
	return files
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &rootOptions{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "jarvis",
		Short:         "Jarvis: a personal voice and chat assistant",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("JARVIS_CONFIG"), "path to a YAML config file (env vars override it)")
	root.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", defaultEnvFiles(), "dotenv files to load; earlier files win")

	root.AddCommand(serveCmd(opts))
	root.AddCommand(chatCmd(opts))
	root.AddCommand(liveCmd(opts))
	root.AddCommand(conversationsCmd(opts))
	root.AddCommand(prefsCmd(opts))
	return root
}

// load reads env files and config, and builds the logger.
func (o *rootOptions) load() (config.Config, *slog.Logger, error) {
	if err := dotenv.LoadFiles(o.envFiles...); err != nil {
		return config.Config{}, nil, err
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cfg, o.stderr)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, fmt.Errorf("JARVIS_LOG_LEVEL: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jarvis: %v\n", err)
		os.Exit(1)
	}
}
