package devices

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
)

// BrowserOpener opens links with the platform's default handler.
type BrowserOpener struct {
	Logger *slog.Logger
}

func openCommand(goos, uri string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{uri}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", uri}
	default:
		return "xdg-open", []string{uri}
	}
}

// Open starts the handler without waiting for it.
func (b BrowserOpener) Open(uri string) error {
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		return fmt.Errorf("refusing to open non-http link %q", uri)
	}
	name, args := openCommand(runtime.GOOS, uri)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("open %s: %w", uri, err)
	}
	go func() { _ = cmd.Wait() }()
	if b.Logger != nil {
		b.Logger.Info("opened link", "uri", uri)
	}
	return nil
}

// PrintOpener writes links to a logger instead of opening them; used when
// the process runs headless.
type PrintOpener struct {
	Logger *slog.Logger
}

func (p PrintOpener) Open(uri string) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("open link", "uri", uri)
	return nil
}
