// Package retry runs remote operations under bounded exponential backoff,
// retrying only failures that look like rate limiting or overload.
package retry

import (
	"context"
	"log/slog"
	"strings"
	"time"

	goretry "github.com/sethvargo/go-retry"

	"github.com/vango-go/vai-jarvis/pkg/core"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
)

// Policy bounds how an operation is retried. The zero value uses defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *slog.Logger

	// OnRetry is called before each wait with the attempt that just failed.
	OnRetry func(op string, attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns three attempts with a one second base delay.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return p
}

var transientMarkers = []string{
	"429",
	"rate limit",
	"rate_limit",
	"resource_exhausted",
	"resource exhausted",
	"503",
	"service unavailable",
	"unavailable",
}

// IsTransient reports whether err looks like a rate-limit or overload
// failure. Typed transient errors match regardless of their message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if core.IsType(err, core.ErrTransientRemote) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// Execute runs fn until it succeeds, fails with a non-transient error, or
// MaxAttempts transient failures have occurred. The wait before attempt n
// (n >= 2) is BaseDelay * 2^(n-2). The last error is returned unchanged.
func Execute[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		result  T
		lastErr error
		attempt int
	)

	base := goretry.WithMaxRetries(uint64(p.MaxAttempts-1), goretry.NewExponential(p.BaseDelay))
	backoff := goretry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := base.Next()
		if stop {
			return 0, true
		}
		p.Logger.Warn("retrying transient failure",
			"op", op,
			"attempt", attempt,
			"max", p.MaxAttempts,
			"delay", delay,
			"error", lastErr,
		)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, delay, lastErr)
		}
		return delay, false
	})

	err := goretry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			lastErr = err
			if IsTransient(err) {
				return goretry.RetryableError(err)
			}
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

// Do is Execute for operations without a result.
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Execute(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
