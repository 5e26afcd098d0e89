package mw

import (
	"context"
	"net/http"
	"strings"

	"github.com/vango-go/vai-jarvis/pkg/gateway/ratelimit"
)

// Principal is an authenticated caller.
type Principal struct {
	// Key is a stable hash of the caller's API key, safe to log.
	Key string
}

type ctxKeyPrincipal struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKeyPrincipal{}).(*Principal)
	return p, ok && p != nil
}

// PrincipalKey names the caller for limiting.
func PrincipalKey(r *http.Request) string {
	if p, ok := PrincipalFrom(r.Context()); ok {
		return p.Key
	}
	return "anonymous"
}

func newPrincipal(apiKey string) *Principal {
	return &Principal{Key: ratelimit.PrincipalKeyFromAPIKey(apiKey)}
}

func parseBearer(r *http.Request) (string, bool) {
	token, ok := strings.CutPrefix(strings.TrimSpace(r.Header.Get("Authorization")), "Bearer ")
	token = strings.TrimSpace(token)
	return token, ok && token != ""
}
