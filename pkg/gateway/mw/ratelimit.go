package mw

import (
	"net/http"
	"strconv"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/gateway/apierror"
	"github.com/vango-go/vai-jarvis/pkg/gateway/ratelimit"
)

func RateLimit(limiter *ratelimit.Limiter, next http.Handler) http.Handler {
	if !limiter.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/healthz", r.URL.Path == "/readyz", r.URL.Path == "/metrics":
			next.ServeHTTP(w, r)
			return
		case r.Method == http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}

		dec := limiter.AllowRequest(PrincipalKey(r), time.Now())
		if !dec.Allowed {
			WriteRateLimited(w, r, dec.RetryAfter, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// WriteRateLimited sends a 429 with Retry-After.
func WriteRateLimited(w http.ResponseWriter, r *http.Request, retryAfter int, msg string) {
	reqID, _ := RequestIDFrom(r.Context())
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	apierror.Write(w, http.StatusTooManyRequests, &apierror.Body{
		Type:       apierror.TypeRateLimit,
		Message:    msg,
		RequestID:  reqID,
		RetryAfter: retryAfter,
	})
}
