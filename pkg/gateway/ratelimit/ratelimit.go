// Package ratelimit is an in-process, per-principal limiter: a token bucket
// for request rate and a semaphore for concurrent turns.
package ratelimit

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sync"
	"time"
)

type Config struct {
	RPS   float64
	Burst int

	// MaxConcurrentTurns caps streaming turns per principal; 0 disables it.
	MaxConcurrentTurns int

	// Operational bounds for the in-memory map (single-process only).
	MaxEntries int
	EntryTTL   time.Duration
}

type Limiter struct {
	cfg Config

	mu sync.Mutex
	m  map[string]*principalLimiter
}

type principalLimiter struct {
	mu sync.Mutex

	tokens float64
	last   time.Time
	primed bool

	turns    chan struct{}
	lastSeen time.Time
}

func New(cfg Config) *Limiter {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 10_000
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 30 * time.Minute
	}
	return &Limiter{cfg: cfg, m: make(map[string]*principalLimiter)}
}

// Enabled reports whether any limit is configured.
func (l *Limiter) Enabled() bool {
	return l != nil && ((l.cfg.RPS > 0 && l.cfg.Burst > 0) || l.cfg.MaxConcurrentTurns > 0)
}

func PrincipalKeyFromAPIKey(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return "k_" + hex.EncodeToString(sum[:16])
}

type Permit struct {
	release func()
}

func (p *Permit) Release() {
	if p == nil || p.release == nil {
		return
	}
	p.release()
	p.release = nil
}

type Decision struct {
	Allowed    bool
	RetryAfter int // seconds
	Permit     *Permit
}

// AllowRequest spends one token of principal's bucket.
func (l *Limiter) AllowRequest(principal string, now time.Time) Decision {
	if l.cfg.RPS <= 0 || l.cfg.Burst <= 0 {
		return Decision{Allowed: true}
	}
	pl := l.get(principal, now)
	pl.mu.Lock()
	defer pl.mu.Unlock()

	capacity := float64(l.cfg.Burst)
	if !pl.primed {
		pl.tokens, pl.last, pl.primed = capacity, now, true
	}
	if elapsed := now.Sub(pl.last).Seconds(); elapsed > 0 {
		pl.tokens = math.Min(capacity, pl.tokens+elapsed*l.cfg.RPS)
		pl.last = now
	}
	if pl.tokens >= 1 {
		pl.tokens--
		return Decision{Allowed: true}
	}
	retryAfter := int(math.Ceil((1 - pl.tokens) / l.cfg.RPS))
	return Decision{RetryAfter: max(retryAfter, 1)}
}

// AcquireTurn takes one of principal's turn slots. The permit must be
// released when the turn ends.
func (l *Limiter) AcquireTurn(principal string, now time.Time) Decision {
	if l.cfg.MaxConcurrentTurns <= 0 {
		return Decision{Allowed: true, Permit: &Permit{}}
	}
	pl := l.get(principal, now)
	select {
	case pl.turns <- struct{}{}:
		return Decision{Allowed: true, Permit: &Permit{release: func() { <-pl.turns }}}
	default:
		return Decision{RetryAfter: 1}
	}
}

func (l *Limiter) get(principal string, now time.Time) *principalLimiter {
	if principal == "" {
		principal = "anonymous"
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if pl, ok := l.m[principal]; ok {
		pl.lastSeen = now
		return pl
	}
	if len(l.m) >= l.cfg.MaxEntries {
		for k, v := range l.m {
			// Entries holding a turn slot stay.
			if now.Sub(v.lastSeen) > l.cfg.EntryTTL && len(v.turns) == 0 {
				delete(l.m, k)
			}
		}
	}
	pl := &principalLimiter{
		turns:    make(chan struct{}, max(1, l.cfg.MaxConcurrentTurns)),
		lastSeen: now,
	}
	l.m[principal] = pl
	return pl
}
