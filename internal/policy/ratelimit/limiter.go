// Package ratelimit implements a per-host token bucket that spaces out
// browser launches against the same site.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitecapture/internal/metrics"
)

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	maxHosts int
}

// DefaultMaxHosts bounds how many host buckets are tracked before idle
// ones are evicted.
const DefaultMaxHosts = 1024

// Config holds rate limiter configuration. A non-positive QPS disables
// limiting.
type Config struct {
	HostQPS   float64
	HostBurst int
	MaxHosts  int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.HostQPS)
	if cfg.HostQPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.HostBurst
	if burst <= 0 {
		burst = 1
	}
	maxHosts := cfg.MaxHosts
	if maxHosts <= 0 {
		maxHosts = DefaultMaxHosts
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
		maxHosts: maxHosts,
	}
}

// Enabled reports whether Wait can ever block.
func (l *Limiter) Enabled() bool {
	return l != nil && l.rate != rate.Inf
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if !l.Enabled() {
		return nil
	}
	host := metrics.SanitizeHost(strings.TrimSpace(rawURL))

	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		if len(l.limiters) >= l.maxHosts {
			l.evictIdleLocked(time.Now())
		}
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Tokens that were already available are not a delay worth recording.
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// evictIdleLocked drops buckets that have refilled completely. A full
// bucket behaves exactly like a new one, so no pacing is lost. Buckets
// still refilling are kept even past maxHosts.
func (l *Limiter) evictIdleLocked(now time.Time) {
	for host, limiter := range l.limiters {
		if limiter.TokensAt(now) >= float64(l.burst) {
			delete(l.limiters, host)
		}
	}
}
