// Package ratelimit implements a token bucket rate limiter for per-host request pacing.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/tcg-catalog-crawler/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter manages per-host rate limits. It satisfies pipeline.Pacer.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	hosts        map[string]HostLimit
	defaultRate  rate.Limit
	defaultBurst int
}

// HostLimit overrides the default rate for one host.
type HostLimit struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64              `mapstructure:"default_rps"`
	DefaultBurst int                  `mapstructure:"default_burst"`
	Hosts        map[string]HostLimit `mapstructure:"hosts"`
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	hosts := make(map[string]HostLimit, len(cfg.Hosts))
	for host, hl := range cfg.Hosts {
		hosts[strings.ToLower(host)] = hl
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		hosts:        hosts,
		defaultRate:  limitFor(cfg.DefaultRPS),
		defaultBurst: burstFor(cfg.DefaultBurst),
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.limiterFor(host)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not delays.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, d)
	}
	return nil
}

func (l *Limiter) limiterFor(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[host]; ok {
		return limiter
	}
	r, burst := l.defaultRate, l.defaultBurst
	if hl, ok := l.hosts[host]; ok {
		r, burst = limitFor(hl.RPS), burstFor(hl.Burst)
	}
	limiter := rate.NewLimiter(r, burst)
	l.limiters[host] = limiter
	return limiter
}

func limitFor(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

func burstFor(burst int) int {
	if burst <= 0 {
		return 1
	}
	return burst
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
