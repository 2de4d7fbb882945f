// Package politeness throttles outbound requests per host.
package politeness

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"github.com/terralab/landcrawler/internal/land"
)

// Limiter enforces a per-host request rate so a batch over one site does not
// hammer it. Hosts are tracked lazily; an unknown host gets a fresh limiter
// on first use.
type Limiter struct {
	perHost rate.Limit
	burst   int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New builds a Limiter allowing requestsPerSecond per host with the given
// burst. A zero or negative rate means unlimited.
func New(requestsPerSecond float64, burst int) *Limiter {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		perHost: limit,
		burst:   burst,
		hosts:   make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host of rawURL may be contacted, or the context ends.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := land.HostOf(rawURL)
	if host == "" {
		return fmt.Errorf("politeness wait: no host in %q", rawURL)
	}
	if err := l.forHost(host).Wait(ctx); err != nil {
		return fmt.Errorf("politeness wait for %s: %w", host, err)
	}
	return nil
}

// Allow reports without blocking whether the host may be contacted now.
func (l *Limiter) Allow(rawURL string) bool {
	host := land.HostOf(rawURL)
	if host == "" {
		return false
	}
	return l.forHost(host).Allow()
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rl, ok := l.hosts[host]; ok {
		return rl
	}
	rl := rate.NewLimiter(l.perHost, l.burst)
	l.hosts[host] = rl
	return rl
}
