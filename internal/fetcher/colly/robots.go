package collyfetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// RobotsCache fetches and caches robots.txt groups per host. A host whose
// robots.txt cannot be retrieved over the transport is treated as
// allow-all; an explicit 5xx from the server is treated as disallow-all,
// which robotstxt.FromResponse already encodes.
type RobotsCache struct {
	client    *http.Client
	userAgent string

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

// NewRobotsCache builds a cache probing with the given user agent.
func NewRobotsCache(userAgent string, timeout time.Duration) *RobotsCache {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return &RobotsCache{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether the target URL may be fetched. The returned error
// is advisory: when robots.txt itself cannot be reached the caller decides
// whether to proceed.
func (c *RobotsCache) Allowed(ctx context.Context, rawURL string) (bool, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("parse target url: %w", err)
	}
	origin := target.Scheme + "://" + target.Host

	group, err := c.group(ctx, origin)
	if err != nil {
		return true, err
	}
	return group.Test(target.Path), nil
}

func (c *RobotsCache) group(ctx context.Context, origin string) (*robotstxt.Group, error) {
	c.mu.Lock()
	if g, ok := c.groups[origin]; ok {
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	g, err := c.fetchGroup(ctx, origin)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.groups[origin] = g
	c.mu.Unlock()
	return g, nil
}

func (c *RobotsCache) fetchGroup(ctx context.Context, origin string) (*robotstxt.Group, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return data.FindGroup(c.userAgent), nil
}
