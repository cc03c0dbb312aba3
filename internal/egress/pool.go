package egress

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Pool tracks the current egress proxy for a provider. It serves a static
// proxy, or polls a pool URL that returns one proxy string per GET. Refreshes
// are serialized; at most one fetch is in flight at a time.
type Pool struct {
	mu           sync.Mutex
	staticProxy  string
	poolURL      string
	interval     time.Duration
	currentProxy string
	lastFetch    time.Time
	client       *http.Client

	now func() time.Time
}

// NewPool builds a proxy pool from the configured static proxy, pool URL and
// poll interval (seconds). A pool URL that itself looks like a proxy URL is
// reinterpreted as the static proxy and polling is disabled.
func NewPool(staticProxy, poolURL string, intervalSeconds int) *Pool {
	p := &Pool{
		interval: time.Duration(intervalSeconds) * time.Second,
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
	if staticProxy != "" {
		if normalized, err := NormalizeProxyURL(staticProxy); err != nil {
			log.Warnf("egress: invalid static proxy %q: %v", staticProxy, err)
		} else {
			p.staticProxy = normalized
		}
	}
	if poolURL != "" {
		if IsProxyURL(poolURL) {
			log.Warnf("egress: proxy_pool_url %q looks like a proxy url; treating it as the static proxy and disabling pool polling", poolURL)
			if normalized, err := NormalizeProxyURL(poolURL); err == nil {
				p.staticProxy = normalized
			}
		} else {
			p.poolURL = poolURL
		}
	}
	p.currentProxy = p.staticProxy
	return p
}

// Enabled reports whether pool polling is active.
func (p *Pool) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.poolURL != ""
}

// Current returns the proxy URL the next upstream call should use, refreshing
// from the pool when the interval elapsed. The first call always fetches.
func (p *Pool) Current(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poolURL == "" {
		return p.currentProxy
	}
	if p.lastFetch.IsZero() || p.now().Sub(p.lastFetch) >= p.interval {
		p.refreshLocked(ctx)
	}
	return p.currentProxy
}

// ForceRefresh discards the current pool proxy and fetches a new one. It is
// called after an upstream 403 signals that the egress IP is blocked.
func (p *Pool) ForceRefresh(ctx context.Context) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.poolURL == "" {
		return p.currentProxy
	}
	p.refreshLocked(ctx)
	return p.currentProxy
}

func (p *Pool) refreshLocked(ctx context.Context) {
	p.lastFetch = p.now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.poolURL, nil)
	if err != nil {
		log.Warnf("egress: build pool request: %v", err)
		return
	}
	resp, err := p.client.Do(req)
	if err != nil {
		log.Warnf("egress: fetch proxy pool: %v", err)
		p.fallbackLocked()
		return
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || resp.StatusCode != http.StatusOK {
		log.Warnf("egress: proxy pool returned status %d", resp.StatusCode)
		p.fallbackLocked()
		return
	}
	candidate := strings.TrimSpace(string(body))
	normalized, err := NormalizeProxyURL(candidate)
	if err != nil {
		log.Warnf("egress: proxy pool returned invalid proxy %q: %v", candidate, err)
		p.fallbackLocked()
		return
	}
	p.currentProxy = normalized
	log.Debugf("egress: proxy pool rotated to %s", normalized)
}

// fallbackLocked keeps the previous proxy if one exists, else the static proxy.
func (p *Pool) fallbackLocked() {
	if p.currentProxy == "" {
		p.currentProxy = p.staticProxy
	}
}
