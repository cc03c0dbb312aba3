package grok

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/egress"
	"github.com/router-for-me/WebProxyAPI/internal/httpx"
)

const (
	outerRetries = 3
	inner403     = 5

	outerBackoffStep = 100 * time.Millisecond
	inner403Pause    = 500 * time.Millisecond
)

// client issues Grok upstream calls through a Chrome TLS-fingerprinted
// transport so Cloudflare sees a browser handshake. Per-call proxy selection
// goes through the egress pool; a 403 rotates the pool proxy and retries.
type client struct {
	cfg     *config.GrokConfig
	pool    *egress.Pool
	baseURL string

	mu      sync.Mutex
	clients map[string]*http.Client
}

func newClient(cfg *config.GrokConfig, pool *egress.Pool) *client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &client{
		cfg:     cfg,
		pool:    pool,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		clients: make(map[string]*http.Client),
	}
}

// httpClientFor returns a client bound to the given proxy. SOCKS and direct
// connections get the fingerprinted dialer; HTTP CONNECT proxies keep the
// stock TLS stack because the tunnel owns the outer handshake.
func (c *client) httpClientFor(proxyURL string) (*http.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.clients[proxyURL]; ok {
		return cached, nil
	}

	var transport http.RoundTripper
	if isHTTPProxy(proxyURL) {
		base, err := egress.NewTransport(proxyURL)
		if err != nil {
			return nil, err
		}
		transport = base
	} else {
		dialer, err := egress.NewContextDialer(proxyURL)
		if err != nil {
			return nil, err
		}
		transport = &http.Transport{
			DialTLSContext:        chromeDialTLS(dialer),
			MaxIdleConns:          32,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: time.Second,
		}
	}
	built := &http.Client{Transport: &httpx.DecompressTransport{Base: transport}}
	c.clients[proxyURL] = built
	return built, nil
}

func isHTTPProxy(proxyURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(proxyURL))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// chromeDialTLS dials through the egress dialer and completes a Chrome-shaped
// handshake. ALPN is pinned to http/1.1: the Chrome preset advertises h2, but
// the stock transport cannot speak h2 over a foreign TLS conn.
func chromeDialTLS(dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		rawConn, err := dialer.DialContext(ctx, network, addr)
		if err != nil {
			return nil, err
		}
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			host = addr
		}
		spec, err := utls.UTLSIdToSpec(utls.HelloChrome_Auto)
		if err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		for _, ext := range spec.Extensions {
			if alpn, ok := ext.(*utls.ALPNExtension); ok {
				alpn.AlpnProtocols = []string{"http/1.1"}
			}
		}
		conn := utls.UClient(rawConn, &utls.Config{ServerName: host}, utls.HelloCustom)
		if err = conn.ApplyPreset(&spec); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		if err = conn.HandshakeContext(ctx); err != nil {
			_ = rawConn.Close()
			return nil, err
		}
		return conn, nil
	}
}

// do runs one upstream call under the shared retry policy: up to three
// attempts for the configured retryable statuses with linear backoff, and up
// to five inner attempts on 403, each rotating the pool proxy first.
func (c *client) do(ctx context.Context, method, rawURL string, body []byte, sso string, opts headerOptions) (*http.Response, error) {
	for outer := 0; ; outer++ {
		resp, err := c.attemptWith403Retry(ctx, method, rawURL, body, sso, opts)
		if err != nil {
			return nil, err
		}
		if outer >= outerRetries-1 || !c.isRetryStatus(resp.StatusCode) {
			return resp, nil
		}
		discard(resp)
		log.Debugf("grok: status %d from %s, retry %d", resp.StatusCode, rawURL, outer+1)
		if err = sleepCtx(ctx, time.Duration(outer+1)*outerBackoffStep); err != nil {
			return nil, err
		}
	}
}

func (c *client) attemptWith403Retry(ctx context.Context, method, rawURL string, body []byte, sso string, opts headerOptions) (*http.Response, error) {
	for inner := 0; ; inner++ {
		resp, err := c.send(ctx, method, rawURL, body, sso, opts)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusForbidden || inner >= inner403-1 {
			return resp, nil
		}
		discard(resp)
		rotated := c.pool.ForceRefresh(ctx)
		log.Debugf("grok: 403 from %s, rotated proxy to %q (attempt %d)", rawURL, rotated, inner+1)
		if err = sleepCtx(ctx, inner403Pause); err != nil {
			return nil, err
		}
	}
}

func (c *client) send(ctx context.Context, method, rawURL string, body []byte, sso string, opts headerOptions) (*http.Response, error) {
	proxyURL := c.pool.Current(ctx)
	httpClient, err := c.httpClientFor(proxyURL)
	if err != nil {
		return nil, err
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	applyHeaders(req, c.cfg, sso, opts)
	return httpClient.Do(req)
}

// endpoint joins a path onto the configured base URL.
func (c *client) endpoint(path string) string {
	return c.baseURL + path
}

// fetchAsset downloads a generated media asset. The deadline covers the whole
// body read, so cancellation is deferred to the returned body's Close.
func (c *client) fetchAsset(ctx context.Context, assetPath, cookie string, timeout time.Duration) (*http.Response, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, timeout)
	assetURL := assetsBaseURL + "/" + strings.TrimPrefix(assetPath, "/")
	if _, err := url.Parse(assetURL); err != nil {
		cancel()
		return nil, err
	}
	resp, err := c.doAsset(deadlineCtx, assetURL, cookie)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (c *client) doAsset(ctx context.Context, assetURL, cookie string) (*http.Response, error) {
	for inner := 0; ; inner++ {
		proxyURL := c.pool.Current(ctx)
		httpClient, err := c.httpClientFor(proxyURL)
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, assetURL, nil)
		if err != nil {
			return nil, err
		}
		applyHeaders(req, c.cfg, "", headerOptions{referer: defaultBaseURL + "/"})
		if cookie != "" {
			req.Header.Set("Cookie", cookie)
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusForbidden || inner >= inner403-1 {
			return resp, nil
		}
		discard(resp)
		c.pool.ForceRefresh(ctx)
		if err = sleepCtx(ctx, inner403Pause); err != nil {
			return nil, err
		}
	}
}

func (c *client) isRetryStatus(status int) bool {
	codes := c.cfg.RetryStatusCodes
	if len(codes) == 0 {
		codes = []int{http.StatusUnauthorized, http.StatusTooManyRequests}
	}
	for _, code := range codes {
		if code == status {
			return true
		}
	}
	return false
}

func discard(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
