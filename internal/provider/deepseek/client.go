package deepseek

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/WebProxyAPI/internal/egress"
	"github.com/router-for-me/WebProxyAPI/internal/httpx"
	"github.com/router-for-me/WebProxyAPI/internal/registry"
)

const defaultBaseURL = "https://chat.deepseek.com"

var mobilePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// client wraps the DeepSeek web API endpoints used by the adapter. One client
// exists per credential proxy configuration.
type client struct {
	http    *http.Client
	baseURL string
}

func newClient(baseURL, proxyURL string) (*client, error) {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	transport, err := egress.NewTransport(proxyURL)
	if err != nil {
		return nil, err
	}
	return &client{
		baseURL: baseURL,
		http: &http.Client{
			Transport: &httpx.DecompressTransport{Base: transport},
		},
	}, nil
}

func (c *client) postJSON(ctx context.Context, path, token string, body any, headers map[string]string) (gjson.Result, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return gjson.Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return gjson.Result{}, err
	}
	c.applyHeaders(req, token, headers)
	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, registry.NewStatusError(resp.StatusCode, "deepseek: %s returned %d: %s", path, resp.StatusCode, truncate(data, 512))
	}
	return gjson.ParseBytes(data), nil
}

// postStream issues a request whose response body is consumed as SSE.
// The caller owns the body.
func (c *client) postStream(ctx context.Context, path, token string, body any, headers map[string]string) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	c.applyHeaders(req, token, headers)
	req.Header.Set("Accept", "text/event-stream")
	return c.http.Do(req)
}

func (c *client) applyHeaders(req *http.Request, token string, headers map[string]string) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36")
	req.Header.Set("Origin", c.baseURL)
	req.Header.Set("Referer", c.baseURL+"/")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// login performs a username/password login and returns the session token.
// Mobile identifiers must match the mainland number pattern the upstream
// validates server-side.
func (c *client) login(ctx context.Context, credential gjson.Result, deviceID string) (string, error) {
	body := map[string]any{
		"password":  credential.Get("password").String(),
		"device_id": deviceID,
		"os":        "android",
	}
	if email := credential.Get("email").String(); email != "" {
		body["email"] = email
	} else if mobile := credential.Get("mobile").String(); mobile != "" {
		if !mobilePattern.MatchString(mobile) {
			return "", fmt.Errorf("deepseek: invalid mobile number %q", mobile)
		}
		body["mobile"] = mobile
	} else {
		return "", fmt.Errorf("deepseek: credential has neither email nor mobile")
	}

	result, err := c.postJSON(ctx, "/api/v0/users/login", "", body, nil)
	if err != nil {
		return "", err
	}
	token := result.Get("data.biz_data.user.token").String()
	if token == "" {
		return "", fmt.Errorf("deepseek: login succeeded but no token in response (code=%s)", result.Get("code").Raw)
	}
	return token, nil
}

// createSession opens a chat session, retrying up to three times on a
// non-zero business code.
func (c *client) createSession(ctx context.Context, token string) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		result, err := c.postJSON(ctx, "/api/v0/chat_session/create", token, map[string]any{"agent": "chat"}, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if result.Get("code").Int() != 0 {
			lastErr = fmt.Errorf("deepseek: chat_session/create code=%d msg=%s", result.Get("code").Int(), result.Get("msg").String())
			log.Debugf("deepseek: session create attempt %d failed: %v", attempt+1, lastErr)
			continue
		}
		if id := result.Get("data.biz_data.id").String(); id != "" {
			return id, nil
		}
		lastErr = fmt.Errorf("deepseek: chat_session/create returned no session id")
	}
	return "", lastErr
}

// fetchPowChallenge requests a proof-of-work challenge for the completion path.
func (c *client) fetchPowChallenge(ctx context.Context, token string) (*PowChallenge, error) {
	result, err := c.postJSON(ctx, "/api/v0/chat/create_pow_challenge", token,
		map[string]any{"target_path": "/api/v0/chat/completion"}, nil)
	if err != nil {
		return nil, err
	}
	node := result.Get("data.biz_data.challenge")
	if !node.Exists() {
		node = result
	}
	challenge := &PowChallenge{
		Algorithm:  node.Get("algorithm").String(),
		Challenge:  node.Get("challenge").String(),
		Salt:       node.Get("salt").String(),
		Difficulty: node.Get("difficulty").Float(),
		ExpireAt:   node.Get("expire_at").Int(),
		Signature:  node.Get("signature").String(),
		TargetPath: node.Get("target_path").String(),
	}
	if challenge.TargetPath == "" {
		challenge.TargetPath = "/api/v0/chat/completion"
	}
	return challenge, nil
}

func truncate(data []byte, max int) string {
	if len(data) <= max {
		return string(data)
	}
	return string(data[:max]) + "..."
}
