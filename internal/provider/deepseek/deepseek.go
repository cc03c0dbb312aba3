// Package deepseek drives the DeepSeek web-session endpoints: session
// creation, proof-of-work, and the completion SSE, re-emitted as OpenAI
// chunks. Credentials are per-file accounts leased through the shared
// selector; password accounts are logged in on demand and the obtained
// session token is written back to the credential file.
package deepseek

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/pool"
	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/tokencache"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

// Project is the accounts/ subdirectory holding DeepSeek credentials.
const Project = "deepseek"

// OwnerTag identifies this adapter in the model catalog.
const OwnerTag = "deepseek"

var modelFlags = map[string]struct{ thinking, search bool }{
	"deepseek-chat":            {false, false},
	"deepseek-reasoner":        {true, false},
	"deepseek-chat-search":     {false, true},
	"deepseek-reasoner-search": {true, true},
}

// Adapter implements the provider contract for DeepSeek.
type Adapter struct {
	cfg      *config.Config
	cache    *tokencache.Cache
	selector *pool.Selector
	solver   *PowSolver
	baseURL  string
}

// New constructs the adapter and registers the current credential files with
// the selector.
func New(cfg *config.Config, cache *tokencache.Cache, selector *pool.Selector) *Adapter {
	a := &Adapter{
		cfg:      cfg,
		cache:    cache,
		selector: selector,
		solver:   NewPowSolver(cfg.DeepSeek.PowWasm),
		baseURL:  defaultBaseURL,
	}
	if err := a.solver.CheckArtifact(); err != nil {
		log.Errorf("deepseek: completions will fail until a solver artifact is provided: %v", err)
	}
	a.RefreshCredentials()
	return a
}

// Models lists the public model ids this adapter serves.
func (a *Adapter) Models() []string {
	models := make([]string, 0, len(modelFlags))
	for model := range modelFlags {
		models = append(models, model)
	}
	return models
}

// RefreshCredentials re-registers the credential files with the selector.
// Called at construction and after management mutations.
func (a *Adapter) RefreshCredentials() {
	files := a.cache.GetTokenList(Project)
	a.selector.Register(a.Models(), files, OwnerTag)
}

// Close releases the WASM runtime.
func (a *Adapter) Close(ctx context.Context) {
	a.solver.Close(ctx)
}

// Handle runs one completion request. When the caller authenticated with a
// configured API key a pooled credential is leased; otherwise the caller's
// bearer is treated as a raw DeepSeek session token.
func (a *Adapter) Handle(ctx context.Context, callerKey string, request *translator.MiddleContent) (*registry.Result, error) {
	flags, ok := modelFlags[request.Model]
	if !ok {
		return nil, registry.NewStatusError(http.StatusBadRequest, "unknown model %s", request.Model)
	}

	var token, credentialID, proxyURL string
	release := func() {}
	if a.cfg.HasKey(callerKey) {
		leasedToken, leasedID, leasedProxy, err := a.leaseCredential(ctx, request.Model)
		if err != nil {
			return nil, err
		}
		token, credentialID, proxyURL = leasedToken, leasedID, leasedProxy
		release = func() { a.selector.Release(credentialID) }
	} else {
		token = callerKey
	}

	result, err := a.complete(ctx, token, credentialID, proxyURL, flags.thinking, flags.search, request)
	if err != nil {
		release()
		return nil, err
	}
	result.Release = release
	return result, nil
}

// leaseCredential acquires a pooled credential, logging password accounts in
// when they carry no session token yet. Credentials that fail to produce a
// token are skipped and the next ring entry is tried.
func (a *Adapter) leaseCredential(ctx context.Context, model string) (token, credentialID, proxyURL string, err error) {
	var tried []string
	for {
		credentialID = a.selector.Acquire(model, tried...)
		if credentialID == "" {
			return "", "", "", registry.NewStatusError(http.StatusTooManyRequests, "no deepseek account available")
		}
		data := a.cache.GetToken(Project, credentialID)
		if data == nil {
			a.selector.Release(credentialID)
			tried = append(tried, credentialID)
			continue
		}
		credential := gjson.ParseBytes(data)
		proxyURL = credential.Get("proxy_url").String()
		token = credential.Get("token").String()
		if token != "" {
			return token, credentialID, proxyURL, nil
		}
		if credential.Get("type").String() != "password" {
			a.selector.Release(credentialID)
			tried = append(tried, credentialID)
			continue
		}
		token, err = a.loginAndPersist(ctx, credentialID, credential, data, proxyURL)
		if err != nil {
			log.Warnf("deepseek: login failed for %s: %v", credentialID, err)
			a.selector.Skip(model, credentialID, pool.DefaultSkipDuration)
			a.selector.Release(credentialID)
			tried = append(tried, credentialID)
			continue
		}
		return token, credentialID, proxyURL, nil
	}
}

func (a *Adapter) loginAndPersist(ctx context.Context, credentialID string, credential gjson.Result, raw []byte, proxyURL string) (string, error) {
	c, err := newClient(a.baseURL, proxyURL)
	if err != nil {
		return "", err
	}
	token, err := c.login(ctx, credential, a.cfg.DeepSeek.DeviceID)
	if err != nil {
		return "", err
	}
	updated, err := sjson.SetBytes(raw, "token", token)
	if err != nil {
		return "", err
	}
	if err = a.cache.SaveToken(Project, credentialID, updated); err != nil {
		return "", fmt.Errorf("deepseek: persist token for %s: %w", credentialID, err)
	}
	return token, nil
}

// complete runs session creation, the proof-of-work exchange and the
// completion call, returning the transformed SSE stream.
func (a *Adapter) complete(ctx context.Context, token, credentialID, proxyURL string, thinking, search bool, request *translator.MiddleContent) (*registry.Result, error) {
	c, err := newClient(a.baseURL, proxyURL)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(request.Messages)

	sessionID, err := c.createSession(ctx, token)
	if err != nil {
		a.skipIfPooled(request.Model, credentialID)
		return nil, wrapUpstream(err)
	}

	challenge, err := c.fetchPowChallenge(ctx, token)
	if err != nil {
		a.skipIfPooled(request.Model, credentialID)
		return nil, wrapUpstream(err)
	}
	answer, err := a.solver.Solve(ctx, challenge)
	if err != nil {
		// A solver failure is not the credential's fault; do not skip.
		return nil, registry.NewStatusError(http.StatusInternalServerError, "deepseek: %v", err)
	}

	body := map[string]any{
		"chat_session_id":   sessionID,
		"parent_message_id": nil,
		"prompt":            prompt,
		"ref_file_ids":      []string{},
		"thinking_enabled":  thinking,
		"search_enabled":    search,
	}
	resp, err := c.postStream(ctx, "/api/v0/chat/completion", token, body, map[string]string{
		"x-ds-pow-response": PowResponseHeader(challenge, answer),
	})
	if err != nil {
		return nil, wrapUpstream(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		a.skipIfPooled(request.Model, credentialID)
		return nil, registry.NewStatusError(resp.StatusCode, "deepseek: completion returned %d: %s", resp.StatusCode, string(data))
	}

	if credentialID != "" {
		a.selector.ClearSkip(request.Model, credentialID)
	}
	stream := newOpenAIStream(ctx, resp.Body, streamOptions{
		completionID: "chatcmpl-" + uuid.NewString(),
		model:        request.Model,
		prompt:       prompt,
		thinking:     thinking,
		search:       search,
	})
	return &registry.Result{Stream: stream}, nil
}

func (a *Adapter) skipIfPooled(model, credentialID string) {
	if credentialID != "" {
		a.selector.Skip(model, credentialID, pool.DefaultSkipDuration)
	}
}

func wrapUpstream(err error) error {
	if _, ok := err.(interface{ StatusCode() int }); ok {
		return err
	}
	return registry.NewStatusError(http.StatusInternalServerError, "deepseek: %v", err)
}
