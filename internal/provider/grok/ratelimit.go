package grok

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/WebProxyAPI/internal/registry"
)

const rateLimitsPath = "/rest/rate-limits"

// pollRateLimits asks upstream for the token's residual quota in one model
// bucket.
func (c *client) pollRateLimits(ctx context.Context, sso, rateLimitModel string) (gjson.Result, error) {
	body, err := json.Marshal(map[string]any{
		"requestKind": "DEFAULT",
		"modelName":   rateLimitModel,
	})
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.endpoint(rateLimitsPath), body, sso, headerOptions{})
	if err != nil {
		return gjson.Result{}, err
	}
	return parseRateLimits(resp, rateLimitModel)
}

func parseRateLimits(resp *http.Response, rateLimitModel string) (gjson.Result, error) {
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.Result{}, registry.NewStatusError(resp.StatusCode, "grok: rate-limits for %s returned %d: %s", rateLimitModel, resp.StatusCode, truncate(data, 256))
	}
	return gjson.ParseBytes(data), nil
}

// refreshQuota polls one bucket and writes the observed quota back to the
// store. The heavy bucket reports remainingQueries; every other bucket
// reports remainingTokens.
func (a *Adapter) refreshQuota(ctx context.Context, sso, rateLimitModel string) error {
	result, err := a.client.pollRateLimits(ctx, sso, rateLimitModel)
	if err != nil {
		return err
	}
	heavy := rateLimitModel == heavyRateLimitModel
	field := "remainingTokens"
	if heavy {
		field = "remainingQueries"
	}
	value := result.Get(field)
	if !value.Exists() {
		log.Debugf("grok: rate-limit response for %s carries no %s", rateLimitModel, field)
		return nil
	}
	return a.store.UpdateLimits(sso, heavy, value.Int())
}
