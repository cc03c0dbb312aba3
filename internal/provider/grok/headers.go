package grok

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/router-for-me/WebProxyAPI/internal/config"
)

const (
	defaultBaseURL = "https://grok.com"
	assetsBaseURL  = "https://assets.grok.com"

	userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36"
)

// Cookie returns the SSO cookie pair sent on every upstream call.
func Cookie(ssoToken string) string {
	return "sso-rw=" + ssoToken + ";sso=" + ssoToken
}

type headerOptions struct {
	contentType string
	referer     string
	accept      string
}

// applyHeaders sets the baseline browser header set plus the per-request
// identifiers. The statsig id comes from config unless dynamic generation is
// on, in which case every request gets a fresh one.
func applyHeaders(req *http.Request, cfg *config.GrokConfig, ssoToken string, opts headerOptions) {
	header := req.Header
	header.Set("User-Agent", userAgent)
	header.Set("Accept-Language", "en-US,en;q=0.9")
	header.Set("Accept-Encoding", "gzip, deflate, br, zstd")
	header.Set("Sec-Ch-Ua", `"Not(A:Brand";v="99", "Google Chrome";v="133", "Chromium";v="133"`)
	header.Set("Sec-Ch-Ua-Mobile", "?0")
	header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	header.Set("Sec-Fetch-Dest", "empty")
	header.Set("Sec-Fetch-Mode", "cors")
	header.Set("Sec-Fetch-Site", "same-origin")
	header.Set("Origin", defaultBaseURL)
	header.Set("Baggage", "sentry-environment=production,sentry-public_key=b311e0f2690c81f25e2c4cf6d4f7ce1c")
	header.Set("Priority", "u=1, i")
	header.Set("x-xai-request-id", uuid.NewString())

	statsig := cfg.XStatsigID
	if cfg.DynamicStatsig || statsig == "" {
		statsig = GenerateStatsigID()
	}
	header.Set("x-statsig-id", statsig)

	if opts.contentType != "" {
		header.Set("Content-Type", opts.contentType)
	} else {
		header.Set("Content-Type", "application/json")
	}
	if opts.referer != "" {
		header.Set("Referer", opts.referer)
	} else {
		header.Set("Referer", defaultBaseURL+"/")
	}
	if opts.accept != "" {
		header.Set("Accept", opts.accept)
	} else {
		header.Set("Accept", "*/*")
	}
	if ssoToken != "" {
		header.Set("Cookie", Cookie(ssoToken))
	}
}
