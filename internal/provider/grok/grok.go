// Package grok drives the Grok web-session endpoints using harvested SSO
// cookies: quota-ranked token selection, a Chrome TLS-fingerprinted client
// with proxy-pool rotation, image and video generation through the media
// cache, and a background quota refresher.
package grok

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/egress"
	"github.com/router-for-me/WebProxyAPI/internal/mediacache"
	"github.com/router-for-me/WebProxyAPI/internal/registry"
	"github.com/router-for-me/WebProxyAPI/internal/tokencache"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

// OwnerTag identifies this adapter in the model catalog.
const OwnerTag = "grok"

const (
	imageFetchTimeout = 30 * time.Second
	videoFetchTimeout = 60 * time.Second
)

// Adapter implements the provider contract for Grok.
type Adapter struct {
	cfg    *config.Config
	store  *Store
	client *client
	pool   *egress.Pool

	imageCache *mediacache.Cache
	videoCache *mediacache.Cache

	refreshMu   sync.Mutex
	lastRefresh map[string]time.Time
	refreshStop chan struct{}
	refreshDone chan struct{}
}

// New constructs the adapter and, unless disabled, starts the background
// quota refresher.
func New(cfg *config.Config, cache *tokencache.Cache, dataDir string) *Adapter {
	pool := egress.NewPool(cfg.Grok.ProxyURL, cfg.Grok.ProxyPoolURL, cfg.Grok.ProxyPoolInterval)
	a := &Adapter{
		cfg:         cfg,
		store:       NewStore(cache),
		pool:        pool,
		client:      newClient(&cfg.Grok, pool),
		lastRefresh: make(map[string]time.Time),
	}
	a.imageCache = mediacache.New(dataDir, "image", cfg.Grok.ImageCacheMaxSizeMB, imageFetchTimeout, a.client.fetchAsset)
	a.videoCache = mediacache.New(dataDir, "video", cfg.Grok.VideoCacheMaxSizeMB, videoFetchTimeout, a.client.fetchAsset)
	if cfg.Grok.AutoRefreshEnabled() {
		a.startRefresher()
	}
	return a
}

// Stop shuts the background refresher down.
func (a *Adapter) Stop() {
	if a.refreshStop == nil {
		return
	}
	close(a.refreshStop)
	<-a.refreshDone
	a.refreshStop = nil
}

// TokenStore exposes the token repository for the management surface.
func (a *Adapter) TokenStore() *Store { return a.store }

// ImageCache returns the image media cache.
func (a *Adapter) ImageCache() *mediacache.Cache { return a.imageCache }

// VideoCache returns the video media cache.
func (a *Adapter) VideoCache() *mediacache.Cache { return a.videoCache }

// Models lists the public model ids this adapter serves.
func (a *Adapter) Models() []string {
	ids := make([]string, 0, len(models))
	for _, m := range models {
		ids = append(ids, m.ID)
	}
	return ids
}

// Handle runs one completion request. Callers holding a configured API key
// get a store token selected by quota ranking; any other bearer is treated as
// a raw SSO token and served without store accounting.
func (a *Adapter) Handle(ctx context.Context, callerKey string, request *translator.MiddleContent) (*registry.Result, error) {
	model, ok := LookupModel(request.Model)
	if !ok {
		return nil, registry.NewStatusError(http.StatusBadRequest, "unknown model %s", request.Model)
	}

	var sso string
	pooled := a.cfg.HasKey(callerKey)
	if pooled {
		selected, err := a.store.SelectToken(model)
		if err != nil {
			return nil, err
		}
		sso = selected
	} else {
		sso = callerKey
	}

	var body []byte
	if model.Video {
		videoBody, err := a.buildVideoRequest(ctx, sso, request)
		if err != nil {
			return nil, err
		}
		body = videoBody
	} else {
		body = buildCompletionPayload(&a.cfg.Grok, model, buildMessage(request.Messages), nil)
	}

	resp, err := a.client.do(ctx, http.MethodPost, a.client.endpoint(conversationsPath), body, sso, headerOptions{})
	if err != nil {
		return nil, registry.NewStatusError(http.StatusBadGateway, "grok: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if pooled {
			if errFail := a.store.RecordFailure(sso, resp.StatusCode, fmt.Sprintf("completion returned %d", resp.StatusCode)); errFail != nil {
				log.Warnf("grok: record failure: %v", errFail)
			}
		}
		return nil, registry.NewStatusError(resp.StatusCode, "grok: completion returned %d: %s", resp.StatusCode, truncate(data, 512))
	}

	if pooled {
		if errReset := a.store.ResetFailures(sso); errReset != nil {
			log.Debugf("grok: reset failures: %v", errReset)
		}
		go a.refreshAfterUse(sso, model)
	}

	stream := newOpenAIStream(ctx, resp.Body, streamOptions{
		completionID: "chatcmpl-" + uuid.NewString(),
		model:        request.Model,
		sso:          sso,
		prompt:       buildMessage(request.Messages),
		filteredTags: a.cfg.Grok.Filtered,
		showThinking: a.cfg.Grok.ShowThinking,
		imageMode:    a.cfg.Grok.ImageMode,
		imageCache:   a.imageCache,
		videoCache:   a.videoCache,
	})
	return &registry.Result{Stream: stream}, nil
}

// buildVideoRequest uploads the reference image, wraps it into a post, and
// renders the image-to-video skeleton.
func (a *Adapter) buildVideoRequest(ctx context.Context, sso string, request *translator.MiddleContent) ([]byte, error) {
	image := firstInlineImage(request.Messages)
	if image == nil {
		return nil, registry.NewStatusError(http.StatusBadRequest, "grok: %s requires an input image", request.Model)
	}
	fileID, fileURI, err := a.client.uploadFile(ctx, sso, image)
	if err != nil {
		return nil, err
	}
	postID, err := a.client.createPost(ctx, sso, fileID, fileURI)
	if err != nil {
		return nil, err
	}
	referenceURL := a.client.baseURL + "/imgn/post/" + postID
	return buildVideoPayload(referenceURL, lastUserText(request.Messages), fileID), nil
}

// refreshAfterUse re-polls the model's quota bucket after a served request so
// ranking sees the spend.
func (a *Adapter) refreshAfterUse(sso string, model Model) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.refreshQuota(ctx, sso, model.RateLimitModel); err != nil {
		log.Debugf("grok: post-request quota refresh failed: %v", err)
	}
	a.refreshMu.Lock()
	a.lastRefresh[sso] = time.Now()
	a.refreshMu.Unlock()
}
