package grok

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/WebProxyAPI/internal/mediacache"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
	"github.com/router-for-me/WebProxyAPI/internal/util"
)

type streamOptions struct {
	completionID string
	model        string
	sso          string
	prompt       string
	filteredTags []string
	showThinking bool
	imageMode    string
	imageCache   *mediacache.Cache
	videoCache   *mediacache.Cache
}

// newOpenAIStream converts the upstream NDJSON response into OpenAI chunk
// frames. Each line carries a result.response object: token fragments become
// deltas, generated media is pulled through the caches and re-emitted as
// Markdown or HTML.
func newOpenAIStream(ctx context.Context, upstream io.ReadCloser, opts streamOptions) io.ReadCloser {
	pr, pw := io.Pipe()
	go transformLoop(ctx, upstream, pw, opts)
	return pr
}

func transformLoop(ctx context.Context, upstream io.ReadCloser, pw *io.PipeWriter, opts streamOptions) {
	defer func() { _ = upstream.Close() }()

	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = upstream.Close()
		case <-watchDone:
		}
	}()

	created := time.Now().Unix()
	roleSent := false
	finished := false
	var contentAcc strings.Builder

	emitDelta := func(content string) bool {
		if content == "" {
			return true
		}
		delta := translator.ChunkDelta{
			ID:      opts.completionID,
			Model:   opts.model,
			Content: content,
			Created: created,
		}
		if !roleSent {
			roleSent = true
			delta.Role = translator.RoleAssistant
		}
		contentAcc.WriteString(content)
		_, err := pw.Write(translator.SSEFrame(translator.BuildOpenAIChunk(delta)))
		return err == nil
	}

	finish := func() {
		if finished {
			return
		}
		finished = true
		usage := &translator.Usage{
			PromptTokens:     util.EstimateTextTokens(opts.prompt),
			CompletionTokens: util.EstimateTextTokens(contentAcc.String()),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		delta := translator.ChunkDelta{
			ID:           opts.completionID,
			Model:        opts.model,
			FinishReason: "stop",
			Usage:        usage,
			Created:      created,
		}
		if !roleSent {
			roleSent = true
			delta.Role = translator.RoleAssistant
		}
		_, _ = pw.Write(translator.SSEFrame(translator.BuildOpenAIChunk(delta)))
		_, _ = pw.Write(translator.SSEDone)
	}

	cookie := Cookie(opts.sso)
	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 64*1024), 20*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		response := gjson.GetBytes(line, "result.response")
		if !response.Exists() {
			continue
		}

		if videoURL := response.Get("streamingVideoGenerationResponse.videoUrl").String(); videoURL != "" {
			if html, err := cacheVideo(ctx, opts.videoCache, videoURL, cookie); err != nil {
				log.Warnf("grok: video download failed: %v", err)
			} else if !emitDelta(html) {
				finished = true
			}
			finish()
			break
		}

		if images := response.Get("modelResponse.generatedImageUrls"); images.IsArray() && len(images.Array()) > 0 {
			var parts []string
			images.ForEach(func(_, image gjson.Result) bool {
				rendered, err := renderImage(ctx, opts, image.String(), cookie)
				if err != nil {
					log.Warnf("grok: image download failed: %v", err)
					return true
				}
				parts = append(parts, rendered)
				return true
			})
			if !emitDelta(strings.Join(parts, "\n")) {
				finished = true
			}
			finish()
			break
		}

		token := response.Get("token")
		if !token.Exists() || token.IsArray() {
			continue
		}
		fragment := token.String()
		if fragment == "" || containsFilteredTag(fragment, opts.filteredTags) {
			continue
		}
		if !opts.showThinking && response.Get("isThinking").Bool() {
			continue
		}
		if !emitDelta(fragment) {
			finished = true
		}
		if finished {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Debugf("grok: upstream stream read error: %v", err)
	}
	if ctx.Err() == nil {
		finish()
	}
	_ = pw.Close()
}

func containsFilteredTag(fragment string, tags []string) bool {
	for _, tag := range tags {
		if tag != "" && strings.Contains(fragment, tag) {
			return true
		}
	}
	return false
}

// assetPath extracts the path component of a generated media URL.
func assetPath(raw string) string {
	if parsed, err := url.Parse(raw); err == nil && parsed.Path != "" {
		return parsed.Path
	}
	return raw
}

func cacheVideo(ctx context.Context, cache *mediacache.Cache, videoURL, cookie string) (string, error) {
	path := assetPath(videoURL)
	if _, err := cache.Get(ctx, path, cookie); err != nil {
		return "", err
	}
	src := "/images/video/" + mediacache.Flatten(path)
	return fmt.Sprintf(`<video src=%q controls width=500 height=300></video>`, src), nil
}

func renderImage(ctx context.Context, opts streamOptions, imageURL, cookie string) (string, error) {
	path := assetPath(imageURL)
	if opts.imageMode == "base64" {
		dataURL, err := opts.imageCache.GetAsBase64(ctx, path, cookie)
		if err != nil {
			return "", err
		}
		return "![Generated Image](" + dataURL + ")", nil
	}
	if _, err := opts.imageCache.Get(ctx, path, cookie); err != nil {
		return "", err
	}
	return "![Generated Image](/images/image/" + mediacache.Flatten(path) + ")", nil
}
