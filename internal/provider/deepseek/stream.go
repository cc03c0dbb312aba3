package deepseek

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
	"github.com/router-for-me/WebProxyAPI/internal/util"
)

const keepAliveInterval = 5 * time.Second

type streamOptions struct {
	completionID string
	model        string
	prompt       string
	thinking     bool
	search       bool
}

// newOpenAIStream converts the upstream DeepSeek SSE body into OpenAI chunk
// frames. The returned reader delivers the transformed stream; closing it or
// cancelling the context stops the upstream read loop. Keep-alive comment
// frames are emitted while no data flows.
func newOpenAIStream(ctx context.Context, upstream io.ReadCloser, opts streamOptions) io.ReadCloser {
	pr, pw := io.Pipe()
	go transformLoop(ctx, upstream, pw, opts)
	return pr
}

func transformLoop(ctx context.Context, upstream io.ReadCloser, pw *io.PipeWriter, opts streamOptions) {
	defer func() { _ = upstream.Close() }()

	var writeMu sync.Mutex
	write := func(frame []byte) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		_, err := pw.Write(frame)
		return err
	}

	// Close the upstream body when the caller goes away so the scanner below
	// unblocks mid-read.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = upstream.Close()
		case <-watchDone:
		}
	}()

	lastWrite := time.Now()
	var lastWriteMu sync.Mutex
	touch := func() {
		lastWriteMu.Lock()
		lastWrite = time.Now()
		lastWriteMu.Unlock()
	}
	keepAliveStop := make(chan struct{})
	defer close(keepAliveStop)
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-keepAliveStop:
				return
			case <-ticker.C:
				lastWriteMu.Lock()
				idle := time.Since(lastWrite)
				lastWriteMu.Unlock()
				if idle >= keepAliveInterval {
					if err := write([]byte(": keep-alive\n\n")); err != nil {
						return
					}
					touch()
				}
			}
		}
	}()

	created := time.Now().Unix()
	roleSent := false
	finished := false
	var contentAcc, reasoningAcc strings.Builder

	emitDelta := func(content, reasoning string) bool {
		if content == "" && reasoning == "" {
			return true
		}
		delta := translator.ChunkDelta{
			ID:               opts.completionID,
			Model:            opts.model,
			Content:          content,
			ReasoningContent: reasoning,
			Created:          created,
		}
		if !roleSent {
			roleSent = true
			delta.Role = translator.RoleAssistant
		}
		contentAcc.WriteString(content)
		reasoningAcc.WriteString(reasoning)
		if err := write(translator.SSEFrame(translator.BuildOpenAIChunk(delta))); err != nil {
			return false
		}
		touch()
		return true
	}

	finish := func() {
		if finished {
			return
		}
		finished = true
		usage := &translator.Usage{
			PromptTokens:     util.EstimateTextTokens(opts.prompt),
			CompletionTokens: util.EstimateTextTokens(contentAcc.String() + reasoningAcc.String()),
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
		_ = write(translator.SSEFrame(translator.BuildOpenAIChunk(delta)))
		_ = write(translator.SSEDone)
	}

	scanner := bufio.NewScanner(upstream)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}
		event := gjson.ParseBytes(payload)
		path := event.Get("p")
		value := event.Get("v")

		if value.IsArray() {
			done := false
			value.ForEach(func(_, item gjson.Result) bool {
				if item.Get("p").String() == "status" && item.Get("v").String() == "FINISHED" {
					done = true
					return false
				}
				return true
			})
			if done {
				finish()
				break
			}
			continue
		}
		if value.Type != gjson.String {
			continue
		}

		switch path.String() {
		case "response/thinking_content":
			if !opts.thinking {
				continue
			}
			if !emitDelta("", value.String()) {
				finished = true
			}
		case "response/search_status":
			// progress noise, not content
		case "response/content", "":
			fragment := value.String()
			if opts.search && strings.HasPrefix(fragment, "[citation:") {
				continue
			}
			if !emitDelta(fragment, "") {
				finished = true
			}
		}
		if finished {
			break
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		log.Debugf("deepseek: upstream stream read error: %v", err)
	}
	if ctx.Err() == nil {
		finish()
	}
	_ = pw.Close()
}
