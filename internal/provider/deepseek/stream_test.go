package deepseek

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
	"github.com/tidwall/gjson"
)

func collectStream(t *testing.T, upstream string, opts streamOptions) []gjson.Result {
	t.Helper()
	body := io.NopCloser(strings.NewReader(upstream))
	stream := newOpenAIStream(context.Background(), body, opts)
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	var chunks []gjson.Result
	sawDone := false
	err = translator.ScanSSEPayloads(strings.NewReader(string(data)), func(payload []byte) bool {
		if string(payload) == "[DONE]" {
			sawDone = true
			return true
		}
		chunks = append(chunks, gjson.ParseBytes(payload))
		return true
	})
	if err != nil {
		t.Fatalf("scan output: %v", err)
	}
	if !sawDone {
		t.Fatal("stream did not terminate with [DONE]")
	}
	return chunks
}

func TestStreamTransformContent(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"p":"response/content","v":"Hel"}`,
		`data: {"v":"lo"}`,
		`data: {"v":[{"p":"status","v":"FINISHED"}]}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{
		completionID: "chatcmpl-t", model: "deepseek-chat", prompt: "hi",
	})
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks", len(chunks))
	}
	if chunks[0].Get("choices.0.delta.role").String() != "assistant" {
		t.Fatalf("first chunk missing role: %s", chunks[0].Raw)
	}
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Get("choices.0.delta.content").String())
	}
	if text.String() != "Hello" {
		t.Fatalf("content = %q", text.String())
	}
	last := chunks[len(chunks)-1]
	if last.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("final chunk = %s", last.Raw)
	}
	if last.Get("usage.total_tokens").Int() == 0 {
		t.Fatalf("usage missing: %s", last.Raw)
	}
}

func TestStreamThinkingHiddenByDefault(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"p":"response/thinking_content","v":"pondering"}`,
		`data: {"p":"response/content","v":"answer"}`,
		`data: {"v":[{"p":"status","v":"FINISHED"}]}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{completionID: "c", model: "m"})
	for _, c := range chunks {
		if c.Get("choices.0.delta.reasoning_content").String() != "" {
			t.Fatalf("reasoning leaked: %s", c.Raw)
		}
	}
}

func TestStreamThinkingExposedWhenEnabled(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"p":"response/thinking_content","v":"pondering"}`,
		`data: {"v":[{"p":"status","v":"FINISHED"}]}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{completionID: "c", model: "m", thinking: true})
	var reasoning strings.Builder
	for _, c := range chunks {
		reasoning.WriteString(c.Get("choices.0.delta.reasoning_content").String())
	}
	if reasoning.String() != "pondering" {
		t.Fatalf("reasoning = %q", reasoning.String())
	}
}

func TestStreamDropsCitationsInSearchMode(t *testing.T) {
	upstream := strings.Join([]string{
		`data: {"p":"response/content","v":"[citation:3]"}`,
		`data: {"p":"response/content","v":"fact"}`,
		`data: {"v":[{"p":"status","v":"FINISHED"}]}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{completionID: "c", model: "m", search: true})
	var text strings.Builder
	for _, c := range chunks {
		text.WriteString(c.Get("choices.0.delta.content").String())
	}
	if text.String() != "fact" {
		t.Fatalf("content = %q", text.String())
	}
}

func TestStreamFinishesOnUpstreamEOF(t *testing.T) {
	// Upstream hangs up without the FINISHED status; the final chunk must
	// still be emitted.
	chunks := collectStream(t, `data: {"p":"response/content","v":"partial"}`+"\n", streamOptions{
		completionID: "c", model: "m",
	})
	last := chunks[len(chunks)-1]
	if last.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("final chunk = %s", last.Raw)
	}
}
