package grok

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
	if opts.completionID == "" {
		opts.completionID = "chatcmpl-test"
	}
	if opts.model == "" {
		opts.model = "grok-3"
	}
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

func streamedText(chunks []gjson.Result) string {
	var sb strings.Builder
	for _, c := range chunks {
		sb.WriteString(c.Get("choices.0.delta.content").String())
	}
	return sb.String()
}

func TestStreamTokens(t *testing.T) {
	upstream := strings.Join([]string{
		`{"result":{"response":{"token":"Hel"}}}`,
		`{"result":{"response":{"token":"lo"}}}`,
		`{"result":{"response":{"finalMetadata":{}}}}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{prompt: "hi"})
	if streamedText(chunks) != "Hello" {
		t.Fatalf("text = %q", streamedText(chunks))
	}
	if chunks[0].Get("choices.0.delta.role").String() != "assistant" {
		t.Fatalf("first chunk missing role: %s", chunks[0].Raw)
	}
	last := chunks[len(chunks)-1]
	if last.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("final chunk = %s", last.Raw)
	}
	if last.Get("usage.total_tokens").Int() == 0 {
		t.Fatalf("usage missing: %s", last.Raw)
	}
}

func TestStreamIgnoresNonResponseLines(t *testing.T) {
	upstream := strings.Join([]string{
		`{"other":{"thing":1}}`,
		`{"result":{"response":{"token":"ok"}}}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{})
	if streamedText(chunks) != "ok" {
		t.Fatalf("text = %q", streamedText(chunks))
	}
}

func TestStreamFiltersTaggedFragments(t *testing.T) {
	upstream := strings.Join([]string{
		`{"result":{"response":{"token":"<xaiVideo>blob</xaiVideo>"}}}`,
		`{"result":{"response":{"token":"kept"}}}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{filteredTags: []string{"xaiVideo"}})
	if streamedText(chunks) != "kept" {
		t.Fatalf("text = %q", streamedText(chunks))
	}
}

func TestStreamHidesThinkingByDefault(t *testing.T) {
	upstream := strings.Join([]string{
		`{"result":{"response":{"token":"pondering","isThinking":true}}}`,
		`{"result":{"response":{"token":"answer"}}}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{})
	if streamedText(chunks) != "answer" {
		t.Fatalf("text = %q", streamedText(chunks))
	}

	chunks = collectStream(t, upstream, streamOptions{showThinking: true})
	if streamedText(chunks) != "ponderinganswer" {
		t.Fatalf("text with thinking = %q", streamedText(chunks))
	}
}

func TestStreamIgnoresArrayTokens(t *testing.T) {
	upstream := strings.Join([]string{
		`{"result":{"response":{"token":["a","b"]}}}`,
		`{"result":{"response":{"token":"text"}}}`,
		"",
	}, "\n")
	chunks := collectStream(t, upstream, streamOptions{})
	if streamedText(chunks) != "text" {
		t.Fatalf("text = %q", streamedText(chunks))
	}
}

func TestContainsFilteredTag(t *testing.T) {
	if !containsFilteredTag("pre <tag> post", []string{"", "<tag>"}) {
		t.Fatal("tag not matched")
	}
	if containsFilteredTag("clean", []string{"<tag>"}) {
		t.Fatal("false positive")
	}
	if containsFilteredTag("anything", []string{""}) {
		t.Fatal("empty tag must be ignored")
	}
}

func TestAssetPath(t *testing.T) {
	if got := assetPath("https://assets.grok.com/users/u1/generated/img.jpg"); got != "/users/u1/generated/img.jpg" {
		t.Fatalf("path = %q", got)
	}
	if got := assetPath("/users/u1/img.jpg"); got != "/users/u1/img.jpg" {
		t.Fatalf("path = %q", got)
	}
}
