package translator

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestBuildOpenAIChunk(t *testing.T) {
	data := BuildOpenAIChunk(ChunkDelta{
		ID:      "chatcmpl-1",
		Model:   "grok-3",
		Role:    RoleAssistant,
		Content: "hi",
	})
	chunk := gjson.ParseBytes(data)
	if chunk.Get("object").String() != "chat.completion.chunk" {
		t.Fatalf("object = %q", chunk.Get("object").String())
	}
	if chunk.Get("choices.0.delta.content").String() != "hi" {
		t.Fatalf("delta = %s", chunk.Get("choices.0.delta").Raw)
	}
	if chunk.Get("choices.0.finish_reason").Type != gjson.Null {
		t.Fatalf("finish_reason should be null, got %s", chunk.Get("choices.0.finish_reason").Raw)
	}
	if chunk.Get("created").Int() == 0 {
		t.Fatal("created not defaulted")
	}

	final := gjson.ParseBytes(BuildOpenAIChunk(ChunkDelta{
		ID:           "chatcmpl-1",
		Model:        "grok-3",
		FinishReason: "stop",
		Usage:        &Usage{PromptTokens: 3, CompletionTokens: 2, TotalTokens: 5},
	}))
	if final.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("finish_reason = %s", final.Get("choices.0.finish_reason").Raw)
	}
	if final.Get("usage.total_tokens").Int() != 5 {
		t.Fatalf("usage = %s", final.Get("usage").Raw)
	}
}

func TestScanSSEPayloads(t *testing.T) {
	stream := strings.Join([]string{
		": keep-alive",
		"",
		"data: {\"a\":1}",
		"event: ping",
		"data:{\"a\":2}",
		"data: [DONE]",
		"",
	}, "\n")
	var got []string
	err := ScanSSEPayloads(strings.NewReader(stream), func(payload []byte) bool {
		got = append(got, string(payload))
		return true
	})
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	want := []string{`{"a":1}`, `{"a":2}`, "[DONE]"}
	if len(got) != len(want) {
		t.Fatalf("payloads = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScanSSEPayloadsStopsEarly(t *testing.T) {
	stream := "data: one\ndata: two\n"
	var got []string
	err := ScanSSEPayloads(strings.NewReader(stream), func(payload []byte) bool {
		got = append(got, string(payload))
		return false
	})
	if err != nil || len(got) != 1 || got[0] != "one" {
		t.Fatalf("got %v err %v", got, err)
	}
}

func TestAggregateOpenAIStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(SSEFrame(BuildOpenAIChunk(ChunkDelta{ID: "chatcmpl-x", Model: "grok-3", Role: RoleAssistant, Content: "Hel"})))
	buf.Write(SSEFrame(BuildOpenAIChunk(ChunkDelta{ID: "chatcmpl-x", Model: "grok-3", ReasoningContent: "thinking"})))
	buf.Write(SSEFrame(BuildOpenAIChunk(ChunkDelta{ID: "chatcmpl-x", Model: "grok-3", Content: "lo"})))
	buf.Write(SSEFrame(BuildOpenAIChunk(ChunkDelta{
		ID: "chatcmpl-x", Model: "grok-3", FinishReason: "stop",
		Usage: &Usage{PromptTokens: 7, CompletionTokens: 2, TotalTokens: 9},
	})))
	buf.Write(SSEDone)

	data, err := AggregateOpenAIStream(&buf)
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	root := gjson.ParseBytes(data)
	if root.Get("object").String() != "chat.completion" {
		t.Fatalf("object = %q", root.Get("object").String())
	}
	if root.Get("id").String() != "chatcmpl-x" {
		t.Fatalf("id = %q", root.Get("id").String())
	}
	if root.Get("choices.0.message.content").String() != "Hello" {
		t.Fatalf("content = %q", root.Get("choices.0.message.content").String())
	}
	if root.Get("choices.0.message.reasoning_content").String() != "thinking" {
		t.Fatalf("reasoning = %q", root.Get("choices.0.message.reasoning_content").String())
	}
	if root.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("finish = %q", root.Get("choices.0.finish_reason").String())
	}
	if root.Get("usage.total_tokens").Int() != 9 {
		t.Fatalf("usage = %s", root.Get("usage").Raw)
	}
}

func TestAggregateOpenAIStreamDefaults(t *testing.T) {
	data, err := AggregateOpenAIStream(strings.NewReader("data: [DONE]\n\n"))
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	root := gjson.ParseBytes(data)
	if root.Get("id").String() == "" {
		t.Fatal("id not defaulted")
	}
	if root.Get("choices.0.finish_reason").String() != "stop" {
		t.Fatalf("finish = %q", root.Get("choices.0.finish_reason").String())
	}
}
