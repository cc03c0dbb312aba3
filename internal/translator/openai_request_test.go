package translator

import "testing"

func TestParseOpenAIRequestBasic(t *testing.T) {
	body := []byte(`{
		"model": "grok-3",
		"stream": true,
		"temperature": 0.5,
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"}
		]
	}`)
	mc, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if mc.Model != "grok-3" || !mc.Stream {
		t.Fatalf("model=%q stream=%v", mc.Model, mc.Stream)
	}
	if mc.Temperature == nil || *mc.Temperature != 0.5 {
		t.Fatalf("temperature = %v", mc.Temperature)
	}
	if len(mc.Messages) != 2 {
		t.Fatalf("got %d messages", len(mc.Messages))
	}
	if mc.Messages[0].Role != RoleSystem || mc.Messages[0].Content != "be terse" {
		t.Fatalf("system message = %+v", mc.Messages[0])
	}
	if mc.Messages[1].Role != RoleUser || mc.Messages[1].Content != "hello" {
		t.Fatalf("user message = %+v", mc.Messages[1])
	}
}

func TestParseOpenAIRequestMissingFields(t *testing.T) {
	if _, err := ParseOpenAIRequest([]byte(`{"messages":[{"role":"user","content":"hi"}]}`)); err == nil {
		t.Fatal("expected error for missing model")
	}
	if _, err := ParseOpenAIRequest([]byte(`{"model":"m"}`)); err == nil {
		t.Fatal("expected error for missing messages")
	}
	if _, err := ParseOpenAIRequest([]byte(`{"model":"m","messages":[]}`)); err == nil {
		t.Fatal("expected error for empty messages")
	}
}

func TestParseOpenAIRequestMultimodal(t *testing.T) {
	body := []byte(`{
		"model": "grok-4",
		"messages": [{
			"role": "user",
			"content": [
				{"type": "text", "text": "what is"},
				{"type": "image_url", "image_url": {"url": "data:image/png;base64,aGVsbG8="}},
				{"type": "text", "text": "this?"},
				{"type": "image_url", "image_url": {"url": "https://example.com/remote.png"}}
			]
		}]
	}`)
	mc, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	msg := mc.Messages[0]
	if msg.Content != "what is\nthis?" {
		t.Fatalf("content = %q", msg.Content)
	}
	if len(msg.ToolCalls) != 1 {
		t.Fatalf("got %d attachments, want 1 (remote URL must be skipped)", len(msg.ToolCalls))
	}
	inline := msg.ToolCalls[0].InlineData
	if inline == nil || inline.MimeType != "image/png" || inline.Data != "aGVsbG8=" {
		t.Fatalf("inline data = %+v", inline)
	}
}

func TestParseOpenAIRequestToolCalls(t *testing.T) {
	body := []byte(`{
		"model": "m",
		"messages": [{
			"role": "assistant",
			"content": null,
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "lookup", "arguments": "{\"q\":\"go\"}"}
			}]
		}]
	}`)
	mc, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	calls := mc.Messages[0].ToolCalls
	if len(calls) != 1 || calls[0].ID != "call_1" || calls[0].Function.Name != "lookup" {
		t.Fatalf("tool calls = %+v", calls)
	}
	if calls[0].Function.Arguments != `{"q":"go"}` {
		t.Fatalf("arguments = %q", calls[0].Function.Arguments)
	}
}

func TestParseDataURL(t *testing.T) {
	inline, ok := ParseDataURL("data:image/jpeg;base64,Zm9v")
	if !ok || inline.MimeType != "image/jpeg" || inline.Data != "Zm9v" {
		t.Fatalf("inline = %+v ok=%v", inline, ok)
	}
	for _, raw := range []string{
		"https://example.com/a.png",
		"data:image/jpeg,Zm9v",
		"data:image/jpeg;base64",
	} {
		if _, ok := ParseDataURL(raw); ok {
			t.Fatalf("%q should not parse", raw)
		}
	}
}
