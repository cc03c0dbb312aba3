package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseOpenAIRequest normalizes an OpenAI chat completion request body into
// the intermediate form. Text-only multimodal parts are concatenated with a
// newline; tool calls are preserved structurally.
func ParseOpenAIRequest(body []byte) (*MiddleContent, error) {
	root := gjson.ParseBytes(body)
	model := root.Get("model").String()
	if model == "" {
		return nil, fmt.Errorf("missing model")
	}
	messages := root.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return nil, fmt.Errorf("missing messages")
	}

	mc := &MiddleContent{
		Model:  model,
		Stream: root.Get("stream").Bool(),
	}
	assignFloat(&mc.Temperature, root.Get("temperature"))
	assignFloat(&mc.TopP, root.Get("top_p"))
	assignInt(&mc.TopK, root.Get("top_k"))
	assignInt(&mc.N, root.Get("n"))
	assignFloat(&mc.PresencePenalty, root.Get("presence_penalty"))
	assignFloat(&mc.FrequencyPenalty, root.Get("frequency_penalty"))
	assignInt(&mc.Seed, root.Get("seed"))
	mc.ReasoningEffort = root.Get("reasoning_effort").String()
	if tools := root.Get("tools"); tools.Exists() {
		mc.Tools = json.RawMessage(tools.Raw)
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		mc.ToolChoice = json.RawMessage(choice.Raw)
	}

	messages.ForEach(func(_, msg gjson.Result) bool {
		message := Message{
			Role:       msg.Get("role").String(),
			Name:       msg.Get("name").String(),
			ToolCallID: msg.Get("tool_call_id").String(),
			Content:    flattenOpenAIContent(msg.Get("content")),
		}
		if calls := msg.Get("tool_calls"); calls.IsArray() {
			message.ToolCalls = parseOpenAIToolCalls(calls)
		}
		message.ToolCalls = append(message.ToolCalls, collectOpenAIImages(msg.Get("content"))...)
		mc.Messages = append(mc.Messages, message)
		return true
	})
	return mc, nil
}

func parseOpenAIToolCalls(calls gjson.Result) []ToolCall {
	var out []ToolCall
	calls.ForEach(func(_, call gjson.Result) bool {
		out = append(out, ToolCall{
			ID:   call.Get("id").String(),
			Type: call.Get("type").String(),
			Function: &ToolFunction{
				Name:      call.Get("function.name").String(),
				Arguments: call.Get("function.arguments").String(),
			},
		})
		return true
	})
	return out
}

// flattenOpenAIContent joins the text parts of a multimodal content array.
func flattenOpenAIContent(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if !content.IsArray() {
		return ""
	}
	var parts []string
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() == "text" {
			parts = append(parts, part.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// collectOpenAIImages pulls data-URL image_url parts out of a multimodal
// content array as inline data attachments. Remote image URLs are skipped;
// adapters that forward images need the bytes.
func collectOpenAIImages(content gjson.Result) []ToolCall {
	if !content.IsArray() {
		return nil
	}
	var out []ToolCall
	content.ForEach(func(_, part gjson.Result) bool {
		if part.Get("type").String() != "image_url" {
			return true
		}
		inline, ok := ParseDataURL(part.Get("image_url.url").String())
		if !ok {
			return true
		}
		out = append(out, ToolCall{Type: "inline_data", InlineData: inline})
		return true
	})
	return out
}

// ParseDataURL splits a data:<mime>;base64,<payload> URL into inline data.
func ParseDataURL(raw string) (*InlineData, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return nil, false
	}
	comma := strings.Index(raw, ",")
	if comma < 0 {
		return nil, false
	}
	meta := raw[len("data:"):comma]
	if !strings.HasSuffix(meta, ";base64") {
		return nil, false
	}
	return &InlineData{
		MimeType: strings.TrimSuffix(meta, ";base64"),
		Data:     raw[comma+1:],
	}, true
}

func assignFloat(dst **float64, value gjson.Result) {
	if value.Exists() && value.Type == gjson.Number {
		v := value.Float()
		*dst = &v
	}
}

func assignInt(dst **int, value gjson.Result) {
	if value.Exists() && value.Type == gjson.Number {
		v := int(value.Int())
		*dst = &v
	}
}
