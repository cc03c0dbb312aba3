package translator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

func claudeStopReason(finishReason string) string {
	switch finishReason {
	case "length":
		return "max_tokens"
	case "tool_calls":
		return "tool_use"
	default:
		return "end_turn"
	}
}

// ConvertOpenAICompletionToClaude converts an aggregated chat.completion
// object into an Anthropic message response.
func ConvertOpenAICompletionToClaude(completion []byte) []byte {
	root := gjson.ParseBytes(completion)
	id := root.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("msg_%d", time.Now().UnixNano())
	}
	response := map[string]any{
		"id":    id,
		"type":  "message",
		"role":  RoleAssistant,
		"model": root.Get("model").String(),
		"content": []map[string]any{{
			"type": "text",
			"text": root.Get("choices.0.message.content").String(),
		}},
		"stop_reason":   claudeStopReason(root.Get("choices.0.finish_reason").String()),
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  root.Get("usage.prompt_tokens").Int(),
			"output_tokens": root.Get("usage.completion_tokens").Int(),
		},
	}
	data, _ := json.Marshal(response)
	return data
}

// ClaudeStreamRewrapper converts an OpenAI SSE stream into Anthropic
// streaming events. It emits message_start before the first delta,
// content_block_delta frames for content, and the closing
// message_delta/message_stop pair when the OpenAI stream finishes.
type ClaudeStreamRewrapper struct {
	model        string
	messageID    string
	started      bool
	blockOpen    bool
	finishReason string
	outputTokens int
	inputTokens  int
}

// NewClaudeStreamRewrapper creates a rewrapper for one response stream.
func NewClaudeStreamRewrapper(model string) *ClaudeStreamRewrapper {
	return &ClaudeStreamRewrapper{
		model:     model,
		messageID: fmt.Sprintf("msg_%d", time.Now().UnixNano()),
	}
}

func claudeEvent(event string, payload map[string]any) []byte {
	data, _ := json.Marshal(payload)
	var buf bytes.Buffer
	buf.WriteString("event: ")
	buf.WriteString(event)
	buf.WriteString("\ndata: ")
	buf.Write(data)
	buf.WriteString("\n\n")
	return buf.Bytes()
}

// Next translates one OpenAI chunk payload into zero or more Anthropic SSE
// frames. Pass the [DONE] marker as-is; it yields the closing events.
func (w *ClaudeStreamRewrapper) Next(payload []byte) [][]byte {
	if bytes.Equal(payload, []byte("[DONE]")) {
		return w.finish()
	}
	chunk := gjson.ParseBytes(payload)
	if model := chunk.Get("model").String(); model != "" {
		w.model = model
	}
	if usage := chunk.Get("usage"); usage.IsObject() {
		w.inputTokens = int(usage.Get("prompt_tokens").Int())
		w.outputTokens = int(usage.Get("completion_tokens").Int())
	}
	choice := chunk.Get("choices.0")
	if v := choice.Get("finish_reason"); v.Exists() && v.Type == gjson.String {
		w.finishReason = v.String()
	}

	var frames [][]byte
	if !w.started {
		w.started = true
		frames = append(frames, claudeEvent("message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            w.messageID,
				"type":          "message",
				"role":          RoleAssistant,
				"model":         w.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		}))
	}

	text := choice.Get("delta.content").String()
	if text != "" {
		if !w.blockOpen {
			w.blockOpen = true
			frames = append(frames, claudeEvent("content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         0,
				"content_block": map[string]any{"type": "text", "text": ""},
			}))
		}
		frames = append(frames, claudeEvent("content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": 0,
			"delta": map[string]any{"type": "text_delta", "text": text},
		}))
	}
	return frames
}

func (w *ClaudeStreamRewrapper) finish() [][]byte {
	var frames [][]byte
	if w.blockOpen {
		frames = append(frames, claudeEvent("content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": 0,
		}))
	}
	frames = append(frames, claudeEvent("message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   claudeStopReason(w.finishReason),
			"stop_sequence": nil,
		},
		"usage": map[string]any{
			"input_tokens":  w.inputTokens,
			"output_tokens": w.outputTokens,
		},
	}))
	frames = append(frames, claudeEvent("message_stop", map[string]any{"type": "message_stop"}))
	return frames
}
