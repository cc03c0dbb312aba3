package translator

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"
)

// RewrapOpenAIChunkToGemini converts one OpenAI SSE chunk payload into a
// Gemini streamGenerateContent frame. It returns nil for chunks that carry
// nothing Gemini can express (e.g. bare role frames) and for [DONE].
func RewrapOpenAIChunkToGemini(payload []byte) []byte {
	if bytes.Equal(payload, []byte("[DONE]")) {
		return nil
	}
	chunk := gjson.ParseBytes(payload)
	choice := chunk.Get("choices.0")
	// Some upstreams attach the model to the choice instead of the chunk.
	model := chunk.Get("model").String()
	if model == "" {
		model = choice.Get("model").String()
	}
	text := choice.Get("delta.content").String()
	finish := choice.Get("finish_reason")
	hasFinish := finish.Exists() && finish.Type == gjson.String

	if text == "" && !hasFinish {
		return nil
	}

	candidate := map[string]any{
		"content": map[string]any{
			"role":  "model",
			"parts": []map[string]any{{"text": text}},
		},
		"index": 0,
	}
	if hasFinish {
		candidate["finishReason"] = "STOP"
	}
	frame := map[string]any{
		"candidates":   []map[string]any{candidate},
		"modelVersion": model,
	}
	if usage := chunk.Get("usage"); usage.IsObject() {
		frame["usageMetadata"] = geminiUsage(usage)
	}
	data, _ := json.Marshal(frame)
	return data
}

// ConvertOpenAICompletionToGemini converts an aggregated chat.completion
// object into a Gemini generateContent response.
func ConvertOpenAICompletionToGemini(completion []byte) []byte {
	root := gjson.ParseBytes(completion)
	response := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": root.Get("choices.0.message.content").String()}},
			},
			"finishReason": "STOP",
			"index":        0,
		}},
		"modelVersion": root.Get("model").String(),
	}
	if usage := root.Get("usage"); usage.IsObject() {
		response["usageMetadata"] = geminiUsage(usage)
	}
	data, _ := json.Marshal(response)
	return data
}

func geminiUsage(usage gjson.Result) map[string]any {
	prompt := usage.Get("prompt_tokens").Int()
	completion := usage.Get("completion_tokens").Int()
	total := usage.Get("total_tokens").Int()
	if total == 0 {
		total = prompt + completion
	}
	return map[string]any{
		"promptTokenCount":     prompt,
		"candidatesTokenCount": completion,
		"totalTokenCount":      total,
	}
}
