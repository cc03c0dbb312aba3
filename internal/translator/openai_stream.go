package translator

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Usage is the OpenAI usage block reported on the final chunk.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChunkDelta describes one OpenAI streaming delta to serialize.
type ChunkDelta struct {
	ID               string
	Model            string
	Role             string
	Content          string
	ReasoningContent string
	FinishReason     string
	Usage            *Usage
	Created          int64
}

// BuildOpenAIChunk renders a chat.completion.chunk JSON object.
func BuildOpenAIChunk(delta ChunkDelta) []byte {
	if delta.Created == 0 {
		delta.Created = time.Now().Unix()
	}
	type deltaBody struct {
		Role             string `json:"role,omitempty"`
		Content          string `json:"content,omitempty"`
		ReasoningContent string `json:"reasoning_content,omitempty"`
	}
	type choice struct {
		Index        int       `json:"index"`
		Delta        deltaBody `json:"delta"`
		FinishReason *string   `json:"finish_reason"`
	}
	payload := map[string]any{
		"id":      delta.ID,
		"object":  "chat.completion.chunk",
		"created": delta.Created,
		"model":   delta.Model,
		"choices": []choice{{
			Delta: deltaBody{
				Role:             delta.Role,
				Content:          delta.Content,
				ReasoningContent: delta.ReasoningContent,
			},
			FinishReason: optionalString(delta.FinishReason),
		}},
	}
	if delta.Usage != nil {
		payload["usage"] = delta.Usage
	}
	data, _ := json.Marshal(payload)
	return data
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// SSEFrame wraps a JSON payload into a data: frame.
func SSEFrame(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, '\n', '\n')
	return frame
}

// SSEDone is the terminal OpenAI stream frame.
var SSEDone = []byte("data: [DONE]\n\n")

// ScanSSEPayloads reads an SSE stream and invokes fn for every data payload,
// skipping comments and keep-alive frames. fn returning false stops the scan.
func ScanSSEPayloads(r io.Reader, fn func(payload []byte) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == ':' {
			continue
		}
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(line[len("data:"):])
		if len(payload) == 0 {
			continue
		}
		if !fn(payload) {
			return nil
		}
	}
	return scanner.Err()
}

// AggregateOpenAIStream folds an OpenAI SSE stream into a single
// chat.completion object. Content and reasoning deltas are concatenated in
// order; the last observed id, model, finish_reason and usage win.
func AggregateOpenAIStream(r io.Reader) ([]byte, error) {
	var content, reasoning strings.Builder
	var id, model, finishReason string
	var usage *Usage
	var created int64

	err := ScanSSEPayloads(r, func(payload []byte) bool {
		if bytes.Equal(payload, []byte("[DONE]")) {
			return false
		}
		chunk := gjson.ParseBytes(payload)
		if v := chunk.Get("id").String(); v != "" {
			id = v
		}
		if v := chunk.Get("model").String(); v != "" {
			model = v
		}
		if v := chunk.Get("created").Int(); v != 0 {
			created = v
		}
		choice := chunk.Get("choices.0")
		if delta := choice.Get("delta.content"); delta.Exists() {
			content.WriteString(delta.String())
		}
		if delta := choice.Get("delta.reasoning_content"); delta.Exists() {
			reasoning.WriteString(delta.String())
		}
		if v := choice.Get("finish_reason"); v.Exists() && v.Type == gjson.String {
			finishReason = v.String()
		}
		if u := chunk.Get("usage"); u.IsObject() {
			usage = &Usage{
				PromptTokens:     int(u.Get("prompt_tokens").Int()),
				CompletionTokens: int(u.Get("completion_tokens").Int()),
				TotalTokens:      int(u.Get("total_tokens").Int()),
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if id == "" {
		id = fmt.Sprintf("chatcmpl-%d", time.Now().UnixNano())
	}
	if created == 0 {
		created = time.Now().Unix()
	}
	if finishReason == "" {
		finishReason = "stop"
	}

	message := map[string]any{
		"role":    RoleAssistant,
		"content": content.String(),
	}
	if reasoning.Len() > 0 {
		message["reasoning_content"] = reasoning.String()
	}
	completion := map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"created": created,
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       message,
			"finish_reason": finishReason,
		}},
	}
	if usage != nil {
		completion["usage"] = usage
	}
	return json.Marshal(completion)
}
