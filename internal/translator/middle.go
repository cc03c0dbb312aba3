// Package translator converts between the OpenAI, Gemini and Anthropic chat
// request shapes and a single intermediate form, and converts streaming and
// non-streaming responses back into the caller's native format. All provider
// adapters consume the intermediate form only.
package translator

import "encoding/json"

// Role names used in the intermediate message form.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolFunction is the function payload of a tool call. Arguments stay a raw
// JSON string, matching the OpenAI wire form.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// InlineData carries base64 media attached to a message (Gemini inlineData).
type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// ToolCall is either a function invocation or an inline data attachment.
type ToolCall struct {
	ID         string        `json:"id,omitempty"`
	Type       string        `json:"type,omitempty"`
	Function   *ToolFunction `json:"function,omitempty"`
	InlineData *InlineData   `json:"inlineData,omitempty"`
}

// Message is a single turn in the intermediate conversation form.
type Message struct {
	Role             string     `json:"role"`
	Content          string     `json:"content"`
	Name             string     `json:"name,omitempty"`
	ToolCalls        []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID       string     `json:"tool_call_id,omitempty"`
	ReasoningContent string     `json:"reasoning_content,omitempty"`
}

// MiddleContent is the normalized request every adapter receives.
type MiddleContent struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	TopK             *int            `json:"top_k,omitempty"`
	N                *int            `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	ReasoningEffort  string          `json:"reasoning_effort,omitempty"`
}
