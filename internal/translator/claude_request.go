package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ParseClaudeRequest normalizes an Anthropic messages request body into the
// intermediate form. Assistant tool_use blocks become tool calls; tool_result
// blocks become tool messages, with JSON content surfaced as a synthetic
// function_result call so adapters can render it as structured output.
func ParseClaudeRequest(body []byte) (*MiddleContent, error) {
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
	if tools := root.Get("tools"); tools.Exists() {
		mc.Tools = json.RawMessage(tools.Raw)
	}
	if choice := root.Get("tool_choice"); choice.Exists() {
		mc.ToolChoice = json.RawMessage(choice.Raw)
	}

	if system := flattenClaudeSystem(root.Get("system")); system != "" {
		mc.Messages = append(mc.Messages, Message{Role: RoleSystem, Content: system})
	}

	messages.ForEach(func(_, msg gjson.Result) bool {
		role := msg.Get("role").String()
		content := msg.Get("content")
		if content.Type == gjson.String {
			mc.Messages = append(mc.Messages, Message{Role: role, Content: content.String()})
			return true
		}
		if !content.IsArray() {
			return true
		}
		message := Message{Role: role}
		var texts []string
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				texts = append(texts, block.Get("text").String())
			case "tool_use":
				message.ToolCalls = append(message.ToolCalls, ToolCall{
					ID:   block.Get("id").String(),
					Type: "function",
					Function: &ToolFunction{
						Name:      block.Get("name").String(),
						Arguments: block.Get("input").Raw,
					},
				})
			case "tool_result":
				mc.Messages = append(mc.Messages, claudeToolResultMessage(block))
			}
			return true
		})
		message.Content = strings.Join(texts, "\n")
		if message.Content != "" || len(message.ToolCalls) > 0 {
			mc.Messages = append(mc.Messages, message)
		}
		return true
	})
	return mc, nil
}

// flattenClaudeSystem accepts the top-level system field as a string or as a
// text-only block array and joins it with newlines.
func flattenClaudeSystem(system gjson.Result) string {
	if system.Type == gjson.String {
		return system.String()
	}
	if !system.IsArray() {
		return ""
	}
	var parts []string
	system.ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

func claudeToolResultMessage(block gjson.Result) Message {
	message := Message{
		Role:       RoleTool,
		ToolCallID: block.Get("tool_use_id").String(),
	}
	content := block.Get("content")
	text := content.String()
	if content.IsArray() {
		var parts []string
		content.ForEach(func(_, part gjson.Result) bool {
			if part.Get("type").String() == "text" {
				parts = append(parts, part.Get("text").String())
			}
			return true
		})
		text = strings.Join(parts, "\n")
	}
	if json.Valid([]byte(text)) && (strings.HasPrefix(strings.TrimSpace(text), "{") || strings.HasPrefix(strings.TrimSpace(text), "[")) {
		message.ToolCalls = []ToolCall{{
			ID:   block.Get("tool_use_id").String(),
			Type: "function_result",
			Function: &ToolFunction{
				Name:      "toolResult",
				Arguments: text,
			},
		}}
		return message
	}
	message.Content = text
	return message
}
