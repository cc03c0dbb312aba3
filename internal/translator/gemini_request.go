package translator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ParseGeminiRequest normalizes a Gemini generateContent request into the
// intermediate form. The model comes from the URL path rather than the body;
// stream is forced by the caller for :streamGenerateContent. Each Part becomes
// its own message so ordering inside a Content is preserved.
func ParseGeminiRequest(model string, body []byte, stream bool) (*MiddleContent, error) {
	if model == "" {
		return nil, fmt.Errorf("missing model")
	}
	root := gjson.ParseBytes(body)
	contents := root.Get("contents")
	if !contents.IsArray() || len(contents.Array()) == 0 {
		return nil, fmt.Errorf("missing contents")
	}

	mc := &MiddleContent{Model: model, Stream: stream}
	generation := root.Get("generationConfig")
	assignFloat(&mc.Temperature, generation.Get("temperature"))
	assignFloat(&mc.TopP, generation.Get("topP"))
	assignInt(&mc.TopK, generation.Get("topK"))
	assignInt(&mc.N, generation.Get("candidateCount"))
	assignInt(&mc.Seed, generation.Get("seed"))

	if system := geminiPartsText(root.Get("systemInstruction.parts")); system != "" {
		mc.Messages = append(mc.Messages, Message{Role: RoleSystem, Content: system})
	}
	if tools := root.Get("tools"); tools.Exists() {
		mc.Tools = json.RawMessage(tools.Raw)
	}
	mc.ToolChoice = geminiToolChoice(root.Get("toolConfig.functionCallingConfig"))

	contents.ForEach(func(_, content gjson.Result) bool {
		role := content.Get("role").String()
		middleRole := RoleUser
		if role == "model" {
			middleRole = RoleAssistant
		}
		content.Get("parts").ForEach(func(_, part gjson.Result) bool {
			mc.Messages = append(mc.Messages, geminiPartMessage(middleRole, part)...)
			return true
		})
		return true
	})
	return mc, nil
}

// geminiPartMessage maps a single Part to intermediate messages.
func geminiPartMessage(role string, part gjson.Result) []Message {
	switch {
	case part.Get("text").Exists():
		return []Message{{Role: role, Content: part.Get("text").String()}}
	case part.Get("inlineData").Exists():
		return []Message{{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				Type: "inline_data",
				InlineData: &InlineData{
					MimeType: part.Get("inlineData.mimeType").String(),
					Data:     part.Get("inlineData.data").String(),
				},
			}},
		}}
	case part.Get("functionCall").Exists():
		return []Message{{
			Role: RoleAssistant,
			ToolCalls: []ToolCall{{
				Type: "function",
				Function: &ToolFunction{
					Name:      part.Get("functionCall.name").String(),
					Arguments: part.Get("functionCall.args").Raw,
				},
			}},
		}}
	case part.Get("functionResponse").Exists():
		return []Message{{
			Role:    RoleTool,
			Name:    part.Get("functionResponse.name").String(),
			Content: part.Get("functionResponse.response").Raw,
		}}
	default:
		return nil
	}
}

func geminiPartsText(parts gjson.Result) string {
	if !parts.IsArray() {
		return ""
	}
	var texts []string
	parts.ForEach(func(_, part gjson.Result) bool {
		if text := part.Get("text"); text.Exists() {
			texts = append(texts, text.String())
		}
		return true
	})
	return strings.Join(texts, "\n")
}

// geminiToolChoice maps functionCallingConfig.mode onto the OpenAI tool_choice
// form. A single allowed function under ANY pins that function explicitly.
func geminiToolChoice(cfg gjson.Result) json.RawMessage {
	if !cfg.Exists() {
		return nil
	}
	mode := strings.ToUpper(cfg.Get("mode").String())
	switch mode {
	case "NONE":
		return json.RawMessage(`"none"`)
	case "AUTO":
		return json.RawMessage(`"auto"`)
	case "ANY":
		allowed := cfg.Get("allowedFunctionNames")
		if allowed.IsArray() && len(allowed.Array()) == 1 {
			choice, _ := sjson.Set(`{"type":"function","function":{}}`, "function.name", allowed.Array()[0].String())
			return json.RawMessage(choice)
		}
		return json.RawMessage(`"required"`)
	default:
		return nil
	}
}
