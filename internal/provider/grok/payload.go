package grok

import (
	"encoding/json"
	"strings"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

const conversationsPath = "/rest/app-chat/conversations/new"

// buildMessage flattens the intermediate conversation into the single message
// string the conversations endpoint accepts. A lone user message goes through
// verbatim; multi-turn histories are replayed with role prefixes.
func buildMessage(messages []translator.Message) string {
	if len(messages) == 1 && messages[0].Role == translator.RoleUser {
		return messages[0].Content
	}
	var sb strings.Builder
	for _, msg := range messages {
		if msg.Content == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(msg.Role)
		sb.WriteString(": ")
		sb.WriteString(msg.Content)
	}
	return sb.String()
}

// firstInlineImage returns the first inline image attached to any message.
func firstInlineImage(messages []translator.Message) *translator.InlineData {
	for _, msg := range messages {
		for _, call := range msg.ToolCalls {
			if call.InlineData != nil && strings.HasPrefix(call.InlineData.MimeType, "image/") {
				return call.InlineData
			}
		}
	}
	return nil
}

// lastUserText returns the text of the final user turn.
func lastUserText(messages []translator.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == translator.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

// buildCompletionPayload renders the conversations/new body for text models.
// The option set is fixed; only the model binding, message and attachments
// vary per request.
func buildCompletionPayload(cfg *config.GrokConfig, model Model, message string, fileAttachments []string) []byte {
	if fileAttachments == nil {
		fileAttachments = []string{}
	}
	payload := map[string]any{
		"temporary":                 cfg.Temporary,
		"modelName":                 model.GrokModel,
		"message":                   message,
		"fileAttachments":           fileAttachments,
		"imageAttachments":          []string{},
		"disableSearch":             false,
		"enableImageGeneration":     true,
		"returnImageBytes":          false,
		"returnRawGrokInXaiRequest": false,
		"enableImageStreaming":      true,
		"imageGenerationCount":      2,
		"forceConcise":              false,
		"toolOverrides":             map[string]any{},
		"enableSideBySide":          true,
		"sendFinalMetadata":         true,
		"isReasoning":               false,
		"webpageUrls":               []string{},
		"disableTextFollowUps":      true,
		"responseMetadata": map[string]any{
			"requestModelDetails": map[string]any{"modelId": model.GrokModel},
		},
		"disableMemory":   false,
		"forceSideBySide": false,
		"modelMode":       model.ModelMode,
		"isAsyncChat":     false,
	}
	data, _ := json.Marshal(payload)
	return data
}

// buildVideoPayload renders the image-to-video skeleton. The reference URL
// comes from create-post and the prompt text from the final user turn.
func buildVideoPayload(referenceURL, userText, fileID string) []byte {
	payload := map[string]any{
		"temporary":       true,
		"modelName":       "grok-3",
		"message":         referenceURL + "  " + userText + " --mode=custom",
		"fileAttachments": []string{fileID},
		"toolOverrides":   map[string]any{"videoGen": true},
	}
	data, _ := json.Marshal(payload)
	return data
}
