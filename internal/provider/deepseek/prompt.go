package deepseek

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

const (
	assistantPrefix = "<｜Assistant｜>"
	assistantSuffix = "<｜end▁of▁sentence｜>"
	userPrefix      = "<｜User｜>"
)

var markdownImagePattern = regexp.MustCompile(`!\[([^\]]*)\]\(([^)]+)\)`)

// BuildPrompt flattens the intermediate messages into the single prompt string
// the DeepSeek completion endpoint expects. Adjacent same-role messages merge;
// the first user/system turn is inlined raw, later ones carry the user marker,
// assistant turns are wrapped in the assistant sentinel pair, and tool results
// are framed as tool_outputs blocks. Markdown images are kept but demoted to
// plain links.
func BuildPrompt(messages []translator.Message) string {
	merged := mergeAdjacent(messages)
	var sb strings.Builder
	firstHumanSeen := false
	for _, msg := range merged {
		content := markdownImagePattern.ReplaceAllString(msg.Content, "[$1]($2)")
		switch msg.Role {
		case translator.RoleAssistant:
			sb.WriteString(assistantPrefix)
			sb.WriteString(content)
			sb.WriteString(assistantSuffix)
		case translator.RoleTool:
			sb.WriteString(fmt.Sprintf("<|tool_outputs id=%s|>%s", msg.ToolCallID, content))
		default: // user and system share the human framing
			if !firstHumanSeen {
				firstHumanSeen = true
				sb.WriteString(content)
			} else {
				sb.WriteString(userPrefix)
				sb.WriteString(content)
			}
		}
	}
	return sb.String()
}

// mergeAdjacent joins consecutive same-role messages with a blank line so the
// sentinel framing is emitted once per run.
func mergeAdjacent(messages []translator.Message) []translator.Message {
	var merged []translator.Message
	for _, msg := range messages {
		if n := len(merged); n > 0 && merged[n-1].Role == msg.Role && merged[n-1].ToolCallID == msg.ToolCallID {
			merged[n-1].Content = merged[n-1].Content + "\n\n" + msg.Content
			continue
		}
		merged = append(merged, msg)
	}
	return merged
}
