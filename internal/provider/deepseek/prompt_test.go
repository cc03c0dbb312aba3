package deepseek

import (
	"strings"
	"testing"

	"github.com/router-for-me/WebProxyAPI/internal/translator"
)

func TestBuildPromptSentinels(t *testing.T) {
	prompt := BuildPrompt([]translator.Message{
		{Role: translator.RoleSystem, Content: "be brief"},
		{Role: translator.RoleUser, Content: "hello"},
		{Role: translator.RoleAssistant, Content: "hi"},
		{Role: translator.RoleUser, Content: "bye"},
	})
	want := "be brief" + userPrefix + "hello" + assistantPrefix + "hi" + assistantSuffix + userPrefix + "bye"
	if prompt != want {
		t.Fatalf("prompt = %q, want %q", prompt, want)
	}
}

func TestBuildPromptFirstTurnUnmarked(t *testing.T) {
	prompt := BuildPrompt([]translator.Message{
		{Role: translator.RoleUser, Content: "solo"},
	})
	if prompt != "solo" {
		t.Fatalf("prompt = %q", prompt)
	}
	if strings.Contains(prompt, userPrefix) {
		t.Fatal("first human turn must not carry the user marker")
	}
}

func TestBuildPromptMergesAdjacentRoles(t *testing.T) {
	prompt := BuildPrompt([]translator.Message{
		{Role: translator.RoleAssistant, Content: "one"},
		{Role: translator.RoleAssistant, Content: "two"},
	})
	if got := strings.Count(prompt, assistantPrefix); got != 1 {
		t.Fatalf("assistant prefix appears %d times: %q", got, prompt)
	}
	if !strings.Contains(prompt, "one\n\ntwo") {
		t.Fatalf("merged content missing: %q", prompt)
	}
}

func TestBuildPromptToolOutputs(t *testing.T) {
	prompt := BuildPrompt([]translator.Message{
		{Role: translator.RoleUser, Content: "run it"},
		{Role: translator.RoleTool, ToolCallID: "call_7", Content: `{"ok":true}`},
	})
	if !strings.Contains(prompt, `<|tool_outputs id=call_7|>{"ok":true}`) {
		t.Fatalf("tool frame missing: %q", prompt)
	}
}

func TestBuildPromptDemotesMarkdownImages(t *testing.T) {
	prompt := BuildPrompt([]translator.Message{
		{Role: translator.RoleUser, Content: "see ![chart](https://x.test/a.png) above"},
	})
	if strings.Contains(prompt, "![") {
		t.Fatalf("image markup survived: %q", prompt)
	}
	if !strings.Contains(prompt, "[chart](https://x.test/a.png)") {
		t.Fatalf("link form missing: %q", prompt)
	}
}
