package grok

import (
	"testing"

	"github.com/router-for-me/WebProxyAPI/internal/config"
	"github.com/router-for-me/WebProxyAPI/internal/translator"
	"github.com/tidwall/gjson"
)

func TestBuildMessageSingleUserTurn(t *testing.T) {
	got := buildMessage([]translator.Message{
		{Role: translator.RoleUser, Content: "just this"},
	})
	if got != "just this" {
		t.Fatalf("message = %q", got)
	}
}

func TestBuildMessageMultiTurn(t *testing.T) {
	got := buildMessage([]translator.Message{
		{Role: translator.RoleSystem, Content: "be brief"},
		{Role: translator.RoleUser, Content: "hi"},
		{Role: translator.RoleAssistant, Content: ""},
		{Role: translator.RoleAssistant, Content: "hello"},
	})
	want := "system: be brief\n\nuser: hi\n\nassistant: hello"
	if got != want {
		t.Fatalf("message = %q, want %q", got, want)
	}
}

func TestFirstInlineImage(t *testing.T) {
	messages := []translator.Message{
		{Role: translator.RoleUser, Content: "x", ToolCalls: []translator.ToolCall{
			{Type: "inline_data", InlineData: &translator.InlineData{MimeType: "application/pdf", Data: "cGRm"}},
		}},
		{Role: translator.RoleUser, ToolCalls: []translator.ToolCall{
			{Type: "inline_data", InlineData: &translator.InlineData{MimeType: "image/png", Data: "aW1n"}},
		}},
	}
	inline := firstInlineImage(messages)
	if inline == nil || inline.MimeType != "image/png" {
		t.Fatalf("inline = %+v", inline)
	}
	if firstInlineImage(nil) != nil {
		t.Fatal("no messages should yield nil")
	}
}

func TestLastUserText(t *testing.T) {
	messages := []translator.Message{
		{Role: translator.RoleUser, Content: "first"},
		{Role: translator.RoleAssistant, Content: "mid"},
		{Role: translator.RoleUser, Content: "last"},
	}
	if got := lastUserText(messages); got != "last" {
		t.Fatalf("last user text = %q", got)
	}
}

func TestBuildCompletionPayload(t *testing.T) {
	cfg := &config.GrokConfig{Temporary: true}
	model, _ := LookupModel("grok-4")
	payload := gjson.ParseBytes(buildCompletionPayload(cfg, model, "hello", nil))

	if !payload.Get("temporary").Bool() {
		t.Fatal("temporary not propagated")
	}
	if payload.Get("modelName").String() != "grok-4" {
		t.Fatalf("modelName = %q", payload.Get("modelName").String())
	}
	if payload.Get("modelMode").String() != "MODEL_MODE_EXPERT" {
		t.Fatalf("modelMode = %q", payload.Get("modelMode").String())
	}
	if payload.Get("message").String() != "hello" {
		t.Fatalf("message = %q", payload.Get("message").String())
	}
	if !payload.Get("fileAttachments").IsArray() || len(payload.Get("fileAttachments").Array()) != 0 {
		t.Fatalf("fileAttachments = %s", payload.Get("fileAttachments").Raw)
	}
	if payload.Get("imageGenerationCount").Int() != 2 {
		t.Fatalf("imageGenerationCount = %d", payload.Get("imageGenerationCount").Int())
	}
	if !payload.Get("disableTextFollowUps").Bool() {
		t.Fatal("disableTextFollowUps must be set")
	}
	if payload.Get("responseMetadata.requestModelDetails.modelId").String() != "grok-4" {
		t.Fatalf("responseMetadata = %s", payload.Get("responseMetadata").Raw)
	}
}

func TestBuildVideoPayload(t *testing.T) {
	payload := gjson.ParseBytes(buildVideoPayload("https://grok.com/imgn/post/p1", "make it move", "file-1"))
	if !payload.Get("temporary").Bool() {
		t.Fatal("video requests are always temporary")
	}
	if payload.Get("modelName").String() != "grok-3" {
		t.Fatalf("modelName = %q", payload.Get("modelName").String())
	}
	want := "https://grok.com/imgn/post/p1  make it move --mode=custom"
	if payload.Get("message").String() != want {
		t.Fatalf("message = %q", payload.Get("message").String())
	}
	if payload.Get("fileAttachments.0").String() != "file-1" {
		t.Fatalf("fileAttachments = %s", payload.Get("fileAttachments").Raw)
	}
	if !payload.Get("toolOverrides.videoGen").Bool() {
		t.Fatalf("toolOverrides = %s", payload.Get("toolOverrides").Raw)
	}
}

func TestCookie(t *testing.T) {
	if got := Cookie("tok123"); got != "sso-rw=tok123;sso=tok123" {
		t.Fatalf("cookie = %q", got)
	}
}
