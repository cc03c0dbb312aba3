package grok

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestGenerateStatsigID(t *testing.T) {
	sawNull := false
	sawUndefined := false
	for i := 0; i < 64; i++ {
		id := GenerateStatsigID()
		raw, err := base64.StdEncoding.DecodeString(id)
		if err != nil {
			t.Fatalf("id is not base64: %v", err)
		}
		message := string(raw)
		switch {
		case strings.HasPrefix(message, "e:TypeError: Cannot read properties of null (reading 'children['"):
			sawNull = true
			if !strings.HasSuffix(message, "']')") {
				t.Fatalf("malformed null shape: %q", message)
			}
		case strings.HasPrefix(message, "e:TypeError: Cannot read properties of undefined (reading '"):
			sawUndefined = true
			if !strings.HasSuffix(message, "')") {
				t.Fatalf("malformed undefined shape: %q", message)
			}
		default:
			t.Fatalf("unexpected message shape: %q", message)
		}
	}
	if !sawNull || !sawUndefined {
		t.Fatalf("both shapes should appear over 64 draws (null=%v undefined=%v)", sawNull, sawUndefined)
	}
}
