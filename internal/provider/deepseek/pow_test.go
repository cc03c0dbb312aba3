package deepseek

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestPowChallengePrefix(t *testing.T) {
	c := &PowChallenge{Salt: "abc", ExpireAt: 1700000000}
	if got := c.Prefix(); got != "abc_1700000000_" {
		t.Fatalf("prefix = %q", got)
	}
	// Challenges without expire_at fall back to the web client's fixed value.
	c = &PowChallenge{Salt: "abc"}
	if got := c.Prefix(); got != "abc_1680000000_" {
		t.Fatalf("fallback prefix = %q", got)
	}
}

func TestSolveRejectsUnknownAlgorithm(t *testing.T) {
	s := NewPowSolver("")
	defer s.Close(context.Background())
	_, err := s.Solve(context.Background(), &PowChallenge{Algorithm: "SHA256V9"})
	if err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestArtifactFromDisk(t *testing.T) {
	want := bytes.Repeat([]byte{0x42}, minPowArtifactSize)
	path := filepath.Join(t.TempDir(), "solver.wasm")
	if err := os.WriteFile(path, want, 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewPowSolver(path)
	got, err := s.artifact()
	if err != nil {
		t.Fatalf("artifact: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("artifact does not match the configured file")
	}
}

func TestArtifactRejectsPlaceholder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solver.wasm")
	if err := os.WriteFile(path, []byte("\x00asm\x01\x00\x00\x00"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := NewPowSolver(path)
	if err := s.CheckArtifact(); err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Fatalf("CheckArtifact = %v, want placeholder rejection", err)
	}

	// Solve must surface the same failure instead of running the stand-in.
	_, err := s.Solve(context.Background(), &PowChallenge{Algorithm: powAlgorithm})
	if err == nil || !strings.Contains(err.Error(), "placeholder") {
		t.Fatalf("Solve = %v, want placeholder rejection", err)
	}
}

func TestArtifactMissingFile(t *testing.T) {
	s := NewPowSolver(filepath.Join(t.TempDir(), "absent.wasm"))
	if err := s.CheckArtifact(); err == nil {
		t.Fatal("expected error for missing artifact file")
	}
}

func TestPowResponseHeader(t *testing.T) {
	c := &PowChallenge{
		Algorithm:  powAlgorithm,
		Challenge:  "deadbeef",
		Salt:       "abc",
		Signature:  "sig",
		TargetPath: "/api/v0/chat/completion",
	}
	raw, err := base64.StdEncoding.DecodeString(PowResponseHeader(c, 4242))
	if err != nil {
		t.Fatalf("header is not base64: %v", err)
	}
	payload := gjson.ParseBytes(raw)
	if payload.Get("algorithm").String() != powAlgorithm {
		t.Fatalf("algorithm = %q", payload.Get("algorithm").String())
	}
	if payload.Get("answer").Int() != 4242 {
		t.Fatalf("answer = %d", payload.Get("answer").Int())
	}
	if payload.Get("salt").String() != "abc" || payload.Get("target_path").String() != "/api/v0/chat/completion" {
		t.Fatalf("payload = %s", payload.Raw)
	}
}
