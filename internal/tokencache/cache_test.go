package tokencache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, data string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestGetTokenReadThrough(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deepseek"), "acct.json", `{"token":"abc"}`)
	c := New(root)
	defer c.Close()

	data := c.GetToken("deepseek", "acct.json")
	if string(data) != `{"token":"abc"}` {
		t.Fatalf("unexpected data %s", data)
	}
	if c.GetToken("deepseek", "missing.json") != nil {
		t.Fatal("missing file should return nil")
	}
}

func TestGetTokenRejectsInvalidJSON(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deepseek"), "bad.json", `{"token":`)
	c := New(root)
	defer c.Close()

	if c.GetToken("deepseek", "bad.json") != nil {
		t.Fatal("corrupt file should be treated as absent")
	}
}

func TestGetTokenEntryTTL(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "deepseek")
	writeFile(t, dir, "acct.json", `{"v":1}`)
	c := New(root)
	defer c.Close()
	current := time.Unix(5000, 0)
	c.now = func() time.Time { return current }

	if string(c.GetToken("deepseek", "acct.json")) != `{"v":1}` {
		t.Fatal("first read failed")
	}
	writeFile(t, dir, "acct.json", `{"v":2}`)

	// Within the TTL the stale copy is served (the watcher may race ahead and
	// invalidate it, which is also valid behavior, so only the post-expiry
	// read is asserted strictly).
	current = current.Add(entryTTL + time.Second)
	if string(c.GetToken("deepseek", "acct.json")) != `{"v":2}` {
		t.Fatal("expired entry not re-read from disk")
	}
}

func TestSaveTokenInvalidatesAndRescans(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	defer c.Close()

	if got := c.GetTokenList("deepseek"); len(got) != 0 {
		t.Fatalf("expected empty list, got %v", got)
	}
	if err := c.SaveToken("deepseek", "new.json", []byte(`{"token":"x"}`)); err != nil {
		t.Fatal(err)
	}
	// SaveToken resets the scan stamp, so the new file shows up immediately
	// despite the 30s scan TTL.
	got := c.GetTokenList("deepseek")
	if len(got) != 1 || got[0] != "new.json" {
		t.Fatalf("list after save = %v", got)
	}
	if string(c.GetToken("deepseek", "new.json")) != `{"token":"x"}` {
		t.Fatal("saved token unreadable")
	}
}

func TestDeleteToken(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	defer c.Close()
	if err := c.SaveToken("deepseek", "gone.json", []byte(`{}`)); err != nil {
		t.Fatal(err)
	}
	if err := c.DeleteToken("deepseek", "gone.json"); err != nil {
		t.Fatal(err)
	}
	if c.GetToken("deepseek", "gone.json") != nil {
		t.Fatal("deleted token still readable")
	}
	if got := c.GetTokenList("deepseek"); len(got) != 0 {
		t.Fatalf("list after delete = %v", got)
	}
}

func TestWatcherInvalidatesExternalEdit(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "deepseek")
	writeFile(t, dir, "acct.json", `{"v":1}`)
	c := New(root)
	defer c.Close()

	// The first list installs the watcher.
	if got := c.GetTokenList("deepseek"); len(got) != 1 {
		t.Fatalf("list = %v", got)
	}
	if string(c.GetToken("deepseek", "acct.json")) != `{"v":1}` {
		t.Fatal("initial read failed")
	}

	writeFile(t, dir, "acct.json", `{"v":2}`)
	deadline := time.Now().Add(3 * time.Second)
	for {
		if string(c.GetToken("deepseek", "acct.json")) == `{"v":2}` {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("external edit never observed via watcher")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestGetAllTokens(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "deepseek")
	writeFile(t, dir, "a.json", `{"n":1}`)
	writeFile(t, dir, "b.json", `{"n":2}`)
	writeFile(t, dir, "notes.txt", "skip me")
	c := New(root)
	defer c.Close()

	tokens := c.GetAllTokens(context.Background(), "deepseek")
	if len(tokens) != 2 {
		t.Fatalf("got %d tokens, want 2", len(tokens))
	}
	if string(tokens["a.json"]) != `{"n":1}` || string(tokens["b.json"]) != `{"n":2}` {
		t.Fatalf("unexpected contents %v", tokens)
	}
}

func TestPreloadProject(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "deepseek")
	writeFile(t, dir, "a.json", `{"n":1}`)
	writeFile(t, dir, "b.json", `{"n":2}`)
	c := New(root)
	defer c.Close()

	c.PreloadProject(context.Background(), "deepseek")

	stats := c.Stats()
	if stats.PerProj["deepseek"] != 2 {
		t.Fatalf("preload cached %d entries, want 2: %+v", stats.PerProj["deepseek"], stats)
	}
}

func TestStats(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "deepseek"), "a.json", `{}`)
	c := New(root)
	defer c.Close()
	c.GetToken("deepseek", "a.json")

	stats := c.Stats()
	if stats.Projects != 1 || stats.Entries != 1 || stats.PerProj["deepseek"] != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
