package egress

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestPoolStaticProxyOnly(t *testing.T) {
	p := NewPool("socks5://127.0.0.1:1080", "", 300)
	if p.Enabled() {
		t.Fatal("pool polling should be off without a pool URL")
	}
	if got := p.Current(context.Background()); got != "socks5h://127.0.0.1:1080" {
		t.Fatalf("current = %q", got)
	}
}

func TestPoolURLThatIsAProxyBecomesStatic(t *testing.T) {
	p := NewPool("", "socks5://10.0.0.9:1080", 300)
	if p.Enabled() {
		t.Fatal("a proxy-shaped pool URL must disable polling")
	}
	if got := p.Current(context.Background()); got != "socks5h://10.0.0.9:1080" {
		t.Fatalf("current = %q", got)
	}
}

func TestPoolFetchesAndRotates(t *testing.T) {
	var serves atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := serves.Add(1)
		fmt.Fprintf(w, "socks5://10.0.0.%d:1080\n", n)
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, 300)
	if !p.Enabled() {
		t.Fatal("pool polling should be on")
	}
	current := time.Unix(10_000, 0)
	p.now = func() time.Time { return current }

	first := p.Current(context.Background())
	if first != "socks5h://10.0.0.1:1080" {
		t.Fatalf("first = %q", first)
	}
	// Within the interval the cached proxy is reused.
	if again := p.Current(context.Background()); again != first {
		t.Fatalf("cached = %q, want %q", again, first)
	}
	if serves.Load() != 1 {
		t.Fatalf("pool fetched %d times, want 1", serves.Load())
	}

	current = current.Add(301 * time.Second)
	second := p.Current(context.Background())
	if second != "socks5h://10.0.0.2:1080" {
		t.Fatalf("rotated = %q", second)
	}
}

func TestPoolForceRefresh(t *testing.T) {
	var serves atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		n := serves.Add(1)
		fmt.Fprintf(w, "socks5://10.0.1.%d:1080", n)
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, 300)
	first := p.Current(context.Background())
	forced := p.ForceRefresh(context.Background())
	if forced == first {
		t.Fatalf("force refresh kept %q", forced)
	}
	if serves.Load() != 2 {
		t.Fatalf("pool fetched %d times, want 2", serves.Load())
	}
}

func TestPoolKeepsLastProxyOnFetchError(t *testing.T) {
	healthy := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if !healthy {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "socks5://10.0.2.1:1080")
	}))
	defer srv.Close()

	p := NewPool("", srv.URL, 300)
	first := p.Current(context.Background())
	if first != "socks5h://10.0.2.1:1080" {
		t.Fatalf("first = %q", first)
	}
	healthy = false
	if got := p.ForceRefresh(context.Background()); got != first {
		t.Fatalf("failed refresh replaced the proxy: %q", got)
	}
}
