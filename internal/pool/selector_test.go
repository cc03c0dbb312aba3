package pool

import (
	"testing"
	"time"
)

func TestAcquireRoundRobin(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, []string{"one.json", "two.json", "three.json"}, "prov")

	first := s.Acquire("model-a")
	if first != "one.json" {
		t.Fatalf("first acquire = %q, want one.json", first)
	}
	s.Release(first)
	second := s.Acquire("model-a")
	if second != "two.json" {
		t.Fatalf("second acquire = %q, want two.json", second)
	}
	s.Release(second)
}

func TestAcquireExclusiveLease(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, []string{"one.json"}, "prov")

	if got := s.Acquire("model-a"); got != "one.json" {
		t.Fatalf("acquire = %q", got)
	}
	if got := s.Acquire("model-a"); got != "" {
		t.Fatalf("second acquire while leased = %q, want empty", got)
	}
	s.Release("one.json")
	if got := s.Acquire("model-a"); got != "one.json" {
		t.Fatalf("acquire after release = %q", got)
	}
}

func TestSkipWindowExpires(t *testing.T) {
	s := NewSelector()
	current := time.Unix(1000, 0)
	s.now = func() time.Time { return current }
	s.Register([]string{"model-a"}, []string{"one.json", "two.json"}, "prov")

	s.Skip("model-a", "one.json", -1)
	if got := s.Acquire("model-a"); got != "two.json" {
		t.Fatalf("acquire during skip = %q, want two.json", got)
	}
	s.Release("two.json")

	current = current.Add(DefaultSkipDuration + time.Second)
	got := s.Acquire("model-a")
	if got == "" {
		t.Fatal("no credential after skip window expired")
	}
	s.Release(got)
	next := s.Acquire("model-a")
	if next == "" || next == got {
		t.Fatalf("expected the other credential, got %q after %q", next, got)
	}
}

func TestSkipZeroDurationIsNoOp(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, []string{"one.json"}, "prov")

	s.Skip("model-a", "one.json", 0)
	if got := s.Acquire("model-a"); got != "one.json" {
		t.Fatalf("acquire after zero-length skip = %q, want one.json", got)
	}
}

func TestAcquireExcludesTried(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, []string{"one.json", "two.json"}, "prov")

	got := s.Acquire("model-a", "one.json")
	if got != "two.json" {
		t.Fatalf("acquire with exclusion = %q, want two.json", got)
	}
}

func TestUnregisterRemovesFromRings(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, []string{"one.json", "two.json"}, "prov")
	s.Unregister("one.json")

	for i := 0; i < 4; i++ {
		got := s.Acquire("model-a")
		if got == "one.json" {
			t.Fatal("unregistered credential still selectable")
		}
		if got != "" {
			s.Release(got)
		}
	}
}

func TestOwnerTag(t *testing.T) {
	s := NewSelector()
	s.Register([]string{"model-a"}, nil, "prov")
	tag, ok := s.OwnerTag("model-a")
	if !ok || tag != "prov" {
		t.Fatalf("owner tag = %q, %v", tag, ok)
	}
	if _, ok = s.OwnerTag("missing"); ok {
		t.Fatal("unexpected owner tag for unknown model")
	}
}
