package ratelimit

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCheck_ConsumesQuotaInOrder(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 2, WindowMinutes: 15}

	wantAllowed := []bool{true, true, false}
	wantRemaining := []int{1, 0, 0}
	for i := range wantAllowed {
		res := l.Check("slack", cfg)
		if res.Allowed != wantAllowed[i] {
			t.Errorf("call %d: allowed = %v, want %v", i+1, res.Allowed, wantAllowed[i])
		}
		if res.Remaining != wantRemaining[i] {
			t.Errorf("call %d: remaining = %d, want %d", i+1, res.Remaining, wantRemaining[i])
		}
		if res.Limit != 2 {
			t.Errorf("call %d: limit = %d, want 2", i+1, res.Limit)
		}
	}
}

func TestCheck_ExhaustedStaysExhausted(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "email", MaxActions: 1, WindowMinutes: 15}

	l.Check("email", cfg)
	for i := 0; i < 5; i++ {
		if res := l.Check("email", cfg); res.Allowed || res.Remaining != 0 {
			t.Fatalf("call %d after exhaustion = %+v, want denied with zero remaining", i+1, res)
		}
	}
}

func TestCheck_WindowRollsOver(t *testing.T) {
	now := time.Date(2026, 3, 9, 9, 0, 0, 0, time.UTC)
	l := NewLimiter()
	l.now = func() time.Time { return now }
	cfg := Config{Service: "slack", MaxActions: 2, WindowMinutes: 15}

	l.Check("slack", cfg)
	l.Check("slack", cfg)
	if res := l.Check("slack", cfg); res.Allowed {
		t.Fatalf("third call = %+v, want denied", res)
	}

	// One minute short of the boundary the window still holds.
	now = now.Add(14 * time.Minute)
	if res := l.Check("slack", cfg); res.Allowed {
		t.Fatalf("call before boundary = %+v, want denied", res)
	}

	// The boundary instant itself starts a fresh window.
	now = now.Add(time.Minute)
	res := l.Check("slack", cfg)
	if !res.Allowed || res.Remaining != 1 {
		t.Fatalf("call at boundary = %+v, want allowed with 1 remaining", res)
	}
}

func TestReset_ClearsWindowImmediately(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 1, WindowMinutes: 15}

	l.Check("slack", cfg)
	if res := l.Check("slack", cfg); res.Allowed {
		t.Fatalf("second call = %+v, want denied", res)
	}

	l.Reset("slack")

	res := l.Check("slack", cfg)
	if !res.Allowed || res.Remaining != 0 {
		t.Fatalf("call after reset = %+v, want allowed with 0 remaining", res)
	}
}

func TestBump_GivesQuotaBack(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "stripe", MaxActions: 2, WindowMinutes: 15}

	l.Check("stripe", cfg)
	l.Check("stripe", cfg)

	// The second action was cancelled before it ran.
	l.Bump("stripe", -1)

	if res := l.Check("stripe", cfg); !res.Allowed {
		t.Fatalf("call after give-back = %+v, want allowed", res)
	}
	if res := l.Check("stripe", cfg); res.Allowed {
		t.Fatalf("call after quota spent again = %+v, want denied", res)
	}
}

func TestBump_NeverDropsBelowZero(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 3, WindowMinutes: 15}

	l.Check("slack", cfg)
	l.Bump("slack", -10)

	count, _, ok := l.Snapshot("slack")
	if !ok || count != 0 {
		t.Fatalf("count after oversized give-back = %d (tracked=%v), want 0", count, ok)
	}
}

func TestBump_UntrackedService(t *testing.T) {
	l := NewLimiter()

	l.Bump("slack", -1)
	if _, _, ok := l.Snapshot("slack"); ok {
		t.Fatal("negative bump on untracked service should not start a window")
	}

	l.Bump("slack", 2)
	count, _, ok := l.Snapshot("slack")
	if !ok || count != 2 {
		t.Fatalf("count after positive bump = %d (tracked=%v), want 2", count, ok)
	}
}

func TestCheck_ServicesAreIndependent(t *testing.T) {
	l := NewLimiter()
	tight := Config{Service: "stripe", MaxActions: 1, WindowMinutes: 15}
	loose := Config{Service: "github", MaxActions: 10, WindowMinutes: 15}

	l.Check("stripe", tight)
	if res := l.Check("stripe", tight); res.Allowed {
		t.Fatalf("stripe after exhaustion = %+v, want denied", res)
	}
	if res := l.Check("github", loose); !res.Allowed || res.Remaining != 9 {
		t.Fatalf("github = %+v, want allowed with 9 remaining", res)
	}
}

func TestCheck_ServiceNamesAreNormalized(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 2, WindowMinutes: 15}

	l.Check("Slack", cfg)
	l.Check(" SLACK ", cfg)
	if res := l.Check("slack", cfg); res.Allowed {
		t.Fatalf("case variants should share one window, got %+v", res)
	}
}

func TestSnapshot_DoesNotConsume(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 5, WindowMinutes: 15}

	l.Check("slack", cfg)
	for i := 0; i < 10; i++ {
		l.Snapshot("slack")
	}
	count, _, ok := l.Snapshot("slack")
	if !ok || count != 1 {
		t.Fatalf("count after snapshots = %d (tracked=%v), want 1", count, ok)
	}
}

func TestCheck_ConcurrentCallsLoseNothing(t *testing.T) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 100, WindowMinutes: 15}

	const calls = 200
	var allowed atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Check("slack", cfg).Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 100 {
		t.Errorf("allowed %d of %d concurrent calls, want exactly 100", got, calls)
	}
	count, _, _ := l.Snapshot("slack")
	if count != calls {
		t.Errorf("window count = %d, want %d", count, calls)
	}
}

func BenchmarkCheck(b *testing.B) {
	l := NewLimiter()
	cfg := Config{Service: "slack", MaxActions: 1 << 30, WindowMinutes: 15}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		l.Check("slack", cfg)
	}
}
