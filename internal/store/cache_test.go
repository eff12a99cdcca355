package store

import (
	"sync"
	"testing"
	"time"

	"github.com/aegis-ai/warden/internal/policy"
)

func allowlistRecord(agentID string, tools ...string) *policy.AgentPolicy {
	return &policy.AgentPolicy{
		AgentID: agentID,
		Tools:   policy.ToolPolicy{Mode: policy.ModeAllowlist, Allowed: tools},
	}
}

func TestPolicyCache_FreshHit(t *testing.T) {
	c := NewPolicyCache(30 * time.Second)
	c.Set("agent-1", allowlistRecord("agent-1", "read_file"))

	result := c.Get("agent-1")
	if !result.Hit {
		t.Fatal("expected cache hit")
	}
	if result.NeedsRefresh {
		t.Fatal("expected fresh, got needs refresh")
	}
	if result.Record.AgentID != "agent-1" {
		t.Fatalf("expected agent-1, got %s", result.Record.AgentID)
	}
}

func TestPolicyCache_Miss(t *testing.T) {
	c := NewPolicyCache(30 * time.Second)
	result := c.Get("nonexistent")
	if result.Hit {
		t.Fatal("expected miss")
	}
	if result.Record != nil {
		t.Fatal("expected nil record on miss")
	}
}

func TestPolicyCache_NegativeCache(t *testing.T) {
	c := NewPolicyCache(30 * time.Second)
	c.Set("agent-1", nil) // negative cache

	result := c.Get("agent-1")
	if !result.Hit {
		t.Fatal("expected cache hit for negative cache")
	}
	if result.Record != nil {
		t.Fatal("expected nil record for negative cache")
	}
}

func TestPolicyCache_StaleHit_ReturnsValueAndSignalsRefresh(t *testing.T) {
	c := NewPolicyCache(1 * time.Millisecond)
	c.Set("agent-1", allowlistRecord("agent-1", "read_file"))

	time.Sleep(5 * time.Millisecond)

	result := c.Get("agent-1")
	if !result.Hit {
		t.Fatal("expected stale hit")
	}
	if !result.NeedsRefresh {
		t.Fatal("expected needs refresh on stale")
	}
	if result.Record.AgentID != "agent-1" {
		t.Fatalf("expected agent-1, got %s", result.Record.AgentID)
	}
}

func TestPolicyCache_StaleHit_OnlyOneRefreshSignal(t *testing.T) {
	c := NewPolicyCache(1 * time.Millisecond)
	c.Set("agent-1", allowlistRecord("agent-1", "read_file"))

	time.Sleep(5 * time.Millisecond)

	refreshCount := 0
	for i := 0; i < 10; i++ {
		result := c.Get("agent-1")
		if result.NeedsRefresh {
			refreshCount++
		}
	}
	if refreshCount != 1 {
		t.Fatalf("expected exactly 1 refresh signal, got %d", refreshCount)
	}
}

func TestPolicyCache_SetAfterStale_ResetsFreshness(t *testing.T) {
	c := NewPolicyCache(1 * time.Millisecond)
	c.Set("agent-1", allowlistRecord("agent-1", "read_file"))

	time.Sleep(5 * time.Millisecond)

	// Re-set refreshes the entry
	c.Set("agent-1", allowlistRecord("agent-1", "read_file", "write_file"))

	result := c.Get("agent-1")
	if !result.Hit {
		t.Fatal("expected hit after re-set")
	}
	if result.NeedsRefresh {
		t.Fatal("expected fresh after re-set")
	}
	if len(result.Record.Tools.Allowed) != 2 {
		t.Fatalf("expected updated record, got %+v", result.Record.Tools)
	}
}

func TestPolicyCache_Delete(t *testing.T) {
	c := NewPolicyCache(30 * time.Second)
	c.Set("agent-1", allowlistRecord("agent-1"))
	c.Delete("agent-1")

	result := c.Get("agent-1")
	if result.Hit {
		t.Fatal("expected miss after delete")
	}
}

func TestPolicyCache_ConcurrentAccess(t *testing.T) {
	c := NewPolicyCache(30 * time.Second)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Set("agent-1", allowlistRecord("agent-1"))
			c.Get("agent-1")
			c.Delete("agent-1")
		}()
	}
	wg.Wait()
}

func TestPolicyCache_ConcurrentStaleRefresh(t *testing.T) {
	c := NewPolicyCache(1 * time.Millisecond)
	c.Set("agent-1", allowlistRecord("agent-1"))

	time.Sleep(5 * time.Millisecond)

	var refreshCount int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := c.Get("agent-1")
			if result.NeedsRefresh {
				mu.Lock()
				refreshCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if refreshCount != 1 {
		t.Fatalf("expected exactly 1 refresh across 50 goroutines, got %d", refreshCount)
	}
}

func BenchmarkPolicyCache_Get_FreshHit(b *testing.B) {
	c := NewPolicyCache(30 * time.Second)
	c.Set("agent-1", allowlistRecord("agent-1", "read_file"))

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c.Get("agent-1")
	}
}
