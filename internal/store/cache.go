package store

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/aegis-ai/warden/internal/policy"
)

// PolicyCache is a TTL-based in-memory cache with stale-while-revalidate
// for agent policy records. Uses sync.Map for lock-free reads on the hot
// path.
type PolicyCache struct {
	store sync.Map // map[string]*policyCacheEntry
	ttl   time.Duration
}

type policyCacheEntry struct {
	record     *policy.AgentPolicy // nil = negative cache (no stored policy)
	expiresAt  time.Time
	refreshing atomic.Bool
}

// PolicyCacheResult holds the result of a cache lookup.
type PolicyCacheResult struct {
	Record       *policy.AgentPolicy // nil if not found or negative cache
	Hit          bool                // true if a value was found (fresh or stale)
	NeedsRefresh bool                // true if expired — caller should refresh in background
}

// NewPolicyCache creates a cache with the given TTL.
func NewPolicyCache(ttl time.Duration) *PolicyCache {
	return &PolicyCache{ttl: ttl}
}

// Get performs a non-blocking cache lookup.
// Returns stale entries with NeedsRefresh=true when expired.
func (c *PolicyCache) Get(agentID string) PolicyCacheResult {
	val, ok := c.store.Load(agentID)
	if !ok {
		return PolicyCacheResult{Hit: false}
	}

	entry := val.(*policyCacheEntry)
	now := time.Now()

	if now.Before(entry.expiresAt) {
		// Fresh hit
		return PolicyCacheResult{
			Record: entry.record,
			Hit:    true,
		}
	}

	// Stale hit — signal refresh needed (only one goroutine wins the CAS)
	needsRefresh := entry.refreshing.CompareAndSwap(false, true)
	return PolicyCacheResult{
		Record:       entry.record,
		Hit:          true,
		NeedsRefresh: needsRefresh,
	}
}

// Set stores a policy record in the cache with a fresh TTL.
// Passing nil stores a negative cache entry (agent has no stored policy).
func (c *PolicyCache) Set(agentID string, record *policy.AgentPolicy) {
	c.store.Store(agentID, &policyCacheEntry{
		record:    record,
		expiresAt: time.Now().Add(c.ttl),
	})
}

// Delete removes an entry from the cache.
func (c *PolicyCache) Delete(agentID string) {
	c.store.Delete(agentID)
}
