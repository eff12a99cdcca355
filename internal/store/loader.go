package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/policy"
)

// AgentPolicySource abstracts the DB lookup for testability.
type AgentPolicySource interface {
	GetAgentPolicy(ctx context.Context, agentID string) (*AgentPolicyRow, error)
}

// CachedPolicyLoader serves agent policies for the decision hot path
// through a stale-while-revalidate cache. Missing agents are negative
// cached so repeat lookups stay off the database.
type CachedPolicyLoader struct {
	source AgentPolicySource
	cache  *PolicyCache
	logger *zap.Logger
}

// CachedPolicyLoaderConfig configures the CachedPolicyLoader.
type CachedPolicyLoaderConfig struct {
	Source   AgentPolicySource
	CacheTTL time.Duration
	Logger   *zap.Logger
}

// NewCachedPolicyLoader creates a new CachedPolicyLoader.
func NewCachedPolicyLoader(cfg CachedPolicyLoaderConfig) *CachedPolicyLoader {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 60 * time.Second
	}
	return &CachedPolicyLoader{
		source: cfg.Source,
		cache:  NewPolicyCache(ttl),
		logger: cfg.Logger,
	}
}

// LoadPolicy returns the agent's stored policy, or nil when the agent has
// none. Stale cache entries are served immediately while one goroutine
// refreshes in the background.
func (l *CachedPolicyLoader) LoadPolicy(ctx context.Context, agentID string) (*policy.AgentPolicy, error) {
	cacheResult := l.cache.Get(agentID)
	if cacheResult.Hit {
		if cacheResult.NeedsRefresh {
			go l.refreshInBackground(agentID)
		}
		return cacheResult.Record, nil
	}

	// Cache miss — fetch from DB
	row, err := l.source.GetAgentPolicy(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("LoadPolicy: %w", err)
	}

	record := row.ToPolicy() // nil row → negative cache
	l.cache.Set(agentID, record)
	return record, nil
}

// Invalidate drops the cached entry after a policy write.
func (l *CachedPolicyLoader) Invalidate(agentID string) {
	l.cache.Delete(agentID)
}

func (l *CachedPolicyLoader) refreshInBackground(agentID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	row, err := l.source.GetAgentPolicy(ctx, agentID)
	if err != nil {
		l.logger.Warn("background policy refresh failed",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return
	}
	l.cache.Set(agentID, row.ToPolicy())
}
