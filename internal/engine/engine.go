// Package engine runs the ordered authorization pipeline over one
// requested agent action: tool policy, per-turn call cap, service rate
// window, then the risk and access gate.
package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/dryrun"
	"github.com/aegis-ai/warden/internal/policy"
	"github.com/aegis-ai/warden/internal/ratelimit"
	"github.com/aegis-ai/warden/internal/risk"
)

// PolicyLoader supplies the stored policy for an agent. A nil record
// without error means the agent has no stored policy.
type PolicyLoader interface {
	LoadPolicy(ctx context.Context, agentID string) (*policy.AgentPolicy, error)
}

// Request describes one action an agent wants to perform.
type Request struct {
	AgentID string
	Service string
	Action  string
	Target  string
	// TurnCallCount is how many tool calls the agent has already made
	// within the current user turn.
	TurnCallCount int
	// RateOverrides adjusts service quotas for this request only.
	RateOverrides []ratelimit.Config
}

// Decision is the pipeline outcome for one action.
type Decision struct {
	Verdict Verdict
	Source  DecisionSource
	Reason  string
	Risk    risk.Tier
	// Remaining and Limit reflect the service rate window when the
	// pipeline reached it; both stay zero when an earlier stage denied.
	Remaining int
	Limit     int
	// Consumed reports whether this decision took a unit from the
	// service's rate window. Callers hand the unit back with
	// Limiter().Bump(service, -1) when a pending approval is cancelled.
	Consumed bool
}

// Config carries the engine's collaborators. A nil Limiter gets a fresh
// in-memory one; a nil Policies loader means every agent runs under the
// unrestricted default.
type Config struct {
	Policies PolicyLoader
	Limiter  *ratelimit.Limiter
	Logger   *zap.Logger
}

// Engine owns the decision pipeline. Stages run in a fixed order: tool
// policy, per-turn call cap, service rate window, access gate. A policy
// denial returns before the rate window is touched, so blocked actions
// never burn quota; approval-required actions do consume.
type Engine struct {
	policies PolicyLoader
	limiter  *ratelimit.Limiter
	logger   *zap.Logger
}

func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter()
	}
	return &Engine{
		policies: cfg.Policies,
		limiter:  limiter,
		logger:   logger,
	}
}

// Limiter exposes the engine's rate limiter for admin inspection, reset,
// and quota give-back.
func (e *Engine) Limiter() *ratelimit.Limiter {
	return e.limiter
}

// Authorize decides one action. It never returns an error: store
// failures degrade to the unrestricted default and every outcome,
// including denial, is a normal decision value.
func (e *Engine) Authorize(ctx context.Context, req Request) Decision {
	tier := risk.Classify(req.Action)
	record := e.loadPolicy(ctx, req.AgentID)

	var tools *policy.ToolPolicy
	var access map[string]string
	if record != nil {
		tools = &record.Tools
		access = record.ServiceAccess
	}

	pd := policy.Check(req.Action, tools)
	if !pd.Allowed {
		return Decision{
			Verdict: VerdictDeny,
			Source:  SourcePolicy,
			Reason:  "action blocked by tool policy",
			Risk:    tier,
		}
	}

	if policy.OverCallLimit(req.TurnCallCount, tools) {
		return Decision{
			Verdict: VerdictDeny,
			Source:  SourcePolicy,
			Reason:  "per-turn tool call limit reached",
			Risk:    tier,
		}
	}

	cfg := ratelimit.Lookup(req.Service, req.RateOverrides)
	rate := e.limiter.Check(req.Service, cfg)
	if !rate.Allowed {
		return Decision{
			Verdict:  VerdictDeny,
			Source:   SourceRateLimit,
			Reason:   fmt.Sprintf("rate limit exhausted for %s: %d actions per %d minutes", cfg.Service, cfg.MaxActions, cfg.WindowMinutes),
			Risk:     tier,
			Limit:    rate.Limit,
			Consumed: true,
		}
	}

	level := e.accessLevel(access, req.Service, req.AgentID)
	if !level.Permits(tier) {
		return Decision{
			Verdict:   VerdictDeny,
			Source:    SourceAccess,
			Reason:    fmt.Sprintf("%s access to %s does not permit %s-tier actions", level, req.Service, tier),
			Risk:      tier,
			Remaining: rate.Remaining,
			Limit:     rate.Limit,
			Consumed:  true,
		}
	}

	out := Decision{
		Verdict:   VerdictAllow,
		Source:    SourceDefault,
		Risk:      tier,
		Remaining: rate.Remaining,
		Limit:     rate.Limit,
		Consumed:  true,
	}
	switch {
	case pd.RequiresApproval:
		out.Verdict = VerdictRequireApproval
		out.Source = SourcePolicy
		out.Reason = "tool policy requires approval"
	case tier == risk.TierHard:
		out.Verdict = VerdictRequireApproval
		out.Source = SourceRisk
		out.Reason = "hard-risk action requires confirmation"
	}
	return out
}

// EvaluatePlan classifies a batch of proposed steps and reports whether
// the batch needs a single upfront confirmation.
func (e *Engine) EvaluatePlan(steps []dryrun.ProposedStep) (dryrun.Plan, bool) {
	plan := dryrun.NewPlan(steps)
	return plan, dryrun.RequiresConfirm(plan)
}

// loadPolicy fetches the agent's record, degrading to nil (the
// unrestricted default) when no loader is wired or the load fails.
func (e *Engine) loadPolicy(ctx context.Context, agentID string) *policy.AgentPolicy {
	if e.policies == nil {
		return nil
	}
	record, err := e.policies.LoadPolicy(ctx, agentID)
	if err != nil {
		e.logger.Warn("policy load failed, defaulting to unrestricted",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
		return nil
	}
	return record
}

// accessLevel resolves the agent's ceiling for a service. Services the
// record does not mention default to full access.
func (e *Engine) accessLevel(access map[string]string, service, agentID string) risk.Level {
	name := strings.ToLower(strings.TrimSpace(service))
	for k, raw := range access {
		if strings.ToLower(strings.TrimSpace(k)) != name {
			continue
		}
		level, ok := risk.ParseLevel(raw)
		if !ok {
			e.logger.Warn("unknown access level on policy record, treating as full",
				zap.String("agent_id", agentID),
				zap.String("service", service),
				zap.String("level", raw),
			)
			return risk.LevelFull
		}
		return level
	}
	return risk.LevelFull
}
