// Package dryrun previews a batch of proposed actions and decides
// whether the batch needs a single upfront confirmation.
package dryrun

import (
	"github.com/google/uuid"

	"github.com/aegis-ai/warden/internal/risk"
)

// confirmStepThreshold is the plan size above which even an all-safe
// batch needs confirmation.
const confirmStepThreshold = 3

// ProposedStep is one action as submitted by the agent runtime.
type ProposedStep struct {
	Service string
	Action  string
	Target  string
}

// Step is a proposed action after classification.
type Step struct {
	Index   int
	Service string
	Action  string
	Target  string
	Risk    risk.Tier
}

// Plan is a batch of actions evaluated together before any of them run.
// TotalActions and HighRiskCount are display conveniences computed at
// build time; authoritative counts always come from Steps.
type Plan struct {
	ID            string
	Steps         []Step
	TotalActions  int
	HighRiskCount int
}

// NewPlan classifies each proposed step and assembles a plan under a
// fresh ID.
func NewPlan(steps []ProposedStep) Plan {
	plan := Plan{
		ID:    uuid.New().String(),
		Steps: make([]Step, 0, len(steps)),
	}
	for i, s := range steps {
		tier := risk.Classify(s.Action)
		plan.Steps = append(plan.Steps, Step{
			Index:   i,
			Service: s.Service,
			Action:  s.Action,
			Target:  s.Target,
			Risk:    tier,
		})
		if tier == risk.TierHard {
			plan.HighRiskCount++
		}
	}
	plan.TotalActions = len(plan.Steps)
	return plan
}

// CountHighRisk recomputes the hard-tier step count from Steps, ignoring
// the cached HighRiskCount field, which may have drifted if the plan was
// edited after build.
func CountHighRisk(p Plan) int {
	n := 0
	for _, s := range p.Steps {
		if s.Risk == risk.TierHard {
			n++
		}
	}
	return n
}

// RequiresConfirm reports whether the plan needs a confirmation prompt
// before execution: any hard-tier step, or more steps than the size
// threshold.
func RequiresConfirm(p Plan) bool {
	return CountHighRisk(p) > 0 || len(p.Steps) > confirmStepThreshold
}
