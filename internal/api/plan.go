package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/aegis-ai/warden/internal/audit"
	"github.com/aegis-ai/warden/internal/dryrun"
	"github.com/aegis-ai/warden/internal/risk"
)

// handlePlan implements POST /v1/warden/plan: dry-run evaluation of a
// batch of proposed actions before any of them execute.
func (d *Dependencies) handlePlan(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req PlanRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Steps) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "steps is required"})
		return
	}

	rt := runtimeFromContext(r.Context())
	if rt == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing runtime context"})
		return
	}

	proposed := make([]dryrun.ProposedStep, 0, len(req.Steps))
	for _, s := range req.Steps {
		proposed = append(proposed, dryrun.ProposedStep{
			Service: s.Service,
			Action:  s.Action,
			Target:  s.Target,
		})
	}

	plan, confirm := d.Engine.EvaluatePlan(proposed)

	responseConfirm := confirm
	isShadow := false
	if rt.Mode == "shadow" && confirm {
		isShadow = true
		responseConfirm = false
	}

	verdict := "allow"
	source := "default"
	if confirm {
		verdict = "require_approval"
		source = "risk"
	}
	d.Writer.Write(&audit.Event{
		RequestID: plan.ID,
		RuntimeID: rt.ID,
		AgentID:   req.AgentID,
		Timestamp: time.Now(),
		Service:   "dryrun",
		Action:    "evaluate_plan",
		Verdict:   verdict,
		Source:    source,
		Reason:    fmt.Sprintf("%d steps, %d high-risk", plan.TotalActions, plan.HighRiskCount),
		Risk:      planTier(plan).String(),
		LatencyMs: float32(time.Since(start)) / float32(time.Millisecond),
		IsShadow:  isShadow,
	})

	steps := make([]PlanStepResp, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		steps = append(steps, PlanStepResp{
			Index:    s.Index,
			Service:  s.Service,
			Action:   s.Action,
			Target:   s.Target,
			Risk:     s.Risk.String(),
			RiskMeta: risk.TierMeta(s.Risk),
		})
	}

	writeJSON(w, http.StatusOK, PlanResponse{
		PlanID:          plan.ID,
		RequiresConfirm: responseConfirm,
		TotalActions:    plan.TotalActions,
		HighRiskCount:   plan.HighRiskCount,
		Steps:           steps,
		IsShadow:        isShadow,
	})
}

// planTier returns the highest tier present in the plan, for the audit
// record's risk column.
func planTier(p dryrun.Plan) risk.Tier {
	top := risk.TierAuto
	for _, s := range p.Steps {
		if s.Risk > top {
			top = s.Risk
		}
	}
	return top
}
