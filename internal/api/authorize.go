package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-ai/warden/internal/audit"
	"github.com/aegis-ai/warden/internal/engine"
	"github.com/aegis-ai/warden/internal/risk"
)

// handleAuthorize implements POST /v1/warden/authorize.
// Auth middleware has already validated the Bearer key and injected the runtime.
func (d *Dependencies) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req AuthorizeRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.AgentID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "agent_id is required"})
		return
	}
	if req.Service == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "service is required"})
		return
	}
	if req.Action == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "action is required"})
		return
	}

	rt := runtimeFromContext(r.Context())
	if rt == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing runtime context"})
		return
	}

	decision := d.Engine.Authorize(r.Context(), engine.Request{
		AgentID:       req.AgentID,
		Service:       req.Service,
		Action:        req.Action,
		Target:        req.Target,
		TurnCallCount: req.TurnCallCount,
		RateOverrides: d.RateOverrides,
	})
	engineLatencyMs := float64(time.Since(start)) / float64(time.Millisecond)

	// Shadow mode: report the action as allowed while auditing the real
	// verdict, so operators can trial policies without breaking agents.
	responseVerdict := decision.Verdict
	isShadow := false
	if rt.Mode == "shadow" && decision.Verdict != engine.VerdictAllow {
		isShadow = true
		responseVerdict = engine.VerdictAllow
	}

	requestID := uuid.New().String()

	// Fire-and-forget: persist the decision event
	d.Writer.Write(&audit.Event{
		RequestID:     requestID,
		RuntimeID:     rt.ID,
		AgentID:       req.AgentID,
		Timestamp:     time.Now(),
		Service:       req.Service,
		Action:        req.Action,
		Target:        audit.Preview(req.Target, audit.TargetPreviewLength),
		Verdict:       decision.Verdict.String(),
		Source:        decision.Source.String(),
		Reason:        decision.Reason,
		Risk:          decision.Risk.String(),
		RateRemaining: int32(decision.Remaining),
		LatencyMs:     float32(engineLatencyMs),
		IsShadow:      isShadow,
	})

	var remaining, limit *int
	if decision.Consumed {
		rem, lim := decision.Remaining, decision.Limit
		remaining, limit = &rem, &lim
	}
	var reason *string
	if decision.Reason != "" {
		reason = &decision.Reason
	}

	writeJSON(w, http.StatusOK, AuthorizeResponse{
		Allowed:          responseVerdict != engine.VerdictDeny,
		Verdict:          responseVerdict.String(),
		RequiresApproval: responseVerdict == engine.VerdictRequireApproval,
		Risk:             decision.Risk.String(),
		RiskMeta:         risk.TierMeta(decision.Risk),
		Remaining:        remaining,
		Limit:            limit,
		RequestID:        requestID,
		IsShadow:         isShadow,
		Reason:           reason,
		Source:           decision.Source.String(),
		LatencyMs:        float64(time.Since(start)) / float64(time.Millisecond),
	})
}
