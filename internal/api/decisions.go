package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/audit"
)

func (d *Dependencies) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := audit.ListDecisionsParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("runtime_id"); v != "" {
		params.RuntimeID = &v
	}
	if v := q.Get("agent_id"); v != "" {
		params.AgentID = &v
	}
	if v := q.Get("service"); v != "" {
		params.Service = &v
	}
	if v := q.Get("verdict"); v != "" {
		params.Verdict = &v
	}
	if v := q.Get("risk"); v != "" {
		params.Risk = &v
	}
	if v := q.Get("is_shadow"); v != "" {
		b := v == "true" || v == "1"
		params.IsShadow = &b
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	decisions, total, err := d.Reader.ListDecisions(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list decisions", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list decisions"})
		return
	}

	resp := DecisionListResp{
		Decisions: make([]DecisionResp, 0, len(decisions)),
		Total:     total,
		Page:      params.Page,
		PageSize:  params.PageSize,
	}
	for _, e := range decisions {
		resp.Decisions = append(resp.Decisions, decisionRowToResp(e))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	requestID := r.PathValue("request_id")
	decision, err := d.Reader.GetDecision(r.Context(), requestID)
	if err != nil {
		d.Logger.Error("failed to get decision", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision"})
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Decision not found."})
		return
	}

	writeJSON(w, http.StatusOK, decisionRowToResp(*decision))
}

// handleDecisionSummary implements GET /api/warden/decisions/summary:
// verdict counts, hourly denies, top denied services and flagged agents,
// the shadow report, and latency percentiles.
func (d *Dependencies) handleDecisionSummary(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	days := queryInt(r.URL.Query(), "days", 7)
	if days < 1 {
		days = 1
	}
	if days > 90 {
		days = 90
	}

	result, err := d.Reader.GetAnalytics(r.Context(), days)
	if err != nil {
		d.Logger.Error("failed to get decision summary", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get decision summary"})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// decisionRowToResp converts a ClickHouse DecisionRow to the API response.
func decisionRowToResp(e audit.DecisionRow) DecisionResp {
	return DecisionResp{
		RequestID:     e.RequestID,
		RuntimeID:     e.RuntimeID,
		AgentID:       e.AgentID,
		Service:       e.Service,
		Action:        e.Action,
		Target:        nilIfEmpty(e.Target),
		Verdict:       e.Verdict,
		Source:        e.Source,
		Reason:        nilIfEmpty(e.Reason),
		Risk:          e.Risk,
		RateRemaining: int(e.RateRemaining),
		LatencyMs:     e.LatencyMs,
		IsShadow:      e.IsShadow == 1,
		Timestamp:     e.Timestamp,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
