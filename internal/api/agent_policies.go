package api

import (
	"database/sql"
	"encoding/json"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/aegis-ai/warden/internal/policy"
	"github.com/aegis-ai/warden/internal/store"
)

func (d *Dependencies) handleListAgentPolicies(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	rows, err := d.Store.ListAgentPolicies(r.Context())
	if err != nil {
		d.Logger.Error("failed to list agent policies", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list agent policies"})
		return
	}

	resp := make([]AgentPolicyResp, 0, len(rows))
	for _, row := range rows {
		resp = append(resp, agentPolicyToResp(row))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetAgentPolicy(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	agentID := r.PathValue("agent_id")
	row, err := d.Store.GetAgentPolicy(r.Context(), agentID)
	if err != nil {
		d.Logger.Error("failed to get agent policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get agent policy"})
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent policy not found."})
		return
	}
	writeJSON(w, http.StatusOK, agentPolicyToResp(row))
}

// handleReplaceAgentPolicy implements PUT .../policy. The raw body is
// validated against the policy JSON-schema before anything is stored, so
// unknown fields and bad enum values never reach Postgres.
func (d *Dependencies) handleReplaceAgentPolicy(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	agentID := r.PathValue("agent_id")
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Failed to read request body"})
		return
	}
	if err := store.ValidatePolicyDocument(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid policy document: " + err.Error()})
		return
	}

	var doc PolicyDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if doc.Mode == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "mode is required"})
		return
	}

	row, err := d.Store.UpsertAgentPolicy(r.Context(), store.UpsertAgentPolicyParams{
		AgentID:                    agentID,
		Mode:                       doc.Mode,
		Allowed:                    doc.Allowed,
		Denied:                     doc.Denied,
		AlwaysRequireApproval:      doc.AlwaysRequireApproval,
		RequireApprovalForUnlisted: doc.RequireApprovalForUnlisted,
		MaxToolCallsPerTurn:        doc.MaxToolCallsPerTurn,
		ServiceAccess:              doc.ServiceAccess,
	})
	if err != nil {
		d.Logger.Error("failed to save agent policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to save agent policy"})
		return
	}

	d.invalidatePolicy(agentID)
	writeJSON(w, http.StatusOK, agentPolicyToResp(row))
}

// handleUpdateAgentPolicy implements PATCH .../policy. Only provided
// fields change; the body is checked against the same schema, which has
// no required fields, so any valid subset passes.
func (d *Dependencies) handleUpdateAgentPolicy(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	agentID := r.PathValue("agent_id")
	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Failed to read request body"})
		return
	}
	if err := store.ValidatePolicyDocument(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid policy document: " + err.Error()})
		return
	}

	var req PatchPolicyReq
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}

	row, err := d.Store.UpdateAgentPolicy(r.Context(), agentID, store.UpdateAgentPolicyParams{
		Mode:                       req.Mode,
		Allowed:                    req.Allowed,
		Denied:                     req.Denied,
		AlwaysRequireApproval:      req.AlwaysRequireApproval,
		RequireApprovalForUnlisted: req.RequireApprovalForUnlisted,
		MaxToolCallsPerTurn:        req.MaxToolCallsPerTurn,
		ServiceAccess:              req.ServiceAccess,
	})
	if err != nil {
		d.Logger.Error("failed to update agent policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to update agent policy"})
		return
	}
	if row == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent policy not found."})
		return
	}

	d.invalidatePolicy(agentID)
	writeJSON(w, http.StatusOK, agentPolicyToResp(row))
}

func (d *Dependencies) handleDeleteAgentPolicy(w http.ResponseWriter, r *http.Request) {
	if d.Store == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Postgres not configured"})
		return
	}

	agentID := r.PathValue("agent_id")
	err := d.Store.DeleteAgentPolicy(r.Context(), agentID)
	if err == sql.ErrNoRows {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Agent policy not found."})
		return
	}
	if err != nil {
		d.Logger.Error("failed to delete agent policy", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to delete agent policy"})
		return
	}

	d.invalidatePolicy(agentID)
	w.WriteHeader(http.StatusNoContent)
}

// invalidatePolicy drops the agent's cached policy so the next decision
// sees the stored state.
func (d *Dependencies) invalidatePolicy(agentID string) {
	if d.Policies != nil {
		d.Policies.Invalidate(agentID)
	}
}

func agentPolicyToResp(row *store.AgentPolicyRow) AgentPolicyResp {
	record := row.ToPolicy()
	return AgentPolicyResp{
		AgentID:                    row.AgentID,
		Mode:                       row.Mode,
		Allowed:                    row.Allowed,
		Denied:                     row.Denied,
		AlwaysRequireApproval:      row.AlwaysRequireApproval,
		RequireApprovalForUnlisted: row.RequireApprovalForUnlisted,
		MaxToolCallsPerTurn:        row.MaxToolCallsPerTurn,
		ServiceAccess:              row.ServiceAccess,
		Summary:                    policy.Summary(&record.Tools),
		CreatedAt:                  row.CreatedAt,
		UpdatedAt:                  row.UpdatedAt,
	}
}
