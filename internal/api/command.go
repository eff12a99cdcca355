package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/aegis-ai/warden/internal/audit"
	"github.com/aegis-ai/warden/internal/sandbox"
)

// handleCommand implements POST /v1/warden/command: risk assessment for
// a raw shell command bound for sandboxed execution. The assessor is
// independent of tool policies and rate windows; it only decides between
// refusing the command and choosing a hardening profile.
func (d *Dependencies) handleCommand(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req CommandRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.Command == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "command is required"})
		return
	}

	rt := runtimeFromContext(r.Context())
	if rt == nil {
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "missing runtime context"})
		return
	}

	assessment := sandbox.Assess(req.Command)
	refused := assessment.Refused()

	responseRefused := refused
	isShadow := false
	if rt.Mode == "shadow" && refused {
		isShadow = true
		responseRefused = false
	}

	verdict := "allow"
	if refused {
		verdict = "deny"
	}
	requestID := uuid.New().String()

	d.Writer.Write(&audit.Event{
		RequestID: requestID,
		RuntimeID: rt.ID,
		AgentID:   req.AgentID,
		Timestamp: time.Now(),
		Service:   "sandbox",
		Action:    "shell_command",
		Target:    audit.Preview(req.Command, audit.TargetPreviewLength),
		Verdict:   verdict,
		Source:    "risk",
		Reason:    assessment.Reason,
		Risk:      assessment.Severity.String(),
		LatencyMs: float32(time.Since(start)) / float32(time.Millisecond),
		IsShadow:  isShadow,
	})

	writeJSON(w, http.StatusOK, CommandResponse{
		Severity:  assessment.Severity.String(),
		Refused:   responseRefused,
		Rule:      assessment.Rule,
		Reason:    nilIfEmpty(assessment.Reason),
		Hardening: assessment.Hardening,
		RequestID: requestID,
		IsShadow:  isShadow,
	})
}
