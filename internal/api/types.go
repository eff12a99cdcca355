package api

import (
	"time"

	"github.com/aegis-ai/warden/internal/risk"
	"github.com/aegis-ai/warden/internal/sandbox"
)

// --- POST /v1/warden/authorize ---

// AuthorizeRequest is the JSON body for a single-action decision.
type AuthorizeRequest struct {
	AgentID string `json:"agent_id"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
	// TurnCallCount is how many tool calls the agent has already made
	// this turn; policies with a per-turn cap check it.
	TurnCallCount int `json:"turn_call_count,omitempty"`
}

// AuthorizeResponse reports the verdict for one action.
type AuthorizeResponse struct {
	Allowed          bool      `json:"allowed"`
	Verdict          string    `json:"verdict"`
	RequiresApproval bool      `json:"requires_approval"`
	Risk             string    `json:"risk"`
	RiskMeta         risk.Meta `json:"risk_meta"`
	// Remaining and Limit are absent when the pipeline denied before the
	// rate window was consulted.
	Remaining *int    `json:"remaining,omitempty"`
	Limit     *int    `json:"limit,omitempty"`
	RequestID string  `json:"request_id"`
	IsShadow  bool    `json:"is_shadow"`
	Reason    *string `json:"reason"`
	Source    string  `json:"source"`
	LatencyMs float64 `json:"latency_ms"`
}

// --- POST /v1/warden/plan ---

// PlanStepReq is one proposed action within a dry-run batch.
type PlanStepReq struct {
	Service string `json:"service"`
	Action  string `json:"action"`
	Target  string `json:"target,omitempty"`
}

// PlanRequest is the JSON body for a batch dry-run evaluation.
type PlanRequest struct {
	AgentID string        `json:"agent_id,omitempty"`
	Steps   []PlanStepReq `json:"steps"`
}

// PlanStepResp is a proposed action after risk classification.
type PlanStepResp struct {
	Index    int       `json:"index"`
	Service  string    `json:"service"`
	Action   string    `json:"action"`
	Target   string    `json:"target,omitempty"`
	Risk     string    `json:"risk"`
	RiskMeta risk.Meta `json:"risk_meta"`
}

// PlanResponse reports whether the batch needs one upfront confirmation.
type PlanResponse struct {
	PlanID          string         `json:"plan_id"`
	RequiresConfirm bool           `json:"requires_confirm"`
	TotalActions    int            `json:"total_actions"`
	HighRiskCount   int            `json:"high_risk_count"`
	Steps           []PlanStepResp `json:"steps"`
	IsShadow        bool           `json:"is_shadow"`
}

// --- POST /v1/warden/command ---

// CommandRequest is the JSON body for a sandbox command assessment.
type CommandRequest struct {
	AgentID string `json:"agent_id,omitempty"`
	Command string `json:"command"`
}

// CommandResponse reports the severity and hardening profile for a shell
// command bound for sandboxed execution.
type CommandResponse struct {
	Severity  string             `json:"severity"`
	Refused   bool               `json:"refused"`
	Rule      string             `json:"rule,omitempty"`
	Reason    *string            `json:"reason"`
	Hardening *sandbox.Hardening `json:"hardening,omitempty"`
	RequestID string             `json:"request_id"`
	IsShadow  bool               `json:"is_shadow"`
}

// --- Runtime CRUD ---

// CreateRuntimeReq is the JSON body for POST /api/warden/runtimes.
type CreateRuntimeReq struct {
	Name string `json:"name"`
}

// CreateRuntimeResp includes the plaintext API key (shown once).
type CreateRuntimeResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKey       string    `json:"api_key"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
}

// UpdateRuntimeReq is the JSON body for PATCH /api/warden/runtimes/{id}.
type UpdateRuntimeReq struct {
	Name     *string `json:"name,omitempty"`
	Mode     *string `json:"mode,omitempty"`
	FailOpen *bool   `json:"fail_open,omitempty"`
}

// RuntimeResp is a runtime without its plaintext key.
type RuntimeResp struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	APIKeyPrefix string    `json:"api_key_prefix"`
	Mode         string    `json:"mode"`
	FailOpen     bool      `json:"fail_open"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// RotateKeyResp includes the new plaintext API key (shown once).
type RotateKeyResp struct {
	APIKey       string `json:"api_key"`
	APIKeyPrefix string `json:"api_key_prefix"`
}

// --- Agent policy CRUD ---

// PolicyDocument is the JSON body for PUT .../policy. The same field
// names appear in the stored JSON-schema, which validates the raw body
// before this struct is populated.
type PolicyDocument struct {
	Mode                       string            `json:"mode"`
	Allowed                    []string          `json:"allowed,omitempty"`
	Denied                     []string          `json:"denied,omitempty"`
	AlwaysRequireApproval      []string          `json:"always_require_approval,omitempty"`
	RequireApprovalForUnlisted bool              `json:"require_approval_for_unlisted,omitempty"`
	MaxToolCallsPerTurn        *int              `json:"max_tool_calls_per_turn,omitempty"`
	ServiceAccess              map[string]string `json:"service_access,omitempty"`
}

// PatchPolicyReq is the JSON body for PATCH .../policy. Absent fields
// are left unchanged.
type PatchPolicyReq struct {
	Mode                       *string            `json:"mode,omitempty"`
	Allowed                    *[]string          `json:"allowed,omitempty"`
	Denied                     *[]string          `json:"denied,omitempty"`
	AlwaysRequireApproval      *[]string          `json:"always_require_approval,omitempty"`
	RequireApprovalForUnlisted *bool              `json:"require_approval_for_unlisted,omitempty"`
	MaxToolCallsPerTurn        *int               `json:"max_tool_calls_per_turn,omitempty"`
	ServiceAccess              *map[string]string `json:"service_access,omitempty"`
}

// AgentPolicyResp is a stored agent policy.
type AgentPolicyResp struct {
	AgentID                    string            `json:"agent_id"`
	Mode                       string            `json:"mode"`
	Allowed                    []string          `json:"allowed"`
	Denied                     []string          `json:"denied"`
	AlwaysRequireApproval      []string          `json:"always_require_approval"`
	RequireApprovalForUnlisted bool              `json:"require_approval_for_unlisted"`
	MaxToolCallsPerTurn        *int              `json:"max_tool_calls_per_turn"`
	ServiceAccess              map[string]string `json:"service_access"`
	Summary                    string            `json:"summary"`
	CreatedAt                  time.Time         `json:"created_at"`
	UpdatedAt                  time.Time         `json:"updated_at"`
}

// --- Decisions ---

// DecisionResp is one audited decision event.
type DecisionResp struct {
	RequestID     string    `json:"request_id"`
	RuntimeID     string    `json:"runtime_id"`
	AgentID       string    `json:"agent_id"`
	Service       string    `json:"service"`
	Action        string    `json:"action"`
	Target        *string   `json:"target"`
	Verdict       string    `json:"verdict"`
	Source        string    `json:"source"`
	Reason        *string   `json:"reason"`
	Risk          string    `json:"risk"`
	RateRemaining int       `json:"rate_remaining"`
	LatencyMs     float32   `json:"latency_ms"`
	IsShadow      bool      `json:"is_shadow"`
	Timestamp     time.Time `json:"timestamp"`
}

// DecisionListResp is a page of decision events.
type DecisionListResp struct {
	Decisions []DecisionResp `json:"decisions"`
	Total     int            `json:"total"`
	Page      int            `json:"page"`
	PageSize  int            `json:"page_size"`
}

// --- Rate limits ---

// LimitResp is a service quota with its live window state.
type LimitResp struct {
	Service         string     `json:"service"`
	MaxActions      int        `json:"max_actions"`
	WindowMinutes   int        `json:"window_minutes"`
	Used            int        `json:"used"`
	Remaining       int        `json:"remaining"`
	WindowStartedAt *time.Time `json:"window_started_at"`
}

// ErrorResp is a standard error response body.
type ErrorResp struct {
	Detail string `json:"detail"`
}
