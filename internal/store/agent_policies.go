package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aegis-ai/warden/internal/policy"
)

// AgentPolicyRow represents a row in the agent_policies table.
type AgentPolicyRow struct {
	AgentID                    string
	Mode                       string
	Allowed                    []string
	Denied                     []string
	AlwaysRequireApproval      []string
	RequireApprovalForUnlisted bool
	MaxToolCallsPerTurn        *int
	ServiceAccess              map[string]string
	CreatedAt                  time.Time
	UpdatedAt                  time.Time
}

// ToPolicy converts a row into the evaluation record. A nil row converts
// to nil, meaning the agent has no stored policy.
func (r *AgentPolicyRow) ToPolicy() *policy.AgentPolicy {
	if r == nil {
		return nil
	}
	mode, ok := policy.ParseMode(r.Mode)
	if !ok {
		// Writes are schema-validated, so an unknown mode only appears
		// after out-of-band edits. Unknown modes evaluate as
		// unrestricted.
		mode = policy.ModeUnrestricted
	}
	return &policy.AgentPolicy{
		AgentID: r.AgentID,
		Tools: policy.ToolPolicy{
			Mode:                       mode,
			Allowed:                    r.Allowed,
			Denied:                     r.Denied,
			AlwaysRequireApproval:      r.AlwaysRequireApproval,
			RequireApprovalForUnlisted: r.RequireApprovalForUnlisted,
			MaxToolCallsPerTurn:        r.MaxToolCallsPerTurn,
		},
		ServiceAccess: r.ServiceAccess,
	}
}

// UpsertAgentPolicyParams holds the full policy document for a save.
type UpsertAgentPolicyParams struct {
	AgentID                    string
	Mode                       string
	Allowed                    []string
	Denied                     []string
	AlwaysRequireApproval      []string
	RequireApprovalForUnlisted bool
	MaxToolCallsPerTurn        *int
	ServiceAccess              map[string]string
}

// UpdateAgentPolicyParams holds optional fields for partial updates.
// MaxToolCallsPerTurn cannot be cleared here; replace the document to
// drop the cap.
type UpdateAgentPolicyParams struct {
	Mode                       *string
	Allowed                    *[]string
	Denied                     *[]string
	AlwaysRequireApproval      *[]string
	RequireApprovalForUnlisted *bool
	MaxToolCallsPerTurn        *int
	ServiceAccess              *map[string]string
}

const agentPolicyColumns = `agent_id, mode,
	       COALESCE(allowed, '[]'::jsonb),
	       COALESCE(denied, '[]'::jsonb),
	       COALESCE(always_require_approval, '[]'::jsonb),
	       require_approval_for_unlisted, max_tool_calls_per_turn,
	       COALESCE(service_access, '{}'::jsonb),
	       created_at, updated_at`

// GetAgentPolicy returns the stored policy for an agent, or nil if the
// agent has none.
func (s *Store) GetAgentPolicy(ctx context.Context, agentID string) (*AgentPolicyRow, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT %s FROM agent_policies WHERE agent_id = $1`, agentPolicyColumns),
		agentID,
	)
	p, err := scanAgentPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetAgentPolicy: %w", err)
	}
	return p, nil
}

// ListAgentPolicies returns all stored policies ordered by agent_id.
func (s *Store) ListAgentPolicies(ctx context.Context) ([]*AgentPolicyRow, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM agent_policies ORDER BY agent_id`, agentPolicyColumns))
	if err != nil {
		return nil, fmt.Errorf("ListAgentPolicies: %w", err)
	}
	defer rows.Close()

	var policies []*AgentPolicyRow
	for rows.Next() {
		p, err := scanAgentPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAgentPolicies: %w", err)
		}
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// UpsertAgentPolicy saves the full policy document for an agent.
// Concurrent saves resolve last-write-wins on the whole row.
func (s *Store) UpsertAgentPolicy(ctx context.Context, params UpsertAgentPolicyParams) (*AgentPolicyRow, error) {
	allowed, err := json.Marshal(emptyIfNil(params.Allowed))
	if err != nil {
		return nil, fmt.Errorf("UpsertAgentPolicy: %w", err)
	}
	denied, err := json.Marshal(emptyIfNil(params.Denied))
	if err != nil {
		return nil, fmt.Errorf("UpsertAgentPolicy: %w", err)
	}
	approval, err := json.Marshal(emptyIfNil(params.AlwaysRequireApproval))
	if err != nil {
		return nil, fmt.Errorf("UpsertAgentPolicy: %w", err)
	}
	access, err := json.Marshal(emptyMapIfNil(params.ServiceAccess))
	if err != nil {
		return nil, fmt.Errorf("UpsertAgentPolicy: %w", err)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		INSERT INTO agent_policies (
			agent_id, mode, allowed, denied, always_require_approval,
			require_approval_for_unlisted, max_tool_calls_per_turn, service_access
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id) DO UPDATE SET
			mode                          = EXCLUDED.mode,
			allowed                       = EXCLUDED.allowed,
			denied                        = EXCLUDED.denied,
			always_require_approval       = EXCLUDED.always_require_approval,
			require_approval_for_unlisted = EXCLUDED.require_approval_for_unlisted,
			max_tool_calls_per_turn       = EXCLUDED.max_tool_calls_per_turn,
			service_access                = EXCLUDED.service_access,
			updated_at                    = now()
		RETURNING %s`, agentPolicyColumns),
		params.AgentID, params.Mode, allowed, denied, approval,
		params.RequireApprovalForUnlisted, params.MaxToolCallsPerTurn, access,
	)
	p, err := scanAgentPolicy(row)
	if err != nil {
		return nil, fmt.Errorf("UpsertAgentPolicy: %w", err)
	}
	return p, nil
}

// UpdateAgentPolicy applies a partial update. Only non-nil fields are
// changed. Returns nil if the agent has no stored policy.
func (s *Store) UpdateAgentPolicy(ctx context.Context, agentID string, params UpdateAgentPolicyParams) (*AgentPolicyRow, error) {
	allowed, err := nullableStrings(params.Allowed)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentPolicy: %w", err)
	}
	denied, err := nullableStrings(params.Denied)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentPolicy: %w", err)
	}
	approval, err := nullableStrings(params.AlwaysRequireApproval)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentPolicy: %w", err)
	}
	access, err := nullableStringMap(params.ServiceAccess)
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentPolicy: %w", err)
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE agent_policies SET
			mode                          = COALESCE($2, mode),
			allowed                       = COALESCE($3, allowed),
			denied                        = COALESCE($4, denied),
			always_require_approval       = COALESCE($5, always_require_approval),
			require_approval_for_unlisted = COALESCE($6, require_approval_for_unlisted),
			max_tool_calls_per_turn       = COALESCE($7, max_tool_calls_per_turn),
			service_access                = COALESCE($8, service_access),
			updated_at                    = now()
		WHERE agent_id = $1
		RETURNING %s`, agentPolicyColumns),
		agentID, params.Mode, allowed, denied, approval,
		params.RequireApprovalForUnlisted, params.MaxToolCallsPerTurn, access,
	)
	p, err := scanAgentPolicy(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateAgentPolicy: %w", err)
	}
	return p, nil
}

// DeleteAgentPolicy removes the stored policy, returning the agent to the
// unrestricted default.
func (s *Store) DeleteAgentPolicy(ctx context.Context, agentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM agent_policies WHERE agent_id = $1`, agentID)
	if err != nil {
		return fmt.Errorf("DeleteAgentPolicy: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgentPolicy(row rowScanner) (*AgentPolicyRow, error) {
	var (
		p         AgentPolicyRow
		allowed   []byte
		denied    []byte
		approval  []byte
		accessRaw []byte
	)
	if err := row.Scan(&p.AgentID, &p.Mode, &allowed, &denied, &approval,
		&p.RequireApprovalForUnlisted, &p.MaxToolCallsPerTurn, &accessRaw,
		&p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(allowed, &p.Allowed); err != nil {
		return nil, fmt.Errorf("allowed: %w", err)
	}
	if err := json.Unmarshal(denied, &p.Denied); err != nil {
		return nil, fmt.Errorf("denied: %w", err)
	}
	if err := json.Unmarshal(approval, &p.AlwaysRequireApproval); err != nil {
		return nil, fmt.Errorf("always_require_approval: %w", err)
	}
	if err := json.Unmarshal(accessRaw, &p.ServiceAccess); err != nil {
		return nil, fmt.Errorf("service_access: %w", err)
	}
	return &p, nil
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyMapIfNil(v map[string]string) map[string]string {
	if v == nil {
		return map[string]string{}
	}
	return v
}

// nullableStrings returns nil (SQL NULL, left unchanged by COALESCE) if
// the pointer is nil, otherwise the marshaled JSONB bytes.
func nullableStrings(v *[]string) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(emptyIfNil(*v))
	if err != nil {
		return nil, err
	}
	return b, nil
}

func nullableStringMap(v *map[string]string) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(emptyMapIfNil(*v))
	if err != nil {
		return nil, err
	}
	return b, nil
}
