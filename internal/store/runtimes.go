package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Runtime represents a row in the runtimes table. A runtime is one
// deployed agent host authenticating with an API key.
type Runtime struct {
	ID           string
	Name         string
	APIKeyHash   string
	APIKeyPrefix string
	Mode         string // "enforce" or "shadow"
	FailOpen     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UpdateRuntimeParams holds optional fields for partial runtime updates.
type UpdateRuntimeParams struct {
	Name     *string
	Mode     *string
	FailOpen *bool
}

// GenerateAPIKey creates a new wsk_ API key with its bcrypt hash and prefix.
// Returns (fullKey, hash, prefix, error). The fullKey is shown to the user once.
func GenerateAPIKey() (string, string, string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}
	fullKey := "wsk_" + hex.EncodeToString(raw) // 68 chars total

	hashBytes, err := bcrypt.GenerateFromPassword([]byte(fullKey), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", fmt.Errorf("GenerateAPIKey: %w", err)
	}

	prefix := fullKey[:8] // "wsk_abcd"
	return fullKey, string(hashBytes), prefix, nil
}

// CreateRuntime inserts a new runtime.
// Returns the runtime and the plaintext API key (shown once).
func (s *Store) CreateRuntime(ctx context.Context, name string) (*Runtime, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("CreateRuntime: %w", err)
	}

	var r Runtime
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO runtimes (name, api_key_hash, api_key_prefix)
		VALUES ($1, $2, $3)
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          created_at, updated_at`,
		name, keyHash, keyPrefix,
	).Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix, &r.Mode, &r.FailOpen,
		&r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, "", fmt.Errorf("CreateRuntime: %w", err)
	}

	return &r, fullKey, nil
}

// ListRuntimes returns all runtimes ordered by created_at DESC.
func (s *Store) ListRuntimes(ctx context.Context) ([]*Runtime, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       created_at, updated_at
		FROM runtimes ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("ListRuntimes: %w", err)
	}
	defer rows.Close()

	var runtimes []*Runtime
	for rows.Next() {
		var r Runtime
		if err := rows.Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix,
			&r.Mode, &r.FailOpen, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ListRuntimes: %w", err)
		}
		runtimes = append(runtimes, &r)
	}
	return runtimes, rows.Err()
}

// GetRuntime returns a runtime by ID, or nil if not found.
func (s *Store) GetRuntime(ctx context.Context, id string) (*Runtime, error) {
	var r Runtime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       created_at, updated_at
		FROM runtimes WHERE id = $1`, id,
	).Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix,
		&r.Mode, &r.FailOpen, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetRuntime: %w", err)
	}
	return &r, nil
}

// UpdateRuntime applies a partial update to a runtime. Only non-nil fields are changed.
func (s *Store) UpdateRuntime(ctx context.Context, id string, params UpdateRuntimeParams) (*Runtime, error) {
	var r Runtime
	err := s.db.QueryRowContext(ctx, `
		UPDATE runtimes SET
			name       = COALESCE($2, name),
			mode       = COALESCE($3, mode),
			fail_open  = COALESCE($4, fail_open),
			updated_at = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          created_at, updated_at`,
		id, params.Name, params.Mode, params.FailOpen,
	).Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix,
		&r.Mode, &r.FailOpen, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdateRuntime: %w", err)
	}
	return &r, nil
}

// DeleteRuntime deletes a runtime by ID.
func (s *Store) DeleteRuntime(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runtimes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("DeleteRuntime: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RotateAPIKey generates a new API key for a runtime.
// Returns the updated runtime and the plaintext key (shown once).
func (s *Store) RotateAPIKey(ctx context.Context, id string) (*Runtime, string, error) {
	fullKey, keyHash, keyPrefix, err := GenerateAPIKey()
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	var r Runtime
	err = s.db.QueryRowContext(ctx, `
		UPDATE runtimes SET
			api_key_hash   = $2,
			api_key_prefix = $3,
			updated_at     = now()
		WHERE id = $1
		RETURNING id, name, api_key_hash, api_key_prefix, mode, fail_open,
		          created_at, updated_at`,
		id, keyHash, keyPrefix,
	).Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix,
		&r.Mode, &r.FailOpen, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, "", fmt.Errorf("RotateAPIKey: runtime not found")
	}
	if err != nil {
		return nil, "", fmt.Errorf("RotateAPIKey: %w", err)
	}

	return &r, fullKey, nil
}

// LookupByPrefix finds a runtime by API key prefix (first 8 chars).
// Used by auth to narrow candidates before bcrypt verify.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*Runtime, error) {
	var r Runtime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, api_key_hash, api_key_prefix, mode, fail_open,
		       created_at, updated_at
		FROM runtimes WHERE api_key_prefix = $1`, prefix,
	).Scan(&r.ID, &r.Name, &r.APIKeyHash, &r.APIKeyPrefix,
		&r.Mode, &r.FailOpen, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("LookupByPrefix: %w", err)
	}
	return &r, nil
}
