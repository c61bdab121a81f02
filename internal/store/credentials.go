// ABOUTME: Provider credential and model override persistence for SQLiteStore
// ABOUTME: Secrets are stored base64-encoded, one company default per provider

package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func encodeSecret(secret string) string {
	return base64.StdEncoding.EncodeToString([]byte(secret))
}

func decodeSecret(encoded string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// PutCredential stores cred as the org's default for its provider,
// replacing any previous default in the same transaction.
func (s *SQLiteStore) PutCredential(ctx context.Context, cred *Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	if cred.Kind == "" {
		cred.Kind = CredentialAPIKey
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM api_keys WHERE org_id = ? AND provider = ? AND is_company_default = 1`,
		cred.OrgID, cred.Provider,
	); err != nil {
		return fmt.Errorf("removing previous credential: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO api_keys (id, org_id, provider, credential_type, key_encrypted, is_company_default, created_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?)`,
		cred.ID, cred.OrgID, cred.Provider, string(cred.Kind), encodeSecret(cred.Secret), formatTime(cred.CreatedAt),
	); err != nil {
		return fmt.Errorf("inserting credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing credential: %w", err)
	}

	s.logger.Debug("stored credential", "org_id", cred.OrgID, "provider", cred.Provider, "kind", cred.Kind)
	return nil
}

// ListCredentials returns the org's default credentials in insertion order.
func (s *SQLiteStore) ListCredentials(ctx context.Context, orgID string) ([]*Credential, error) {
	query := `
		SELECT id, org_id, provider, credential_type, key_encrypted, created_at
		FROM api_keys
		WHERE org_id = ? AND is_company_default = 1
		ORDER BY created_at, id
	`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var creds []*Credential
	for rows.Next() {
		var c Credential
		var kind, encoded, createdAt string
		if err := rows.Scan(&c.ID, &c.OrgID, &c.Provider, &kind, &encoded, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning credential row: %w", err)
		}
		c.Kind = CredentialKind(kind)
		if c.Secret, err = decodeSecret(encoded); err != nil {
			return nil, fmt.Errorf("decoding credential %s: %w", c.ID, err)
		}
		if c.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		creds = append(creds, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credential rows: %w", err)
	}
	return creds, nil
}

// DeleteCredential removes a credential by ID within an org.
// Returns ErrNotFound if nothing was deleted.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, orgID, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetModelOverride pins the model used for provider within the org.
// An empty model removes the override.
func (s *SQLiteStore) SetModelOverride(ctx context.Context, orgID, provider, model string) error {
	if model == "" {
		_, err := s.db.ExecContext(ctx, `DELETE FROM model_overrides WHERE org_id = ? AND provider = ?`, orgID, provider)
		if err != nil {
			return fmt.Errorf("deleting model override: %w", err)
		}
		return nil
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO model_overrides (org_id, provider, model, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (org_id, provider) DO UPDATE SET model = excluded.model, updated_at = excluded.updated_at`,
		orgID, provider, model, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("saving model override: %w", err)
	}
	return nil
}

// GetModelOverrides returns provider -> model for the org.
func (s *SQLiteStore) GetModelOverrides(ctx context.Context, orgID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT provider, model FROM model_overrides WHERE org_id = ?`, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying model overrides: %w", err)
	}
	defer func() { _ = rows.Close() }()

	overrides := make(map[string]string)
	for rows.Next() {
		var provider string
		var model sql.NullString
		if err := rows.Scan(&provider, &model); err != nil {
			return nil, fmt.Errorf("scanning model override: %w", err)
		}
		if model.Valid {
			overrides[provider] = model.String
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating model overrides: %w", err)
	}
	return overrides, nil
}
