// ABOUTME: Member and gateway record persistence for SQLiteStore
// ABOUTME: Gateway fields live on the org_members row and are cleared together

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const memberColumns = `id, org_id, user_id, role, gateway_port, gateway_status, gateway_token, gateway_subdomain, created_at`

// CreateMember inserts a new org member with an empty gateway record.
func (s *SQLiteStore) CreateMember(ctx context.Context, member *Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.Role == "" {
		member.Role = "member"
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO org_members (` + memberColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		member.ID,
		member.OrgID,
		member.UserID,
		member.Role,
		nullInt(member.Gateway.Port),
		nullString(string(member.Gateway.Status)),
		nullString(member.Gateway.Token),
		nullString(member.Gateway.Subdomain),
		formatTime(member.CreatedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("user %s is already a member of org %s", member.UserID, member.OrgID)
		}
		return fmt.Errorf("inserting member: %w", err)
	}

	s.logger.Debug("created member", "id", member.ID, "org_id", member.OrgID)
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (*Member, error) {
	var m Member
	var port sql.NullInt64
	var status, token, subdomain sql.NullString
	var createdAt string

	if err := row.Scan(&m.ID, &m.OrgID, &m.UserID, &m.Role, &port, &status, &token, &subdomain, &createdAt); err != nil {
		return nil, err
	}

	m.Gateway = Gateway{
		Port:      int(port.Int64),
		Status:    GatewayStatus(status.String),
		Token:     token.String,
		Subdomain: subdomain.String,
	}

	var err error
	m.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

// GetMember retrieves a member scoped to its org.
// Returns ErrNotFound if the member doesn't exist in that org.
func (s *SQLiteStore) GetMember(ctx context.Context, orgID, memberID string) (*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM org_members WHERE id = ? AND org_id = ?`

	m, err := scanMember(s.db.QueryRowContext(ctx, query, memberID, orgID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying member: %w", err)
	}
	return m, nil
}

// ListMembersByStatus returns the org's members whose gateway status is one of statuses.
// With no statuses, every member of the org is returned.
func (s *SQLiteStore) ListMembersByStatus(ctx context.Context, orgID string, statuses ...GatewayStatus) ([]*Member, error) {
	query := `SELECT ` + memberColumns + ` FROM org_members WHERE org_id = ?`
	args := []any{orgID}
	if len(statuses) > 0 {
		query += ` AND gateway_status IN (` + placeholders(len(statuses)) + `)`
		for _, st := range statuses {
			args = append(args, string(st))
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return members, nil
}

// SetGateway writes all four gateway fields in one statement.
func (s *SQLiteStore) SetGateway(ctx context.Context, memberID string, gw Gateway) error {
	if !gw.Status.Valid() {
		return fmt.Errorf("invalid gateway status %q", gw.Status)
	}
	return s.updateMember(ctx, memberID, "setting gateway",
		`UPDATE org_members
		 SET gateway_port = ?, gateway_status = ?, gateway_token = ?, gateway_subdomain = ?
		 WHERE id = ?`,
		nullInt(gw.Port), nullString(string(gw.Status)), nullString(gw.Token), nullString(gw.Subdomain), memberID,
	)
}

// SetGatewayStatus updates only the status field.
func (s *SQLiteStore) SetGatewayStatus(ctx context.Context, memberID string, status GatewayStatus) error {
	if !status.Valid() {
		return fmt.Errorf("invalid gateway status %q", status)
	}
	return s.updateMember(ctx, memberID, "setting gateway status",
		`UPDATE org_members SET gateway_status = ? WHERE id = ?`,
		nullString(string(status)), memberID,
	)
}

// SetGatewayPort updates only the port field.
func (s *SQLiteStore) SetGatewayPort(ctx context.Context, memberID string, port int) error {
	return s.updateMember(ctx, memberID, "setting gateway port",
		`UPDATE org_members SET gateway_port = ? WHERE id = ?`,
		nullInt(port), memberID,
	)
}

// ClearGateway resets the gateway record to the never-provisioned shape.
func (s *SQLiteStore) ClearGateway(ctx context.Context, memberID string) error {
	return s.updateMember(ctx, memberID, "clearing gateway",
		`UPDATE org_members
		 SET gateway_port = NULL, gateway_status = NULL, gateway_token = NULL, gateway_subdomain = NULL
		 WHERE id = ?`,
		memberID,
	)
}

func (s *SQLiteStore) updateMember(ctx context.Context, memberID, action, query string, args ...any) error {
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	s.logger.Debug(action, "member_id", memberID)
	return nil
}

// ListRoutes returns one entry per member with both subdomain and port set.
func (s *SQLiteStore) ListRoutes(ctx context.Context) ([]Route, error) {
	query := `
		SELECT id, gateway_subdomain, gateway_port
		FROM org_members
		WHERE gateway_subdomain IS NOT NULL AND gateway_port IS NOT NULL
		ORDER BY gateway_subdomain
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying routes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var routes []Route
	for rows.Next() {
		var r Route
		if err := rows.Scan(&r.MemberID, &r.Subdomain, &r.Port); err != nil {
			return nil, fmt.Errorf("scanning route row: %w", err)
		}
		routes = append(routes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating route rows: %w", err)
	}
	return routes, nil
}
