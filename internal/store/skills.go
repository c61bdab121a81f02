// ABOUTME: Skill registry and per-user assignment persistence for SQLiteStore
// ABOUTME: Assigned skills are enabled user skills plus mandatory org skills

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateSkill registers a skill for an org.
func (s *SQLiteStore) CreateSkill(ctx context.Context, skill *Skill) error {
	if skill.ID == "" {
		skill.ID = uuid.New().String()
	}
	if skill.Type == "" {
		skill.Type = SkillOptional
	}
	if skill.CreatedAt.IsZero() {
		skill.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, org_id, name, type, enabled, git_url, git_path, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		skill.ID, skill.OrgID, skill.Name, string(skill.Type), boolToInt(skill.Enabled),
		nullString(skill.GitURL), nullString(skill.GitPath), formatTime(skill.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting skill: %w", err)
	}

	s.logger.Debug("created skill", "id", skill.ID, "name", skill.Name, "org_id", skill.OrgID)
	return nil
}

// SetUserSkill enables or disables a skill for a user.
func (s *SQLiteStore) SetUserSkill(ctx context.Context, userID, skillID string, enabled bool) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_skills (user_id, skill_id, enabled) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, skill_id) DO UPDATE SET enabled = excluded.enabled`,
		userID, skillID, boolToInt(enabled),
	)
	if err != nil {
		return fmt.Errorf("saving user skill: %w", err)
	}
	return nil
}

// ListAssignedSkills returns the skills that should be installed into the user's gateway.
func (s *SQLiteStore) ListAssignedSkills(ctx context.Context, orgID, userID string) ([]*Skill, error) {
	query := `
		SELECT s.id, s.org_id, s.name, s.type, s.enabled, s.git_url, s.git_path, s.created_at
		FROM skills s
		JOIN user_skills us ON us.skill_id = s.id
		WHERE us.user_id = ? AND us.enabled = 1 AND s.enabled = 1 AND s.org_id = ?
		UNION
		SELECT s.id, s.org_id, s.name, s.type, s.enabled, s.git_url, s.git_path, s.created_at
		FROM skills s
		WHERE s.type = 'mandatory' AND s.enabled = 1 AND s.org_id = ?
		ORDER BY 2, 3, 1
	`

	rows, err := s.db.QueryContext(ctx, query, userID, orgID, orgID)
	if err != nil {
		return nil, fmt.Errorf("querying assigned skills: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var skills []*Skill
	for rows.Next() {
		var sk Skill
		var skillType, createdAt string
		var enabled int
		var gitURL, gitPath sql.NullString
		if err := rows.Scan(&sk.ID, &sk.OrgID, &sk.Name, &skillType, &enabled, &gitURL, &gitPath, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning skill row: %w", err)
		}
		sk.Type = SkillType(skillType)
		sk.Enabled = enabled == 1
		sk.GitURL = gitURL.String
		sk.GitPath = gitPath.String
		if sk.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		skills = append(skills, &sk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating skill rows: %w", err)
	}
	return skills, nil
}
