// ABOUTME: Member channel bot token persistence for SQLiteStore
// ABOUTME: One token per (member, channel), upserted in place

package store

import (
	"context"
	"fmt"
	"time"
)

// SetChannelToken stores or replaces the bot token for a member's channel.
func (s *SQLiteStore) SetChannelToken(ctx context.Context, memberID, channel, token string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO member_channels (member_id, channel, bot_token, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (member_id, channel) DO UPDATE SET bot_token = excluded.bot_token, updated_at = excluded.updated_at`,
		memberID, channel, token, formatTime(time.Now()),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("saving channel token: %w", err)
	}
	s.logger.Debug("saved channel token", "member_id", memberID, "channel", channel)
	return nil
}

// DeleteChannelToken removes a member's channel token. Deleting an absent token is not an error.
func (s *SQLiteStore) DeleteChannelToken(ctx context.Context, memberID, channel string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM member_channels WHERE member_id = ? AND channel = ?`, memberID, channel)
	if err != nil {
		return fmt.Errorf("deleting channel token: %w", err)
	}
	return nil
}

// GetChannelTokens returns channel -> bot token for a member.
func (s *SQLiteStore) GetChannelTokens(ctx context.Context, memberID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT channel, bot_token FROM member_channels WHERE member_id = ?`, memberID)
	if err != nil {
		return nil, fmt.Errorf("querying channel tokens: %w", err)
	}
	defer func() { _ = rows.Close() }()

	tokens := make(map[string]string)
	for rows.Next() {
		var channel, token string
		if err := rows.Scan(&channel, &token); err != nil {
			return nil, fmt.Errorf("scanning channel token: %w", err)
		}
		tokens[channel] = token
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating channel tokens: %w", err)
	}
	return tokens, nil
}
