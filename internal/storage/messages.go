package storage

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const HistoryLimit = 100

var messageColumns = []string{
	"id", "user_id", "bot_id", "platform", "sender_id", "user_message", "ai_response", "created_at",
}

func (s *Store) AppendMessage(ctx context.Context, m MessageRecord) (MessageRecord, error) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.now()
	}
	sqlStr, args, err := s.sql.Insert("messages").
		Columns(messageColumns...).
		Values(m.ID, m.UserID, m.BotID, m.Platform, m.SenderID, m.UserMessage, m.AIResponse, m.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return MessageRecord{}, fmt.Errorf("build append message query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return MessageRecord{}, fmt.Errorf("append message: %w", err)
	}
	return m, nil
}

// CountMessagesSince counts the user's records with created_at >= since, across all bots.
func (s *Store) CountMessagesSince(ctx context.Context, userID string, since time.Time) (int, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").
		From("messages").
		Where(sq.Eq{"user_id": userID}).
		Where(sq.GtOrEq{"created_at": since.UTC()}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count messages query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}

// ListHistory returns up to HistoryLimit records for the pair, newest first.
func (s *Store) ListHistory(ctx context.Context, userID, botID string) ([]MessageRecord, error) {
	sqlStr, args, err := s.sql.Select(messageColumns...).
		From("messages").
		Where(sq.Eq{"user_id": userID, "bot_id": botID}).
		OrderBy("created_at DESC").
		Limit(HistoryLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list history query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	out := make([]MessageRecord, 0)
	for rows.Next() {
		var m MessageRecord
		if err := rows.Scan(&m.ID, &m.UserID, &m.BotID, &m.Platform, &m.SenderID, &m.UserMessage, &m.AIResponse, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return out, nil
}
