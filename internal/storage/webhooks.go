package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

const WebhookLogLimit = 50

func (s *Store) AppendWebhookLog(ctx context.Context, l WebhookLog) (WebhookLog, error) {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = s.now()
	}
	sqlStr, args, err := s.sql.Insert("webhook_logs").
		Columns("id", "bot_id", "platform", "payload", "created_at").
		Values(l.ID, l.BotID, l.Platform, l.Payload, l.CreatedAt.UTC()).
		ToSql()
	if err != nil {
		return WebhookLog{}, fmt.Errorf("build append webhook log query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return WebhookLog{}, fmt.Errorf("append webhook log: %w", err)
	}
	return l, nil
}

func (s *Store) ListWebhookLogs(ctx context.Context, botID string) ([]WebhookLog, error) {
	sqlStr, args, err := s.sql.Select("id", "bot_id", "platform", "payload", "created_at").
		From("webhook_logs").
		Where(sq.Eq{"bot_id": botID}).
		OrderBy("created_at DESC").
		Limit(WebhookLogLimit).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list webhook logs query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list webhook logs: %w", err)
	}
	defer rows.Close()

	out := make([]WebhookLog, 0)
	for rows.Next() {
		var l WebhookLog
		if err := rows.Scan(&l.ID, &l.BotID, &l.Platform, &l.Payload, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook log row: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook log rows: %w", err)
	}
	return out, nil
}
