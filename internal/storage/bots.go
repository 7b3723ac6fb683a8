package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var botColumns = []string{
	"id", "user_id", "name", "platform", "enc_api_key", "webhook_url", "ai_provider", "ai_model",
	"enc_ai_api_key", "system_message", "auto_reply", "is_active", "created_at",
}

func (s *Store) CreateBot(ctx context.Context, b Bot) (Bot, error) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = s.now()
	}
	q := s.sql.Insert("bots").
		Columns(botColumns...).
		Values(b.ID, b.UserID, b.Name, b.Platform, b.EncAPIKey, b.WebhookURL, b.AIProvider, b.AIModel,
			b.EncAIAPIKey, b.SystemMessage, b.AutoReply, b.IsActive, b.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build create bot query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return Bot{}, ErrConflict
		}
		return Bot{}, fmt.Errorf("create bot: %w", err)
	}
	return b, nil
}

// GetBot looks a bot up by id regardless of owner.
func (s *Store) GetBot(ctx context.Context, id string) (Bot, error) {
	return s.getBot(ctx, sq.Eq{"id": id})
}

func (s *Store) GetOwnedBot(ctx context.Context, userID, id string) (Bot, error) {
	return s.getBot(ctx, sq.Eq{"id": id, "user_id": userID})
}

func (s *Store) getBot(ctx context.Context, where sq.Sqlizer) (Bot, error) {
	sqlStr, args, err := s.sql.Select(botColumns...).From("bots").Where(where).ToSql()
	if err != nil {
		return Bot{}, fmt.Errorf("build get bot query: %w", err)
	}
	b, err := scanBot(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Bot{}, ErrNotFound
		}
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

func (s *Store) ListBotsByUser(ctx context.Context, userID string) ([]Bot, error) {
	return s.listBots(ctx, sq.Eq{"user_id": userID})
}

func (s *Store) ListAllBots(ctx context.Context) ([]Bot, error) {
	return s.listBots(ctx, nil)
}

func (s *Store) listBots(ctx context.Context, where sq.Sqlizer) ([]Bot, error) {
	q := s.sql.Select(botColumns...).From("bots").OrderBy("created_at ASC")
	if where != nil {
		q = q.Where(where)
	}
	sqlStr, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list bots query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	defer rows.Close()

	out := make([]Bot, 0)
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bot row: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bot rows: %w", err)
	}
	return out, nil
}

// UpdateBot rewrites the mutable fields of a bot owned by b.UserID.
func (s *Store) UpdateBot(ctx context.Context, b Bot) error {
	q := s.sql.Update("bots").
		SetMap(map[string]any{
			"name":           b.Name,
			"platform":       b.Platform,
			"enc_api_key":    b.EncAPIKey,
			"webhook_url":    b.WebhookURL,
			"ai_provider":    b.AIProvider,
			"ai_model":       b.AIModel,
			"enc_ai_api_key": b.EncAIAPIKey,
			"system_message": b.SystemMessage,
			"auto_reply":     b.AutoReply,
		}).
		Where(sq.Eq{"id": b.ID, "user_id": b.UserID})

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update bot query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("update bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) DeleteBot(ctx context.Context, userID, id string) error {
	sqlStr, args, err := s.sql.Delete("bots").Where(sq.Eq{"id": id, "user_id": userID}).ToSql()
	if err != nil {
		return fmt.Errorf("build delete bot query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("delete bot: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanBot(row scanner) (Bot, error) {
	var b Bot
	var encKey, encAIKey sql.NullString
	if err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.Name,
		&b.Platform,
		&encKey,
		&b.WebhookURL,
		&b.AIProvider,
		&b.AIModel,
		&encAIKey,
		&b.SystemMessage,
		&b.AutoReply,
		&b.IsActive,
		&b.CreatedAt,
	); err != nil {
		return Bot{}, err
	}
	b.EncAPIKey = optionalString(encKey)
	b.EncAIAPIKey = optionalString(encAIKey)
	return b, nil
}
