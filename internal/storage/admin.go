package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

func (s *Store) LogAction(ctx context.Context, e AuditEntry) error {
	meta := e.MetaJSON
	if meta == "" {
		meta = "{}"
	}
	sqlStr, args, err := s.sql.Insert("audit_log").
		Columns("user_id", "action", "meta_json", "created_at").
		Values(e.UserID, e.Action, meta, s.now()).
		ToSql()
	if err != nil {
		return fmt.Errorf("build audit query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// CountAuditActions is used by admin tooling and tests to confirm an action was recorded.
func (s *Store) CountAuditActions(ctx context.Context, action string) (int, error) {
	sqlStr, args, err := s.sql.Select("COUNT(*)").From("audit_log").Where(sq.Eq{"action": action}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count audit query: %w", err)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit actions: %w", err)
	}
	return n, nil
}

func (s *Store) PutSetting(ctx context.Context, name, value string) error {
	sqlStr, args, err := s.sql.Insert("settings").
		Columns("name", "value", "updated_at").
		Values(name, value, s.now()).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build put setting query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		return fmt.Errorf("put setting: %w", err)
	}
	return nil
}

func (s *Store) GetSetting(ctx context.Context, name string) (string, error) {
	sqlStr, args, err := s.sql.Select("value").From("settings").Where(sq.Eq{"name": name}).ToSql()
	if err != nil {
		return "", fmt.Errorf("build get setting query: %w", err)
	}
	var value string
	if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("get setting: %w", err)
	}
	return value, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"users", &st.TotalUsers},
		{"bots", &st.TotalBots},
		{"messages", &st.TotalChats},
	}
	for _, c := range counts {
		sqlStr, args, err := s.sql.Select("COUNT(*)").From(c.table).ToSql()
		if err != nil {
			return Stats{}, fmt.Errorf("build count %s query: %w", c.table, err)
		}
		if err := s.db.QueryRowContext(ctx, sqlStr, args...).Scan(c.dst); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return st, nil
}
