package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

var userColumns = []string{
	"id", "email", "full_name", "password_hash", "role", "plan", "is_active", "verified_phone",
	"ai_provider", "ai_model", "enc_ai_api_key", "ai_system_message", "created_at",
}

func (s *Store) CreateUser(ctx context.Context, u User) (User, error) {
	if u.Role == "" {
		u.Role = RoleUser
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now()
	}
	q := s.sql.Insert("users").
		Columns("id", "email", "full_name", "password_hash", "role", "plan", "is_active", "created_at").
		Values(u.ID, u.Email, u.FullName, u.PasswordHash, u.Role, u.Plan, u.IsActive, u.CreatedAt)

	sqlStr, args, err := q.ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build create user query: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, sqlStr, args...); err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrConflict
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	return s.getUser(ctx, sq.Eq{"id": id})
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.getUser(ctx, sq.Eq{"email": email})
}

func (s *Store) getUser(ctx context.Context, where sq.Sqlizer) (User, error) {
	sqlStr, args, err := s.sql.Select(userColumns...).From("users").Where(where).ToSql()
	if err != nil {
		return User{}, fmt.Errorf("build get user query: %w", err)
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, sqlStr, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]User, error) {
	sqlStr, args, err := s.sql.Select(userColumns...).From("users").OrderBy("created_at DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list users query: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	out := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user row: %w", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate user rows: %w", err)
	}
	return out, nil
}

func (s *Store) UpdateUserPlan(ctx context.Context, id, plan string) error {
	return s.updateUser(ctx, id, map[string]any{"plan": plan}, "update user plan")
}

func (s *Store) UpdateUserRole(ctx context.Context, id, role string) error {
	return s.updateUser(ctx, id, map[string]any{"role": role}, "update user role")
}

func (s *Store) SetVerifiedPhone(ctx context.Context, id, phone string) error {
	return s.updateUser(ctx, id, map[string]any{"verified_phone": phone}, "set verified phone")
}

func (s *Store) UpdateUserAISettings(ctx context.Context, id string, ai UserAISettings) error {
	return s.updateUser(ctx, id, map[string]any{
		"ai_provider":       ai.Provider,
		"ai_model":          ai.Model,
		"enc_ai_api_key":    ai.EncAPIKey,
		"ai_system_message": ai.SystemMessage,
	}, "update user ai settings")
}

func (s *Store) updateUser(ctx context.Context, id string, fields map[string]any, op string) error {
	sqlStr, args, err := s.sql.Update("users").SetMap(fields).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return fmt.Errorf("build %s query: %w", op, err)
	}
	res, err := s.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanUser(row scanner) (User, error) {
	var u User
	var phone, encKey sql.NullString
	if err := row.Scan(
		&u.ID,
		&u.Email,
		&u.FullName,
		&u.PasswordHash,
		&u.Role,
		&u.Plan,
		&u.IsActive,
		&phone,
		&u.AI.Provider,
		&u.AI.Model,
		&encKey,
		&u.AI.SystemMessage,
		&u.CreatedAt,
	); err != nil {
		return User{}, err
	}
	u.VerifiedPhone = optionalString(phone)
	u.AI.EncAPIKey = optionalString(encKey)
	return u, nil
}
