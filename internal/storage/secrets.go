package storage

import (
	"context"
	"errors"
	"fmt"
)

// RotateFunc re-seals one stored secret; changed is false when it is already
// under the current key.
type RotateFunc func(raw string) (sealed string, changed bool, err error)

// ResealSecrets walks every sealed column (bot tokens, bot and user AI keys, and
// the named settings) and rewrites the ones rotate changes. It returns how many
// rows were rewritten.
func (s *Store) ResealSecrets(ctx context.Context, rotate RotateFunc, settings ...string) (int, error) {
	reseal := func(raw *string) (*string, bool, error) {
		if raw == nil || *raw == "" {
			return raw, false, nil
		}
		sealed, changed, err := rotate(*raw)
		if err != nil || !changed {
			return raw, false, err
		}
		return &sealed, true, nil
	}

	n := 0
	bots, err := s.ListAllBots(ctx)
	if err != nil {
		return n, err
	}
	for _, b := range bots {
		token, c1, err := reseal(b.EncAPIKey)
		if err != nil {
			return n, fmt.Errorf("reseal bot %s token: %w", b.ID, err)
		}
		aiKey, c2, err := reseal(b.EncAIAPIKey)
		if err != nil {
			return n, fmt.Errorf("reseal bot %s ai key: %w", b.ID, err)
		}
		if !c1 && !c2 {
			continue
		}
		b.EncAPIKey, b.EncAIAPIKey = token, aiKey
		if err := s.UpdateBot(ctx, b); err != nil {
			return n, fmt.Errorf("reseal bot %s: %w", b.ID, err)
		}
		n++
	}

	users, err := s.ListUsers(ctx)
	if err != nil {
		return n, err
	}
	for _, u := range users {
		key, changed, err := reseal(u.AI.EncAPIKey)
		if err != nil {
			return n, fmt.Errorf("reseal user %s ai key: %w", u.ID, err)
		}
		if !changed {
			continue
		}
		u.AI.EncAPIKey = key
		if err := s.UpdateUserAISettings(ctx, u.ID, u.AI); err != nil {
			return n, fmt.Errorf("reseal user %s: %w", u.ID, err)
		}
		n++
	}

	for _, name := range settings {
		raw, err := s.GetSetting(ctx, name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return n, err
		}
		sealed, changed, err := rotate(raw)
		if err != nil {
			return n, fmt.Errorf("reseal setting %s: %w", name, err)
		}
		if !changed {
			continue
		}
		if err := s.PutSetting(ctx, name, sealed); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
