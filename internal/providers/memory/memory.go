// Package memory keeps multi-turn context per session key in redis and feeds it
// to the wrapped provider.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"omnibot/internal/providers"
)

const keyPrefix = "omnibot:conv:"

type Store struct {
	rdb   redis.UniversalClient
	turns int
	ttl   time.Duration
	log   zerolog.Logger
}

// NewStore keeps at most turns user/assistant exchanges per session, expiring
// idle sessions after ttl. turns <= 0 disables memory.
func NewStore(rdb redis.UniversalClient, turns int, ttl time.Duration, log zerolog.Logger) *Store {
	return &Store{rdb: rdb, turns: turns, ttl: ttl, log: log.With().Str("component", "memory").Logger()}
}

func (s *Store) enabled() bool {
	return s != nil && s.rdb != nil && s.turns > 0
}

func (s *Store) History(ctx context.Context, sessionID string) ([]providers.Message, error) {
	if !s.enabled() || sessionID == "" {
		return nil, nil
	}
	raw, err := s.rdb.LRange(ctx, keyPrefix+sessionID, int64(-2*s.turns), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	out := make([]providers.Message, 0, len(raw))
	for _, item := range raw {
		var m providers.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) Append(ctx context.Context, sessionID, prompt, reply string) error {
	if !s.enabled() || sessionID == "" {
		return nil
	}
	user, err := json.Marshal(providers.Message{Role: providers.RoleUser, Content: prompt})
	if err != nil {
		return err
	}
	assistant, err := json.Marshal(providers.Message{Role: providers.RoleAssistant, Content: reply})
	if err != nil {
		return err
	}
	key := keyPrefix + sessionID
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.RPush(ctx, key, user, assistant)
		p.LTrim(ctx, key, int64(-2*s.turns), -1)
		if s.ttl > 0 {
			p.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("store conversation: %w", err)
	}
	return nil
}

// ClearBot drops every conversation stored under a key that mentions botID.
func (s *Store) ClearBot(ctx context.Context, botID string) error {
	if !s.enabled() || botID == "" {
		return nil
	}
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*"+botID+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan conversations: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}
	return nil
}

// Wrap returns a provider that prepends the session's history to each request and
// records the exchange on success. Memory failures are logged, never fatal.
func (s *Store) Wrap(next providers.Provider) providers.Provider {
	if !s.enabled() {
		return next
	}
	return providers.ProviderFunc(func(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
		if req.SessionID != "" {
			history, err := s.History(ctx, req.SessionID)
			if err != nil {
				s.log.Warn().Err(err).Str("session", req.SessionID).Msg("conversation history unavailable")
			}
			req.History = append(history, req.History...)
		}
		resp, err := next.Chat(ctx, req)
		if err != nil {
			return resp, err
		}
		if err := s.Append(ctx, req.SessionID, req.UserPrompt, resp.Text); err != nil {
			s.log.Warn().Err(err).Str("session", req.SessionID).Msg("conversation not saved")
		}
		return resp, nil
	})
}
