package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DemoCode is issued for every phone; no SMS is sent.
const DemoCode = "123456"

var ErrInvalidCode = errors.New("invalid or expired verification code")

type PhoneStore interface {
	SetVerifiedPhone(ctx context.Context, userID, phone string) error
}

type PhoneVerifier struct {
	rdb   redis.UniversalClient
	store PhoneStore
	ttl   time.Duration
}

func NewPhoneVerifier(rdb redis.UniversalClient, store PhoneStore, ttl time.Duration) *PhoneVerifier {
	return &PhoneVerifier{rdb: rdb, store: store, ttl: ttl}
}

func phoneKey(userID, phone string) string {
	return fmt.Sprintf("omnibot:phone:%s:%s", userID, phone)
}

// SendCode records a pending code for the user's phone and returns it.
func (v *PhoneVerifier) SendCode(ctx context.Context, userID, phone string) (string, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		return "", fmt.Errorf("%w: phone is required", ErrInvalidInput)
	}
	if err := v.rdb.Set(ctx, phoneKey(userID, phone), DemoCode, v.ttl).Err(); err != nil {
		return "", fmt.Errorf("store phone code: %w", err)
	}
	return DemoCode, nil
}

// Verify consumes a pending code and marks the phone as verified on the user.
func (v *PhoneVerifier) Verify(ctx context.Context, userID, phone, code string) error {
	phone = strings.TrimSpace(phone)
	key := phoneKey(userID, phone)
	stored, err := v.rdb.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrInvalidCode
		}
		return fmt.Errorf("load phone code: %w", err)
	}
	if stored != strings.TrimSpace(code) {
		return ErrInvalidCode
	}
	if err := v.store.SetVerifiedPhone(ctx, userID, phone); err != nil {
		return fmt.Errorf("save verified phone: %w", err)
	}
	_ = v.rdb.Del(ctx, key).Err()
	return nil
}
