package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := "file:" + filepath.Join(t.TempDir(), "omnibot.db")
	s, err := Open(context.Background(), "sqlite", dsn, true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, User{ID: "u1", Email: "a@example.com", PasswordHash: "h", IsActive: true})
	require.NoError(t, err)
	assert.Equal(t, PlanFree, u.Plan)
	assert.Equal(t, RoleUser, u.Role)

	_, err = s.CreateUser(ctx, User{ID: "u2", Email: "a@example.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrConflict)

	got, err := s.GetUserByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.True(t, got.IsActive)
	assert.Nil(t, got.VerifiedPhone)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUserUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.CreateUser(ctx, User{ID: "u1", Email: "a@example.com", PasswordHash: "h"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateUserPlan(ctx, "u1", PlanPremium))
	require.NoError(t, s.SetVerifiedPhone(ctx, "u1", "+15550100"))
	key := "sealed"
	require.NoError(t, s.UpdateUserAISettings(ctx, "u1", UserAISettings{Provider: "openai", Model: "gpt-4o", EncAPIKey: &key}))

	got, err := s.GetUserByID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, PlanPremium, got.Plan)
	require.NotNil(t, got.VerifiedPhone)
	assert.Equal(t, "+15550100", *got.VerifiedPhone)
	assert.Equal(t, "openai", got.AI.Provider)
	require.NotNil(t, got.AI.EncAPIKey)
	assert.Equal(t, "sealed", *got.AI.EncAPIKey)

	assert.ErrorIs(t, s.UpdateUserPlan(ctx, "nobody", PlanBasic), ErrNotFound)
}

func TestBotLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateBot(ctx, Bot{ID: "b1", UserID: "u1", Name: "support", Platform: "telegram", AutoReply: true, IsActive: true})
	require.NoError(t, err)
	_, err = s.CreateBot(ctx, Bot{ID: "b2", UserID: "u2", Name: "other", Platform: "whatsapp", IsActive: true})
	require.NoError(t, err)

	owned, err := s.ListBotsByUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, owned, 1)
	assert.Equal(t, "b1", owned[0].ID)

	all, err := s.ListAllBots(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.GetOwnedBot(ctx, "u1", "b2")
	assert.ErrorIs(t, err, ErrNotFound)

	// GetBot ignores ownership.
	b2, err := s.GetBot(ctx, "b2")
	require.NoError(t, err)
	assert.Equal(t, "u2", b2.UserID)

	b1 := owned[0]
	b1.Name = "renamed"
	b1.AIModel = "deepseek-chat"
	require.NoError(t, s.UpdateBot(ctx, b1))
	got, err := s.GetBot(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "deepseek-chat", got.AIModel)
	assert.True(t, got.AutoReply)

	assert.ErrorIs(t, s.DeleteBot(ctx, "u1", "b2"), ErrNotFound)
	require.NoError(t, s.DeleteBot(ctx, "u1", "b1"))
	_, err = s.GetBot(ctx, "b1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCountMessagesSinceAcrossBots(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	window := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	records := []MessageRecord{
		{ID: "m1", UserID: "u1", BotID: "b1", CreatedAt: window.Add(-time.Second)},
		{ID: "m2", UserID: "u1", BotID: "b1", CreatedAt: window},
		{ID: "m3", UserID: "u1", BotID: "b2", CreatedAt: window.Add(time.Hour)},
		{ID: "m4", UserID: "u2", BotID: "b1", CreatedAt: window.Add(time.Hour)},
	}
	for _, r := range records {
		_, err := s.AppendMessage(ctx, r)
		require.NoError(t, err)
	}

	n, err := s.CountMessagesSince(ctx, "u1", window)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestListHistoryNewestFirstCapped(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < HistoryLimit+5; i++ {
		_, err := s.AppendMessage(ctx, MessageRecord{
			ID:          fmt.Sprintf("m%03d", i),
			UserID:      "u1",
			BotID:       "b1",
			UserMessage: fmt.Sprintf("q%d", i),
			AIResponse:  "a",
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := s.AppendMessage(ctx, MessageRecord{ID: "other", UserID: "u1", BotID: "b2", CreatedAt: base.Add(time.Hour * 48)})
	require.NoError(t, err)

	got, err := s.ListHistory(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Len(t, got, HistoryLimit)
	assert.Equal(t, fmt.Sprintf("m%03d", HistoryLimit+4), got[0].ID)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].CreatedAt.After(got[i-1].CreatedAt))
	}
}

func TestWebhookLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < WebhookLogLimit+3; i++ {
		_, err := s.AppendWebhookLog(ctx, WebhookLog{
			ID:        fmt.Sprintf("w%03d", i),
			BotID:     "b1",
			Platform:  "telegram",
			Payload:   `{"update_id":1}`,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}
	got, err := s.ListWebhookLogs(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, got, WebhookLogLimit)
	assert.Equal(t, fmt.Sprintf("w%03d", WebhookLogLimit+2), got[0].ID)
}

func TestSettingsUpsertAndStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, "xendit")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.PutSetting(ctx, "xendit", "v1"))
	require.NoError(t, s.PutSetting(ctx, "xendit", "v2"))
	v, err := s.GetSetting(ctx, "xendit")
	require.NoError(t, err)
	assert.Equal(t, "v2", v)

	require.NoError(t, s.LogAction(ctx, AuditEntry{UserID: "admin", Action: "plan_change"}))
	n, err := s.CountAuditActions(ctx, "plan_change")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.CreateUser(ctx, User{ID: "u1", Email: "a@example.com", PasswordHash: "h"})
	require.NoError(t, err)
	_, err = s.CreateBot(ctx, Bot{ID: "b1", UserID: "u1", Name: "x", Platform: "web"})
	require.NoError(t, err)
	_, err = s.AppendMessage(ctx, MessageRecord{ID: "m1", UserID: "u1", BotID: "b1"})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalUsers: 1, TotalBots: 1, TotalChats: 1}, st)
}
