package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnibot/internal/config"
	"omnibot/internal/providers"
	"omnibot/internal/providers/memory"
	"omnibot/internal/quota"
	"omnibot/internal/relay"
	"omnibot/internal/storage"
)

type recordingProvider struct {
	mu       sync.Mutex
	sessions []string
	fail     error
}

func (p *recordingProvider) ForName(string, string) (providers.Provider, error) {
	return p, nil
}

func (p *recordingProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions = append(p.sessions, req.SessionID)
	if p.fail != nil {
		return providers.ChatResponse{}, p.fail
	}
	return providers.ChatResponse{Text: "echo: " + req.UserPrompt}, nil
}

func (p *recordingProvider) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sessions...)
}

type fixture struct {
	store    *storage.Store
	ledger   *quota.Ledger
	provider *recordingProvider
	gw       *Gateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, err := storage.Open(ctx, "sqlite", "file:"+filepath.Join(t.TempDir(), "gw.db"), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	for _, id := range []string{"b1", "b2"} {
		_, err := store.CreateBot(ctx, storage.Bot{ID: id, UserID: "owner", Name: id, Platform: "web", IsActive: true})
		require.NoError(t, err)
	}

	ledger := quota.NewLedger(store, config.QuotaConfig{Free: 100, Basic: 1000, Premium: 5000})
	p := &recordingProvider{}
	r := relay.New(p, nil, zerolog.Nop(), nil)
	gw := New(Config{
		Store:    store,
		Quota:    ledger,
		Relay:    r,
		Defaults: relay.Defaults{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: "k"},
		Logger:   zerolog.Nop(),
	})
	return &fixture{store: store, ledger: ledger, provider: p, gw: gw}
}

func TestFreeUserHundredSendsThenRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{UserID: "u1", Plan: storage.PlanFree}

	for i := 0; i < 100; i++ {
		res, err := f.gw.Send(ctx, caller, SendRequest{Message: "hi", BotID: "b1", Platform: "web"})
		require.NoError(t, err, "send %d", i+1)
		assert.Equal(t, 100-i-1, res.Remaining)
	}

	_, err := f.gw.Send(ctx, caller, SendRequest{Message: "one too many", BotID: "b1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	var qe *QuotaExceededError
	require.True(t, errors.As(err, &qe))
	assert.Equal(t, 100, qe.Limit)

	n, err := f.ledger.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, n, "rejected send must not be recorded")
	assert.Len(t, f.provider.seen(), 100, "rejected send must not reach the provider")
}

func TestLastAllowedSendHasZeroRemaining(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 99; i++ {
		_, err := f.store.AppendMessage(ctx, storage.MessageRecord{ID: fmt.Sprintf("seed%d", i), UserID: "u1", BotID: "b1"})
		require.NoError(t, err)
	}

	res, err := f.gw.Send(ctx, Caller{UserID: "u1", Plan: "free"}, SendRequest{Message: "last", BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Remaining)
	assert.Equal(t, "echo: last", res.Response)
	assert.NotEmpty(t, res.ChatID)

	_, err = f.gw.Send(ctx, Caller{UserID: "u1", Plan: "free"}, SendRequest{Message: "next", BotID: "b1"})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestTestSendsAreNotMetered(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{UserID: "u1", Plan: "free"}

	for i := 0; i < 5; i++ {
		res, err := f.gw.Test(ctx, caller, TestRequest{Message: "ping", BotID: "b1"})
		require.NoError(t, err)
		assert.True(t, res.IsTest)
		assert.Equal(t, "echo: ping", res.Response)
	}
	n, err := f.ledger.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)

	hist, err := f.gw.History(ctx, "u1", "b1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestSessionKeysPerBotAndMode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{UserID: "u1", Plan: "free"}

	_, err := f.gw.Send(ctx, caller, SendRequest{Message: "a", BotID: "b1"})
	require.NoError(t, err)
	_, err = f.gw.Send(ctx, caller, SendRequest{Message: "b", BotID: "b2"})
	require.NoError(t, err)
	_, err = f.gw.Test(ctx, caller, TestRequest{Message: "c", BotID: "b1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"u1_b1", "u1_b2", "test_u1_b1"}, f.provider.seen())
}

func TestUnknownBot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	caller := Caller{UserID: "u1", Plan: "free"}

	_, err := f.gw.Send(ctx, caller, SendRequest{Message: "a", BotID: "missing"})
	assert.ErrorIs(t, err, ErrBotNotFound)
	_, err = f.gw.Test(ctx, caller, TestRequest{Message: "a", BotID: "missing"})
	assert.ErrorIs(t, err, ErrBotNotFound)

	n, err := f.ledger.Count(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendToForeignBotIsAllowed(t *testing.T) {
	f := newFixture(t)
	// b1 belongs to "owner"; any caller may address it and is charged themselves.
	res, err := f.gw.Send(context.Background(), Caller{UserID: "stranger", Plan: "free"}, SendRequest{Message: "hi", BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 99, res.Remaining)

	n, err := f.ledger.Count(context.Background(), "stranger")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestProviderFailureIsRecordedAsDegradedReply(t *testing.T) {
	f := newFixture(t)
	f.provider.fail = errors.New("model overloaded")
	ctx := context.Background()

	res, err := f.gw.Send(ctx, Caller{UserID: "u1", Plan: "free"}, SendRequest{Message: "hi", BotID: "b1", Platform: "web", SenderID: "s1"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Response, "Sorry, I encountered an error:"))

	hist, err := f.gw.History(ctx, "u1", "b1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, res.Response, hist[0].AIResponse)
	assert.Equal(t, "s1", hist[0].SenderID)
	assert.Equal(t, res.ChatID, hist[0].ID)
}

type historyProvider struct {
	mu    sync.Mutex
	calls []providers.ChatRequest
}

func (p *historyProvider) ForName(string, string) (providers.Provider, error) { return p, nil }

func (p *historyProvider) Chat(_ context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, req)
	return providers.ChatResponse{Text: "ok"}, nil
}

func TestAutoReplyKeepsParticipantsApart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	p := &historyProvider{}
	gw := New(Config{
		Store:    f.store,
		Quota:    f.ledger,
		Relay:    relay.New(p, memory.NewStore(rdb, 20, time.Hour, zerolog.Nop()), zerolog.Nop(), nil),
		Defaults: relay.Defaults{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: "k"},
		Logger:   zerolog.Nop(),
	})
	owner := Caller{UserID: "owner", Plan: storage.PlanFree}

	_, err := gw.AutoReply(ctx, owner, SendRequest{Message: "my card is 4111", BotID: "b1", Platform: "telegram", SenderID: "alice"})
	require.NoError(t, err)
	_, err = gw.AutoReply(ctx, owner, SendRequest{Message: "hello", BotID: "b1", Platform: "telegram", SenderID: "bob"})
	require.NoError(t, err)
	_, err = gw.AutoReply(ctx, owner, SendRequest{Message: "again", BotID: "b1", Platform: "telegram", SenderID: "alice"})
	require.NoError(t, err)

	require.Len(t, p.calls, 3)
	assert.Empty(t, p.calls[1].History, "bob must not see alice's conversation")
	require.Len(t, p.calls[2].History, 2)
	assert.Equal(t, "my card is 4111", p.calls[2].History[0].Content)
	assert.NotEqual(t, p.calls[0].SessionID, p.calls[1].SessionID)

	n, err := f.ledger.Count(ctx, "owner")
	require.NoError(t, err)
	assert.Equal(t, 3, n, "auto-replies are charged to the owner")

	_, err = gw.Send(ctx, owner, SendRequest{Message: "owner", BotID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, "owner_b1", p.calls[3].SessionID)
	assert.Empty(t, p.calls[3].History, "owner's own session is separate from participants")
}

func TestAutoReplyNeedsSender(t *testing.T) {
	f := newFixture(t)
	_, err := f.gw.AutoReply(context.Background(), Caller{UserID: "owner", Plan: "free"}, SendRequest{Message: "x", BotID: "b1"})
	assert.Error(t, err)
}
