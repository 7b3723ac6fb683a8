// Package gateway is the metered entry point for chat: it checks quota, resolves
// the bot's AI settings and session, relays the prompt and records the exchange.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"omnibot/internal/metrics"
	"omnibot/internal/quota"
	"omnibot/internal/relay"
	"omnibot/internal/session"
	"omnibot/internal/storage"
)

var (
	ErrBotNotFound   = errors.New("bot not found")
	ErrQuotaExceeded = errors.New("chat limit exceeded")
)

// QuotaExceededError carries the plan limit that was hit.
type QuotaExceededError struct {
	Limit int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("Chat limit exceeded. Your plan allows %d messages per month.", e.Limit)
}

func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

type Store interface {
	GetBot(ctx context.Context, id string) (storage.Bot, error)
	AppendMessage(ctx context.Context, m storage.MessageRecord) (storage.MessageRecord, error)
	ListHistory(ctx context.Context, userID, botID string) ([]storage.MessageRecord, error)
}

type Quota interface {
	Allow(ctx context.Context, userID, plan string) (quota.Decision, error)
}

type Completer interface {
	Complete(ctx context.Context, prompt string, s relay.Settings, sessionKey string) string
}

// KeyOpener decrypts a sealed bot credential; nil means no key.
type KeyOpener interface {
	OpenOptional(raw *string) (string, error)
}

type Caller struct {
	UserID string
	Plan   string
}

type SendRequest struct {
	Message  string
	BotID    string
	Platform string
	SenderID string
}

type SendResult struct {
	ChatID    string
	Response  string
	Remaining int
}

type TestRequest struct {
	Message string
	BotID   string
}

type TestResult struct {
	Response string
	IsTest   bool
}

type Config struct {
	Store    Store
	Quota    Quota
	Relay    Completer
	Keys     KeyOpener
	Defaults relay.Defaults
	// AITimeout bounds each relay call; zero leaves only the caller's deadline.
	AITimeout time.Duration
	Logger    zerolog.Logger
	Metrics   *metrics.Metrics
}

type Gateway struct {
	store     Store
	quota     Quota
	relay     Completer
	keys      KeyOpener
	defaults  relay.Defaults
	aiTimeout time.Duration
	log       zerolog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

func New(cfg Config) *Gateway {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Gateway{
		store:     cfg.Store,
		quota:     cfg.Quota,
		relay:     cfg.Relay,
		keys:      cfg.Keys,
		defaults:  cfg.Defaults,
		aiTimeout: cfg.AITimeout,
		log:       cfg.Logger.With().Str("component", "gateway").Logger(),
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		newID:     uuid.NewString,
	}
}

// Send is a metered send. Bot ownership is not checked: any authenticated caller
// may address any bot id and is charged against their own quota.
func (g *Gateway) Send(ctx context.Context, c Caller, req SendRequest) (SendResult, error) {
	return g.send(ctx, c, req, session.Resolve(c.UserID, req.BotID, false))
}

// AutoReply is a metered send on behalf of the bot owner for a remote platform
// participant. The owner is charged, but the conversation is keyed per sender.
func (g *Gateway) AutoReply(ctx context.Context, owner Caller, req SendRequest) (SendResult, error) {
	if req.SenderID == "" {
		return SendResult{}, errors.New("auto-reply needs a sender id")
	}
	return g.send(ctx, owner, req, session.ResolveParticipant(owner.UserID, req.BotID, req.SenderID))
}

func (g *Gateway) send(ctx context.Context, c Caller, req SendRequest, key string) (SendResult, error) {
	decision, err := g.quota.Allow(ctx, c.UserID, c.Plan)
	if err != nil {
		return SendResult{}, fmt.Errorf("check quota: %w", err)
	}
	if !decision.Allowed {
		g.metrics.QuotaRejections.Inc()
		return SendResult{}, &QuotaExceededError{Limit: decision.Limit}
	}

	bot, err := g.loadBot(ctx, req.BotID)
	if err != nil {
		return SendResult{}, err
	}

	reply := g.complete(ctx, req.Message, g.settingsFor(bot), key)

	rec, err := g.store.AppendMessage(ctx, storage.MessageRecord{
		ID:          g.newID(),
		UserID:      c.UserID,
		BotID:       req.BotID,
		Platform:    req.Platform,
		SenderID:    req.SenderID,
		UserMessage: req.Message,
		AIResponse:  reply,
		CreatedAt:   g.now(),
	})
	if err != nil {
		return SendResult{}, fmt.Errorf("record message: %w", err)
	}
	g.metrics.MessagesSent.Inc()

	return SendResult{
		ChatID:    rec.ID,
		Response:  reply,
		Remaining: decision.Remaining(),
	}, nil
}

// Test relays a prompt on the bot's test session. It is neither metered nor recorded.
func (g *Gateway) Test(ctx context.Context, c Caller, req TestRequest) (TestResult, error) {
	bot, err := g.loadBot(ctx, req.BotID)
	if err != nil {
		return TestResult{}, err
	}
	key := session.Resolve(c.UserID, req.BotID, true)
	reply := g.complete(ctx, req.Message, g.settingsFor(bot), key)
	g.metrics.TestSends.Inc()
	return TestResult{Response: reply, IsTest: true}, nil
}

// History returns the caller's most recent exchanges with a bot, newest first.
func (g *Gateway) History(ctx context.Context, userID, botID string) ([]storage.MessageRecord, error) {
	out, err := g.store.ListHistory(ctx, userID, botID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return out, nil
}

func (g *Gateway) loadBot(ctx context.Context, botID string) (storage.Bot, error) {
	bot, err := g.store.GetBot(ctx, botID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Bot{}, ErrBotNotFound
		}
		return storage.Bot{}, fmt.Errorf("load bot: %w", err)
	}
	return bot, nil
}

func (g *Gateway) settingsFor(bot storage.Bot) relay.Settings {
	var apiKey string
	if g.keys != nil {
		key, err := g.keys.OpenOptional(bot.EncAIAPIKey)
		if err != nil {
			g.log.Warn().Err(err).Str("bot_id", bot.ID).Msg("bot ai key unreadable, using default")
		} else {
			apiKey = key
		}
	}
	return relay.SettingsFor(bot, apiKey, g.defaults)
}

func (g *Gateway) complete(ctx context.Context, prompt string, s relay.Settings, key string) string {
	if g.aiTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.aiTimeout)
		defer cancel()
	}
	return g.relay.Complete(ctx, prompt, s, key)
}
