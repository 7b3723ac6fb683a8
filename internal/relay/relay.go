// Package relay turns a prompt plus a bot's AI settings into reply text. Provider
// failures never escape as errors; callers get an apology string instead.
package relay

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"omnibot/internal/config"
	"omnibot/internal/metrics"
	"omnibot/internal/providers"
	"omnibot/internal/storage"
)

const failurePrefix = "Sorry, I encountered an error: "

type Settings struct {
	Provider      string
	Model         string
	APIKey        string
	SystemMessage string
}

// Defaults are the process-wide fallbacks applied by SettingsFor.
type Defaults Settings

func DefaultsFrom(cfg config.AIConfig) Defaults {
	return Defaults{
		Provider:      cfg.DefaultProvider,
		Model:         cfg.DefaultModel,
		APIKey:        cfg.DefaultAPIKey,
		SystemMessage: cfg.DefaultSystemMessage,
	}
}

// SettingsFor derives call settings from a bot. apiKey is the bot's decrypted AI
// key. A bot without its own key runs on the default key and the default provider,
// since its configured provider would not accept the default key.
func SettingsFor(bot storage.Bot, apiKey string, d Defaults) Settings {
	s := Settings{
		Provider:      strings.ToLower(strings.TrimSpace(bot.AIProvider)),
		Model:         strings.TrimSpace(bot.AIModel),
		APIKey:        strings.TrimSpace(apiKey),
		SystemMessage: bot.SystemMessage,
	}
	if s.APIKey == "" {
		s.APIKey = d.APIKey
		s.Provider = d.Provider
	}
	if s.Provider == "" {
		s.Provider = d.Provider
	}
	if s.Model == "" {
		s.Model = d.Model
	}
	if strings.TrimSpace(s.SystemMessage) == "" {
		s.SystemMessage = d.SystemMessage
	}
	return s
}

// Result is the outcome of one relay call.
type Result struct {
	Text string
	Err  error
}

// Reply is the text to show the end user.
func (r Result) Reply() string {
	if r.Err != nil {
		return failurePrefix + r.Err.Error()
	}
	return r.Text
}

// Builder constructs a provider client for a provider name.
type Builder interface {
	ForName(name, apiKey string) (providers.Provider, error)
}

// Wrapper decorates a provider, typically with conversation memory.
type Wrapper interface {
	Wrap(providers.Provider) providers.Provider
}

type Relay struct {
	builder Builder
	wrapper Wrapper
	log     zerolog.Logger
	metrics *metrics.Metrics
}

func New(builder Builder, wrapper Wrapper, log zerolog.Logger, m *metrics.Metrics) *Relay {
	if m == nil {
		m = metrics.Global()
	}
	return &Relay{
		builder: builder,
		wrapper: wrapper,
		log:     log.With().Str("component", "relay").Logger(),
		metrics: m,
	}
}

// Do makes one provider attempt and reports the outcome.
func (r *Relay) Do(ctx context.Context, prompt string, s Settings, sessionKey string) Result {
	p, err := r.builder.ForName(s.Provider, s.APIKey)
	if err != nil {
		return r.fail(s, sessionKey, err)
	}
	if r.wrapper != nil {
		p = r.wrapper.Wrap(p)
	}
	resp, err := p.Chat(ctx, providers.ChatRequest{
		Model:        s.Model,
		SystemPrompt: s.SystemMessage,
		UserPrompt:   prompt,
		SessionID:    sessionKey,
	})
	if err != nil {
		return r.fail(s, sessionKey, err)
	}
	return Result{Text: resp.Text}
}

// Complete is Do reduced to the user-facing text.
func (r *Relay) Complete(ctx context.Context, prompt string, s Settings, sessionKey string) string {
	return r.Do(ctx, prompt, s, sessionKey).Reply()
}

func (r *Relay) fail(s Settings, sessionKey string, err error) Result {
	r.metrics.RelayFailures.WithLabelValues(s.Provider).Inc()
	r.log.Error().
		Err(err).
		Str("provider", s.Provider).
		Str("model", s.Model).
		Str("session", sessionKey).
		Msg("ai call failed")
	return Result{Err: err}
}
