package registry

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"omnibot/internal/providers"
	"omnibot/internal/providers/anthropic_messages"
	"omnibot/internal/providers/custom_http"
	"omnibot/internal/providers/openai_compat"
)

const (
	KindOpenAICompat = "openai_compat"
	KindAnthropic    = "anthropic_messages"
	KindCustomHTTP   = "custom_http"
)

// Endpoint is where a named provider lives and which wire protocol it speaks.
type Endpoint struct {
	Kind    string
	BaseURL string
}

var knownEndpoints = map[string]Endpoint{
	"openai":    {Kind: KindOpenAICompat, BaseURL: "https://api.openai.com/v1"},
	"anthropic": {Kind: KindAnthropic, BaseURL: anthropic_messages.DefaultBaseURL},
	"gemini":    {Kind: KindOpenAICompat, BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai"},
	"deepseek":  {Kind: KindOpenAICompat, BaseURL: "https://api.deepseek.com/v1"},
	"qwen":      {Kind: KindOpenAICompat, BaseURL: "https://dashscope-intl.aliyuncs.com/compatible-mode/v1"},
	"kimi":      {Kind: KindOpenAICompat, BaseURL: "https://api.moonshot.cn/v1"},
	"custom":    {Kind: KindCustomHTTP},
}

var catalog = map[string][]string{
	"openai":    {"gpt-4.1", "gpt-4.1-mini", "gpt-4.1-nano", "o4-mini", "o3-mini", "o3", "o1-mini", "gpt-4o-mini", "gpt-4.5-preview", "gpt-4o", "o1", "o1-pro"},
	"anthropic": {"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-7-sonnet-20250219", "claude-3-5-haiku-20241022", "claude-3-5-sonnet-20241022"},
	"gemini":    {"gemini-2.5-flash-preview-04-17", "gemini-2.5-pro-preview-05-06", "gemini-2.0-flash", "gemini-2.0-flash-preview-image-generation", "gemini-2.0-flash-lite", "gemini-1.5-flash", "gemini-1.5-flash-8b", "gemini-1.5-pro"},
	"deepseek":  {"deepseek-chat", "deepseek-coder"},
	"qwen":      {"qwen-turbo", "qwen-max"},
	"kimi":      {"moonshot-v1-8k", "moonshot-v1-32k", "moonshot-v1-128k"},
}

// Models returns a copy of the provider to model catalog.
func Models() map[string][]string {
	out := make(map[string][]string, len(catalog))
	for p, models := range catalog {
		out[p] = append([]string(nil), models...)
	}
	return out
}

// Providers lists the provider names Lookup understands, sorted.
func Providers() []string {
	out := make([]string, 0, len(knownEndpoints))
	for name := range knownEndpoints {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves a provider name. overrides (from AI_BASE_URL_<NAME>) replace the
// built-in base URL; an override for an unknown name is treated as OpenAI compatible.
func Lookup(name string, overrides map[string]string) (Endpoint, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	ep, ok := knownEndpoints[name]
	if base, has := overrides[name]; has && base != "" {
		if !ok {
			ep = Endpoint{Kind: KindOpenAICompat}
			ok = true
		}
		ep.BaseURL = base
	}
	if ok && ep.BaseURL == "" {
		return Endpoint{}, false
	}
	return ep, ok
}

type BuildOptions struct {
	Kind        string
	BaseURL     string
	APIKey      string
	Headers     map[string]string
	Config      map[string]any
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

func Build(opts BuildOptions) (providers.Provider, error) {
	if opts.Config == nil {
		opts.Config = map[string]any{}
	}
	switch opts.Kind {
	case KindOpenAICompat, "openai-compatible", "openai":
		endpoint := "chat_completions"
		if v, ok := opts.Config["endpoint"].(string); ok && v != "" {
			endpoint = v
		}
		return openai_compat.New(openai_compat.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			Headers:     opts.Headers,
			Endpoint:    endpoint,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case KindAnthropic, "anthropic":
		return anthropic_messages.New(anthropic_messages.Config{
			BaseURL:     opts.BaseURL,
			APIKey:      opts.APIKey,
			HTTPClient:  opts.HTTPClient,
			MaxRetries:  opts.MaxRetries,
			BackoffBase: opts.BackoffBase,
		}), nil

	case KindCustomHTTP, "custom-http":
		bodyTemplate, _ := opts.Config["body_template"].(string)
		method, _ := opts.Config["method"].(string)
		return custom_http.New(custom_http.Config{
			URL:          opts.BaseURL,
			APIKey:       opts.APIKey,
			Headers:      opts.Headers,
			BodyTemplate: bodyTemplate,
			Method:       method,
			HTTPClient:   opts.HTTPClient,
			MaxRetries:   opts.MaxRetries,
			BackoffBase:  opts.BackoffBase,
		})

	default:
		return nil, fmt.Errorf("unsupported provider kind %q", opts.Kind)
	}
}

// Factory builds providers by name with shared transport settings.
type Factory struct {
	Overrides  map[string]string
	HTTPClient *http.Client
	MaxRetries int
}

func (f Factory) ForName(name, apiKey string) (providers.Provider, error) {
	ep, ok := Lookup(name, f.Overrides)
	if !ok {
		return nil, fmt.Errorf("unknown ai provider %q", name)
	}
	return Build(BuildOptions{
		Kind:       ep.Kind,
		BaseURL:    ep.BaseURL,
		APIKey:     apiKey,
		HTTPClient: f.HTTPClient,
		MaxRetries: f.MaxRetries,
	})
}
