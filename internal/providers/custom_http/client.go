package custom_http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"omnibot/internal/providers"
)

// Config targets an arbitrary JSON endpoint. BodyTemplate is a text/template
// rendered with the request fields; an empty template sends a default JSON body.
type Config struct {
	URL          string
	APIKey       string
	Headers      map[string]string
	BodyTemplate string
	Method       string
	HTTPClient   *http.Client
	MaxRetries   int
	BackoffBase  time.Duration
}

type Client struct {
	cfg Config
	tpl *template.Template
}

func New(cfg Config) (*Client, error) {
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	c := &Client{cfg: cfg}
	if strings.TrimSpace(cfg.BodyTemplate) != "" {
		tpl, err := template.New("custom_http_body").
			Funcs(template.FuncMap{"json": toJSON}).
			Option("missingkey=zero").
			Parse(cfg.BodyTemplate)
		if err != nil {
			return nil, fmt.Errorf("parse body template: %w", err)
		}
		c.tpl = tpl
	}
	return c, nil
}

var _ providers.Provider = (*Client)(nil)

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return providers.ChatResponse{}, fmt.Errorf("custom http url is empty")
	}
	body, err := c.renderBody(req)
	if err != nil {
		return providers.ChatResponse{}, err
	}
	return providers.CallWithRetry(ctx, c.cfg.MaxRetries, c.cfg.BackoffBase, func(ctx context.Context) (string, bool, error) {
		return c.callOnce(ctx, body)
	})
}

func (c *Client) renderBody(req providers.ChatRequest) ([]byte, error) {
	if c.tpl == nil {
		b, err := json.Marshal(map[string]any{
			"model":         req.Model,
			"system_prompt": req.SystemPrompt,
			"prompt":        req.UserPrompt,
			"session_id":    req.SessionID,
			"history":       req.History,
			"max_tokens":    req.MaxTokens,
			"temperature":   req.Temperature,
		})
		if err != nil {
			return nil, fmt.Errorf("marshal custom payload: %w", err)
		}
		return b, nil
	}

	var buf bytes.Buffer
	if err := c.tpl.Execute(&buf, map[string]any{
		"Model":        req.Model,
		"SystemPrompt": req.SystemPrompt,
		"UserPrompt":   req.UserPrompt,
		"SessionID":    req.SessionID,
		"History":      req.History,
		"MaxTokens":    req.MaxTokens,
		"Temperature":  req.Temperature,
		"APIKey":       c.cfg.APIKey,
	}); err != nil {
		return nil, fmt.Errorf("execute body template: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Client) callOnce(ctx context.Context, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, c.cfg.Method, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build custom request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, strings.ReplaceAll(v, "{{api_key}}", c.cfg.APIKey))
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("custom request failed: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("read custom response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return "", true, fmt.Errorf("custom provider temporary status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return "", false, fmt.Errorf("custom provider status %d", resp.StatusCode)
	}

	text, err := extractText(b)
	return text, false, err
}

// extractText accepts the common reply shapes: a flat text field, OpenAI choices,
// a Responses-style output array, or a plain-text body.
func extractText(body []byte) (string, error) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		if trimmed := strings.TrimSpace(string(body)); trimmed != "" {
			return trimmed, nil
		}
		return "", fmt.Errorf("decode custom response: %w", err)
	}

	for _, key := range []string{"text", "response", "answer", "reply", "output_text"} {
		if v, ok := doc[key].(string); ok && strings.TrimSpace(v) != "" {
			return v, nil
		}
	}

	if v := dig(doc, "choices", 0, "message", "content"); v != "" {
		return v, nil
	}
	if v := dig(doc, "choices", 0, "text"); v != "" {
		return v, nil
	}
	if v := dig(doc, "output", 0, "content", 0, "text"); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("custom response does not contain text field")
}

// dig walks a decoded JSON value by map keys and slice indexes and returns a
// non-blank string leaf, or "".
func dig(v any, path ...any) string {
	cur := v
	for _, p := range path {
		switch key := p.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return ""
			}
			cur = m[key]
		case int:
			s, ok := cur.([]any)
			if !ok || len(s) <= key {
				return ""
			}
			cur = s[key]
		}
	}
	s, _ := cur.(string)
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return s
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
