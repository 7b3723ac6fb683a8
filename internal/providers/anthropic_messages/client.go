package anthropic_messages

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"omnibot/internal/providers"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com/v1"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 1024
)

type Config struct {
	BaseURL     string
	APIKey      string
	HTTPClient  *http.Client
	MaxRetries  int
	BackoffBase time.Duration
}

type Client struct {
	cfg Config
}

func New(cfg Config) *Client {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 400 * time.Millisecond
	}
	return &Client{cfg: cfg}
}

var _ providers.Provider = (*Client)(nil)

type messagesRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []providers.Message `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature float64             `json:"temperature,omitempty"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) Chat(ctx context.Context, req providers.ChatRequest) (providers.ChatResponse, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	// The system prompt is a top-level field here, not a message.
	body, err := json.Marshal(messagesRequest{
		Model:       req.Model,
		System:      req.SystemPrompt,
		Messages:    providers.Conversation(req, false),
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return providers.ChatResponse{}, fmt.Errorf("marshal messages payload: %w", err)
	}
	endpoint := strings.TrimSuffix(c.cfg.BaseURL, "/") + "/messages"
	return providers.CallWithRetry(ctx, c.cfg.MaxRetries, c.cfg.BackoffBase, func(ctx context.Context) (string, bool, error) {
		return c.callOnce(ctx, endpoint, body)
	})
}

func (c *Client) callOnce(ctx context.Context, endpoint string, body []byte) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.cfg.APIKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", true, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", false, fmt.Errorf("read response body: %w", err)
	}

	var out messagesResponse
	decodeErr := json.Unmarshal(raw, &out)

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 529:
		return "", true, fmt.Errorf("anthropic temporary status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		if decodeErr == nil && out.Error != nil && out.Error.Message != "" {
			return "", false, fmt.Errorf("anthropic status %d: %s", resp.StatusCode, out.Error.Message)
		}
		return "", false, fmt.Errorf("anthropic status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", false, fmt.Errorf("decode messages response: %w", decodeErr)
	}

	parts := make([]string, 0, len(out.Content))
	for _, block := range out.Content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	if len(parts) == 0 {
		return "", false, fmt.Errorf("anthropic response has no text content")
	}
	return strings.Join(parts, ""), false, nil
}
