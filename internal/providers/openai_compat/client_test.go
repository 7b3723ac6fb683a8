package openai_compat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"omnibot/internal/providers"
)

func TestBuildPayloadChatCompletions(t *testing.T) {
	c := New(Config{BaseURL: "https://api.deepseek.com/v1", Endpoint: "chat_completions"})

	body, endpoint, err := c.buildPayload(providers.ChatRequest{
		Model:        "deepseek-chat",
		SystemPrompt: "You are concise",
		UserPrompt:   "hello",
		History: []providers.Message{
			{Role: providers.RoleUser, Content: "earlier"},
			{Role: providers.RoleAssistant, Content: "reply"},
		},
		MaxTokens:   123,
		Temperature: 0.4,
	})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.deepseek.com/v1/chat/completions" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}

	var payload struct {
		Model    string              `json:"model"`
		Messages []providers.Message `json:"messages"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Model != "deepseek-chat" {
		t.Fatalf("expected model deepseek-chat, got %q", payload.Model)
	}
	if len(payload.Messages) != 4 {
		t.Fatalf("expected system, two history turns and prompt, got %d", len(payload.Messages))
	}
	if payload.Messages[0].Role != "system" || payload.Messages[3].Content != "hello" {
		t.Fatalf("unexpected message order %#v", payload.Messages)
	}
}

func TestBuildPayloadResponsesEndpoint(t *testing.T) {
	c := New(Config{BaseURL: "https://api.openai.com/v1", Endpoint: "responses"})

	_, endpoint, err := c.buildPayload(providers.ChatRequest{Model: "gpt-4.1", UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("build payload: %v", err)
	}
	if endpoint != "https://api.openai.com/v1/responses" {
		t.Fatalf("unexpected endpoint %q", endpoint)
	}
}

func TestChatParsesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("unexpected auth header %q", got)
		}
		b, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(b), `"hello"`) {
			t.Errorf("prompt missing from body: %s", b)
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"}}]}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL + "/v1", APIKey: "sk-test"})
	resp, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m", UserPrompt: "hello"})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Text != "hi there" {
		t.Fatalf("unexpected text %q", resp.Text)
	}
}

func TestChatSingleAttemptWithoutRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL, MaxRetries: 0})
	if _, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m", UserPrompt: "x"}); err == nil {
		t.Fatalf("expected error for 503")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exactly one attempt, got %d", calls.Load())
	}
}

func TestChatSurfacesUpstreamErrorMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key"}}`))
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), providers.ChatRequest{Model: "m", UserPrompt: "x"})
	if err == nil || !strings.Contains(err.Error(), "invalid api key") {
		t.Fatalf("expected upstream message in error, got %v", err)
	}
}
