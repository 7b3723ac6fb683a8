package providers

import (
	"context"
	"time"
)

// CallFunc performs one upstream attempt; retry reports whether a failure is transient.
type CallFunc func(ctx context.Context) (text string, retry bool, err error)

// CallWithRetry runs call up to maxRetries+1 times with exponential backoff.
// The relay builds clients with maxRetries 0, so it makes exactly one attempt.
func CallWithRetry(ctx context.Context, maxRetries int, backoffBase time.Duration, call CallFunc) (ChatResponse, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		text, retry, err := call(ctx)
		if err == nil {
			return ChatResponse{Text: text}, nil
		}
		lastErr = err
		if !retry || attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ChatResponse{}, ctx.Err()
		case <-time.After(backoffBase * (1 << attempt)):
		}
	}
	return ChatResponse{}, lastErr
}

// Conversation flattens the system prompt, prior turns and the new prompt into
// role/content pairs in the order chat APIs expect.
func Conversation(req ChatRequest, includeSystem bool) []Message {
	out := make([]Message, 0, len(req.History)+2)
	if includeSystem && req.SystemPrompt != "" {
		out = append(out, Message{Role: "system", Content: req.SystemPrompt})
	}
	for _, m := range req.History {
		if m.Content == "" {
			continue
		}
		out = append(out, m)
	}
	return append(out, Message{Role: RoleUser, Content: req.UserPrompt})
}
