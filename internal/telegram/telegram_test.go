package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

func TestParseUpdateText(t *testing.T) {
	body := []byte(`{"update_id":10,"message":{"message_id":5,"date":1,"chat":{"id":-100,"type":"group"},"from":{"id":42,"is_bot":false,"first_name":"A"},"text":" hi bot "}}`)
	in, ok, err := ParseUpdate(body)
	if err != nil || !ok {
		t.Fatalf("parse: ok=%v err=%v", ok, err)
	}
	if in.UpdateID != 10 || in.ChatID != -100 || in.MessageID != 5 || in.SenderID != "42" || in.Text != "hi bot" {
		t.Fatalf("unexpected inbound %+v", in)
	}
}

func TestParseUpdateSkipsNonText(t *testing.T) {
	cases := []string{
		`{"update_id":1,"edited_message":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"},"text":"x"}}`,
		`{"update_id":2,"message":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"}}}`,
		`{"update_id":3,"message":{"message_id":1,"date":1,"chat":{"id":1,"type":"private"},"from":{"id":9,"is_bot":true,"first_name":"B"},"text":"loop"}}`,
	}
	for _, c := range cases {
		in, ok, err := ParseUpdate([]byte(c))
		if err != nil {
			t.Fatalf("parse %s: %v", c, err)
		}
		if ok {
			t.Fatalf("expected no reply for %s", c)
		}
		if in.UpdateID == 0 {
			t.Fatalf("update id should still be reported for %s", c)
		}
	}
	if _, _, err := ParseUpdate([]byte("not json")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestSenderReply(t *testing.T) {
	var gotPath string
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = r.ParseForm()
		gotText = r.FormValue("text")
		if gotText == "" {
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			gotText, _ = body["text"].(string)
		}
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":1,"chat":{"id":7,"type":"private"}}}`))
	}))
	defer srv.Close()

	s := Sender{Client: &gotgbot.BaseBotClient{
		Client:             *srv.Client(),
		DefaultRequestOpts: &gotgbot.RequestOpts{APIURL: srv.URL},
	}}
	if err := s.Reply(context.Background(), "123:abc", 7, 3, "answer"); err != nil {
		t.Fatalf("reply: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/sendMessage") || !strings.Contains(gotPath, "123:abc") {
		t.Fatalf("unexpected api path %q", gotPath)
	}
	if gotText != "answer" {
		t.Fatalf("unexpected text %q", gotText)
	}

	if err := s.Reply(context.Background(), "", 7, 0, "x"); err == nil {
		t.Fatalf("expected error for empty token")
	}
}

func TestTruncateAndSanitize(t *testing.T) {
	long := strings.Repeat("й", MaxMessageRunes+10)
	if got := []rune(Truncate(long)); len(got) != MaxMessageRunes {
		t.Fatalf("expected truncation to %d runes, got %d", MaxMessageRunes, len(got))
	}
	if Truncate("  ") == "" {
		t.Fatalf("empty text must be replaced")
	}
	msg := Sanitize(errors.New("Post https://api.telegram.org/bot123:abc/sendMessage failed"), "123:abc")
	if strings.Contains(msg, "abc") {
		t.Fatalf("token leaked: %s", msg)
	}
}
