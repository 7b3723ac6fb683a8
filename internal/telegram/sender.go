package telegram

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// MaxMessageRunes keeps replies under Telegram's 4096 character limit.
const MaxMessageRunes = 4000

// Sender delivers replies using a per-bot token.
type Sender struct {
	// Client overrides the Bot API transport; nil uses gotgbot's default.
	Client gotgbot.BotClient
}

func (s Sender) Reply(ctx context.Context, token string, chatID, replyTo int64, text string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("telegram bot token is empty")
	}
	bot, err := gotgbot.NewBot(token, &gotgbot.BotOpts{
		BotClient:         s.Client,
		DisableTokenCheck: true,
	})
	if err != nil {
		return fmt.Errorf("create telegram bot: %s", Sanitize(err, token))
	}

	opts := &gotgbot.SendMessageOpts{}
	if replyTo > 0 {
		opts.ReplyParameters = &gotgbot.ReplyParameters{MessageId: replyTo, AllowSendingWithoutReply: true}
	}
	if _, err := bot.SendMessageWithContext(ctx, chatID, Truncate(text), opts); err != nil {
		return fmt.Errorf("send telegram message: %s", Sanitize(err, token))
	}
	return nil
}

func Truncate(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return "(empty response)"
	}
	r := []rune(text)
	if len(r) > MaxMessageRunes {
		return string(r[:MaxMessageRunes])
	}
	return text
}

// Sanitize renders err with the bot token removed, since Bot API errors embed
// the request URL.
func Sanitize(err error, token string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if strings.TrimSpace(token) == "" {
		return msg
	}
	msg = strings.ReplaceAll(msg, token, "<redacted-token>")
	if idx := strings.Index(token, ":"); idx > 0 {
		botID := token[:idx]
		msg = strings.ReplaceAll(msg, "/bot"+botID+":", "/bot<redacted>:")
	}
	return msg
}
