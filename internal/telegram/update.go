// Package telegram turns Telegram webhook deliveries into reply jobs and sends
// replies back through the Bot API.
package telegram

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PaulSonOfLars/gotgbot/v2"
)

// Inbound is the part of an update an auto-reply needs.
type Inbound struct {
	UpdateID  int64
	ChatID    int64
	MessageID int64
	SenderID  string
	Text      string
}

// ParseUpdate decodes a webhook body. ok is false for updates that carry no text
// message (edits, callbacks, joins, media without caption), which get no reply.
func ParseUpdate(body []byte) (in Inbound, ok bool, err error) {
	var upd gotgbot.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return Inbound{}, false, fmt.Errorf("decode telegram update: %w", err)
	}
	msg := upd.Message
	if msg == nil {
		return Inbound{UpdateID: upd.UpdateId}, false, nil
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		text = strings.TrimSpace(msg.Caption)
	}
	if text == "" {
		return Inbound{UpdateID: upd.UpdateId}, false, nil
	}
	if msg.From != nil && msg.From.IsBot {
		return Inbound{UpdateID: upd.UpdateId}, false, nil
	}

	in = Inbound{
		UpdateID:  upd.UpdateId,
		ChatID:    msg.Chat.Id,
		MessageID: msg.MessageId,
		Text:      text,
	}
	if msg.From != nil {
		in.SenderID = strconv.FormatInt(msg.From.Id, 10)
	} else {
		in.SenderID = strconv.FormatInt(msg.Chat.Id, 10)
	}
	return in, true, nil
}
