package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omnibot/internal/queue"
	"omnibot/internal/storage"
	"omnibot/internal/telegram"
)

// webhook records every delivery verbatim. Telegram deliveries for an active
// auto-reply bot are also queued for the worker; nothing here calls the AI.
func (s *Server) webhook(c *gin.Context) {
	platform := strings.ToLower(c.Param("platform"))
	if !slices.Contains(platforms, platform) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "Unsupported platform: " + c.Param("platform")})
		return
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"detail": "Request body too large"})
			return
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Invalid request body"})
		return
	}
	if len(body) > 0 && !json.Valid(body) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Payload must be JSON"})
		return
	}

	ctx := c.Request.Context()
	botID := c.Param("bot_id")
	s.metrics.WebhooksReceived.WithLabelValues(platform).Inc()
	if _, err := s.store.AppendWebhookLog(ctx, storage.WebhookLog{
		ID:       uuid.NewString(),
		BotID:    botID,
		Platform: platform,
		Payload:  string(body),
	}); err != nil {
		s.abortWithError(c, err)
		return
	}

	if platform == "telegram" {
		s.enqueueTelegram(ctx, botID, body)
	}
	c.JSON(http.StatusOK, gin.H{"status": "received"})
}

// enqueueTelegram never fails the delivery: Telegram retries non-2xx responses,
// and a retried update would be logged twice.
func (s *Server) enqueueTelegram(ctx context.Context, botID string, body []byte) {
	log := s.log.With().Str("bot_id", botID).Logger()

	bot, err := s.store.GetBot(ctx, botID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Error().Err(err).Msg("load webhook bot")
		}
		return
	}
	if bot.Platform != "telegram" || !bot.IsActive || !bot.AutoReply {
		return
	}

	in, ok, err := telegram.ParseUpdate(body)
	if err != nil {
		log.Warn().Err(err).Msg("unparseable telegram update")
		return
	}
	if !ok {
		return
	}
	if s.dedupe != nil {
		first, err := s.dedupe.MarkFirst(ctx, botID, in.UpdateID)
		if err != nil {
			log.Warn().Err(err).Int64("update_id", in.UpdateID).Msg("dedupe unavailable")
		} else if !first {
			log.Debug().Int64("update_id", in.UpdateID).Msg("duplicate update dropped")
			return
		}
	}

	id, err := s.queue.Enqueue(ctx, queue.ReplyJob{
		BotID:      botID,
		Platform:   bot.Platform,
		ChatID:     in.ChatID,
		SenderID:   in.SenderID,
		MessageID:  in.MessageID,
		Text:       in.Text,
		EnqueuedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Error().Err(err).Msg("enqueue auto-reply")
		return
	}
	s.metrics.EnqueuedJobs.Inc()
	log.Debug().Str("msg_id", id).Int64("chat_id", in.ChatID).Msg("auto-reply queued")
}

func (s *Server) webhookLogs(c *gin.Context) {
	u := currentUser(c)
	botID := c.Param("bot_id")
	if u.Role != storage.RoleSuperadmin {
		if _, ok := s.ownedBot(c); !ok {
			return
		}
	}
	logs, err := s.store.ListWebhookLogs(c.Request.Context(), botID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(logs))
	for _, l := range logs {
		var payload any = l.Payload
		if json.Valid([]byte(l.Payload)) {
			payload = json.RawMessage(l.Payload)
		}
		out = append(out, gin.H{
			"log_id":    l.ID,
			"bot_id":    l.BotID,
			"platform":  l.Platform,
			"payload":   payload,
			"timestamp": l.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"logs": out})
}
