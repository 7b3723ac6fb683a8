package httpapi

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"omnibot/internal/storage"
)

var platforms = []string{"whatsapp", "telegram", "line", "instagram", "sms", "web"}

type botConfig struct {
	BotName       string `json:"bot_name" binding:"required"`
	Platform      string `json:"platform" binding:"required"`
	APIKey        string `json:"api_key"`
	WebhookURL    string `json:"webhook_url"`
	AIProvider    string `json:"ai_provider"`
	AIModel       string `json:"ai_model"`
	AIAPIKey      string `json:"ai_api_key"`
	SystemMessage string `json:"system_message"`
	AutoReply     *bool  `json:"auto_reply"`
}

// botView never includes the sealed platform token or AI key.
func botView(b storage.Bot) gin.H {
	return gin.H{
		"bot_id":         b.ID,
		"user_id":        b.UserID,
		"bot_name":       b.Name,
		"platform":       b.Platform,
		"webhook_url":    b.WebhookURL,
		"ai_provider":    b.AIProvider,
		"ai_model":       b.AIModel,
		"system_message": b.SystemMessage,
		"auto_reply":     b.AutoReply,
		"is_active":      b.IsActive,
		"has_api_key":    b.EncAPIKey != nil,
		"has_ai_api_key": b.EncAIAPIKey != nil,
		"created_at":     b.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func botViews(bots []storage.Bot) []gin.H {
	out := make([]gin.H, 0, len(bots))
	for _, b := range bots {
		out = append(out, botView(b))
	}
	return out
}

// apply validates req and copies it onto b. Empty secrets keep the stored ones.
func (s *Server) apply(c *gin.Context, req botConfig, b *storage.Bot) bool {
	platform := strings.ToLower(strings.TrimSpace(req.Platform))
	if !slices.Contains(platforms, platform) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Unsupported platform: " + req.Platform})
		return false
	}
	provider := s.ai.DefaultProvider
	if req.AIProvider != "" {
		p, ok := knownProvider(req.AIProvider)
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Unknown AI provider: " + req.AIProvider})
			return false
		}
		provider = p
	}

	if req.APIKey != "" {
		sealed, err := s.crypto.SealOptional(req.APIKey)
		if err != nil {
			s.abortWithError(c, err)
			return false
		}
		b.EncAPIKey = sealed
	}
	if req.AIAPIKey != "" {
		sealed, err := s.crypto.SealOptional(req.AIAPIKey)
		if err != nil {
			s.abortWithError(c, err)
			return false
		}
		b.EncAIAPIKey = sealed
	}

	b.Name = strings.TrimSpace(req.BotName)
	b.Platform = platform
	b.WebhookURL = strings.TrimSpace(req.WebhookURL)
	b.AIProvider = provider
	b.AIModel = req.AIModel
	if b.AIModel == "" {
		b.AIModel = s.ai.DefaultModel
	}
	b.SystemMessage = req.SystemMessage
	if b.SystemMessage == "" {
		b.SystemMessage = s.ai.DefaultSystemMessage
	}
	b.AutoReply = req.AutoReply == nil || *req.AutoReply
	return true
}

func (s *Server) createBot(c *gin.Context) {
	var req botConfig
	if !bindJSON(c, &req) {
		return
	}
	u := currentUser(c)
	b := storage.Bot{ID: uuid.NewString(), UserID: u.ID, IsActive: true}
	if !s.apply(c, req, &b) {
		return
	}
	created, err := s.store.CreateBot(c.Request.Context(), b)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	s.log.Info().Str("user_id", u.ID).Str("bot_id", created.ID).Str("platform", created.Platform).Msg("bot created")
	c.JSON(http.StatusOK, gin.H{"bot_id": created.ID, "message": "Bot created successfully"})
}

func (s *Server) listBots(c *gin.Context) {
	bots, err := s.store.ListBotsByUser(c.Request.Context(), currentUser(c).ID)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": botViews(bots)})
}

func (s *Server) ownedBot(c *gin.Context) (storage.Bot, bool) {
	b, err := s.store.GetOwnedBot(c.Request.Context(), currentUser(c).ID, c.Param("bot_id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errBotNotFound
		}
		s.abortWithError(c, err)
		return storage.Bot{}, false
	}
	return b, true
}

func (s *Server) getBot(c *gin.Context) {
	b, ok := s.ownedBot(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, botView(b))
}

func (s *Server) updateBot(c *gin.Context) {
	var req botConfig
	if !bindJSON(c, &req) {
		return
	}
	b, ok := s.ownedBot(c)
	if !ok {
		return
	}
	if !s.apply(c, req, &b) {
		return
	}
	if err := s.store.UpdateBot(c.Request.Context(), b); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errBotNotFound
		}
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot updated successfully"})
}

func (s *Server) deleteBot(c *gin.Context) {
	ctx := c.Request.Context()
	botID := c.Param("bot_id")
	err := s.store.DeleteBot(ctx, currentUser(c).ID, botID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			err = errBotNotFound
		}
		s.abortWithError(c, err)
		return
	}
	if s.convs != nil {
		if err := s.convs.ClearBot(ctx, botID); err != nil {
			s.log.Warn().Err(err).Str("bot_id", botID).Msg("bot conversations not cleared")
		}
	}
	c.JSON(http.StatusOK, gin.H{"message": "Bot deleted successfully"})
}
