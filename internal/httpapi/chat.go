package httpapi

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"omnibot/internal/gateway"
	"omnibot/internal/providers/registry"
	"omnibot/internal/storage"
)

type chatSend struct {
	Message  string `json:"message" binding:"required"`
	BotID    string `json:"bot_id" binding:"required"`
	Platform string `json:"platform" binding:"required"`
	SenderID string `json:"sender_id" binding:"required"`
}

type chatTest struct {
	Message string `json:"message" binding:"required"`
	BotID   string `json:"bot_id" binding:"required"`
}

func callerOf(u storage.User) gateway.Caller {
	return gateway.Caller{UserID: u.ID, Plan: u.Plan}
}

func (s *Server) sendChat(c *gin.Context) {
	var req chatSend
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.gateway.Send(c.Request.Context(), callerOf(currentUser(c)), gateway.SendRequest{
		Message:  req.Message,
		BotID:    req.BotID,
		Platform: strings.ToLower(strings.TrimSpace(req.Platform)),
		SenderID: req.SenderID,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"chat_id":         res.ChatID,
		"response":        res.Response,
		"remaining_chats": res.Remaining,
	})
}

func (s *Server) testChat(c *gin.Context) {
	var req chatTest
	if !bindJSON(c, &req) {
		return
	}
	res, err := s.gateway.Test(c.Request.Context(), callerOf(currentUser(c)), gateway.TestRequest{
		Message: req.Message,
		BotID:   req.BotID,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"response": res.Response, "is_test": res.IsTest})
}

func (s *Server) chatHistory(c *gin.Context) {
	records, err := s.gateway.History(c.Request.Context(), currentUser(c).ID, c.Param("bot_id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(records))
	for _, r := range records {
		out = append(out, gin.H{
			"chat_id":      r.ID,
			"user_id":      r.UserID,
			"bot_id":       r.BotID,
			"platform":     r.Platform,
			"sender_id":    r.SenderID,
			"user_message": r.UserMessage,
			"ai_response":  r.AIResponse,
			"timestamp":    r.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"history": out})
}

func (s *Server) models(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": registry.Models()})
}

type aiSettings struct {
	Provider      string `json:"provider" binding:"required"`
	Model         string `json:"model" binding:"required"`
	APIKey        string `json:"api_key"`
	SystemMessage string `json:"system_message"`
}

func (s *Server) updateAISettings(c *gin.Context) {
	var req aiSettings
	if !bindJSON(c, &req) {
		return
	}
	provider, ok := knownProvider(req.Provider)
	if !ok {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Unknown AI provider: " + req.Provider})
		return
	}
	key, err := s.crypto.SealOptional(req.APIKey)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	system := req.SystemMessage
	if system == "" {
		system = s.ai.DefaultSystemMessage
	}
	u := currentUser(c)
	err = s.store.UpdateUserAISettings(c.Request.Context(), u.ID, storage.UserAISettings{
		Provider:      provider,
		Model:         req.Model,
		EncAPIKey:     key,
		SystemMessage: system,
	})
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "AI settings updated successfully"})
}

func knownProvider(name string) (string, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	return name, slices.Contains(registry.Providers(), name)
}
