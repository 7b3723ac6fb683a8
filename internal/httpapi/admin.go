package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"omnibot/internal/storage"
)

// XenditSetting names the sealed payment gateway settings row.
const XenditSetting = "xendit"

var plans = []string{storage.PlanFree, storage.PlanBasic, storage.PlanPremium}

func (s *Server) adminStats(c *gin.Context) {
	st, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total_users": st.TotalUsers,
		"total_bots":  st.TotalBots,
		"total_chats": st.TotalChats,
	})
}

func (s *Server) adminUsers(c *gin.Context) {
	users, err := s.store.ListUsers(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	out := make([]gin.H, 0, len(users))
	for _, u := range users {
		v := userView(u)
		v["is_active"] = u.IsActive
		v["created_at"] = u.CreatedAt.UTC().Format(time.RFC3339)
		out = append(out, v)
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

func (s *Server) adminBots(c *gin.Context) {
	bots, err := s.store.ListAllBots(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bots": botViews(bots)})
}

type planChange struct {
	Plan string `json:"plan" binding:"required"`
}

func (s *Server) adminSetPlan(c *gin.Context) {
	var req planChange
	if !bindJSON(c, &req) {
		return
	}
	plan := strings.ToLower(strings.TrimSpace(req.Plan))
	if !slices.Contains(plans, plan) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"detail": "Unknown plan: " + req.Plan})
		return
	}
	ctx := c.Request.Context()
	target := c.Param("user_id")
	if err := s.store.UpdateUserPlan(ctx, target, plan); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"detail": "User not found"})
			return
		}
		s.abortWithError(c, err)
		return
	}

	admin := currentUser(c)
	meta, _ := json.Marshal(map[string]string{"target_user_id": target, "plan": plan})
	if err := s.store.LogAction(ctx, storage.AuditEntry{UserID: admin.ID, Action: "plan_change", MetaJSON: string(meta)}); err != nil {
		s.log.Error().Err(err).Str("user_id", target).Msg("audit plan change")
	}
	s.log.Info().Str("admin_id", admin.ID).Str("user_id", target).Str("plan", plan).Msg("plan changed")
	c.JSON(http.StatusOK, gin.H{"message": fmt.Sprintf("Plan updated to %s", plan)})
}

type xenditSettings struct {
	APIKey        string    `json:"api_key" binding:"required"`
	PublicKey     string    `json:"public_key" binding:"required"`
	CallbackToken string    `json:"callback_token" binding:"required"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Xendit settings are stored as one sealed JSON document.
func (s *Server) putXenditSettings(c *gin.Context) {
	var req xenditSettings
	if !bindJSON(c, &req) {
		return
	}
	req.UpdatedAt = s.now().UTC()
	raw, err := json.Marshal(req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	sealed, err := s.crypto.Seal(string(raw))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	ctx := c.Request.Context()
	if err := s.store.PutSetting(ctx, XenditSetting, sealed); err != nil {
		s.abortWithError(c, err)
		return
	}
	admin := currentUser(c)
	if err := s.store.LogAction(ctx, storage.AuditEntry{UserID: admin.ID, Action: "xendit_settings_update", MetaJSON: "{}"}); err != nil {
		s.log.Error().Err(err).Msg("audit xendit settings")
	}
	c.JSON(http.StatusOK, gin.H{"message": "Xendit settings updated successfully"})
}

func (s *Server) getXenditSettings(c *gin.Context) {
	sealed, err := s.store.GetSetting(c.Request.Context(), XenditSetting)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusOK, gin.H{"message": "No Xendit settings found"})
			return
		}
		s.abortWithError(c, err)
		return
	}
	plain, err := s.crypto.Open(sealed)
	if err != nil {
		s.abortWithError(c, fmt.Errorf("open xendit settings: %w", err))
		return
	}
	var out xenditSettings
	if err := json.Unmarshal([]byte(plain), &out); err != nil {
		s.abortWithError(c, fmt.Errorf("decode xendit settings: %w", err))
		return
	}
	c.JSON(http.StatusOK, out)
}
