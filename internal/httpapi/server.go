// Package httpapi exposes the service over HTTP with gin.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"omnibot/internal/auth"
	"omnibot/internal/config"
	"omnibot/internal/crypto"
	"omnibot/internal/gateway"
	"omnibot/internal/metrics"
	"omnibot/internal/queue"
	"omnibot/internal/quota"
	"omnibot/internal/storage"
)

type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.ReplyJob) (string, error)
}

type Deduper interface {
	MarkFirst(ctx context.Context, botID string, updateID int64) (bool, error)
}

// Conversations is optional in Deps; when set, deleting a bot clears its AI memory.
type Conversations interface {
	ClearBot(ctx context.Context, botID string) error
}

type Deps struct {
	Config  config.HTTPConfig
	AI      config.AIConfig
	Store   *storage.Store
	Auth    *auth.Service
	Phone   *auth.PhoneVerifier
	Gateway *gateway.Gateway
	Ledger  *quota.Ledger
	Crypto  *crypto.Manager
	Limiter *queue.RateLimiter
	Queue   Enqueuer
	Dedupe  Deduper
	Memory  Conversations
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Server struct {
	cfg     config.HTTPConfig
	ai      config.AIConfig
	store   *storage.Store
	auth    *auth.Service
	phone   *auth.PhoneVerifier
	gateway *gateway.Gateway
	ledger  *quota.Ledger
	crypto  *crypto.Manager
	limiter *queue.RateLimiter
	queue   Enqueuer
	dedupe  Deduper
	convs   Conversations
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func New(d Deps) *Server {
	m := d.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Server{
		cfg:     d.Config,
		ai:      d.AI,
		store:   d.Store,
		auth:    d.Auth,
		phone:   d.Phone,
		gateway: d.Gateway,
		ledger:  d.Ledger,
		crypto:  d.Crypto,
		limiter: d.Limiter,
		queue:   d.Queue,
		dedupe:  d.Dedupe,
		convs:   d.Memory,
		log:     d.Logger.With().Str("component", "http").Logger(),
		metrics: m,
		now:     time.Now,
	}
}

// Handler builds the gin engine with every route mounted.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.CustomRecovery(s.recoverPanic))
	r.Use(s.accessLog())
	r.Use(securityHeaders())
	r.Use(cors())
	if s.cfg.MaxBodyBytes > 0 {
		r.Use(requestSizeLimiter(s.cfg.MaxBodyBytes))
	}

	r.GET("/", s.root)
	r.GET(pathOr(s.cfg.HealthPath, "/healthz"), s.health)
	r.GET(pathOr(s.cfg.MetricsPath, "/metrics"), gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	api.POST("/auth/register", s.register)
	api.POST("/auth/login", s.login)
	api.GET("/ai/models", s.models)
	api.POST("/webhooks/:platform/:bot_id", s.webhook)

	authed := api.Group("", s.requireAuth())
	authed.GET("/auth/me", s.me)

	authed.POST("/bots", s.createBot)
	authed.GET("/bots", s.listBots)
	authed.GET("/bots/:bot_id", s.getBot)
	authed.PUT("/bots/:bot_id", s.updateBot)
	authed.DELETE("/bots/:bot_id", s.deleteBot)

	chat := authed.Group("/chat", s.rateLimit())
	chat.POST("/send", s.sendChat)
	chat.POST("/test", s.testChat)
	chat.GET("/history/:bot_id", s.chatHistory)

	authed.POST("/ai/settings", s.updateAISettings)
	authed.GET("/webhooks/logs/:bot_id", s.webhookLogs)
	authed.GET("/phone/send-code/:phone", s.sendPhoneCode)
	authed.POST("/phone/verify", s.verifyPhone)

	admin := authed.Group("/admin", requireSuperadmin())
	admin.GET("/stats", s.adminStats)
	admin.GET("/users", s.adminUsers)
	admin.GET("/bots", s.adminBots)
	admin.PUT("/users/:user_id/plan", s.adminSetPlan)
	admin.GET("/xendit/settings", s.getXenditSettings)
	admin.POST("/xendit/settings", s.putXenditSettings)

	return r
}

func (s *Server) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "ChatBot Omni-Channel API is running!", "version": "1.0.0"})
}

func (s *Server) health(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) recoverPanic(c *gin.Context, err any) {
	s.log.Error().Interface("panic", err).Str("path", c.Request.URL.Path).Msg("handler panic")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error"})
}

func pathOr(p, def string) string {
	if p == "" {
		return def
	}
	return p
}
