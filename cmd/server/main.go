package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"omnibot/internal/auth"
	"omnibot/internal/config"
	"omnibot/internal/crypto"
	"omnibot/internal/gateway"
	"omnibot/internal/httpapi"
	"omnibot/internal/metrics"
	"omnibot/internal/providers/memory"
	"omnibot/internal/providers/registry"
	"omnibot/internal/queue"
	"omnibot/internal/quota"
	"omnibot/internal/relay"
	"omnibot/internal/storage"
	"omnibot/internal/telegram"
	"omnibot/internal/worker"
)

const updateDedupeTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("db_driver", cfg.DB.Driver).
		Str("default_provider", cfg.AI.DefaultProvider).
		Int("worker_concurrency", cfg.Worker.Concurrency).
		Msg("starting omnibot")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	cryptoManager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize crypto manager")
	}

	if len(cfg.Crypto.Keys) > 1 {
		n, err := store.ResealSecrets(ctx, cryptoManager.Rotate, httpapi.XenditSetting)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to reseal secrets")
		}
		log.Info().Int("rows", n).Str("key_id", cfg.Crypto.CurrentKeyID).Msg("secrets resealed")
	}

	m := metrics.Global()
	factory := registry.Factory{
		Overrides:  cfg.AI.BaseURLs,
		HTTPClient: &http.Client{Timeout: cfg.HTTP.ClientTimeout},
	}
	conversations := memory.NewStore(rdb, cfg.Memory.Turns, cfg.Memory.TTL, log.Logger)
	relayer := relay.New(factory, conversations, log.Logger, m)
	ledger := quota.NewLedger(store, cfg.Quota)
	gw := gateway.New(gateway.Config{
		Store:     store,
		Quota:     ledger,
		Relay:     relayer,
		Keys:      cryptoManager,
		Defaults:  relay.DefaultsFrom(cfg.AI),
		AITimeout: cfg.AI.Timeout,
		Logger:    log.Logger,
		Metrics:   m,
	})

	authService := auth.NewService(store, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, log.Logger)
	if err := authService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap admin")
	}

	jobQueue := queue.NewStreamQueue(rdb, cfg.Redis.QueueStream, cfg.Redis.QueueGroup, cfg.Worker.ConsumerName, cfg.Redis.QueueBlock)

	api := httpapi.New(httpapi.Deps{
		Config:  cfg.HTTP,
		AI:      cfg.AI,
		Store:   store,
		Auth:    authService,
		Phone:   auth.NewPhoneVerifier(rdb, store, cfg.Auth.PhoneCodeTTL),
		Gateway: gw,
		Ledger:  ledger,
		Crypto:  cryptoManager,
		Limiter: queue.NewRateLimiter(rdb, cfg.Rate.ChatPerMinute),
		Queue:   jobQueue,
		Dedupe:  queue.NewUpdateDeduplicator(rdb, updateDedupeTTL),
		Memory:  conversations,
		Logger:  log.Logger,
		Metrics: m,
	})

	errCh := make(chan error, 2)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTP.ListenAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	w := worker.New(worker.Config{
		Store:   store,
		Gateway: gw,
		Replier: telegram.Sender{},
		Keys:    cryptoManager,
		Queue:   jobQueue,
		Logger:  log.Logger,
		Metrics: m,
	})
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := w.Start(ctx, cfg.Worker.Concurrency); err != nil && ctx.Err() == nil {
			errCh <- fmt.Errorf("worker failed: %w", err)
		}
	}()
	log.Info().Int("concurrency", cfg.Worker.Concurrency).Msg("worker started")

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}
	if !waitDrained(shutdownCtx, workerDone) {
		log.Warn().Msg("worker did not drain before shutdown deadline")
	}

	log.Info().Msg("stopped")
}

// waitDrained blocks until done closes or ctx ends, so deferred store and redis
// closes never run under an in-flight job.
func waitDrained(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
