// Package worker consumes queued webhook messages and answers them as the bot's
// owner through the metered gateway.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"omnibot/internal/gateway"
	"omnibot/internal/metrics"
	"omnibot/internal/queue"
	"omnibot/internal/storage"
)

type Store interface {
	GetBot(ctx context.Context, id string) (storage.Bot, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
}

// Sender meters the reply against the owner and keys memory per remote sender.
type Sender interface {
	AutoReply(ctx context.Context, owner gateway.Caller, req gateway.SendRequest) (gateway.SendResult, error)
}

type Replier interface {
	Reply(ctx context.Context, token string, chatID, replyTo int64, text string) error
}

type KeyOpener interface {
	OpenOptional(raw *string) (string, error)
}

type Jobs interface {
	EnsureGroup(ctx context.Context) error
	Read(ctx context.Context, count int64) ([]queue.Message, error)
	Ack(ctx context.Context, messageID string) error
}

type Config struct {
	Store   Store
	Gateway Sender
	Replier Replier
	Keys    KeyOpener
	Queue   Jobs
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

type Worker struct {
	store   Store
	gateway Sender
	replier Replier
	keys    KeyOpener
	queue   Jobs
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	return &Worker{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		replier: cfg.Replier,
		keys:    cfg.Keys,
		queue:   cfg.Queue,
		logger:  cfg.Logger.With().Str("component", "worker").Logger(),
		metrics: m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 1)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read queue")
			time.Sleep(1 * time.Second)
			continue
		}

		for _, msg := range messages {
			w.handle(ctx, log, msg)
		}
	}
}

// handle runs one job. Jobs are acked whether or not they succeed: a retry would
// charge the owner's quota a second time.
func (w *Worker) handle(ctx context.Context, log zerolog.Logger, msg queue.Message) {
	if err := w.Process(ctx, msg.Job); err != nil {
		w.metrics.FailedJobs.Inc()
		log.Error().Err(err).Str("job_id", msg.Job.JobID).Str("bot_id", msg.Job.BotID).Msg("auto-reply failed")
	} else {
		w.metrics.ProcessedJobs.Inc()
	}
	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		log.Error().Err(err).Str("msg_id", msg.ID).Msg("failed to ack message")
	}
}

// Process answers one inbound message. Bots that were deactivated or had
// auto-reply switched off after the job was queued are skipped silently.
func (w *Worker) Process(ctx context.Context, job queue.ReplyJob) error {
	bot, err := w.store.GetBot(ctx, job.BotID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load bot: %w", err)
	}
	if !bot.IsActive || !bot.AutoReply {
		return nil
	}
	owner, err := w.store.GetUserByID(ctx, bot.UserID)
	if err != nil {
		return fmt.Errorf("load bot owner: %w", err)
	}

	token, err := w.keys.OpenOptional(bot.EncAPIKey)
	if err != nil {
		return fmt.Errorf("decrypt bot token: %w", err)
	}

	var text string
	res, err := w.gateway.AutoReply(ctx, gateway.Caller{UserID: owner.ID, Plan: owner.Plan}, gateway.SendRequest{
		Message:  job.Text,
		BotID:    bot.ID,
		Platform: job.Platform,
		SenderID: job.SenderID,
	})
	var qe *gateway.QuotaExceededError
	switch {
	case errors.As(err, &qe):
		text = qe.Error()
	case err != nil:
		return fmt.Errorf("metered send: %w", err)
	default:
		text = res.Response
	}

	if err := w.replier.Reply(ctx, token, job.ChatID, job.MessageID, text); err != nil {
		return err
	}
	return nil
}
