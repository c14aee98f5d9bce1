// Package restoration finishes asynchronous restorations queued on pgmq.
package restoration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"photorestore/internal/config"
	"photorestore/internal/inference"
	"photorestore/internal/model"
	"photorestore/internal/pgmq"
	"photorestore/internal/repository"

	"github.com/rs/zerolog"
)

// Queue is the pgmq surface the worker needs.
type Queue interface {
	CreateQueue(ctx context.Context, queue string) error
	ReadWithPoll(ctx context.Context, queue string, timeoutSec, maxMessages int) ([]*pgmq.Message, error)
	Send(ctx context.Context, queue string, payload []byte) error
	Delete(ctx context.Context, queue string, msgID int64) error
}

// Finisher settles a restoration record. service.RestorationService satisfies it.
type Finisher interface {
	PredictionStatus(ctx context.Context, predictionID string) (*inference.Prediction, error)
	Complete(ctx context.Context, rec *model.Restoration, out *inference.Output) *model.Restoration
	Fail(ctx context.Context, rec *model.Restoration, cause error) *model.Restoration
}

type Records interface {
	Get(ctx context.Context, id string) (*model.Restoration, error)
}

type Settings struct {
	Queue           string
	DeadLetterQueue string
	PollTimeoutSec  int
	PollMaxMsg      int
	MaxRetries      int
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
}

func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Queue:           cfg.RestorationQueueName,
		DeadLetterQueue: cfg.RestorationDeadLetterQueueName,
		PollTimeoutSec:  cfg.RestorationPollTimeoutSec,
		PollMaxMsg:      cfg.RestorationPollMaxMsg,
		MaxRetries:      cfg.RestorationMaxRetries,
		BackoffInitial:  time.Duration(cfg.RestorationBackoffInitialSec) * time.Second,
		BackoffMax:      time.Duration(cfg.RestorationBackoffMaxSec) * time.Second,
	}
}

type Worker struct {
	queue    Queue
	finisher Finisher
	records  Records
	settings Settings
	logger   zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

func NewWorker(queue Queue, finisher Finisher, records Records, settings Settings, logger zerolog.Logger) *Worker {
	if settings.MaxRetries <= 0 {
		settings.MaxRetries = 1
	}
	if settings.PollMaxMsg <= 0 {
		settings.PollMaxMsg = 1
	}
	if settings.BackoffInitial <= 0 {
		settings.BackoffInitial = time.Second
	}
	if settings.BackoffMax < settings.BackoffInitial {
		settings.BackoffMax = settings.BackoffInitial
	}
	return &Worker{
		queue:    queue,
		finisher: finisher,
		records:  records,
		settings: settings,
		logger:   logger.With().Str("orchestrator", "restoration").Logger(),
		sleep:    sleepCtx,
	}
}

// Run starts the restoration orchestrator and blocks until ctx is cancelled.
func Run(ctx context.Context, logger zerolog.Logger, client *pgmq.Client, finisher Finisher, records Records, cfg *config.Config) error {
	return NewWorker(client, finisher, records, SettingsFromConfig(cfg), logger).Run(ctx)
}

func (w *Worker) Run(ctx context.Context) error {
	for _, q := range []string{w.settings.Queue, w.settings.DeadLetterQueue} {
		if err := w.queue.CreateQueue(ctx, q); err != nil {
			return err
		}
	}
	w.logger.Info().Str("queue", w.settings.Queue).Str("dlq", w.settings.DeadLetterQueue).Msg("Starting restoration orchestrator")

	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Shutting down restoration orchestrator")
			return nil
		default:
		}

		msgs, err := w.queue.ReadWithPoll(ctx, w.settings.Queue, w.settings.PollTimeoutSec, w.settings.PollMaxMsg)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.logger.Error().Err(err).Msg("Error reading restoration queue")
			_ = w.sleep(ctx, time.Second)
			continue
		}
		for _, msg := range msgs {
			w.Handle(ctx, msg)
		}
	}
}

// Handle drives one queued prediction to a terminal record state. The message
// is left on the queue only when the worker is shutting down or the record
// cannot be read, so it is redelivered after the visibility timeout.
func (w *Worker) Handle(ctx context.Context, msg *pgmq.Message) {
	log := w.logger.With().Int64("msg_id", msg.ID).Logger()

	var job model.RestorationJob
	if err := json.Unmarshal(msg.Data, &job); err != nil || job.RestorationID == "" || job.PredictionID == "" {
		log.Error().Err(err).Msg("Malformed restoration job; moving to DLQ")
		w.deadLetter(ctx, msg, log)
		return
	}
	log = log.With().Str("restoration_id", job.RestorationID).Str("prediction_id", job.PredictionID).Logger()

	rec, err := w.records.Get(ctx, job.RestorationID)
	if err != nil {
		if errors.Is(err, repository.ErrRestorationNotFound) {
			log.Error().Msg("Restoration record missing; moving job to DLQ")
			w.deadLetter(ctx, msg, log)
			return
		}
		log.Error().Err(err).Msg("Failed to load restoration record; will retry")
		return
	}
	if rec.Status != model.RestorationProcessing {
		log.Info().Str("status", string(rec.Status)).Msg("Restoration already settled")
		w.ack(ctx, msg, log)
		return
	}

	backoff := w.settings.BackoffInitial
	var lastErr error
	for attempt := 1; attempt <= w.settings.MaxRetries; attempt++ {
		p, err := w.finisher.PredictionStatus(ctx, job.PredictionID)
		switch {
		case err != nil:
			lastErr = err
			log.Warn().Err(err).Int("attempt", attempt).Msg("Prediction status check failed")
		case p.Terminal():
			out, rerr := inference.Resolve(p)
			if rerr != nil {
				log.Warn().Err(rerr).Msg("Prediction failed")
				w.finisher.Fail(ctx, rec, rerr)
				w.deadLetter(ctx, msg, log)
				return
			}
			w.finisher.Complete(ctx, rec, out)
			w.ack(ctx, msg, log)
			return
		default:
			lastErr = fmt.Errorf("prediction %s is still %s", p.ID, p.Status)
			log.Debug().Str("status", p.Status).Int("attempt", attempt).Msg("Prediction not finished")
		}

		if attempt == w.settings.MaxRetries {
			break
		}
		if err := w.sleep(ctx, backoff); err != nil {
			log.Info().Msg("Shutdown while waiting on prediction; job will be redelivered")
			return
		}
		backoff *= 2
		if backoff > w.settings.BackoffMax {
			backoff = w.settings.BackoffMax
		}
	}

	log.Warn().Int("attempts", w.settings.MaxRetries).Err(lastErr).Msg("Exhausted prediction polling; moving job to DLQ")
	w.finisher.Fail(ctx, rec, fmt.Errorf("restoration timed out: %w", lastErr))
	w.deadLetter(ctx, msg, log)
}

func (w *Worker) deadLetter(ctx context.Context, msg *pgmq.Message, log zerolog.Logger) {
	if err := w.queue.Send(ctx, w.settings.DeadLetterQueue, msg.Data); err != nil {
		log.Error().Err(err).Str("dlq", w.settings.DeadLetterQueue).Msg("Failed to send message to dead-letter queue")
	}
	w.ack(ctx, msg, log)
}

func (w *Worker) ack(ctx context.Context, msg *pgmq.Message, log zerolog.Logger) {
	if err := w.queue.Delete(ctx, w.settings.Queue, msg.ID); err != nil {
		log.Error().Err(err).Msg("Error deleting restoration message")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
