package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"photorestore/internal/pubsub"

	"github.com/rs/zerolog"
)

const KindWelcome = "welcome"

// Job is the notification payload carried through Pub/Sub.
type Job struct {
	Kind  string `json:"kind"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

var ErrUnknownKind = errors.New("unknown notification kind")

type DispatcherOptions struct {
	From Contact
	// Topic routes jobs through Pub/Sub. Empty sends from a goroutine instead.
	Topic   string
	Timeout time.Duration
}

// Dispatcher sends notifications without blocking the caller.
type Dispatcher struct {
	sender    Sender
	publisher pubsub.Publisher
	opts      DispatcherOptions
	logger    zerolog.Logger
	wg        sync.WaitGroup
}

func NewDispatcher(sender Sender, publisher pubsub.Publisher, opts DispatcherOptions, logger zerolog.Logger) *Dispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	return &Dispatcher{
		sender:    sender,
		publisher: publisher,
		opts:      opts,
		logger:    logger.With().Str("component", "NotificationDispatcher").Logger(),
	}
}

// SendWelcome queues a welcome email. Failures are logged, never returned.
func (d *Dispatcher) SendWelcome(ctx context.Context, email, name string) {
	email = strings.TrimSpace(email)
	if email == "" {
		d.logger.Warn().Msg("Welcome email skipped: no address")
		return
	}
	d.dispatch(ctx, Job{Kind: KindWelcome, Email: email, Name: strings.TrimSpace(name)})
}

func (d *Dispatcher) dispatch(ctx context.Context, job Job) {
	// The request context ends with the response; the job must outlive it.
	detached := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(detached, d.opts.Timeout)
		defer cancel()

		if d.opts.Topic != "" && d.publisher != nil {
			if err := d.publish(runCtx, job); err != nil {
				d.logger.Error().Err(err).Str("kind", job.Kind).Msg("Failed to publish notification")
			}
			return
		}
		if err := d.Deliver(runCtx, job); err != nil {
			d.logger.Error().Err(err).Str("kind", job.Kind).Msg("Failed to send notification")
		}
	}()
}

func (d *Dispatcher) publish(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	id, err := d.publisher.Publish(ctx, d.opts.Topic, payload, map[string]string{"kind": job.Kind})
	if err != nil {
		return err
	}
	d.logger.Debug().Str("message_id", id).Str("kind", job.Kind).Msg("Notification published")
	return nil
}

// Deliver sends job synchronously.
func (d *Dispatcher) Deliver(ctx context.Context, job Job) error {
	switch job.Kind {
	case KindWelcome:
		email, err := WelcomeEmail(d.opts.From, job.Email, job.Name)
		if err != nil {
			return err
		}
		_, err = d.sender.Send(ctx, email)
		return err
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, job.Kind)
	}
}

// Wait blocks until in-flight jobs finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandlePush is the Pub/Sub push endpoint. A 5xx asks Pub/Sub to redeliver;
// malformed jobs are acknowledged so they do not loop.
func (d *Dispatcher) HandlePush(w http.ResponseWriter, r *http.Request) {
	var req pubsub.PushRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		d.logger.Error().Err(err).Msg("Invalid Pub/Sub push body")
		http.Error(w, "invalid push body", http.StatusBadRequest)
		return
	}
	log := d.logger.With().Str("message_id", req.Message.MessageID).Logger()

	var job Job
	if err := req.Decode(&job); err != nil {
		log.Error().Err(err).Msg("Undecodable notification job; acknowledging")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := d.Deliver(r.Context(), job); err != nil {
		if errors.Is(err, ErrUnknownKind) {
			log.Error().Err(err).Msg("Dropping notification job")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		log.Error().Err(err).Str("kind", job.Kind).Msg("Notification delivery failed; Pub/Sub will retry")
		http.Error(w, "delivery failed", http.StatusInternalServerError)
		return
	}
	log.Info().Str("kind", job.Kind).Msg("Notification delivered")
	w.WriteHeader(http.StatusNoContent)
}
