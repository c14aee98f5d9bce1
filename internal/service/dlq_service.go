package service

import (
	"context"
	"encoding/json"

	"photorestore/internal/model"
	"photorestore/internal/pubsub"
	"photorestore/internal/repository"

	"github.com/rs/zerolog"
)

// DLQService records notification jobs that Pub/Sub stopped retrying.
type DLQService interface {
	Record(ctx context.Context, req *pubsub.PushRequest) (*model.DeadLetterMessage, error)
}

type dlqService struct {
	repo   repository.DLQRepository
	logger zerolog.Logger
}

func NewDLQService(repo repository.DLQRepository, logger zerolog.Logger) DLQService {
	return &dlqService{repo: repo, logger: logger.With().Str("service", "DLQService").Logger()}
}

func (s *dlqService) Record(ctx context.Context, req *pubsub.PushRequest) (*model.DeadLetterMessage, error) {
	payload, err := req.Data()
	if err != nil {
		// keep whatever arrived
		payload = []byte(req.Message.Data)
	}

	var attributes *string
	if len(req.Message.Attributes) > 0 {
		if raw, err := json.Marshal(req.Message.Attributes); err == nil {
			str := string(raw)
			attributes = &str
		}
	}

	msg := &model.DeadLetterMessage{
		SubscriptionName: req.Subscription,
		MessageID:        req.Message.MessageID,
		Payload:          string(payload),
		Attributes:       attributes,
		Status:           "unprocessed",
	}
	if err := s.repo.Create(ctx, msg); err != nil {
		return nil, err
	}
	s.logger.Warn().
		Str("subscription", msg.SubscriptionName).
		Str("message_id", msg.MessageID).
		Msg("Dead-lettered notification recorded")
	return msg, nil
}
