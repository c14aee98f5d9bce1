package handler

import (
	"context"

	"photorestore/internal/api/v1/operation"
	"photorestore/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/rs/zerolog"
)

type DLQHandler struct {
	service service.DLQService
	logger  zerolog.Logger
}

func NewDLQHandler(s service.DLQService, l zerolog.Logger) *DLQHandler {
	return &DLQHandler{service: s, logger: l}
}

func (h *DLQHandler) RecordDLQ(ctx context.Context, input *operation.RecordDLQInput) (*operation.RecordDLQOutput, error) {
	if input.Body.Message.MessageID == "" {
		return nil, huma.Error400BadRequest("Invalid Pub/Sub message format: missing message ID")
	}

	log := h.logger.With().
		Str("message_id", input.Body.Message.MessageID).
		Str("subscription", input.Body.Subscription).
		Logger()

	if _, err := h.service.Record(ctx, &input.Body); err != nil {
		// Acknowledge anyway: the message is already dead-lettered and a retry
		// would only repeat the failure.
		log.Error().Err(err).Msg("Failed to save dead-lettered notification")
		return &operation.RecordDLQOutput{}, nil
	}
	log.Info().Msg("Dead-lettered notification saved")
	return &operation.RecordDLQOutput{}, nil
}
