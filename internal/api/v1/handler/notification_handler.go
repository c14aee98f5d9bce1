package handler

import (
	"context"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/api/v1/operation"
	"photorestore/internal/middleware"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// WelcomeSender queues the post-signup welcome email.
type WelcomeSender interface {
	SendWelcome(ctx context.Context, email, name string)
}

type NotificationHandler struct {
	welcome  WelcomeSender
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewNotificationHandler(welcome WelcomeSender, validate *validator.Validate, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{welcome: welcome, validate: validate, logger: logger}
}

// SendWelcome always answers 202. Delivery problems are only logged.
func (h *NotificationHandler) SendWelcome(ctx context.Context, input *operation.SendWelcomeInput) (*operation.SendWelcomeOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&input.Body); err != nil {
		return nil, huma.Error400BadRequest("Validation failed: " + err.Error())
	}

	email := input.Body.Email
	if email == "" {
		email = middleware.Email(ctx)
	}
	if email == "" {
		h.logger.Warn().Str("user_id", userID).Msg("No email on session, welcome email skipped")
		return &operation.SendWelcomeOutput{Body: dto.AcceptedDTO{Status: "skipped"}}, nil
	}

	h.welcome.SendWelcome(ctx, email, input.Body.Name)
	return &operation.SendWelcomeOutput{Body: dto.AcceptedDTO{Status: "queued"}}, nil
}

func (h *NotificationHandler) Health(ctx context.Context, input *operation.HealthInput) (*operation.HealthOutput, error) {
	return &operation.HealthOutput{Body: dto.HealthDTO{Status: "ok"}}, nil
}
