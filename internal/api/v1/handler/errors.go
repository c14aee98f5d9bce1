package handler

import (
	"context"
	"errors"
	"net/http"

	"photorestore/internal/inference"
	"photorestore/internal/middleware"
	"photorestore/internal/model"
	"photorestore/internal/service"

	"github.com/danielgtaylor/huma/v2"
)

func getUserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := middleware.UserID(ctx)
	if !ok {
		return "", huma.Error401Unauthorized("User ID not found in context")
	}
	return userID, nil
}

// toHumaError maps service errors onto HTTP statuses. Unknown errors become a
// 500 carrying fallback as the message.
func toHumaError(err error, fallback string) error {
	var vErr *model.ValidationError
	var infErr *inference.InferenceError
	switch {
	case errors.As(err, &vErr):
		return huma.Error422UnprocessableEntity(vErr.Error())
	case errors.Is(err, service.ErrAuthRequired):
		return huma.Error401Unauthorized("Authentication required")
	case errors.Is(err, service.ErrNotOwner), errors.Is(err, service.ErrRestorationNotFound):
		return huma.Error404NotFound("Restoration not found")
	case errors.Is(err, service.ErrInsufficientCredits):
		return huma.NewError(http.StatusPaymentRequired, "insufficient_credits")
	case errors.Is(err, service.ErrDownloadLocked):
		return huma.NewError(http.StatusPaymentRequired, "download_locked")
	case errors.Is(err, service.ErrRestorationNotReady):
		return huma.Error409Conflict("Restoration is not completed")
	case errors.Is(err, service.ErrUploadExpired):
		return huma.Error410Gone(service.ErrUploadExpired.Error())
	case errors.Is(err, service.ErrUnknownPackage), errors.Is(err, service.ErrInvalidAmount):
		return huma.Error400BadRequest(err.Error())
	case errors.As(err, &infErr):
		return huma.Error502BadGateway(infErr.Error())
	}
	return huma.Error500InternalServerError(fallback, err)
}
