package handler

import (
	"context"
	"net/http"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/api/v1/operation"
	"photorestore/internal/inference"
	"photorestore/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type RestorationHandler struct {
	restorations service.RestorationService
	uploads      service.UploadService
	validate     *validator.Validate
	logger       zerolog.Logger
}

func NewRestorationHandler(restorations service.RestorationService, uploads service.UploadService, validate *validator.Validate, logger zerolog.Logger) *RestorationHandler {
	return &RestorationHandler{
		restorations: restorations,
		uploads:      uploads,
		validate:     validate,
		logger:       logger,
	}
}

// CreateRestoration debits one credit and restores the photo named by
// image_url or by a resume token from a pending upload.
func (h *RestorationHandler) CreateRestoration(ctx context.Context, input *operation.CreateRestorationInput) (*operation.CreateRestorationOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&input.Body); err != nil {
		return nil, huma.Error422UnprocessableEntity("Validation failed: " + err.Error())
	}

	req := service.RestoreRequest{
		UserID:   userID,
		ImageURL: input.Body.ImageURL,
		Filename: input.Body.Filename,
	}
	if input.Body.ResumeToken != "" {
		intent, err := h.uploads.Resolve(ctx, input.Body.ResumeToken)
		if err != nil {
			return nil, toHumaError(err, "Failed to resume upload")
		}
		req.ImageURL = intent.URL
		if req.Filename == "" {
			req.Filename = intent.Filename
		}
	}

	res, err := h.restorations.Restore(ctx, req)
	if err != nil {
		return nil, toHumaError(err, "Failed to restore photo")
	}

	status := http.StatusOK
	if res.Pending {
		status = http.StatusAccepted
	}
	return &operation.CreateRestorationOutput{
		Status: status,
		Body: dto.RestoreResponseDTO{
			Restoration: dto.NewRestorationDTO(res.Restoration),
			Credits:     dto.NewCreditAccountDTO(res.Account),
			Watermarked: res.Watermarked,
			Pending:     res.Pending,
		},
	}, nil
}

func (h *RestorationHandler) ListRestorations(ctx context.Context, input *operation.ListRestorationsInput) (*operation.ListRestorationsOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	records, err := h.restorations.List(ctx, userID, input.Limit, input.Offset)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list restorations")
		return nil, toHumaError(err, "Failed to list restorations")
	}
	out := make([]dto.RestorationDTO, 0, len(records))
	for i := range records {
		out = append(out, dto.NewRestorationDTO(&records[i]))
	}
	return &operation.ListRestorationsOutput{Body: out}, nil
}

func (h *RestorationHandler) GetRestoration(ctx context.Context, input *operation.GetRestorationInput) (*operation.GetRestorationOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	rec, err := h.restorations.Get(ctx, userID, input.RestorationID)
	if err != nil {
		return nil, toHumaError(err, "Failed to get restoration")
	}
	return &operation.GetRestorationOutput{Body: dto.NewRestorationDTO(rec)}, nil
}

// DownloadRestoration returns the unwatermarked file only to paying accounts.
func (h *RestorationHandler) DownloadRestoration(ctx context.Context, input *operation.DownloadRestorationInput) (*operation.DownloadRestorationOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	info, err := h.restorations.Download(ctx, userID, input.RestorationID)
	if err != nil {
		return nil, toHumaError(err, "Failed to prepare download")
	}
	return &operation.DownloadRestorationOutput{Body: dto.DownloadResponseDTO{URL: info.URL, Filename: info.Filename}}, nil
}

func (h *RestorationHandler) GetPrediction(ctx context.Context, input *operation.GetPredictionInput) (*operation.GetPredictionOutput, error) {
	if _, err := getUserIDFromContext(ctx); err != nil {
		return nil, err
	}

	p, err := h.restorations.PredictionStatus(ctx, input.PredictionID)
	if err != nil {
		return nil, toHumaError(err, "Failed to get prediction status")
	}
	body := dto.PredictionDTO{ID: p.ID, Status: p.Status, Error: p.ErrorMessage()}
	if p.Status == inference.StatusSucceeded {
		if u, err := inference.NormalizeOutput(p.Output); err == nil {
			body.OutputURL = u
		}
	}
	return &operation.GetPredictionOutput{Body: body}, nil
}
