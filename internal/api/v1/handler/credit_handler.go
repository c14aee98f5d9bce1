package handler

import (
	"context"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/api/v1/operation"
	"photorestore/internal/middleware"
	"photorestore/internal/model"
	"photorestore/internal/service"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// CheckoutCreator starts a hosted payment for a credit pack.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, userID, email string, pkg model.PackageType) (string, error)
}

type CreditHandler struct {
	credits  service.CreditService
	checkout CheckoutCreator
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewCreditHandler(credits service.CreditService, checkout CheckoutCreator, validate *validator.Validate, logger zerolog.Logger) *CreditHandler {
	return &CreditHandler{credits: credits, checkout: checkout, validate: validate, logger: logger}
}

// GetCredits returns the caller's account, creating it on first use.
func (h *CreditHandler) GetCredits(ctx context.Context, input *operation.GetCreditsInput) (*operation.GetCreditsOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	acct, err := h.credits.GetOrCreate(ctx, userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to load credit account")
		return nil, toHumaError(err, "Failed to load credits")
	}
	return &operation.GetCreditsOutput{Body: dto.NewCreditAccountDTO(acct)}, nil
}

func (h *CreditHandler) ListPackages(ctx context.Context, input *operation.ListPackagesInput) (*operation.ListPackagesOutput, error) {
	packs := make([]dto.CreditPackDTO, 0, len(model.CreditPacks))
	for _, p := range model.CreditPacks {
		packs = append(packs, dto.CreditPackDTO{
			Package:     p.Package,
			Name:        p.Name,
			Credits:     p.Credits,
			AmountCents: p.AmountCents,
		})
	}
	return &operation.ListPackagesOutput{Body: packs}, nil
}

func (h *CreditHandler) CreateCheckout(ctx context.Context, input *operation.CreateCheckoutInput) (*operation.CreateCheckoutOutput, error) {
	userID, err := getUserIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	if err := h.validate.Struct(&input.Body); err != nil {
		return nil, huma.Error400BadRequest("Validation failed: " + err.Error())
	}

	url, err := h.checkout.CreateCheckoutSession(ctx, userID, middleware.Email(ctx), input.Body.Package)
	if err != nil {
		return nil, toHumaError(err, "Failed to create checkout session")
	}
	return &operation.CreateCheckoutOutput{Body: dto.CheckoutResponseDTO{URL: url}}, nil
}
