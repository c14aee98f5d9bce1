package dto

import (
	"time"

	"photorestore/internal/model"
)

type CreditAccountDTO struct {
	UserID                string            `json:"user_id"`
	RemainingRestorations int               `json:"remaining_restorations"`
	TotalRestorationsUsed int               `json:"total_restorations_used"`
	IsFreeUser            bool              `json:"is_free_user"`
	PackageType           model.PackageType `json:"package_type"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func NewCreditAccountDTO(a *model.CreditAccount) CreditAccountDTO {
	return CreditAccountDTO{
		UserID:                a.UserID,
		RemainingRestorations: a.RemainingRestorations,
		TotalRestorationsUsed: a.TotalRestorationsUsed,
		IsFreeUser:            a.IsFreeUser,
		PackageType:           a.PackageType,
		CreatedAt:             a.CreatedAt,
		UpdatedAt:             a.UpdatedAt,
	}
}

type CreditPackDTO struct {
	Package     model.PackageType `json:"package"`
	Name        string            `json:"name"`
	Credits     int               `json:"credits"`
	AmountCents int64             `json:"amount_cents"`
}

type CheckoutRequestDTO struct {
	Package model.PackageType `json:"package" validate:"required,oneof=starter creator archive" doc:"Credit pack to buy"`
}

type CheckoutResponseDTO struct {
	URL string `json:"url" doc:"Hosted Stripe Checkout page"`
}
