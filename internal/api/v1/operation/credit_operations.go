package operation

import "photorestore/internal/api/v1/dto"

// Credit Operations

type GetCreditsInput struct{}

type GetCreditsOutput struct {
	Body dto.CreditAccountDTO `json:"body"`
}

type ListPackagesInput struct{}

type ListPackagesOutput struct {
	Body []dto.CreditPackDTO `json:"body"`
}

type CreateCheckoutInput struct {
	Body dto.CheckoutRequestDTO `json:"body"`
}

type CreateCheckoutOutput struct {
	Body dto.CheckoutResponseDTO `json:"body"`
}
