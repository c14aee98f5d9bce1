package operation

import "photorestore/internal/api/v1/dto"

type SendWelcomeInput struct {
	Body dto.WelcomeRequestDTO `json:"body"`
}

type SendWelcomeOutput struct {
	Body dto.AcceptedDTO `json:"body"`
}

type HealthInput struct{}

type HealthOutput struct {
	Body dto.HealthDTO `json:"body"`
}
