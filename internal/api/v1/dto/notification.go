package dto

type WelcomeRequestDTO struct {
	Name  string `json:"name,omitempty" validate:"max=120" doc:"Display name used in the greeting"`
	Email string `json:"email,omitempty" validate:"omitempty,email" doc:"Overrides the email from the session token"`
}

type AcceptedDTO struct {
	Status string `json:"status"`
}

type HealthDTO struct {
	Status string `json:"status"`
}
