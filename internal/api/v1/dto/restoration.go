package dto

import (
	"time"

	"photorestore/internal/model"
)

// RestoreRequestDTO names the photo either by URL or by the resume token
// returned from POST /uploads.
type RestoreRequestDTO struct {
	ImageURL    string `json:"image_url,omitempty" validate:"omitempty,url" doc:"Public URL of the photo"`
	ResumeToken string `json:"resume_token,omitempty" validate:"required_without=ImageURL" doc:"Token returned by POST /uploads"`
	Filename    string `json:"filename,omitempty" maxLength:"255" doc:"Original filename"`
}

type RestorationDTO struct {
	ID                string                  `json:"id"`
	OriginalFilename  string                  `json:"original_filename"`
	OriginalImageURL  string                  `json:"original_image_url"`
	Status            model.RestorationStatus `json:"status"`
	PredictionID      *string                 `json:"prediction_id,omitempty"`
	RestoredImageURL  *string                 `json:"restored_image_url,omitempty"`
	S3URL             *string                 `json:"s3_url,omitempty"`
	ProcessedFilename *string                 `json:"processed_filename,omitempty"`
	ErrorMessage      *string                 `json:"error_message,omitempty"`
	CreditRefunded    bool                    `json:"credit_refunded"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

func NewRestorationDTO(r *model.Restoration) RestorationDTO {
	return RestorationDTO{
		ID:                r.ID,
		OriginalFilename:  r.OriginalFilename,
		OriginalImageURL:  r.OriginalImageURL,
		Status:            r.Status,
		PredictionID:      r.PredictionID,
		RestoredImageURL:  r.RestoredImageURL,
		S3URL:             r.S3URL,
		ProcessedFilename: r.ProcessedFilename,
		ErrorMessage:      r.ErrorMessage,
		CreditRefunded:    r.CreditRefunded,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type RestoreResponseDTO struct {
	Restoration RestorationDTO   `json:"restoration"`
	Credits     CreditAccountDTO `json:"credits"`
	Watermarked bool             `json:"watermarked"`
	Pending     bool             `json:"pending"`
}

type DownloadResponseDTO struct {
	URL      string `json:"url"`
	Filename string `json:"filename"`
}

type PredictionDTO struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	OutputURL string `json:"output_url,omitempty"`
	Error     string `json:"error,omitempty"`
}
