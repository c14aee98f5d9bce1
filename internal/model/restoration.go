package model

import "time"

type RestorationStatus string

const (
	RestorationProcessing RestorationStatus = "processing"
	RestorationCompleted  RestorationStatus = "completed"
	RestorationFailed     RestorationStatus = "failed"
)

// Restoration is the audit record of one restoration attempt (photo_restorations).
type Restoration struct {
	ID                string            `db:"id" json:"id"`
	UserID            string            `db:"user_id" json:"user_id"`
	OriginalFilename  string            `db:"original_filename" json:"original_filename"`
	OriginalImageURL  string            `db:"original_image_url" json:"original_image_url"`
	Status            RestorationStatus `db:"status" json:"status"`
	PredictionID      *string           `db:"prediction_id" json:"prediction_id,omitempty"`
	RestoredImageURL  *string           `db:"restored_image_url" json:"restored_image_url,omitempty"`
	S3URL             *string           `db:"s3_url" json:"s3_url,omitempty"`
	ProcessedFilename *string           `db:"processed_filename" json:"processed_filename,omitempty"`
	ErrorMessage      *string           `db:"error_message" json:"error_message,omitempty"`
	CreditRefunded    bool              `db:"credit_refunded" json:"credit_refunded"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

// BestURL prefers the durable copy and falls back to the provider URL.
func (r *Restoration) BestURL() string {
	if r.S3URL != nil && *r.S3URL != "" {
		return *r.S3URL
	}
	if r.RestoredImageURL != nil {
		return *r.RestoredImageURL
	}
	return ""
}

// RestorationJob is the pgmq payload consumed by the restoration orchestrator.
type RestorationJob struct {
	RestorationID string `json:"restoration_id"`
	PredictionID  string `json:"prediction_id"`
	UserID        string `json:"user_id"`
}
