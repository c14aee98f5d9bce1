package dto

type UploadResponseDTO struct {
	ResumeToken string  `json:"resume_token"`
	URL         string  `json:"url"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	AspectRatio float64 `json:"aspect_ratio,omitempty"`
	ExpiresAt   int64   `json:"expires_at"`
}
