package model

import (
	"fmt"
	"strings"
)

// MaxUploadBytes is the largest photo accepted for restoration (10 MiB).
const MaxUploadBytes int64 = 10 * 1024 * 1024

// ValidationError reports an input rejected before any remote call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ValidateImageUpload accepts image/* content no larger than maxBytes.
// A non-positive maxBytes falls back to MaxUploadBytes.
func ValidateImageUpload(contentType string, size, maxBytes int64) error {
	if maxBytes <= 0 {
		maxBytes = MaxUploadBytes
	}
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if !strings.HasPrefix(ct, "image/") {
		return &ValidationError{Field: "file", Reason: "please upload an image file"}
	}
	if size <= 0 {
		return &ValidationError{Field: "file", Reason: "file is empty"}
	}
	if size > maxBytes {
		return &ValidationError{Field: "file", Reason: fmt.Sprintf("file must be %d MB or smaller", maxBytes/(1024*1024))}
	}
	return nil
}

// UploadIntent is a stored pending upload plus the signed token that lets the
// user resume it after signing in.
type UploadIntent struct {
	Token       string  `json:"resume_token"`
	Key         string  `json:"key"`
	URL         string  `json:"url"`
	Filename    string  `json:"filename"`
	ContentType string  `json:"content_type"`
	Size        int64   `json:"size"`
	AspectRatio float64 `json:"aspect_ratio,omitempty"`
	ExpiresAt   int64   `json:"expires_at"`
}
