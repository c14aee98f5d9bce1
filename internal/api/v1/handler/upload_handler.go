package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/model"
	"photorestore/internal/service"

	"github.com/rs/zerolog"
)

// multipart framing allowance on top of the file limit
const uploadOverhead = 1 << 20

// UploadHandler accepts photos before sign-in. It is mounted as a raw route
// because huma does not stream multipart bodies.
type UploadHandler struct {
	uploads  service.UploadService
	maxBytes int64
	logger   zerolog.Logger
}

func NewUploadHandler(uploads service.UploadService, maxBytes int64, logger zerolog.Logger) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = model.MaxUploadBytes
	}
	return &UploadHandler{uploads: uploads, maxBytes: maxBytes, logger: logger}
}

// Upload handles POST /uploads with a multipart "file" field and an optional
// "aspect_ratio" field.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+uploadOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "File is too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	} else {
		sniff := make([]byte, 512)
		n, _ := io.ReadFull(file, sniff)
		contentType = http.DetectContentType(sniff[:n])
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			http.Error(w, "Failed to read file", http.StatusBadRequest)
			return
		}
	}

	var aspect float64
	if raw := r.FormValue("aspect_ratio"); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v > 0 {
			aspect = v
		}
	}

	intent, err := h.uploads.Stage(r.Context(), service.UploadRequest{
		Filename:    header.Filename,
		ContentType: contentType,
		Size:        header.Size,
		AspectRatio: aspect,
		Body:        file,
	})
	if err != nil {
		var vErr *model.ValidationError
		if errors.As(err, &vErr) {
			http.Error(w, vErr.Reason, http.StatusBadRequest)
			return
		}
		h.logger.Error().Err(err).Msg("Failed to stage upload")
		http.Error(w, "Failed to store upload", http.StatusInternalServerError)
		return
	}

	resp := dto.UploadResponseDTO{
		ResumeToken: intent.Token,
		URL:         intent.URL,
		Filename:    intent.Filename,
		ContentType: intent.ContentType,
		Size:        intent.Size,
		AspectRatio: intent.AspectRatio,
		ExpiresAt:   intent.ExpiresAt,
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}
