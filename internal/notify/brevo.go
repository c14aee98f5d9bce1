// Package notify sends transactional email through Brevo.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var ErrMissingAPIKey = errors.New("brevo: api key is required")

type Contact struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Email is the body of POST /v3/smtp/email.
type Email struct {
	Sender      Contact   `json:"sender"`
	To          []Contact `json:"to"`
	Subject     string    `json:"subject"`
	HTMLContent string    `json:"htmlContent"`
}

// SendError is a non-2xx answer from Brevo.
type SendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *SendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("brevo: %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("brevo: %d: %s", e.StatusCode, e.Message)
}

type Sender interface {
	Send(ctx context.Context, email Email) (string, error)
}

type BrevoSender struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func NewBrevoSender(apiKey, baseURL string, httpClient *http.Client, logger zerolog.Logger) *BrevoSender {
	if baseURL == "" {
		baseURL = "https://api.brevo.com"
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &BrevoSender{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With().Str("component", "BrevoSender").Logger(),
	}
}

// Send delivers email and returns Brevo's messageId.
func (b *BrevoSender) Send(ctx context.Context, email Email) (string, error) {
	if b.apiKey == "" {
		return "", ErrMissingAPIKey
	}
	if len(email.To) == 0 || email.To[0].Email == "" {
		return "", errors.New("brevo: recipient email is required")
	}
	body, err := json.Marshal(email)
	if err != nil {
		return "", fmt.Errorf("brevo: encode email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("brevo: build request: %w", err)
	}
	req.Header.Set("api-key", b.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("brevo: send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		sendErr := &SendError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var apiErr struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			sendErr.Code = apiErr.Code
			sendErr.Message = apiErr.Message
		}
		return "", sendErr
	}

	var receipt struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return "", fmt.Errorf("brevo: decode receipt: %w", err)
	}
	b.logger.Info().Str("message_id", receipt.MessageID).Msg("Email accepted by Brevo")
	return receipt.MessageID, nil
}
