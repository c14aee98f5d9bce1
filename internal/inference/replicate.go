// Package inference talks to the Replicate predictions API that performs the
// actual photo restoration.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"photorestore/internal/logger"

	"github.com/rs/zerolog"
)

var (
	// ErrMissingAPIToken indicates that the client was configured without credentials.
	ErrMissingAPIToken = errors.New("replicate: api token is required")
	// ErrNoOutput is returned when a prediction succeeded but produced nothing usable.
	ErrNoOutput = errors.New("replicate: prediction returned no output")
)

// Prediction states reported by the provider.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// InferenceError carries a provider failure. Message is the provider's own
// text and is shown to the user unchanged.
type InferenceError struct {
	PredictionID string
	StatusCode   int
	Message      string
	Err          error
}

func (e *InferenceError) Error() string {
	switch {
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "replicate: inference failed"
	}
}

func (e *InferenceError) Unwrap() error { return e.Err }

// Options configures the Replicate client.
type Options struct {
	APIToken       string
	BaseURL        string
	Model          string
	Version        string
	PollInterval   time.Duration
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
}

// Client submits restoration predictions and polls them to completion.
type Client struct {
	apiToken     string
	baseURL      string
	model        string
	version      string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       zerolog.Logger
}

// Prediction is the provider's view of one inference job.
type Prediction struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	Output    json.RawMessage `json:"output,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	CreatedAt string          `json:"created_at,omitempty"`
}

// Terminal reports whether the prediction will not change any more.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// ErrorMessage returns the provider error as plain text.
func (p *Prediction) ErrorMessage() string {
	raw := bytes.TrimSpace(p.Error)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Output is a finished restoration.
type Output struct {
	PredictionID string
	URL          string
}

type predictionRequest struct {
	Version string          `json:"version,omitempty"`
	Input   predictionInput `json:"input"`
}

type predictionInput struct {
	InputImage string `json:"input_image"`
}

type errorResponse struct {
	Detail string `json:"detail"`
	Title  string `json:"title"`
	Error  string `json:"error"`
}

// NewClient constructs a client with defaults for anything left unset.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "flux-kontext-apps/restore-image"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 2 * time.Second
	}
	lg := logger.Nop()
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	return &Client{
		apiToken:     strings.TrimSpace(opts.APIToken),
		baseURL:      baseURL,
		model:        model,
		version:      strings.TrimSpace(opts.Version),
		pollInterval: poll,
		httpClient:   httpClient,
		logger:       lg.With().Str("client", "replicate").Logger(),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string { return c.model }

// Submit runs one restoration and blocks until the provider finishes or ctx ends.
func (c *Client) Submit(ctx context.Context, imageURL string) (*Output, error) {
	p, err := c.start(ctx, imageURL, true)
	if err != nil {
		return nil, err
	}
	for !p.Terminal() {
		select {
		case <-ctx.Done():
			return nil, &InferenceError{PredictionID: p.ID, Message: "restoration timed out", Err: ctx.Err()}
		case <-time.After(c.pollInterval):
		}
		p, err = c.PollStatus(ctx, p.ID)
		if err != nil {
			return nil, err
		}
	}
	return Resolve(p)
}

// Start creates a prediction and returns without waiting for it.
func (c *Client) Start(ctx context.Context, imageURL string) (*Prediction, error) {
	return c.start(ctx, imageURL, false)
}

func (c *Client) start(ctx context.Context, imageURL string, wait bool) (*Prediction, error) {
	if c.apiToken == "" {
		return nil, ErrMissingAPIToken
	}
	imageURL = strings.TrimSpace(imageURL)
	if u, err := url.Parse(imageURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("replicate: invalid image url %q", imageURL)
	}

	payload := predictionRequest{Input: predictionInput{InputImage: imageURL}}
	endpoint := c.baseURL + "/v1/models/" + c.model + "/predictions"
	if c.version != "" {
		payload.Version = c.version
		endpoint = c.baseURL + "/v1/predictions"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("replicate: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if wait {
		req.Header.Set("Prefer", "wait")
	}

	p, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Info().Str("prediction_id", p.ID).Str("status", p.Status).Str("model", c.model).Msg("Prediction created")
	return p, nil
}

// PollStatus fetches the current state of a prediction.
func (c *Client) PollStatus(ctx context.Context, predictionID string) (*Prediction, error) {
	if c.apiToken == "" {
		return nil, ErrMissingAPIToken
	}
	if strings.TrimSpace(predictionID) == "" {
		return nil, errors.New("replicate: prediction id is required")
	}
	endpoint := c.baseURL + "/v1/predictions/" + url.PathEscape(predictionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("replicate: build request: %w", err)
	}
	p, err := c.do(req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug().Str("prediction_id", p.ID).Str("status", p.Status).Msg("Prediction polled")
	return p, nil
}

func (c *Client) do(req *http.Request) (*Prediction, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &InferenceError{Message: "replicate: request failed: " + err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("replicate: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, &InferenceError{StatusCode: resp.StatusCode, Message: providerMessage(resp.StatusCode, raw)}
	}

	var p Prediction
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("replicate: decode response: %w", err)
	}
	return &p, nil
}

func providerMessage(status int, raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		switch {
		case detail.Detail != "":
			return detail.Detail
		case detail.Error != "":
			return detail.Error
		case detail.Title != "":
			return detail.Title
		}
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return fmt.Sprintf("replicate: status %d", status)
}

// Resolve turns a terminal prediction into an output URL or an InferenceError.
func Resolve(p *Prediction) (*Output, error) {
	switch p.Status {
	case StatusSucceeded:
		u, err := NormalizeOutput(p.Output)
		if err != nil {
			return nil, &InferenceError{PredictionID: p.ID, Err: err}
		}
		return &Output{PredictionID: p.ID, URL: u}, nil
	case StatusFailed, StatusCanceled:
		msg := p.ErrorMessage()
		if msg == "" {
			msg = "restoration " + p.Status
		}
		return nil, &InferenceError{PredictionID: p.ID, Message: msg}
	default:
		return nil, fmt.Errorf("replicate: prediction %s is still %s", p.ID, p.Status)
	}
}

// NormalizeOutput accepts the shapes the model is known to return: a URL
// string, an array whose first non-empty entry is a URL, or an object with a
// url field.
func NormalizeOutput(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoOutput
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
		return "", ErrNoOutput
	}

	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		for _, item := range list {
			if u, err := NormalizeOutput(item); err == nil {
				return u, nil
			}
		}
		return "", ErrNoOutput
	}

	var obj struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		if u := strings.TrimSpace(obj.URL); u != "" {
			return u, nil
		}
	}
	return "", ErrNoOutput
}
