// Package client is a typed HTTP client for the /v1 API, used by the
// restoration flow and by integration tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/logger"
	"photorestore/internal/model"

	"github.com/rs/zerolog"
)

// APIError is a non-2xx answer from the API. Detail carries the server's
// message, for example the provider text on a 502.
type APIError struct {
	StatusCode int
	Title      string
	Detail     string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api: %d: %s", e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Title)
}

// StatusOf returns the HTTP status of an *APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsPaywall reports whether err means the account has no credits left or the
// download needs a purchased pack.
func IsPaywall(err error) bool { return StatusOf(err) == http.StatusPaymentRequired }

func IsUnauthorized(err error) bool { return StatusOf(err) == http.StatusUnauthorized }

// IsUploadExpired reports whether a resume token was rejected.
func IsUploadExpired(err error) bool { return StatusOf(err) == http.StatusGone }

// TokenSource returns the current session access token, or "" when signed out.
type TokenSource func() string

type Options struct {
	BaseURL        string
	HTTPClient     *http.Client
	TokenSource    TokenSource
	RequestTimeout time.Duration
	Logger         *zerolog.Logger
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     zerolog.Logger
}

func New(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 150 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	lg := logger.Nop()
	if opts.Logger != nil {
		lg = *opts.Logger
	}
	token := opts.TokenSource
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		httpClient: httpClient,
		token:      token,
		logger:     lg.With().Str("client", "api").Logger(),
	}
}

func (c *Client) Credits(ctx context.Context) (*dto.CreditAccountDTO, error) {
	var out dto.CreditAccountDTO
	if err := c.doJSON(ctx, http.MethodGet, "/credits", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Packages(ctx context.Context) ([]dto.CreditPackDTO, error) {
	var out []dto.CreditPackDTO
	if err := c.doJSON(ctx, http.MethodGet, "/packages", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Checkout returns the hosted payment page for pkg.
func (c *Client) Checkout(ctx context.Context, pkg model.PackageType) (string, error) {
	var out dto.CheckoutResponseDTO
	if err := c.doJSON(ctx, http.MethodPost, "/checkout", dto.CheckoutRequestDTO{Package: pkg}, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// UploadFile describes a photo picked by the user.
type UploadFile struct {
	Filename    string
	ContentType string
	AspectRatio float64
	Body        io.Reader
}

// Upload posts the photo as multipart form data and returns its resume token.
// It does not need a session.
func (c *Client) Upload(ctx context.Context, f UploadFile) (*dto.UploadResponseDTO, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if f.AspectRatio > 0 {
		if err := mw.WriteField("aspect_ratio", strconv.FormatFloat(f.AspectRatio, 'f', -1, 64)); err != nil {
			return nil, err
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, f.Filename))
	h.Set("Content-Type", f.ContentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f.Body); err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/uploads", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var out dto.UploadResponseDTO
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restore(ctx context.Context, in dto.RestoreRequestDTO) (*dto.RestoreResponseDTO, error) {
	var out dto.RestoreResponseDTO
	if err := c.doJSON(ctx, http.MethodPost, "/restorations", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restoration(ctx context.Context, id string) (*dto.RestorationDTO, error) {
	var out dto.RestorationDTO
	if err := c.doJSON(ctx, http.MethodGet, "/restorations/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Restorations(ctx context.Context, limit, offset int) ([]dto.RestorationDTO, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/restorations"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []dto.RestorationDTO
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Download(ctx context.Context, id string) (*dto.DownloadResponseDTO, error) {
	var out dto.DownloadResponseDTO
	if err := c.doJSON(ctx, http.MethodGet, "/restorations/"+url.PathEscape(id)+"/download", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Prediction(ctx context.Context, id string) (*dto.PredictionDTO, error) {
	var out dto.PredictionDTO
	if err := c.doJSON(ctx, http.MethodGet, "/predictions/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SendWelcome(ctx context.Context, name string) error {
	return c.doJSON(ctx, http.MethodPost, "/notifications/welcome", dto.WelcomeRequestDTO{Name: name}, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if token := c.token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var problem struct {
			Title  string `json:"title"`
			Detail string `json:"detail"`
		}
		if json.Unmarshal(raw, &problem) == nil && (problem.Title != "" || problem.Detail != "") {
			apiErr.Title, apiErr.Detail = problem.Title, problem.Detail
		} else {
			apiErr.Title = http.StatusText(resp.StatusCode)
			apiErr.Detail = strings.TrimSpace(string(raw))
		}
		c.logger.Debug().Int("status", resp.StatusCode).Str("path", req.URL.Path).Msg("API request failed")
		return apiErr
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
