// Package flow drives one photo through upload, sign-in, restoration and
// download on the client side of the API.
package flow

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"photorestore/internal/api/v1/dto"
	"photorestore/internal/client"
	"photorestore/internal/model"

	"github.com/rs/zerolog"
)

type State string

const (
	StateIdle       State = "idle"
	StateUploaded   State = "uploaded"
	StateAuthGate   State = "auth_gate"
	StateDebiting   State = "debiting"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StatePaywall    State = "paywall"
)

var (
	ErrNoUpload          = errors.New("no photo uploaded")
	ErrBusy              = errors.New("restoration already in progress")
	ErrInvalidTransition = errors.New("action not allowed in current state")
	ErrDownloadLocked    = errors.New("download requires a purchased credit pack")
	ErrClosed            = errors.New("flow closed")
)

// API is the part of the /v1 client the flow needs. *client.Client
// satisfies it.
type API interface {
	Upload(ctx context.Context, f client.UploadFile) (*dto.UploadResponseDTO, error)
	Credits(ctx context.Context) (*dto.CreditAccountDTO, error)
	Restore(ctx context.Context, in dto.RestoreRequestDTO) (*dto.RestoreResponseDTO, error)
	Restoration(ctx context.Context, id string) (*dto.RestorationDTO, error)
	Download(ctx context.Context, id string) (*dto.DownloadResponseDTO, error)
}

type ToastLevel string

const (
	ToastInfo        ToastLevel = "info"
	ToastSuccess     ToastLevel = "success"
	ToastDestructive ToastLevel = "destructive"
)

type Toast struct {
	Level       ToastLevel
	Title       string
	Description string
}

// Notifier shows toasts and the processing progress bar.
type Notifier interface {
	Toast(t Toast)
	Progress(percent int)
}

// Upload is the photo currently held by the flow. It lives in memory only.
type Upload struct {
	Filename         string
	ContentType      string
	Size             int64
	AspectRatio      float64
	PreviewURL       string
	ResumeToken      string
	ExpiresAt        int64
	ProcessedURL     string
	RestorationID    string
	WatermarkRemoved bool
}

type Options struct {
	MaxUploadBytes int64
	// PollInterval is how often a pending restoration is re-read.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

type Flow struct {
	api    API
	auth   AuthStore
	notify Notifier
	opts   Options
	logger zerolog.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	wg          sync.WaitGroup

	mu      sync.Mutex
	state   State
	upload  *Upload
	credits *dto.CreditAccountDTO
	lastErr error
	busy    bool
	closed  bool

	// runs counts Restore calls so a finished run cannot clear a newer run's busy flag.
	runs uint64
}

// New creates an idle flow and subscribes it to auth changes. Close releases
// the subscription and waits for any resumed restoration.
func New(ctx context.Context, api API, auth AuthStore, notifier Notifier, opts Options, logger zerolog.Logger) *Flow {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = model.MaxUploadBytes
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Minute
	}
	fctx, cancel := context.WithCancel(ctx)
	f := &Flow{
		api:    api,
		auth:   auth,
		notify: notifier,
		opts:   opts,
		logger: logger.With().Str("component", "flow").Logger(),
		ctx:    fctx,
		cancel: cancel,
		state:  StateIdle,
	}
	f.unsubscribe = auth.Subscribe(f.onSession)
	return f
}

func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Upload returns a copy of the current photo, or nil.
func (f *Flow) Upload() *Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upload == nil {
		return nil
	}
	cp := *f.upload
	return &cp
}

// Credits returns the last account snapshot read from the server.
func (f *Flow) Credits() *dto.CreditAccountDTO {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credits == nil {
		return nil
	}
	cp := *f.credits
	return &cp
}

// Err is the cause of the last failed restoration.
func (f *Flow) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// SelectFile validates the photo locally and stages it on the server. A
// rejected file leaves the flow unchanged and makes no request.
func (f *Flow) SelectFile(ctx context.Context, filename, contentType string, size int64, aspectRatio float64, body io.Reader) error {
	f.mu.Lock()
	if f.busy {
		f.mu.Unlock()
		return ErrBusy
	}
	f.mu.Unlock()

	if err := model.ValidateImageUpload(contentType, size, f.opts.MaxUploadBytes); err != nil {
		switch {
		case !strings.HasPrefix(strings.ToLower(contentType), "image/"):
			f.toast(ToastDestructive, "Invalid file type", "Please upload an image file (JPG, PNG, etc.)")
		case size > f.opts.MaxUploadBytes:
			f.toast(ToastDestructive, "File too large", fmt.Sprintf("Please upload an image smaller than %dMB", f.opts.MaxUploadBytes/(1024*1024)))
		default:
			f.toast(ToastDestructive, "Invalid file", describe(err))
		}
		return err
	}

	res, err := f.api.Upload(ctx, client.UploadFile{
		Filename:    filename,
		ContentType: contentType,
		AspectRatio: aspectRatio,
		Body:        body,
	})
	if err != nil {
		f.logger.Warn().Err(err).Str("filename", filename).Msg("Upload failed")
		f.toast(ToastDestructive, "Upload failed", describe(err))
		return err
	}

	f.mu.Lock()
	f.upload = &Upload{
		Filename:    res.Filename,
		ContentType: res.ContentType,
		Size:        res.Size,
		AspectRatio: res.AspectRatio,
		PreviewURL:  res.URL,
		ResumeToken: res.ResumeToken,
		ExpiresAt:   res.ExpiresAt,
	}
	f.lastErr = nil
	f.mu.Unlock()

	f.transition(StateUploaded)
	f.toast(ToastInfo, "Photo uploaded", "Click 'Start Restoration' to begin processing")
	return nil
}

// Restore runs the uploaded photo through debit and restoration. Without a
// session the flow parks in auth_gate and resumes once a session appears.
// Paywall and provider failures are states, not errors.
func (f *Flow) Restore(ctx context.Context) error {
	f.mu.Lock()
	switch {
	case f.closed:
		f.mu.Unlock()
		return ErrClosed
	case f.busy:
		f.mu.Unlock()
		return ErrBusy
	case f.upload == nil:
		f.mu.Unlock()
		return ErrNoUpload
	}
	switch f.state {
	case StateUploaded, StateAuthGate, StateFailed, StatePaywall:
	default:
		f.mu.Unlock()
		return fmt.Errorf("restore from %s: %w", f.state, ErrInvalidTransition)
	}
	f.busy = true
	f.runs++
	run := f.runs
	up := *f.upload
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		if f.runs == run {
			f.busy = false
		}
		f.mu.Unlock()
	}()

	if f.auth.Session() == nil {
		f.parkAtAuthGate()
		f.toast(ToastInfo, "Sign up to restore", "Create a free account and your photo will be restored right away")
		// A sign-in that landed before parking found the flow busy and was dropped.
		if sess := f.auth.Session(); sess != nil {
			f.onSession(sess)
		}
		return nil
	}

	f.transition(StateDebiting)
	acct, err := f.api.Credits(ctx)
	if err != nil {
		return f.handleRestoreError(err)
	}
	f.setCredits(acct)
	if acct.RemainingRestorations <= 0 {
		f.enterPaywall()
		return nil
	}

	f.transition(StateProcessing)
	f.toast(ToastInfo, "Restoring photo", "This usually takes less than a minute")
	f.progress(10)

	res, err := f.api.Restore(ctx, dto.RestoreRequestDTO{
		ResumeToken: up.ResumeToken,
		Filename:    up.Filename,
	})
	if err != nil {
		return f.handleRestoreError(err)
	}
	f.setCredits(&res.Credits)

	rec := &res.Restoration
	if res.Pending || rec.Status == model.RestorationProcessing {
		rec, err = f.waitForRestoration(ctx, rec.ID)
		if err != nil {
			return f.handleRestoreError(err)
		}
	}
	if rec.Status == model.RestorationFailed {
		msg := "restoration failed"
		if rec.ErrorMessage != nil && *rec.ErrorMessage != "" {
			msg = *rec.ErrorMessage
		}
		return f.handleRestoreError(errors.New(msg))
	}

	f.mu.Lock()
	if f.upload != nil {
		f.upload.RestorationID = rec.ID
		f.upload.ProcessedURL = bestURL(rec)
		f.upload.WatermarkRemoved = !res.Watermarked
	}
	f.lastErr = nil
	f.mu.Unlock()

	f.progress(100)
	f.transition(StateCompleted)
	f.toast(ToastSuccess, "Restoration complete!", "Your photo has been successfully restored")
	return nil
}

// Retry restores again after a failure.
func (f *Flow) Retry(ctx context.Context) error {
	if s := f.State(); s != StateFailed {
		return fmt.Errorf("retry from %s: %w", s, ErrInvalidTransition)
	}
	return f.Restore(ctx)
}

// RefreshCredits re-reads the account, typically after a checkout. A paid
// account unlocks a watermarked result, and new credits lift the paywall.
func (f *Flow) RefreshCredits(ctx context.Context) (*dto.CreditAccountDTO, error) {
	acct, err := f.api.Credits(ctx)
	if err != nil {
		return nil, err
	}
	f.setCredits(acct)

	f.mu.Lock()
	unlocked := false
	leftPaywall := false
	if f.state == StateCompleted && f.upload != nil && !f.upload.WatermarkRemoved && !acct.IsFreeUser {
		f.upload.WatermarkRemoved = true
		unlocked = true
	}
	if f.state == StatePaywall && acct.RemainingRestorations > 0 {
		leftPaywall = true
	}
	f.mu.Unlock()

	if unlocked {
		f.logger.Info().Str("user_id", acct.UserID).Msg("Watermark removed")
		f.toast(ToastSuccess, "Watermark removed", "Your full-resolution photo is ready to download")
	}
	if leftPaywall {
		f.transition(StateUploaded)
		f.toast(ToastSuccess, "Credits added", fmt.Sprintf("You have %d restorations left", acct.RemainingRestorations))
	}
	return acct, nil
}

// Download asks the server for the unwatermarked file. The server re-checks
// the ledger, so a stale local unlock still ends in ErrDownloadLocked.
func (f *Flow) Download(ctx context.Context) (*dto.DownloadResponseDTO, error) {
	f.mu.Lock()
	if f.state != StateCompleted || f.upload == nil || f.upload.RestorationID == "" {
		s := f.state
		f.mu.Unlock()
		return nil, fmt.Errorf("download from %s: %w", s, ErrInvalidTransition)
	}
	id := f.upload.RestorationID
	f.mu.Unlock()

	out, err := f.api.Download(ctx, id)
	if err != nil {
		if client.IsPaywall(err) {
			f.mu.Lock()
			if f.upload != nil {
				f.upload.WatermarkRemoved = false
			}
			f.mu.Unlock()
			f.toast(ToastDestructive, "Upgrade required", "Purchase a credit pack to download without the watermark")
			return nil, ErrDownloadLocked
		}
		f.toast(ToastDestructive, "Download failed", describe(err))
		return nil, err
	}
	f.toast(ToastSuccess, "Download started", "Your restored photo is being downloaded")
	return out, nil
}

// Reset discards the photo and returns to idle.
func (f *Flow) Reset() {
	f.mu.Lock()
	f.upload = nil
	f.lastErr = nil
	f.mu.Unlock()
	f.progress(0)
	f.transition(StateIdle)
}

func (f *Flow) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	f.unsubscribe()
	f.cancel()
	f.wg.Wait()
}

func (f *Flow) onSession(sess *Session) {
	if sess == nil {
		return
	}
	f.mu.Lock()
	if f.closed || f.state != StateAuthGate || f.busy {
		f.mu.Unlock()
		return
	}
	f.wg.Add(1)
	f.mu.Unlock()

	f.logger.Info().Str("user_id", sess.UserID).Msg("Session started, resuming restoration")
	go func() {
		defer f.wg.Done()
		if err := f.Restore(f.ctx); err != nil {
			f.logger.Warn().Err(err).Msg("Resumed restoration did not run")
		}
	}()
}

func (f *Flow) waitForRestoration(ctx context.Context, id string) (*dto.RestorationDTO, error) {
	ctx, cancel := context.WithTimeout(ctx, f.opts.PollTimeout)
	defer cancel()

	ticker := time.NewTicker(f.opts.PollInterval)
	defer ticker.Stop()

	pct := 10
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for restoration %s: %w", id, ctx.Err())
		case <-ticker.C:
		}

		rec, err := f.api.Restoration(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec.Status != model.RestorationProcessing {
			return rec, nil
		}
		if pct < 90 {
			pct += 10
			f.progress(pct)
		}
	}
}

func (f *Flow) handleRestoreError(err error) error {
	switch {
	case client.IsPaywall(err):
		f.enterPaywall()
		return nil
	case client.IsUnauthorized(err):
		f.parkAtAuthGate()
		f.toast(ToastInfo, "Sign in again", "Your session has expired")
		return nil
	case client.IsUploadExpired(err):
		f.mu.Lock()
		f.upload = nil
		f.mu.Unlock()
		f.transition(StateIdle)
		f.toast(ToastDestructive, "Upload expired", "Please upload your photo again")
		return nil
	}

	f.logger.Error().Err(err).Msg("Restoration failed")
	f.mu.Lock()
	f.lastErr = err
	f.mu.Unlock()
	f.progress(0)
	f.transition(StateFailed)
	f.toast(ToastDestructive, "Restoration failed", describe(err))
	return nil
}

// parkAtAuthGate waits for a session. It releases busy in the same step so
// the next sign-in can resume the flow.
func (f *Flow) parkAtAuthGate() {
	f.mu.Lock()
	from := f.state
	f.state = StateAuthGate
	f.busy = false
	f.mu.Unlock()
	if from != StateAuthGate {
		f.logger.Debug().Str("from", string(from)).Str("to", string(StateAuthGate)).Msg("Flow transition")
	}
}

func (f *Flow) enterPaywall() {
	f.progress(0)
	f.transition(StatePaywall)
	f.toast(ToastDestructive, "No credits left", "Buy a credit pack to restore more photos")
}

func (f *Flow) setCredits(acct *dto.CreditAccountDTO) {
	cp := *acct
	f.mu.Lock()
	f.credits = &cp
	f.mu.Unlock()
}

func (f *Flow) transition(to State) {
	f.mu.Lock()
	from := f.state
	f.state = to
	f.mu.Unlock()
	if from != to {
		f.logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("Flow transition")
	}
}

func (f *Flow) toast(level ToastLevel, title, desc string) {
	if f.notify != nil {
		f.notify.Toast(Toast{Level: level, Title: title, Description: desc})
	}
}

func (f *Flow) progress(pct int) {
	if f.notify != nil {
		f.notify.Progress(pct)
	}
}

// describe prefers the server's detail, which carries provider messages verbatim.
func describe(err error) string {
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	return err.Error()
}

func bestURL(r *dto.RestorationDTO) string {
	if r.S3URL != nil && *r.S3URL != "" {
		return *r.S3URL
	}
	if r.RestoredImageURL != nil {
		return *r.RestoredImageURL
	}
	return ""
}
