package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"photorestore/internal/inference"
	"photorestore/internal/model"
	"photorestore/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrRestorationNotFound = repository.ErrRestorationNotFound
	// ErrNotOwner is returned when a user asks for someone else's restoration.
	ErrNotOwner = errors.New("restoration belongs to another user")
	// ErrDownloadLocked is returned when a free account asks for the unwatermarked file.
	ErrDownloadLocked = errors.New("download requires a purchased credit pack")
	// ErrRestorationNotReady is returned for downloads of unfinished restorations.
	ErrRestorationNotReady = errors.New("restoration is not completed")
)

// Restorer is the inference provider.
type Restorer interface {
	Submit(ctx context.Context, imageURL string) (*inference.Output, error)
	Start(ctx context.Context, imageURL string) (*inference.Prediction, error)
	PollStatus(ctx context.Context, predictionID string) (*inference.Prediction, error)
}

// JobQueue hands async restorations to the orchestrator.
type JobQueue interface {
	Send(ctx context.Context, queue string, payload []byte) error
}

type RestoreRequest struct {
	UserID   string
	ImageURL string
	Filename string
}

type RestoreResult struct {
	Restoration *model.Restoration
	Account     *model.CreditAccount
	// Watermarked is true while the account has never bought a pack.
	Watermarked bool
	// Pending is true when inference continues in the background.
	Pending bool
}

type DownloadInfo struct {
	URL      string
	Filename string
}

type RestorationService interface {
	Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error)
	Get(ctx context.Context, userID, id string) (*model.Restoration, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.Restoration, error)
	Download(ctx context.Context, userID, id string) (*DownloadInfo, error)
	PredictionStatus(ctx context.Context, predictionID string) (*inference.Prediction, error)
	// Complete archives a finished provider output and settles the record.
	Complete(ctx context.Context, rec *model.Restoration, out *inference.Output) *model.Restoration
	// Fail settles the record as failed and applies the refund policy.
	Fail(ctx context.Context, rec *model.Restoration, cause error) *model.Restoration
}

type RestorationOptions struct {
	// Async starts predictions and enqueues them instead of waiting inline.
	Async          bool
	QueueName      string
	RefundOnFailed bool
}

type restorationService struct {
	credits  CreditService
	records  repository.RestorationRepository
	restorer Restorer
	archiver Archiver
	queue    JobQueue
	opts     RestorationOptions
	logger   zerolog.Logger
	newID    func() string
}

func NewRestorationService(
	credits CreditService,
	records repository.RestorationRepository,
	restorer Restorer,
	archiver Archiver,
	queue JobQueue,
	opts RestorationOptions,
	logger zerolog.Logger,
) RestorationService {
	return &restorationService{
		credits:  credits,
		records:  records,
		restorer: restorer,
		archiver: archiver,
		queue:    queue,
		opts:     opts,
		logger:   logger.With().Str("service", "RestorationService").Logger(),
		newID:    uuid.NewString,
	}
}

// Restore runs debit, record, submit, archive, record. The debit always
// completes before the provider is called.
func (s *restorationService) Restore(ctx context.Context, req RestoreRequest) (*RestoreResult, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return nil, ErrAuthRequired
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		return nil, &model.ValidationError{Field: "image_url", Reason: "is required"}
	}

	acct, err := s.credits.Debit(ctx, req.UserID, 1)
	if err != nil {
		return nil, err
	}
	// A debited credit must end in a settled record, so a client hanging up
	// no longer cancels the work.
	ctx = context.WithoutCancel(ctx)

	rec := &model.Restoration{
		ID:               s.newID(),
		UserID:           req.UserID,
		OriginalFilename: req.Filename,
		OriginalImageURL: req.ImageURL,
		Status:           model.RestorationProcessing,
	}
	log := s.logger.With().Str("user_id", req.UserID).Str("restoration_id", rec.ID).Logger()
	if err := s.records.Create(ctx, rec); err != nil {
		log.Error().Err(err).Str("stage", "record").Msg("Failed to insert restoration record")
	}

	result := &RestoreResult{Restoration: rec, Account: acct, Watermarked: acct.IsFreeUser}

	if s.opts.Async {
		return s.enqueue(ctx, rec, result, log)
	}

	out, err := s.restorer.Submit(ctx, req.ImageURL)
	if err != nil {
		log.Error().Err(err).Str("stage", "inference").Msg("Restoration failed")
		s.Fail(ctx, rec, err)
		return nil, err
	}
	result.Restoration = s.Complete(ctx, rec, out)
	return result, nil
}

func (s *restorationService) enqueue(ctx context.Context, rec *model.Restoration, result *RestoreResult, log zerolog.Logger) (*RestoreResult, error) {
	p, err := s.restorer.Start(ctx, rec.OriginalImageURL)
	if err != nil {
		log.Error().Err(err).Str("stage", "inference").Msg("Failed to start prediction")
		s.Fail(ctx, rec, err)
		return nil, err
	}
	rec.PredictionID = &p.ID
	if _, err := s.records.Update(ctx, rec.ID, repository.RestorationUpdate{PredictionID: &p.ID}); err != nil {
		log.Error().Err(err).Str("stage", "record").Msg("Failed to store prediction id")
	}

	payload, err := json.Marshal(model.RestorationJob{RestorationID: rec.ID, PredictionID: p.ID, UserID: rec.UserID})
	if err != nil {
		return nil, fmt.Errorf("encode restoration job: %w", err)
	}
	if err := s.queue.Send(ctx, s.opts.QueueName, payload); err != nil {
		log.Error().Err(err).Str("stage", "enqueue").Msg("Failed to enqueue restoration job")
		s.Fail(ctx, rec, err)
		return nil, fmt.Errorf("enqueue restoration: %w", err)
	}
	log.Info().Str("prediction_id", p.ID).Msg("Restoration queued")
	result.Pending = true
	return result, nil
}

func (s *restorationService) Complete(ctx context.Context, rec *model.Restoration, out *inference.Output) *model.Restoration {
	log := s.logger.With().Str("user_id", rec.UserID).Str("restoration_id", rec.ID).Logger()

	upd := repository.RestorationUpdate{
		Status:           model.RestorationCompleted,
		RestoredImageURL: &out.URL,
		From:             model.RestorationProcessing,
	}
	if out.PredictionID != "" {
		upd.PredictionID = &out.PredictionID
	}
	// The provider URL expires, but a failed copy still leaves the user with a result.
	if archived, err := s.archiver.Archive(ctx, out.URL); err != nil {
		log.Warn().Err(err).Str("stage", "archive").Msg("Archiving failed, serving provider url")
	} else {
		upd.S3URL = &archived.DurableURL
		upd.ProcessedFilename = &archived.Filename
	}

	saved, err := s.records.Update(ctx, rec.ID, upd)
	if errors.Is(err, repository.ErrRestorationSettled) {
		log.Info().Msg("Restoration already settled; keeping stored outcome")
		return s.current(ctx, rec)
	}

	rec.Status = model.RestorationCompleted
	rec.RestoredImageURL = upd.RestoredImageURL
	rec.S3URL = upd.S3URL
	rec.ProcessedFilename = upd.ProcessedFilename
	if upd.PredictionID != nil {
		rec.PredictionID = upd.PredictionID
	}
	if err != nil {
		log.Error().Err(err).Str("stage", "record").Msg("Failed to mark restoration completed")
		return rec
	}
	log.Info().Msg("Restoration completed")
	return saved
}

// Fail moves the record from processing to failed and refunds only when this
// call made that move, so a redelivered job cannot refund twice. A record that
// was never written still refunds: only the request that debited can fail it.
func (s *restorationService) Fail(ctx context.Context, rec *model.Restoration, cause error) *model.Restoration {
	log := s.logger.With().Str("user_id", rec.UserID).Str("restoration_id", rec.ID).Logger()

	msg := "restoration failed"
	if cause != nil {
		msg = cause.Error()
	}

	saved, err := s.records.Update(ctx, rec.ID, repository.RestorationUpdate{
		Status:       model.RestorationFailed,
		ErrorMessage: &msg,
		From:         model.RestorationProcessing,
	})
	if errors.Is(err, repository.ErrRestorationSettled) {
		log.Info().Msg("Restoration already settled; skipping refund")
		return s.current(ctx, rec)
	}
	if err != nil {
		log.Error().Err(err).Str("stage", "record").Msg("Failed to mark restoration failed")
		saved = nil
	}
	rec.Status = model.RestorationFailed
	rec.ErrorMessage = &msg
	if saved == nil {
		saved = rec
	}

	if !s.opts.RefundOnFailed {
		return saved
	}
	if _, err := s.credits.Refund(ctx, rec.UserID, 1); err != nil {
		log.Error().Err(err).Str("stage", "refund").Msg("Failed to refund credit after failed restoration")
		return saved
	}
	log.Info().Msg("Credit refunded after failed restoration")
	rec.CreditRefunded = true
	saved.CreditRefunded = true

	refunded := true
	if marked, err := s.records.Update(ctx, rec.ID, repository.RestorationUpdate{CreditRefunded: &refunded}); err != nil {
		log.Error().Err(err).Str("stage", "record").Msg("Failed to flag refunded restoration")
	} else {
		saved = marked
	}
	return saved
}

// current re-reads a record another worker settled, falling back to rec.
func (s *restorationService) current(ctx context.Context, rec *model.Restoration) *model.Restoration {
	stored, err := s.records.Get(ctx, rec.ID)
	if err != nil {
		s.logger.Warn().Err(err).Str("restoration_id", rec.ID).Msg("Failed to reload settled restoration")
		return rec
	}
	return stored
}

func (s *restorationService) Get(ctx context.Context, userID, id string) (*model.Restoration, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.UserID != userID {
		return nil, ErrNotOwner
	}
	return rec, nil
}

func (s *restorationService) List(ctx context.Context, userID string, limit, offset int) ([]model.Restoration, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.records.ListByUser(ctx, userID, limit, offset)
}

// Download re-checks the ledger so a client cannot unlock the clean file on its own.
func (s *restorationService) Download(ctx context.Context, userID, id string) (*DownloadInfo, error) {
	rec, err := s.Get(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != model.RestorationCompleted || rec.BestURL() == "" {
		return nil, ErrRestorationNotReady
	}
	acct, err := s.credits.GetOrCreate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if acct.IsFreeUser {
		return nil, ErrDownloadLocked
	}
	info := &DownloadInfo{URL: rec.BestURL(), Filename: rec.OriginalFilename}
	if rec.ProcessedFilename != nil {
		info.Filename = *rec.ProcessedFilename
	}
	return info, nil
}

func (s *restorationService) PredictionStatus(ctx context.Context, predictionID string) (*inference.Prediction, error) {
	return s.restorer.PollStatus(ctx, predictionID)
}
