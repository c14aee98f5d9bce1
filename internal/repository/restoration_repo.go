package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"photorestore/internal/model"

	"github.com/rs/zerolog"
)

var (
	// ErrRestorationNotFound is returned when no photo_restorations row matches.
	ErrRestorationNotFound = errors.New("restoration not found")
	// ErrRestorationSettled is returned when a guarded update finds the row
	// already moved out of the expected status.
	ErrRestorationSettled = errors.New("restoration already settled")
)

// RestorationUpdate carries the fields written when a restoration settles.
// Nil pointers leave the column unchanged.
type RestorationUpdate struct {
	Status            model.RestorationStatus
	PredictionID      *string
	RestoredImageURL  *string
	S3URL             *string
	ProcessedFilename *string
	ErrorMessage      *string
	CreditRefunded    *bool
	// From, when set, applies the update only while the row is still in this status.
	From model.RestorationStatus
}

type RestorationRepository interface {
	Create(ctx context.Context, r *model.Restoration) error
	Update(ctx context.Context, id string, upd RestorationUpdate) (*model.Restoration, error)
	Get(ctx context.Context, id string) (*model.Restoration, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Restoration, error)
}

type restorationRepo struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewRestorationRepo(db *sql.DB, logger zerolog.Logger) RestorationRepository {
	return &restorationRepo{db: db, logger: logger}
}

const restorationColumns = `id, user_id, original_filename, original_image_url, status, prediction_id,
	restored_image_url, s3_url, processed_filename, error_message, credit_refunded, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRestoration(row rowScanner) (*model.Restoration, error) {
	var r model.Restoration
	var status string
	if err := row.Scan(
		&r.ID, &r.UserID, &r.OriginalFilename, &r.OriginalImageURL, &status, &r.PredictionID,
		&r.RestoredImageURL, &r.S3URL, &r.ProcessedFilename, &r.ErrorMessage, &r.CreditRefunded,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = model.RestorationStatus(status)
	return &r, nil
}

func (r *restorationRepo) Create(ctx context.Context, rec *model.Restoration) error {
	query := `INSERT INTO photo_restorations (id, user_id, original_filename, original_image_url, status, prediction_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`
	err := r.db.QueryRowContext(ctx, query,
		rec.ID, rec.UserID, rec.OriginalFilename, rec.OriginalImageURL, string(rec.Status), rec.PredictionID,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting restoration %s: %w", rec.ID, err)
	}
	return nil
}

func (r *restorationRepo) Update(ctx context.Context, id string, upd RestorationUpdate) (*model.Restoration, error) {
	query := `UPDATE photo_restorations
		SET status = COALESCE(NULLIF($2, ''), status),
		    prediction_id = COALESCE($3, prediction_id),
		    restored_image_url = COALESCE($4, restored_image_url),
		    s3_url = COALESCE($5, s3_url),
		    processed_filename = COALESCE($6, processed_filename),
		    error_message = COALESCE($7, error_message),
		    credit_refunded = COALESCE($8, credit_refunded),
		    updated_at = now()
		WHERE id = $1 AND ($9 = '' OR status = $9)
		RETURNING ` + restorationColumns
	rec, err := scanRestoration(r.db.QueryRowContext(ctx, query, id, string(upd.Status),
		upd.PredictionID, upd.RestoredImageURL, upd.S3URL, upd.ProcessedFilename, upd.ErrorMessage, upd.CreditRefunded,
		string(upd.From)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if upd.From == "" {
				return nil, ErrRestorationNotFound
			}
			return nil, r.missOrSettled(ctx, id)
		}
		return nil, fmt.Errorf("updating restoration %s: %w", id, err)
	}
	return rec, nil
}

// missOrSettled tells a missing row apart from one a guarded update skipped.
func (r *restorationRepo) missOrSettled(ctx context.Context, id string) error {
	var status string
	err := r.db.QueryRowContext(ctx, `SELECT status FROM photo_restorations WHERE id = $1`, id).Scan(&status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ErrRestorationNotFound
	case err != nil:
		return fmt.Errorf("fetching restoration %s status: %w", id, err)
	}
	r.logger.Debug().Str("restoration_id", id).Str("status", status).Msg("Guarded update skipped")
	return ErrRestorationSettled
}

func (r *restorationRepo) Get(ctx context.Context, id string) (*model.Restoration, error) {
	query := `SELECT ` + restorationColumns + ` FROM photo_restorations WHERE id = $1`
	rec, err := scanRestoration(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRestorationNotFound
		}
		return nil, fmt.Errorf("fetching restoration %s: %w", id, err)
	}
	return rec, nil
}

func (r *restorationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]model.Restoration, error) {
	query := `SELECT ` + restorationColumns + ` FROM photo_restorations
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing restorations for user %s: %w", userID, err)
	}
	defer rows.Close()

	out := make([]model.Restoration, 0)
	for rows.Next() {
		rec, err := scanRestoration(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning restoration row: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating restoration rows: %w", err)
	}
	return out, nil
}
