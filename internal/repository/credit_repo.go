package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"photorestore/internal/model"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

var (
	// ErrInsufficientCredits is returned when a debit would take the balance below zero.
	ErrInsufficientCredits = errors.New("insufficient_credits")
	// ErrAccountNotFound is returned when no user_credits row exists for the user.
	ErrAccountNotFound = errors.New("credit account not found")
	// ErrInvalidAmount is returned for non-positive debit, credit or refund amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

const uniqueViolation = "23505"

// CreditInput describes a top-up. Package is left unchanged when empty;
// Paid clears the free-user flag.
type CreditInput struct {
	UserID  string
	Amount  int
	Package model.PackageType
	Paid    bool
}

// CreditRepository is the ledger over user_credits. Every mutation is a
// single statement evaluated against the stored row.
type CreditRepository interface {
	Get(ctx context.Context, userID string) (*model.CreditAccount, error)
	// GetOrCreate returns the account, inserting the default free account on first access.
	GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error)
	// Debit takes amount credits or fails with ErrInsufficientCredits.
	Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error)
	// Credit adds amount credits unconditionally.
	Credit(ctx context.Context, in CreditInput) (*model.CreditAccount, error)
	// CreditForEvent applies a top-up at most once per payment event id.
	// applied is false when the event was already processed.
	CreditForEvent(ctx context.Context, eventID, eventType string, in CreditInput) (acct *model.CreditAccount, applied bool, err error)
	// Refund reverses a debit after a failed restoration.
	Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error)
}

type execQueryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type creditRepo struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewCreditRepo(db *sql.DB, logger zerolog.Logger) CreditRepository {
	return &creditRepo{db: db, logger: logger.With().Str("repository", "CreditRepository").Logger()}
}

const creditColumns = `id, user_id, remaining_restorations, total_restorations_used, is_free_user, package_type, created_at, updated_at`

const (
	ensureAccountQ = `INSERT INTO user_credits (user_id, remaining_restorations, total_restorations_used, is_free_user, package_type)
		VALUES ($1, $2, 0, TRUE, $3)
		ON CONFLICT (user_id) DO NOTHING`

	selectAccountQ = `SELECT ` + creditColumns + ` FROM user_credits WHERE user_id = $1`

	debitQ = `UPDATE user_credits
		SET remaining_restorations = remaining_restorations - $2,
		    total_restorations_used = total_restorations_used + $2,
		    updated_at = now()
		WHERE user_id = $1 AND remaining_restorations >= $2
		RETURNING ` + creditColumns

	creditQ = `UPDATE user_credits
		SET remaining_restorations = remaining_restorations + $2,
		    package_type = COALESCE(NULLIF($3, ''), package_type),
		    is_free_user = CASE WHEN $4 THEN FALSE ELSE is_free_user END,
		    updated_at = now()
		WHERE user_id = $1
		RETURNING ` + creditColumns

	refundQ = `UPDATE user_credits
		SET remaining_restorations = remaining_restorations + $2,
		    total_restorations_used = GREATEST(total_restorations_used - $2, 0),
		    updated_at = now()
		WHERE user_id = $1
		RETURNING ` + creditColumns

	markEventQ = `INSERT INTO processed_webhook_events (event_id, event_type, user_id, credits)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (event_id) DO NOTHING`
)

func scanAccount(row *sql.Row) (*model.CreditAccount, error) {
	var a model.CreditAccount
	var pkg string
	if err := row.Scan(&a.ID, &a.UserID, &a.RemainingRestorations, &a.TotalRestorationsUsed, &a.IsFreeUser, &pkg, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	a.PackageType = model.PackageType(pkg)
	return &a, nil
}

func (r *creditRepo) Get(ctx context.Context, userID string) (*model.CreditAccount, error) {
	acct, err := scanAccount(r.db.QueryRowContext(ctx, selectAccountQ, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("fetching credits for user %s: %w", userID, err)
	}
	return acct, nil
}

func (r *creditRepo) GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if err := ensureAccount(ctx, r.db, userID); err != nil {
		return nil, err
	}
	return r.Get(ctx, userID)
}

// ensureAccount inserts the default row if missing. A concurrent insert that
// still trips the unique index is treated as success so the caller can read.
func ensureAccount(ctx context.Context, q execQueryer, userID string) error {
	_, err := q.ExecContext(ctx, ensureAccountQ, userID, model.DefaultRemainingRestorations, string(model.DefaultPackage))
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return nil
	}
	return fmt.Errorf("creating credit account for user %s: %w", userID, err)
}

func (r *creditRepo) Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := ensureAccount(ctx, r.db, userID); err != nil {
		return nil, err
	}
	acct, err := scanAccount(r.db.QueryRowContext(ctx, debitQ, userID, amount))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInsufficientCredits
		}
		return nil, fmt.Errorf("debiting credits for user %s: %w", userID, err)
	}
	r.logger.Debug().Str("user_id", userID).Int("amount", amount).Int("remaining", acct.RemainingRestorations).Msg("Credits debited")
	return acct, nil
}

func (r *creditRepo) Credit(ctx context.Context, in CreditInput) (*model.CreditAccount, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := ensureAccount(ctx, r.db, in.UserID); err != nil {
		return nil, err
	}
	acct, err := applyCredit(ctx, r.db, in)
	if err != nil {
		return nil, err
	}
	r.logger.Info().Str("user_id", in.UserID).Int("amount", in.Amount).Int("remaining", acct.RemainingRestorations).Msg("Credits added")
	return acct, nil
}

func applyCredit(ctx context.Context, q execQueryer, in CreditInput) (*model.CreditAccount, error) {
	acct, err := scanAccount(q.QueryRowContext(ctx, creditQ, in.UserID, in.Amount, string(in.Package), in.Paid))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("crediting user %s: %w", in.UserID, err)
	}
	return acct, nil
}

func (r *creditRepo) CreditForEvent(ctx context.Context, eventID, eventType string, in CreditInput) (*model.CreditAccount, bool, error) {
	if in.Amount <= 0 {
		return nil, false, ErrInvalidAmount
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("starting transaction for event %s: %w", eventID, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, markEventQ, eventID, eventType, in.UserID, in.Amount)
	if err != nil {
		return nil, false, fmt.Errorf("recording event %s: %w", eventID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("recording event %s: %w", eventID, err)
	}
	if n == 0 {
		r.logger.Info().Str("event_id", eventID).Str("user_id", in.UserID).Msg("Payment event already processed")
		return nil, false, nil
	}

	if err := ensureAccount(ctx, tx, in.UserID); err != nil {
		return nil, false, err
	}
	acct, err := applyCredit(ctx, tx, in)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("committing event %s: %w", eventID, err)
	}
	r.logger.Info().
		Str("event_id", eventID).
		Str("user_id", in.UserID).
		Int("amount", in.Amount).
		Int("remaining", acct.RemainingRestorations).
		Msg("Credits added for payment event")
	return acct, true, nil
}

func (r *creditRepo) Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	acct, err := scanAccount(r.db.QueryRowContext(ctx, refundQ, userID, amount))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("refunding user %s: %w", userID, err)
	}
	r.logger.Info().Str("user_id", userID).Int("amount", amount).Msg("Credits refunded")
	return acct, nil
}
