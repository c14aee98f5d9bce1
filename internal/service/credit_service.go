package service

import (
	"context"
	"errors"
	"strings"

	"photorestore/internal/model"
	"photorestore/internal/repository"

	"github.com/rs/zerolog"
)

var (
	ErrInsufficientCredits = repository.ErrInsufficientCredits
	ErrAccountNotFound     = repository.ErrAccountNotFound
	ErrInvalidAmount       = repository.ErrInvalidAmount
	// ErrAuthRequired is returned when an operation needs a signed-in user.
	ErrAuthRequired = errors.New("authentication required")
)

// CreditService is the ledger as seen by handlers and the restoration pipeline.
type CreditService interface {
	GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error)
	Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error)
	Credit(ctx context.Context, userID string, amount int, pkg model.PackageType) (*model.CreditAccount, error)
	Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error)
}

type creditService struct {
	repo   repository.CreditRepository
	logger zerolog.Logger
}

func NewCreditService(repo repository.CreditRepository, logger zerolog.Logger) CreditService {
	return &creditService{repo: repo, logger: logger.With().Str("service", "CreditService").Logger()}
}

func (s *creditService) GetOrCreate(ctx context.Context, userID string) (*model.CreditAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}
	return s.repo.GetOrCreate(ctx, userID)
}

func (s *creditService) Debit(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}
	acct, err := s.repo.Debit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.logger.Info().Str("user_id", userID).Msg("Debit refused, no credits left")
		}
		return nil, err
	}
	return acct, nil
}

// Credit grants credits outside the payment webhook, e.g. a support top-up.
// Any paid package clears the free-user flag.
func (s *creditService) Credit(ctx context.Context, userID string, amount int, pkg model.PackageType) (*model.CreditAccount, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, ErrAuthRequired
	}
	if !pkg.Valid() {
		return nil, &model.ValidationError{Field: "package", Reason: "unknown package " + string(pkg)}
	}
	s.logger.Info().Str("user_id", userID).Int("amount", amount).Str("package", string(pkg)).Msg("Granting credits")
	return s.repo.Credit(ctx, repository.CreditInput{
		UserID:  userID,
		Amount:  amount,
		Package: pkg,
		Paid:    pkg.Paid(),
	})
}

func (s *creditService) Refund(ctx context.Context, userID string, amount int) (*model.CreditAccount, error) {
	return s.repo.Refund(ctx, userID, amount)
}
