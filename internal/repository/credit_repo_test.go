package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"photorestore/internal/logger"
	"photorestore/internal/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountCols = []string{"id", "user_id", "remaining_restorations", "total_restorations_used", "is_free_user", "package_type", "created_at", "updated_at"}

func accountRow(userID string, remaining, used int, free bool, pkg string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(accountCols).AddRow("acct-1", userID, remaining, used, free, pkg, now, now)
}

func q(s string) string { return regexp.QuoteMeta(s) }

const (
	ensureFrag = "INSERT INTO user_credits"
	selectFrag = "FROM user_credits WHERE user_id = $1"
	debitFrag  = "SET remaining_restorations = remaining_restorations - $2"
	creditFrag = "SET remaining_restorations = remaining_restorations + $2, package_type"
	refundFrag = "SET remaining_restorations = remaining_restorations + $2, total_restorations_used = GREATEST"
	eventFrag  = "INSERT INTO processed_webhook_events"
)

func newCreditRepo(t *testing.T) (CreditRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewCreditRepo(db, logger.Nop()), mock
}

func TestCreditRepo_GetOrCreate(t *testing.T) {
	t.Run("creates default account", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectExec(q(ensureFrag)).WithArgs("u1", 1, "free").WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q(selectFrag)).WithArgs("u1").WillReturnRows(accountRow("u1", 1, 0, true, "free"))

		acct, err := repo.GetOrCreate(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 1, acct.RemainingRestorations)
		assert.Equal(t, 0, acct.TotalRestorationsUsed)
		assert.True(t, acct.IsFreeUser)
		assert.Equal(t, model.PackageFree, acct.PackageType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("existing account is read back", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(selectFrag)).WithArgs("u1").WillReturnRows(accountRow("u1", 7, 3, false, "creator"))

		acct, err := repo.GetOrCreate(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, 7, acct.RemainingRestorations)
		assert.Equal(t, model.PackageCreator, acct.PackageType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation falls back to read", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectExec(q(ensureFrag)).WillReturnError(&pgconn.PgError{Code: "23505"})
		mock.ExpectQuery(q(selectFrag)).WithArgs("u1").WillReturnRows(accountRow("u1", 1, 0, true, "free"))

		acct, err := repo.GetOrCreate(context.Background(), "u1")
		require.NoError(t, err)
		assert.Equal(t, "u1", acct.UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("other insert errors propagate", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectExec(q(ensureFrag)).WillReturnError(errors.New("connection reset"))

		_, err := repo.GetOrCreate(context.Background(), "u1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "creating credit account")
	})
}

func TestCreditRepo_Get_NotFound(t *testing.T) {
	repo, mock := newCreditRepo(t)
	mock.ExpectQuery(q(selectFrag)).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCreditRepo_Debit(t *testing.T) {
	tests := []struct {
		name    string
		amount  int
		setup   func(sqlmock.Sqlmock)
		wantErr error
		want    int
	}{
		{
			name:   "debits one credit",
			amount: 1,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q(debitFrag)).WithArgs("u1", 1).WillReturnRows(accountRow("u1", 0, 1, true, "free"))
			},
			want: 0,
		},
		{
			name:   "conditional update matches no row",
			amount: 1,
			setup: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectQuery(q(debitFrag)).WithArgs("u1", 1).WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrInsufficientCredits,
		},
		{
			name:    "zero amount rejected before touching the db",
			amount:  0,
			setup:   func(sqlmock.Sqlmock) {},
			wantErr: ErrInvalidAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newCreditRepo(t)
			tt.setup(mock)

			acct, err := repo.Debit(context.Background(), "u1", tt.amount)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.want, acct.RemainingRestorations)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCreditRepo_Credit(t *testing.T) {
	repo, mock := newCreditRepo(t)
	mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(q(creditFrag)).WithArgs("u1", 10, "creator", true).WillReturnRows(accountRow("u1", 12, 4, false, "creator"))

	acct, err := repo.Credit(context.Background(), CreditInput{UserID: "u1", Amount: 10, Package: model.PackageCreator, Paid: true})
	require.NoError(t, err)
	assert.Equal(t, 12, acct.RemainingRestorations)
	assert.False(t, acct.IsFreeUser)
	assert.NoError(t, mock.ExpectationsWereMet())

	_, err = repo.Credit(context.Background(), CreditInput{UserID: "u1", Amount: -1})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreditRepo_CreditForEvent(t *testing.T) {
	in := CreditInput{UserID: "u1", Amount: 10, Package: model.PackageCreator, Paid: true}

	t.Run("first delivery credits inside a transaction", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(eventFrag)).WithArgs("evt_1", "checkout.session.completed", "u1", 10).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(creditFrag)).WithArgs("u1", 10, "creator", true).WillReturnRows(accountRow("u1", 12, 0, false, "creator"))
		mock.ExpectCommit()

		acct, applied, err := repo.CreditForEvent(context.Background(), "evt_1", "checkout.session.completed", in)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, 12, acct.RemainingRestorations)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate delivery is a no-op", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(eventFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		acct, applied, err := repo.CreditForEvent(context.Background(), "evt_1", "checkout.session.completed", in)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Nil(t, acct)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("credit failure rolls back the event marker", func(t *testing.T) {
		repo, mock := newCreditRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec(q(eventFrag)).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(q(ensureFrag)).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(q(creditFrag)).WillReturnError(errors.New("deadlock detected"))
		mock.ExpectRollback()

		_, applied, err := repo.CreditForEvent(context.Background(), "evt_1", "checkout.session.completed", in)
		require.Error(t, err)
		assert.False(t, applied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreditRepo_Refund(t *testing.T) {
	repo, mock := newCreditRepo(t)
	mock.ExpectQuery(q(refundFrag)).WithArgs("u1", 1).WillReturnRows(accountRow("u1", 1, 0, true, "free"))

	acct, err := repo.Refund(context.Background(), "u1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, acct.RemainingRestorations)
	assert.Equal(t, 0, acct.TotalRestorationsUsed)

	mock.ExpectQuery(q(refundFrag)).WithArgs("ghost", 1).WillReturnError(sql.ErrNoRows)
	_, err = repo.Refund(context.Background(), "ghost", 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
