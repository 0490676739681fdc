package postgres_test

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/honeynil/pix-ledger/internal/repository/postgres"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txColumns = []string{"id", "user_id", "type", "amount", "status", "external_id", "metadata", "created_at", "processed_at"}

var (
	claimQuery     = regexp.QuoteMeta(`UPDATE transactions SET status = 'completed', processed_at = NOW(), metadata = metadata || $2::jsonb WHERE external_id = $1 AND type = 'deposit' AND status IN ('pending', 'processing')`)
	lookupQuery    = regexp.QuoteMeta(`SELECT type, status FROM transactions WHERE external_id = $1`)
	creditQuery    = regexp.QuoteMeta(`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance, referred_by`)
	bonusQuery     = regexp.QuoteMeta(`INSERT INTO referral_bonuses (referrer_id, referred_id, transaction_id, bonus_amount, status) SELECT id, $2, $3, $4, $5 FROM users WHERE id = $1 AND is_active ON CONFLICT (transaction_id) DO NOTHING`)
	earningsQuery  = regexp.QuoteMeta(`UPDATE users SET referral_earnings = referral_earnings + $1 WHERE id = $2`)
	debitQuery     = regexp.QuoteMeta(`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`)
	insertTxQuery  = regexp.QuoteMeta(`INSERT INTO transactions (user_id, type, amount, status, external_id, metadata) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, created_at`)
	lockQuery      = regexp.QuoteMeta(`FROM transactions WHERE id = $1 FOR UPDATE`)
	setStatusQuery = regexp.QuoteMeta(`UPDATE transactions SET status = $1, metadata = metadata || $2::jsonb`)
	refundQuery    = regexp.QuoteMeta(`UPDATE users SET balance = balance + $1 WHERE id = $2`)
)

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestPostgresTransactionRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	t.Run("NilTransaction", func(t *testing.T) {
		id, err := repo.Create(ctx, nil)
		assert.Equal(t, int64(0), id)
		assert.ErrorIs(t, err, pkgerrors.ErrNilTransaction)
	})

	t.Run("InvalidType", func(t *testing.T) {
		tx := &models.Transaction{UserID: 1, Type: "purchase", Amount: amount("10"), ExternalID: "x"}
		_, err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionType)
	})

	t.Run("InvalidStatus", func(t *testing.T) {
		tx := &models.Transaction{UserID: 1, Type: models.TypeDeposit, Status: "refunded", Amount: amount("10"), ExternalID: "x"}
		_, err := repo.Create(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionStatus)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		for _, a := range []string{"0", "-5.00"} {
			tx := &models.Transaction{UserID: 1, Type: models.TypeDeposit, Amount: amount(a), ExternalID: "x"}
			_, err := repo.Create(ctx, tx)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidAmount)
		}
	})

	t.Run("Success", func(t *testing.T) {
		tx := &models.Transaction{
			UserID:     7,
			Type:       models.TypeDeposit,
			Amount:     amount("50.00"),
			ExternalID: "pix-123",
			Metadata:   models.Metadata{"provider": "pix"},
		}
		createdAt := time.Now().UTC()
		mock.ExpectQuery(insertTxQuery).
			WithArgs(int64(7), models.TypeDeposit, amount("50.00"), models.StatusPending, "pix-123", `{"provider":"pix"}`).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(11), createdAt))

		id, err := repo.Create(ctx, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(11), id)
		assert.Equal(t, models.StatusPending, tx.Status)
		assert.WithinDuration(t, createdAt, tx.CreatedAt, time.Second)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateExternalID", func(t *testing.T) {
		tx := &models.Transaction{UserID: 7, Type: models.TypeDeposit, Amount: amount("50.00"), ExternalID: "pix-123"}
		mock.ExpectQuery(insertTxQuery).WillReturnError(fmt.Errorf("duplicate key value violates unique constraint"))

		id, err := repo.Create(ctx, tx)
		assert.Equal(t, int64(0), id)
		assert.Contains(t, err.Error(), "failed to create transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_Get(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()
	createdAt := time.Now().UTC()

	t.Run("ByIDNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE id = $1`)).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows(txColumns))

		tx, err := repo.GetByID(ctx, 99)
		assert.Nil(t, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ByExternalID", func(t *testing.T) {
		processedAt := createdAt.Add(time.Minute)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE external_id = $1`)).
			WithArgs("pix-123").
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(11), int64(7), "deposit", "50.00", "completed", "pix-123", []byte(`{"qr_code":"abc"}`), createdAt, processedAt))

		tx, err := repo.GetByExternalID(ctx, "pix-123")
		require.NoError(t, err)
		assert.Equal(t, models.TypeDeposit, tx.Type)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.True(t, tx.Amount.Equal(amount("50")))
		assert.Equal(t, "abc", tx.Metadata["qr_code"])
		require.NotNil(t, tx.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListByUser", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`)).
			WithArgs(int64(7), 20, 0).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "pending", "WD-1", []byte(`{}`), createdAt, nil).
				AddRow(int64(11), int64(7), "deposit", "50.00", "completed", "pix-123", []byte(`{}`), createdAt, createdAt))

		txs, err := repo.ListByUser(ctx, 7, 20, 0)
		require.NoError(t, err)
		require.Len(t, txs, 2)
		assert.Equal(t, models.TypeWithdrawal, txs[0].Type)
		assert.Nil(t, txs[0].ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ListStalePending", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`WHERE type = 'deposit' AND status IN ('pending', 'processing')`)).
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), 100).
			WillReturnRows(sqlmock.NewRows(txColumns))

		txs, err := repo.ListStalePending(ctx, createdAt.Add(-2*time.Minute), createdAt.Add(-24*time.Hour), 100)
		require.NoError(t, err)
		assert.Empty(t, txs)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_CompleteDeposit(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	createdAt := time.Now().UTC()
	meta := models.Metadata{"provider_status": "paid"}
	rule := models.ReferralRule{MinDeposit: amount("50.00"), CPA: amount("10.00")}
	claimedRow := func(amt string) *sqlmock.Rows {
		return sqlmock.NewRows(txColumns).
			AddRow(int64(11), int64(7), "deposit", amt, "completed", "pix-123", []byte(`{"provider_status":"paid"}`), createdAt, createdAt)
	}

	t.Run("CreditsWithoutReferrer", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", `{"provider_status":"paid"}`).WillReturnRows(claimedRow("50.00"))
		mock.ExpectQuery(creditQuery).WithArgs(amount("50.00"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "referred_by"}).AddRow("50.00", nil))
		mock.ExpectCommit()

		settlement, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		require.NoError(t, err)
		assert.Equal(t, int64(11), settlement.Transaction.ID)
		assert.Equal(t, models.StatusCompleted, settlement.Transaction.Status)
		assert.True(t, settlement.NewBalance.Equal(amount("50.00")))
		assert.Nil(t, settlement.ReferralBonus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("PaysReferralBonus", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(claimedRow("100.00"))
		mock.ExpectQuery(creditQuery).WithArgs(amount("100.00"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "referred_by"}).AddRow("100.00", int64(3)))
		mock.ExpectQuery(bonusQuery).WithArgs(int64(3), int64(7), int64(11), amount("10.00"), models.BonusStatusPaid).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), createdAt))
		mock.ExpectExec(earningsQuery).WithArgs(amount("10.00"), int64(3)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		settlement, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		require.NoError(t, err)
		require.NotNil(t, settlement.ReferralBonus)
		assert.Equal(t, int64(3), settlement.ReferralBonus.ReferrerID)
		assert.Equal(t, int64(7), settlement.ReferralBonus.ReferredID)
		assert.True(t, settlement.ReferralBonus.BonusAmount.Equal(amount("10.00")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BelowReferralMinimum", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(claimedRow("49.99"))
		mock.ExpectQuery(creditQuery).WithArgs(amount("49.99"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "referred_by"}).AddRow("49.99", int64(3)))
		mock.ExpectCommit()

		settlement, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		require.NoError(t, err)
		assert.Nil(t, settlement.ReferralBonus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("BonusAlreadyRecorded", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(claimedRow("100.00"))
		mock.ExpectQuery(creditQuery).WithArgs(amount("100.00"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "referred_by"}).AddRow("100.00", int64(3)))
		mock.ExpectQuery(bonusQuery).WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))
		mock.ExpectCommit()

		settlement, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		require.NoError(t, err)
		assert.Nil(t, settlement.ReferralBonus)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AlreadyProcessed", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectQuery(lookupQuery).WithArgs("pix-123").
			WillReturnRows(sqlmock.NewRows([]string{"type", "status"}).AddRow("deposit", "completed"))
		mock.ExpectRollback()

		settlement, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		assert.Nil(t, settlement)
		assert.ErrorIs(t, err, pkgerrors.ErrAlreadyProcessed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnknownExternalID", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-404", sqlmock.AnyArg()).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectQuery(lookupQuery).WithArgs("pix-404").WillReturnRows(sqlmock.NewRows([]string{"type", "status"}))
		mock.ExpectRollback()

		_, err := repo.CompleteDeposit(ctx, "pix-404", meta, rule)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotADeposit", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("WD-1", sqlmock.AnyArg()).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectQuery(lookupQuery).WithArgs("WD-1").
			WillReturnRows(sqlmock.NewRows([]string{"type", "status"}).AddRow("withdrawal", "pending"))
		mock.ExpectRollback()

		_, err := repo.CompleteDeposit(ctx, "WD-1", meta, rule)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionType)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CreditErrorRollsBack", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(claimedRow("50.00"))
		mock.ExpectQuery(creditQuery).WillReturnError(fmt.Errorf("connection reset"))
		mock.ExpectRollback()

		_, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to credit deposit")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RollbackError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback().WillReturnError(fmt.Errorf("rollback error"))

		_, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "rollback failed")
		assert.Contains(t, err.Error(), "database error")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CommitError", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(claimQuery).WithArgs("pix-123", sqlmock.AnyArg()).WillReturnRows(claimedRow("50.00"))
		mock.ExpectQuery(creditQuery).
			WillReturnRows(sqlmock.NewRows([]string{"balance", "referred_by"}).AddRow("50.00", nil))
		mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

		_, err := repo.CompleteDeposit(ctx, "pix-123", meta, rule)
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.Contains(t, err.Error(), "failed to commit transaction")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_CreateWithdrawal(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()

	newWithdrawal := func(amt string) *models.Transaction {
		return &models.Transaction{
			UserID:     7,
			Type:       models.TypeWithdrawal,
			Amount:     amount(amt),
			Status:     models.StatusPending,
			ExternalID: "WD-1",
			Metadata:   models.Metadata{"pix_key": "user@example.com", "pix_key_type": "email"},
		}
	}

	t.Run("Success", func(t *testing.T) {
		tx := newWithdrawal("30.00")
		mock.ExpectBegin()
		mock.ExpectQuery(debitQuery).WithArgs(amount("30.00"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("70.00"))
		mock.ExpectQuery(insertTxQuery).
			WithArgs(int64(7), models.TypeWithdrawal, amount("30.00"), models.StatusPending, "WD-1", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(12), time.Now()))
		mock.ExpectCommit()

		balance, err := repo.CreateWithdrawal(ctx, tx)
		require.NoError(t, err)
		assert.True(t, balance.Equal(amount("70")))
		assert.Equal(t, int64(12), tx.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InsufficientFunds", func(t *testing.T) {
		// balance 100.00, withdrawal 150.00: the guarded debit matches no row
		tx := newWithdrawal("150.00")
		mock.ExpectBegin()
		mock.ExpectQuery(debitQuery).WithArgs(amount("150.00"), int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}))
		mock.ExpectRollback()

		balance, err := repo.CreateWithdrawal(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInsufficientFunds)
		assert.True(t, balance.IsZero())
		assert.Equal(t, int64(0), tx.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("WrongType", func(t *testing.T) {
		tx := newWithdrawal("30.00")
		tx.Type = models.TypeDeposit
		_, err := repo.CreateWithdrawal(ctx, tx)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidTransactionType)
	})

	t.Run("InsertErrorRollsBack", func(t *testing.T) {
		tx := newWithdrawal("30.00")
		mock.ExpectBegin()
		mock.ExpectQuery(debitQuery).WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow("70.00"))
		mock.ExpectQuery(insertTxQuery).WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback()

		_, err := repo.CreateWithdrawal(ctx, tx)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create withdrawal")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresTransactionRepository_UpdateStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := postgres.NewPostgresTransactionRepository(db)
	ctx := context.Background()
	createdAt := time.Now().UTC()
	meta := models.Metadata{"admin_note": "checked", "admin_id": float64(1)}

	t.Run("CancelWithdrawalRefunds", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(12)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "pending", "WD-1", []byte(`{}`), createdAt, nil))
		mock.ExpectQuery(setStatusQuery).WithArgs(models.StatusCancelled, sqlmock.AnyArg(), int64(12)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "cancelled", "WD-1", []byte(`{"admin_note":"checked"}`), createdAt, nil))
		mock.ExpectExec(refundQuery).WithArgs(amount("30.00"), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		tx, err := repo.UpdateStatus(ctx, 12, models.StatusCancelled, meta)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCancelled, tx.Status)
		assert.Equal(t, "checked", tx.Metadata["admin_note"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CompleteWithdrawalNoBalanceChange", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(12)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "processing", "WD-1", []byte(`{}`), createdAt, nil))
		mock.ExpectQuery(setStatusQuery).WithArgs(models.StatusCompleted, sqlmock.AnyArg(), int64(12)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "completed", "WD-1", []byte(`{}`), createdAt, createdAt))
		mock.ExpectCommit()

		tx, err := repo.UpdateStatus(ctx, 12, models.StatusCompleted, meta)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, tx.Status)
		assert.NotNil(t, tx.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("TerminalRejected", func(t *testing.T) {
		for _, from := range []string{"completed", "failed", "cancelled"} {
			mock.ExpectBegin()
			mock.ExpectQuery(lockQuery).WithArgs(int64(12)).
				WillReturnRows(sqlmock.NewRows(txColumns).
					AddRow(int64(12), int64(7), "withdrawal", "30.00", from, "WD-1", []byte(`{}`), createdAt, nil))
			mock.ExpectRollback()

			tx, err := repo.UpdateStatus(ctx, 12, models.StatusPending, meta)
			assert.Nil(t, tx)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatusTransition)
		}
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DepositCompletionRejected", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(11), int64(7), "deposit", "50.00", "pending", "pix-123", []byte(`{}`), createdAt, nil))
		mock.ExpectRollback()

		_, err := repo.UpdateStatus(ctx, 11, models.StatusCompleted, meta)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidStatusTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(404)).WillReturnRows(sqlmock.NewRows(txColumns))
		mock.ExpectRollback()

		_, err := repo.UpdateStatus(ctx, 404, models.StatusFailed, meta)
		assert.ErrorIs(t, err, pkgerrors.ErrTransactionNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("RefundErrorRollsBack", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery(lockQuery).WithArgs(int64(12)).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "pending", "WD-1", []byte(`{}`), createdAt, nil))
		mock.ExpectQuery(setStatusQuery).
			WillReturnRows(sqlmock.NewRows(txColumns).
				AddRow(int64(12), int64(7), "withdrawal", "30.00", "failed", "WD-1", []byte(`{}`), createdAt, nil))
		mock.ExpectExec(refundQuery).WillReturnError(fmt.Errorf("database error"))
		mock.ExpectRollback()

		_, err := repo.UpdateStatus(ctx, 12, models.StatusFailed, meta)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to refund withdrawal")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
