package repository

import (
	"context"
	"time"

	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/shopspring/decimal"
)

type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.Transaction, error)
	ListByUser(ctx context.Context, userID int64, limit, offset int) ([]models.Transaction, error)
	// ListStalePending returns open deposits created inside [createdAfter, createdBefore].
	ListStalePending(ctx context.Context, createdBefore, createdAfter time.Time, limit int) ([]models.Transaction, error)

	// CompleteDeposit claims the open deposit identified by externalID, credits
	// the owner and pays the referral bonus when rule allows it, all in one
	// database transaction. It returns ErrTransactionNotFound for an unknown id
	// and ErrAlreadyProcessed when the deposit is no longer open.
	CompleteDeposit(ctx context.Context, externalID string, meta models.Metadata, rule models.ReferralRule) (*models.DepositSettlement, error)

	// CreateWithdrawal debits the user and records the pending withdrawal
	// atomically. ErrInsufficientFunds is returned when the debit would make
	// the balance negative.
	CreateWithdrawal(ctx context.Context, tx *models.Transaction) (decimal.Decimal, error)

	// UpdateStatus moves a transaction to status and merges meta into its
	// metadata. Failing or cancelling a withdrawal refunds its amount.
	UpdateStatus(ctx context.Context, id int64, status models.StatusType, meta models.Metadata) (*models.Transaction, error)
}
