package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

const transactionColumns = `id, user_id, type, amount, status, external_id, metadata, created_at, processed_at`

type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

func validateNew(tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if !tx.Type.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionType, tx.Type)
	}
	if tx.Status == "" {
		tx.Status = models.StatusPending
	}
	if !tx.Status.Valid() {
		return fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionStatus, tx.Status)
	}
	if !tx.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", pkgerrors.ErrInvalidAmount)
	}
	if tx.ExternalID == "" {
		return fmt.Errorf("%w: external id is required", pkgerrors.ErrInvalidInput)
	}
	return nil
}

const insertTransaction = `
	INSERT INTO transactions (user_id, type, amount, status, external_id, metadata)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at`

func (r *PostgresTransactionRepository) Create(ctx context.Context, tx *models.Transaction) (id int64, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "CreateTransaction")
	defer func() { c.end(err) }()

	if err = validateNew(tx); err != nil {
		slog.Error("failed to create transaction", "method", "Create", "error", err)
		return 0, err
	}
	c.span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.String("type", string(tx.Type)),
		attribute.String("status", string(tx.Status)),
		attribute.String("external_id", tx.ExternalID),
	)

	err = r.db.QueryRowContext(ctx, insertTransaction,
		tx.UserID, tx.Type, tx.Amount, tx.Status, tx.ExternalID, tx.Metadata,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create transaction", "method", "Create", "user_id", tx.UserID, "type", tx.Type, "external_id", tx.ExternalID, "error", err)
		return 0, fmt.Errorf("failed to create transaction: %w", err)
	}

	slog.Info("transaction created", "method", "Create", "id", tx.ID, "user_id", tx.UserID, "type", tx.Type, "status", tx.Status, "amount", tx.Amount)
	return tx.ID, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (tx *models.Transaction, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "GetTransactionByID", attribute.Int64("transaction_id", id))
	defer func() { c.end(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		slog.Error("transaction not found", "method", "GetByID", "transaction_id", id)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by id", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, fmt.Errorf("failed to get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) GetByExternalID(ctx context.Context, externalID string) (tx *models.Transaction, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "GetTransactionByExternalID", attribute.String("external_id", externalID))
	defer func() { c.end(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE external_id = $1`
	tx, err = scanTransaction(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction by external id", "method", "GetByExternalID", "external_id", externalID, "error", err)
		return nil, fmt.Errorf("failed to get transaction by external id: %w", err)
	}
	return tx, nil
}

func (r *PostgresTransactionRepository) ListByUser(ctx context.Context, userID int64, limit, offset int) (txs []models.Transaction, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "ListTransactionsByUser", attribute.Int64("user_id", userID))
	defer func() { c.end(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2 OFFSET $3`
	txs, err = r.list(ctx, query, userID, limit, offset)
	if err != nil {
		slog.Error("failed to list transactions", "method", "ListByUser", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}

	slog.Info("transactions listed", "method", "ListByUser", "user_id", userID, "count", len(txs))
	return txs, nil
}

func (r *PostgresTransactionRepository) ListStalePending(ctx context.Context, createdBefore, createdAfter time.Time, limit int) (txs []models.Transaction, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "ListStalePending")
	defer func() { c.end(err) }()

	query := `SELECT ` + transactionColumns + ` FROM transactions
		WHERE type = 'deposit' AND status IN ('pending', 'processing')
		AND created_at <= $1 AND created_at >= $2
		ORDER BY created_at
		LIMIT $3`
	txs, err = r.list(ctx, query, createdBefore, createdAfter, limit)
	if err != nil {
		slog.Error("failed to list stale deposits", "method", "ListStalePending", "error", err)
		return nil, fmt.Errorf("failed to list stale deposits: %w", err)
	}
	return txs, nil
}

func (r *PostgresTransactionRepository) list(ctx context.Context, query string, args ...any) ([]models.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]models.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, *tx)
	}
	return txs, rows.Err()
}

func (r *PostgresTransactionRepository) CompleteDeposit(ctx context.Context, externalID string, meta models.Metadata, rule models.ReferralRule) (settlement *models.DepositSettlement, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "CompleteDeposit", attribute.String("external_id", externalID))
	defer func() { c.end(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CompleteDeposit", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// The status predicate is the claim: of any number of concurrent callers
	// only one gets a row back.
	claim := `
		UPDATE transactions
		SET status = 'completed', processed_at = NOW(), metadata = metadata || $2::jsonb
		WHERE external_id = $1 AND type = 'deposit' AND status IN ('pending', 'processing')
		RETURNING ` + transactionColumns
	tx, err := scanTransaction(dbTx.QueryRowContext(ctx, claim, externalID, meta))
	if errors.Is(err, sql.ErrNoRows) {
		err = r.explainUnclaimed(ctx, dbTx, externalID)
		return nil, rollback(dbTx, "CompleteDeposit", err)
	}
	if err != nil {
		slog.Error("failed to claim deposit", "method", "CompleteDeposit", "external_id", externalID, "error", err)
		return nil, rollback(dbTx, "CompleteDeposit", fmt.Errorf("failed to claim deposit: %w", err))
	}
	c.span.SetAttributes(attribute.Int64("transaction_id", tx.ID), attribute.Int64("user_id", tx.UserID))

	settlement = &models.DepositSettlement{Transaction: tx}

	var referredBy sql.NullInt64
	err = dbTx.QueryRowContext(ctx,
		`UPDATE users SET balance = balance + $1 WHERE id = $2 RETURNING balance, referred_by`,
		tx.Amount, tx.UserID,
	).Scan(&settlement.NewBalance, &referredBy)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Error("deposit owner not found", "method", "CompleteDeposit", "user_id", tx.UserID, "transaction_id", tx.ID)
		return nil, rollback(dbTx, "CompleteDeposit", pkgerrors.ErrUserNotFound)
	}
	if err != nil {
		slog.Error("failed to credit deposit", "method", "CompleteDeposit", "user_id", tx.UserID, "error", err)
		return nil, rollback(dbTx, "CompleteDeposit", fmt.Errorf("failed to credit deposit: %w", err))
	}

	if referredBy.Valid && rule.Qualifies(tx.Amount) {
		bonus, err := payReferralBonus(ctx, dbTx, referredBy.Int64, tx, rule.CPA)
		if err != nil {
			slog.Error("failed to pay referral bonus", "method", "CompleteDeposit", "referrer_id", referredBy.Int64, "transaction_id", tx.ID, "error", err)
			return nil, rollback(dbTx, "CompleteDeposit", err)
		}
		settlement.ReferralBonus = bonus
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "CompleteDeposit", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("deposit completed", "method", "CompleteDeposit",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"amount", tx.Amount,
		"new_balance", settlement.NewBalance,
		"referral_paid", settlement.ReferralBonus != nil)
	return settlement, nil
}

// explainUnclaimed tells an unknown deposit apart from one already settled.
func (r *PostgresTransactionRepository) explainUnclaimed(ctx context.Context, dbTx *sql.Tx, externalID string) error {
	var (
		txType models.TransactionType
		status models.StatusType
	)
	err := dbTx.QueryRowContext(ctx, `SELECT type, status FROM transactions WHERE external_id = $1`, externalID).Scan(&txType, &status)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return pkgerrors.ErrTransactionNotFound
	case err != nil:
		return fmt.Errorf("failed to look up deposit: %w", err)
	case txType != models.TypeDeposit:
		return fmt.Errorf("%w: %s is a %s", pkgerrors.ErrInvalidTransactionType, externalID, txType)
	default:
		return fmt.Errorf("%w: deposit is %s", pkgerrors.ErrAlreadyProcessed, status)
	}
}

// payReferralBonus records the CPA bonus for deposit tx and credits the
// referrer. The unique transaction_id makes a second payout for the same
// deposit a no-op; inactive referrers are skipped.
func payReferralBonus(ctx context.Context, dbTx *sql.Tx, referrerID int64, tx *models.Transaction, cpa decimal.Decimal) (*models.ReferralBonus, error) {
	bonus := &models.ReferralBonus{
		ReferrerID:    referrerID,
		ReferredID:    tx.UserID,
		TransactionID: tx.ID,
		BonusAmount:   cpa,
		Status:        models.BonusStatusPaid,
	}
	insert := `
		INSERT INTO referral_bonuses (referrer_id, referred_id, transaction_id, bonus_amount, status)
		SELECT id, $2, $3, $4, $5 FROM users WHERE id = $1 AND is_active
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING id, created_at`
	err := dbTx.QueryRowContext(ctx, insert, referrerID, tx.UserID, tx.ID, cpa, bonus.Status).Scan(&bonus.ID, &bonus.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("referral bonus skipped", "referrer_id", referrerID, "transaction_id", tx.ID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert referral bonus: %w", err)
	}

	if _, err = dbTx.ExecContext(ctx,
		`UPDATE users SET referral_earnings = referral_earnings + $1 WHERE id = $2`,
		cpa, referrerID,
	); err != nil {
		return nil, fmt.Errorf("failed to credit referral earnings: %w", err)
	}

	slog.Info("referral bonus paid", "referrer_id", referrerID, "referred_id", tx.UserID, "transaction_id", tx.ID, "bonus", cpa)
	return bonus, nil
}

func (r *PostgresTransactionRepository) CreateWithdrawal(ctx context.Context, tx *models.Transaction) (newBalance decimal.Decimal, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "CreateWithdrawal")
	defer func() { c.end(err) }()

	if err = validateNew(tx); err != nil {
		slog.Error("failed to create withdrawal", "method", "CreateWithdrawal", "error", err)
		return decimal.Zero, err
	}
	if tx.Type != models.TypeWithdrawal {
		err = fmt.Errorf("%w: expected withdrawal, got %q", pkgerrors.ErrInvalidTransactionType, tx.Type)
		return decimal.Zero, err
	}
	c.span.SetAttributes(attribute.Int64("user_id", tx.UserID), attribute.String("external_id", tx.ExternalID))

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "CreateWithdrawal", "error", err)
		return decimal.Zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = dbTx.QueryRowContext(ctx,
		`UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`,
		tx.Amount, tx.UserID,
	).Scan(&newBalance)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Warn("withdrawal rejected, insufficient funds", "method", "CreateWithdrawal", "user_id", tx.UserID, "amount", tx.Amount)
		err = rollback(dbTx, "CreateWithdrawal", pkgerrors.ErrInsufficientFunds)
		return decimal.Zero, err
	}
	if err != nil {
		slog.Error("failed to debit balance", "method", "CreateWithdrawal", "user_id", tx.UserID, "error", err)
		return decimal.Zero, rollback(dbTx, "CreateWithdrawal", fmt.Errorf("failed to debit balance: %w", err))
	}

	err = dbTx.QueryRowContext(ctx, insertTransaction,
		tx.UserID, tx.Type, tx.Amount, tx.Status, tx.ExternalID, tx.Metadata,
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		slog.Error("failed to create withdrawal", "method", "CreateWithdrawal", "user_id", tx.UserID, "error", err)
		return decimal.Zero, rollback(dbTx, "CreateWithdrawal", fmt.Errorf("failed to create withdrawal: %w", err))
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "CreateWithdrawal", "error", err)
		return decimal.Zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("withdrawal created", "method", "CreateWithdrawal", "id", tx.ID, "user_id", tx.UserID, "amount", tx.Amount, "new_balance", newBalance)
	return newBalance, nil
}

func (r *PostgresTransactionRepository) UpdateStatus(ctx context.Context, id int64, status models.StatusType, meta models.Metadata) (tx *models.Transaction, err error) {
	ctx, c := startCall(ctx, "transaction-repository", "UpdateTransactionStatus",
		attribute.Int64("transaction_id", id),
		attribute.String("status", string(status)),
	)
	defer func() { c.end(err) }()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "UpdateStatus", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 FOR UPDATE`
	tx, err = scanTransaction(dbTx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		err = rollback(dbTx, "UpdateStatus", pkgerrors.ErrTransactionNotFound)
		return nil, err
	}
	if err != nil {
		slog.Error("failed to lock transaction", "method", "UpdateStatus", "transaction_id", id, "error", err)
		return nil, rollback(dbTx, "UpdateStatus", fmt.Errorf("failed to lock transaction: %w", err))
	}

	if !models.CanTransition(tx.Status, status) {
		err = fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, tx.Status, status)
		slog.Warn("status transition rejected", "method", "UpdateStatus", "transaction_id", id, "from", tx.Status, "to", status)
		return nil, rollback(dbTx, "UpdateStatus", err)
	}
	if tx.Type == models.TypeDeposit && status == models.StatusCompleted {
		// Crediting a deposit belongs to CompleteDeposit.
		err = fmt.Errorf("%w: deposits are completed through settlement", pkgerrors.ErrInvalidStatusTransition)
		return nil, rollback(dbTx, "UpdateStatus", err)
	}

	update := `
		UPDATE transactions
		SET status = $1,
			metadata = metadata || $2::jsonb,
			processed_at = CASE WHEN $1::text = 'completed' THEN NOW() ELSE processed_at END
		WHERE id = $3
		RETURNING ` + transactionColumns
	tx, err = scanTransaction(dbTx.QueryRowContext(ctx, update, status, meta, id))
	if err != nil {
		slog.Error("failed to update transaction status", "method", "UpdateStatus", "transaction_id", id, "error", err)
		return nil, rollback(dbTx, "UpdateStatus", fmt.Errorf("failed to update transaction status: %w", err))
	}

	if tx.Type == models.TypeWithdrawal && (status == models.StatusFailed || status == models.StatusCancelled) {
		// The amount was debited when the withdrawal was requested.
		if _, err = dbTx.ExecContext(ctx,
			`UPDATE users SET balance = balance + $1 WHERE id = $2`,
			tx.Amount, tx.UserID,
		); err != nil {
			slog.Error("failed to refund withdrawal", "method", "UpdateStatus", "transaction_id", id, "user_id", tx.UserID, "error", err)
			return nil, rollback(dbTx, "UpdateStatus", fmt.Errorf("failed to refund withdrawal: %w", err))
		}
		slog.Info("withdrawal refunded", "method", "UpdateStatus", "transaction_id", id, "user_id", tx.UserID, "amount", tx.Amount)
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit transaction", "method", "UpdateStatus", "error", err)
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	slog.Info("transaction status updated", "method", "UpdateStatus", "transaction_id", id, "status", tx.Status)
	return tx, nil
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx          models.Transaction
		processedAt sql.NullTime
	)
	err := row.Scan(
		&tx.ID,
		&tx.UserID,
		&tx.Type,
		&tx.Amount,
		&tx.Status,
		&tx.ExternalID,
		&tx.Metadata,
		&tx.CreatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}
	if processedAt.Valid {
		t := processedAt.Time
		tx.ProcessedAt = &t
	}
	return &tx, nil
}
