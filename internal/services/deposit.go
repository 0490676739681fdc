package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/pix-ledger/internal/infrastructure/pix"
	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type DepositResult struct {
	TransactionID int64           `json:"transaction_id"`
	ExternalID    string          `json:"external_id"`
	Amount        decimal.Decimal `json:"amount"`
	QRCode        string          `json:"qr_code"`
	QRCodeImage   string          `json:"qr_code_image"`
	ExpiresAt     time.Time       `json:"expires_at"`
}

func (s *paymentService) CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal) (*DepositResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "CreateDeposit")
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("amount", amount.String()))
	defer span.End()

	limits := s.config.Limits
	if !validAmount(amount, limits.DepositMin, limits.DepositMax) {
		span.SetStatus(codes.Error, "invalid amount")
		slog.Warn("deposit amount out of range", "user_id", userID, "amount", amount, "min", limits.DepositMin, "max", limits.DepositMax)
		return nil, fmt.Errorf("%w: deposit must be between %s and %s", pkgerrors.ErrInvalidAmount, limits.DepositMin.StringFixed(2), limits.DepositMax.StringFixed(2))
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user lookup failed")
		return nil, err
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "user inactive")
		return nil, pkgerrors.ErrUserInactive
	}

	reference := uuid.NewString()
	charge, err := s.provider.CreateCharge(ctx, pix.ChargeRequest{
		Reference:   reference,
		Amount:      amount,
		ExpiresIn:   s.config.ChargeExpiration,
		Description: "Deposit " + reference,
		Payer: pix.Payer{
			Name:     user.Username,
			Email:    user.Email,
			Document: user.Document,
		},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "charge creation failed")
		slog.Error("failed to create pix charge", "user_id", userID, "reference", reference, "error", err)
		if !errors.Is(err, pkgerrors.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", pkgerrors.ErrProviderUnavailable, err)
		}
		return nil, err
	}

	tx := &models.Transaction{
		UserID:     userID,
		Type:       models.TypeDeposit,
		Amount:     amount,
		Status:     models.StatusPending,
		ExternalID: charge.ID,
		Metadata: models.Metadata{
			"reference":     reference,
			"qr_code":       charge.QRCode,
			"qr_code_image": charge.QRCodeImage,
			"expires_at":    charge.ExpiresAt.UTC().Format(time.RFC3339),
			"provider":      "pix",
		},
	}
	if _, err := s.transactionRepo.Create(ctx, tx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction insert failed")
		slog.Error("failed to persist deposit", "user_id", userID, "external_id", charge.ID, "error", err)
		return nil, err
	}

	publish(ctx, s.publisher, models.LedgerEvent{
		Type:          models.EventDepositCreated,
		TransactionID: tx.ID,
		UserID:        userID,
		Amount:        amount,
		Status:        tx.Status,
		ExternalID:    tx.ExternalID,
	})

	slog.Info("deposit created", "user_id", userID, "transaction_id", tx.ID, "external_id", tx.ExternalID, "amount", amount)
	return &DepositResult{
		TransactionID: tx.ID,
		ExternalID:    tx.ExternalID,
		Amount:        amount,
		QRCode:        charge.QRCode,
		QRCodeImage:   charge.QRCodeImage,
		ExpiresAt:     charge.ExpiresAt,
	}, nil
}

// GetDeposit returns one of the caller's deposits. Foreign ids look unknown.
func (s *paymentService) GetDeposit(ctx context.Context, userID, transactionID int64) (*models.Transaction, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "GetDeposit")
	defer span.End()

	tx, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.UserID != userID || tx.Type != models.TypeDeposit {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return tx, nil
}
