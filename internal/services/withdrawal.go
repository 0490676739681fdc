package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type PixKeyType string

const (
	PixKeyCPF    PixKeyType = "cpf"
	PixKeyCNPJ   PixKeyType = "cnpj"
	PixKeyEmail  PixKeyType = "email"
	PixKeyPhone  PixKeyType = "phone"
	PixKeyRandom PixKeyType = "random"
)

type WithdrawalRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	PixKey     string          `json:"pix_key"`
	PixKeyType PixKeyType      `json:"pix_key_type"`
}

type WithdrawalResult struct {
	Transaction *models.Transaction `json:"transaction"`
	NewBalance  decimal.Decimal     `json:"new_balance"`
}

var (
	digitsOnly     = regexp.MustCompile(`^\d+$`)
	phonePattern   = regexp.MustCompile(`^\+55\d{10,11}$`)
	docSeparators  = strings.NewReplacer(".", "", "-", "", "/", "", " ", "")
	phoneSeparator = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
)

// NormalizePixKey validates key against its declared type and returns the
// canonical form stored with the withdrawal.
func NormalizePixKey(keyType PixKeyType, key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("%w: key is empty", pkgerrors.ErrInvalidPixKey)
	}

	switch keyType {
	case PixKeyCPF, PixKeyCNPJ:
		digits := docSeparators.Replace(key)
		want := 11
		if keyType == PixKeyCNPJ {
			want = 14
		}
		if len(digits) != want || !digitsOnly.MatchString(digits) {
			return "", fmt.Errorf("%w: %s must have %d digits", pkgerrors.ErrInvalidPixKey, keyType, want)
		}
		return digits, nil
	case PixKeyEmail:
		addr, err := mail.ParseAddress(key)
		if err != nil || addr.Address != key || !strings.Contains(key[strings.LastIndex(key, "@"):], ".") {
			return "", fmt.Errorf("%w: malformed email", pkgerrors.ErrInvalidPixKey)
		}
		return strings.ToLower(key), nil
	case PixKeyPhone:
		phone := phoneSeparator.Replace(key)
		if !phonePattern.MatchString(phone) {
			return "", fmt.Errorf("%w: phone must be +55 followed by 10 or 11 digits", pkgerrors.ErrInvalidPixKey)
		}
		return phone, nil
	case PixKeyRandom:
		id, err := uuid.Parse(key)
		if err != nil || len(key) != 36 {
			return "", fmt.Errorf("%w: random key must be a UUID", pkgerrors.ErrInvalidPixKey)
		}
		return id.String(), nil
	}
	return "", fmt.Errorf("%w: unknown key type %q", pkgerrors.ErrInvalidPixKey, keyType)
}

func (s *paymentService) RequestWithdrawal(ctx context.Context, userID int64, req WithdrawalRequest) (*WithdrawalResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "RequestWithdrawal")
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("amount", req.Amount.String()))
	defer span.End()

	limits := s.config.Limits
	if !validAmount(req.Amount, limits.WithdrawalMin, limits.WithdrawalMax) {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, fmt.Errorf("%w: withdrawal must be between %s and %s", pkgerrors.ErrInvalidAmount, limits.WithdrawalMin.StringFixed(2), limits.WithdrawalMax.StringFixed(2))
	}

	pixKey, err := NormalizePixKey(req.PixKeyType, req.PixKey)
	if err != nil {
		span.SetStatus(codes.Error, "invalid pix key")
		slog.Warn("withdrawal rejected, invalid pix key", "user_id", userID, "key_type", req.PixKeyType, "error", err)
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !user.IsActive {
		span.SetStatus(codes.Error, "user inactive")
		return nil, pkgerrors.ErrUserInactive
	}
	if user.Balance.LessThan(req.Amount) {
		span.SetStatus(codes.Error, "insufficient funds")
		slog.Warn("insufficient funds", "user_id", userID, "balance", user.Balance, "amount", req.Amount)
		return nil, pkgerrors.ErrInsufficientFunds
	}

	tx := &models.Transaction{
		UserID:     userID,
		Type:       models.TypeWithdrawal,
		Amount:     req.Amount,
		Status:     models.StatusPending,
		ExternalID: "WD-" + uuid.NewString(),
		Metadata: models.Metadata{
			"pix_key":      pixKey,
			"pix_key_type": string(req.PixKeyType),
			"requested_at": time.Now().UTC().Format(time.RFC3339),
		},
	}
	// The balance may have moved since the read above; the repository
	// re-checks it in the same statement that debits.
	newBalance, err := s.transactionRepo.CreateWithdrawal(ctx, tx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "withdrawal failed")
		return nil, err
	}

	recordAmount("withdrawal", tx.Amount)
	publish(ctx, s.publisher, models.LedgerEvent{
		Type:          models.EventWithdrawalRequested,
		TransactionID: tx.ID,
		UserID:        userID,
		Amount:        tx.Amount,
		Status:        tx.Status,
		ExternalID:    tx.ExternalID,
	})

	slog.Info("withdrawal requested", "user_id", userID, "transaction_id", tx.ID, "amount", tx.Amount, "new_balance", newBalance)
	return &WithdrawalResult{Transaction: tx, NewBalance: newBalance}, nil
}
