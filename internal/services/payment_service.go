package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"github.com/honeynil/pix-ledger/internal/infrastructure/pix"
	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/honeynil/pix-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// ChargeProvider is the part of the PIX provider client the ledger uses.
type ChargeProvider interface {
	CreateCharge(ctx context.Context, req pix.ChargeRequest) (*pix.Charge, error)
	GetCharge(ctx context.Context, id string) (*pix.Charge, error)
}

type PaymentService interface {
	CreateDeposit(ctx context.Context, userID int64, amount decimal.Decimal) (*DepositResult, error)
	GetDeposit(ctx context.Context, userID, transactionID int64) (*models.Transaction, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookOutcome, error)
	Reconcile(ctx context.Context, notice PaymentNotice) (WebhookOutcome, error)
	RequestWithdrawal(ctx context.Context, userID int64, req WithdrawalRequest) (*WithdrawalResult, error)
}

type Limits struct {
	DepositMin    decimal.Decimal
	DepositMax    decimal.Decimal
	WithdrawalMin decimal.Decimal
	WithdrawalMax decimal.Decimal
}

type PaymentConfig struct {
	Limits           Limits
	ChargeExpiration time.Duration
	WebhookSecret    string
}

type paymentService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	provider        ChargeProvider
	rules           *ReferralRules
	guard           *SettlementGuard
	publisher       kafka.EventPublisher
	config          PaymentConfig
}

func NewPaymentService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	provider ChargeProvider,
	rules *ReferralRules,
	guard *SettlementGuard,
	publisher kafka.EventPublisher,
	config PaymentConfig,
) *paymentService {
	return &paymentService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		provider:        provider,
		rules:           rules,
		guard:           guard,
		publisher:       publisher,
		config:          config,
	}
}

// publish is best effort: the ledger change is already committed.
func publish(ctx context.Context, publisher kafka.EventPublisher, event models.LedgerEvent) {
	if publisher == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if err := publisher.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish ledger event", "type", event.Type, "transaction_id", event.TransactionID, "error", err)
	}
}

func recordAmount(operation string, amount decimal.Decimal) {
	observability.LedgerAmount.WithLabelValues(operation).Add(amount.InexactFloat64())
}

// validAmount checks bounds and that amount has at most two decimal places.
func validAmount(amount, min, max decimal.Decimal) bool {
	if !amount.IsPositive() || amount.LessThan(min) || amount.GreaterThan(max) {
		return false
	}
	return amount.Equal(amount.Round(2))
}
