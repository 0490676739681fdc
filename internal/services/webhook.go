package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"github.com/honeynil/pix-ledger/internal/infrastructure/pix"
	"github.com/honeynil/pix-ledger/internal/models"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type WebhookOutcome string

const (
	OutcomeCredited           WebhookOutcome = "credited"
	OutcomeIgnoredStatus      WebhookOutcome = "ignored_status"
	OutcomeUnknownTransaction WebhookOutcome = "unknown_transaction"
	OutcomeAlreadyProcessed   WebhookOutcome = "already_processed"
	OutcomeAmountMismatch     WebhookOutcome = "amount_mismatch"
	OutcomeInFlight           WebhookOutcome = "in_flight"
)

// WebhookPayload is the provider's payment notification.
type WebhookPayload struct {
	ID            string              `json:"id"`
	TransactionID string              `json:"transaction_id"`
	ExternalID    string              `json:"external_id"`
	Status        string              `json:"status"`
	Amount        decimal.NullDecimal `json:"amount"`
	PaidAt        *time.Time          `json:"paid_at,omitempty"`
	Payer         map[string]any      `json:"payer,omitempty"`
	Receiver      map[string]any      `json:"receiver,omitempty"`
}

// PaymentNotice is a provider report that a charge was paid, from a webhook
// or from polling.
type PaymentNotice struct {
	ExternalID string
	Amount     decimal.NullDecimal
	Source     string
	Metadata   models.Metadata
}

var paidStatuses = map[string]struct{}{
	"paid":      {},
	"completed": {},
	"approved":  {},
	"concluida": {},
}

func IsPaidStatus(status string) bool {
	_, ok := paidStatuses[strings.ToLower(strings.TrimSpace(status))]
	return ok
}

func (s *paymentService) HandleWebhook(ctx context.Context, body []byte, signature string) (WebhookOutcome, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	if !pix.VerifySignature([]byte(s.config.WebhookSecret), body, signature) {
		span.SetStatus(codes.Error, "invalid signature")
		slog.Warn("webhook rejected, invalid signature", "body_size", len(body))
		return "", pkgerrors.ErrInvalidSignature
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		span.SetStatus(codes.Error, "invalid payload")
		slog.Warn("webhook rejected, malformed payload", "error", err)
		return "", fmt.Errorf("%w: %v", pkgerrors.ErrInvalidPayload, err)
	}
	if payload.TransactionID == "" || payload.Status == "" {
		span.SetStatus(codes.Error, "invalid payload")
		return "", fmt.Errorf("%w: transaction_id and status are required", pkgerrors.ErrInvalidPayload)
	}
	span.SetAttributes(
		attribute.String("external_id", payload.TransactionID),
		attribute.String("provider_status", payload.Status),
	)

	if !IsPaidStatus(payload.Status) {
		slog.Info("webhook acknowledged, status not settled", "external_id", payload.TransactionID, "status", payload.Status)
		observability.WebhookOutcomes.WithLabelValues(string(OutcomeIgnoredStatus)).Inc()
		return OutcomeIgnoredStatus, nil
	}

	meta := models.Metadata{
		"provider_status":   payload.Status,
		"provider_event_id": payload.ID,
		"settled_via":       "webhook",
	}
	if payload.ExternalID != "" {
		meta["provider_reference"] = payload.ExternalID
	}
	if payload.PaidAt != nil {
		meta["paid_at"] = payload.PaidAt.UTC().Format(time.RFC3339)
	}
	if len(payload.Payer) > 0 {
		meta["payer"] = payload.Payer
	}

	return s.Reconcile(ctx, PaymentNotice{
		ExternalID: payload.TransactionID,
		Amount:     payload.Amount,
		Source:     "webhook",
		Metadata:   meta,
	})
}

// Reconcile settles the pending deposit behind a paid notice. Unknown,
// settled and mismatched deposits are acknowledged without side effects;
// an error means the notice should be retried.
func (s *paymentService) Reconcile(ctx context.Context, notice PaymentNotice) (outcome WebhookOutcome, err error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "Reconcile")
	span.SetAttributes(attribute.String("external_id", notice.ExternalID), attribute.String("source", notice.Source))
	defer span.End()
	defer func() {
		if outcome != "" {
			observability.WebhookOutcomes.WithLabelValues(string(outcome)).Inc()
			span.SetAttributes(attribute.String("outcome", string(outcome)))
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	held, err := s.guard.Acquire(ctx, notice.ExternalID)
	switch {
	case errors.Is(err, pkgerrors.ErrAlreadyProcessed):
		return OutcomeAlreadyProcessed, nil
	case errors.Is(err, pkgerrors.ErrWebhookInFlight):
		return OutcomeInFlight, err
	}
	if held {
		defer s.guard.Release(ctx, notice.ExternalID)
	}

	tx, err := s.transactionRepo.GetByExternalID(ctx, notice.ExternalID)
	if errors.Is(err, pkgerrors.ErrTransactionNotFound) {
		slog.Warn("paid notice for unknown transaction", "external_id", notice.ExternalID, "source", notice.Source)
		return OutcomeUnknownTransaction, nil
	}
	if err != nil {
		slog.Error("failed to load transaction for settlement", "external_id", notice.ExternalID, "error", err)
		return "", err
	}
	if tx.Type != models.TypeDeposit {
		slog.Warn("paid notice for non-deposit transaction", "external_id", notice.ExternalID, "type", tx.Type)
		return OutcomeUnknownTransaction, nil
	}
	if tx.Status.IsTerminal() {
		slog.Info("deposit already settled", "external_id", notice.ExternalID, "transaction_id", tx.ID, "status", tx.Status)
		s.guard.MarkProcessed(ctx, notice.ExternalID)
		return OutcomeAlreadyProcessed, nil
	}
	if notice.Amount.Valid && !notice.Amount.Decimal.Equal(tx.Amount) {
		slog.Error("paid amount does not match deposit, left pending for review",
			"external_id", notice.ExternalID,
			"transaction_id", tx.ID,
			"expected", tx.Amount,
			"paid", notice.Amount.Decimal)
		return OutcomeAmountMismatch, nil
	}

	rule, err := s.rules.Load(ctx)
	if err != nil {
		slog.Error("failed to load referral rule", "external_id", notice.ExternalID, "error", err)
		return "", err
	}

	settlement, err := s.transactionRepo.CompleteDeposit(ctx, notice.ExternalID, notice.Metadata, rule)
	switch {
	case errors.Is(err, pkgerrors.ErrAlreadyProcessed):
		s.guard.MarkProcessed(ctx, notice.ExternalID)
		return OutcomeAlreadyProcessed, nil
	case errors.Is(err, pkgerrors.ErrTransactionNotFound):
		return OutcomeUnknownTransaction, nil
	case err != nil:
		slog.Error("failed to complete deposit", "external_id", notice.ExternalID, "error", err)
		return "", err
	}
	s.guard.MarkProcessed(ctx, notice.ExternalID)

	announceSettlement(ctx, s.publisher, settlement)
	return OutcomeCredited, nil
}

func announceSettlement(ctx context.Context, publisher kafka.EventPublisher, settlement *models.DepositSettlement) {
	tx := settlement.Transaction
	recordAmount("deposit", tx.Amount)
	publish(ctx, publisher, models.LedgerEvent{
		Type:          models.EventDepositCompleted,
		TransactionID: tx.ID,
		UserID:        tx.UserID,
		Amount:        tx.Amount,
		Status:        tx.Status,
		ExternalID:    tx.ExternalID,
	})

	if bonus := settlement.ReferralBonus; bonus != nil {
		recordAmount("referral_bonus", bonus.BonusAmount)
		publish(ctx, publisher, models.LedgerEvent{
			Type:          models.EventReferralPaid,
			TransactionID: tx.ID,
			UserID:        bonus.ReferrerID,
			Amount:        bonus.BonusAmount,
		})
	}

	slog.Info("deposit settled",
		"transaction_id", tx.ID,
		"user_id", tx.UserID,
		"amount", tx.Amount,
		"new_balance", settlement.NewBalance,
		"referral_paid", settlement.ReferralBonus != nil)
}
