package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/auth"
	"github.com/honeynil/pix-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/pix-ledger/internal/infrastructure/redis"
	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/honeynil/pix-ledger/internal/repository"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type AdminService interface {
	PatchTransaction(ctx context.Context, adminID, transactionID int64, status models.StatusType, note string) (*models.Transaction, error)
	EraseUser(ctx context.Context, adminID, userID int64) error
	UpdateSetting(ctx context.Context, key, value string) error
}

type adminService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	settingsRepo    repository.SettingsRepository
	rules           *ReferralRules
	guard           *SettlementGuard
	redisClient     redis.RedisClient
	publisher       kafka.EventPublisher
}

func NewAdminService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	settingsRepo repository.SettingsRepository,
	rules *ReferralRules,
	guard *SettlementGuard,
	redisClient redis.RedisClient,
	publisher kafka.EventPublisher,
) *adminService {
	return &adminService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		settingsRepo:    settingsRepo,
		rules:           rules,
		guard:           guard,
		redisClient:     redisClient,
		publisher:       publisher,
	}
}

func (s *adminService) PatchTransaction(ctx context.Context, adminID, transactionID int64, status models.StatusType, note string) (*models.Transaction, error) {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "PatchTransaction")
	span.SetAttributes(
		attribute.Int64("admin_id", adminID),
		attribute.Int64("transaction_id", transactionID),
		attribute.String("status", string(status)),
	)
	defer span.End()

	if !status.Valid() || status == models.StatusPending {
		span.SetStatus(codes.Error, "invalid status")
		return nil, fmt.Errorf("%w: %q", pkgerrors.ErrInvalidTransactionStatus, status)
	}

	current, err := s.transactionRepo.GetByID(ctx, transactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !models.CanTransition(current.Status, status) {
		span.SetStatus(codes.Error, "invalid transition")
		slog.Warn("rejected status change",
			"admin_id", adminID,
			"transaction_id", transactionID,
			"from", current.Status,
			"to", status)
		return nil, fmt.Errorf("%w: %s -> %s", pkgerrors.ErrInvalidStatusTransition, current.Status, status)
	}

	meta := models.Metadata{
		"admin_id":        adminID,
		"admin_status_at": time.Now().UTC().Format(time.RFC3339),
	}
	if note = strings.TrimSpace(note); note != "" {
		meta["admin_note"] = note
	}

	var updated *models.Transaction
	if current.Type == models.TypeDeposit && status == models.StatusCompleted {
		updated, err = s.confirmDeposit(ctx, current, meta)
	} else {
		updated, err = s.transactionRepo.UpdateStatus(ctx, transactionID, status, meta)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "status change failed")
		slog.Error("failed to change transaction status",
			"admin_id", adminID,
			"transaction_id", transactionID,
			"to", status,
			"error", err)
		return nil, err
	}

	if updated.Type == models.TypeWithdrawal && (status == models.StatusFailed || status == models.StatusCancelled) {
		recordAmount("withdrawal_refund", updated.Amount)
	}
	publish(ctx, s.publisher, models.LedgerEvent{
		Type:          models.EventStatusChanged,
		TransactionID: updated.ID,
		UserID:        updated.UserID,
		Amount:        updated.Amount,
		Status:        updated.Status,
		ExternalID:    updated.ExternalID,
	})

	slog.Info("transaction status changed",
		"admin_id", adminID,
		"transaction_id", transactionID,
		"from", current.Status,
		"to", updated.Status)
	return updated, nil
}

// confirmDeposit settles a deposit by hand through the same claim the
// webhook uses, so the credit and referral bonus still happen once.
func (s *adminService) confirmDeposit(ctx context.Context, tx *models.Transaction, meta models.Metadata) (*models.Transaction, error) {
	rule, err := s.rules.Load(ctx)
	if err != nil {
		return nil, err
	}
	meta["settled_via"] = "admin"

	settlement, err := s.transactionRepo.CompleteDeposit(ctx, tx.ExternalID, meta, rule)
	if errors.Is(err, pkgerrors.ErrAlreadyProcessed) {
		return nil, fmt.Errorf("%w: deposit was settled concurrently", pkgerrors.ErrInvalidStatusTransition)
	}
	if err != nil {
		return nil, err
	}
	s.guard.MarkProcessed(ctx, tx.ExternalID)
	announceSettlement(ctx, s.publisher, settlement)
	return settlement.Transaction, nil
}

func (s *adminService) EraseUser(ctx context.Context, adminID, userID int64) error {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "EraseUser")
	span.SetAttributes(attribute.Int64("admin_id", adminID), attribute.Int64("user_id", userID))
	defer span.End()

	if adminID == userID {
		span.SetStatus(codes.Error, "self erase")
		return fmt.Errorf("%w: admins cannot erase themselves", pkgerrors.ErrForbidden)
	}

	if err := s.userRepo.Erase(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "erase failed")
		slog.Error("failed to erase user", "admin_id", adminID, "user_id", userID, "error", err)
		return err
	}

	if s.redisClient != nil {
		if err := s.redisClient.Del(ctx, auth.TokenKey(userID)); err != nil {
			slog.Warn("failed to revoke token of erased user", "user_id", userID, "error", err)
		}
	}
	publish(ctx, s.publisher, models.LedgerEvent{Type: models.EventUserErased, UserID: userID})

	slog.Info("user erased", "admin_id", adminID, "user_id", userID)
	return nil
}

var adminSettings = map[string]struct{}{
	models.SettingAffiliateMinDeposit: {},
	models.SettingAffiliateCPAValue:   {},
}

// UpdateSetting stores an affiliate setting and drops the cached referral rule.
func (s *adminService) UpdateSetting(ctx context.Context, key, value string) error {
	tracer := otel.Tracer("admin-service")
	ctx, span := tracer.Start(ctx, "UpdateSetting")
	span.SetAttributes(attribute.String("key", key))
	defer span.End()

	if _, ok := adminSettings[key]; !ok {
		span.SetStatus(codes.Error, "unknown setting")
		return fmt.Errorf("%w: %q", pkgerrors.ErrSettingNotFound, key)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil || d.IsNegative() {
		span.SetStatus(codes.Error, "invalid value")
		return fmt.Errorf("%w: %s must be a non-negative amount", pkgerrors.ErrInvalidInput, key)
	}

	if err := s.settingsRepo.Set(ctx, key, d.StringFixed(2)); err != nil {
		span.RecordError(err)
		slog.Error("failed to update setting", "key", key, "error", err)
		return err
	}
	s.rules.Invalidate(ctx)

	slog.Info("setting updated", "key", key, "value", d.StringFixed(2))
	return nil
}
