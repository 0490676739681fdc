package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/redis"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
)

type GuardConfig struct {
	LockTTL            time.Duration
	ProcessedTTL       time.Duration
	LockKeyPrefix      string
	ProcessedKeyPrefix string
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		LockKeyPrefix:      "pix:lock:",
		ProcessedKeyPrefix: "pix:processed:",
	}
}

// SettlementGuard suppresses concurrent and replayed settlement attempts for
// the same external id. It is advisory: when Redis is unavailable callers
// proceed and rely on the conditional claim in the database.
type SettlementGuard struct {
	redis  redis.RedisClient
	config GuardConfig
}

func NewSettlementGuard(client redis.RedisClient, config GuardConfig) *SettlementGuard {
	return &SettlementGuard{redis: client, config: config}
}

// Acquire returns ErrAlreadyProcessed for a settled id and ErrWebhookInFlight
// while another delivery holds the lock. held reports whether the caller now
// owns the lock and must Release it.
func (g *SettlementGuard) Acquire(ctx context.Context, externalID string) (held bool, err error) {
	if g == nil || g.redis == nil {
		return false, nil
	}

	_, err = g.redis.Get(ctx, g.config.ProcessedKeyPrefix+externalID)
	switch {
	case err == nil:
		slog.Info("settlement already processed, skipping", "external_id", externalID)
		return false, pkgerrors.ErrAlreadyProcessed
	case !errors.Is(err, redis.ErrKeyNotFound):
		slog.Warn("failed to check processed marker", "external_id", externalID, "error", err)
	}

	acquired, err := g.redis.SetNX(ctx, g.config.LockKeyPrefix+externalID, time.Now().UnixNano(), g.config.LockTTL)
	if err != nil {
		slog.Warn("failed to acquire settlement lock, continuing without it", "external_id", externalID, "error", err)
		return false, nil
	}
	if !acquired {
		slog.Info("settlement lock held by another delivery", "external_id", externalID)
		return false, pkgerrors.ErrWebhookInFlight
	}
	return true, nil
}

func (g *SettlementGuard) Release(ctx context.Context, externalID string) {
	if g == nil || g.redis == nil {
		return
	}
	if err := g.redis.Del(ctx, g.config.LockKeyPrefix+externalID); err != nil {
		slog.Warn("failed to release settlement lock", "external_id", externalID, "error", err)
	}
}

// MarkProcessed records a terminal outcome so replays short-circuit, and drops the lock.
func (g *SettlementGuard) MarkProcessed(ctx context.Context, externalID string) {
	if g == nil || g.redis == nil {
		return
	}
	if err := g.redis.Set(ctx, g.config.ProcessedKeyPrefix+externalID, "1", g.config.ProcessedTTL); err != nil {
		slog.Warn("failed to mark settlement processed", "external_id", externalID, "error", err)
	}
	g.Release(ctx, externalID)
}
