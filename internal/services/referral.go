package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/redis"
	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/honeynil/pix-ledger/internal/repository"
	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"github.com/shopspring/decimal"
)

const referralRuleKey = "settings:referral_rule"

// ReferralRules reads the affiliate settings, caching them in Redis.
type ReferralRules struct {
	settings repository.SettingsRepository
	cache    redis.RedisClient
	ttl      time.Duration
}

func NewReferralRules(settings repository.SettingsRepository, cache redis.RedisClient, ttl time.Duration) *ReferralRules {
	return &ReferralRules{settings: settings, cache: cache, ttl: ttl}
}

type cachedRule struct {
	MinDeposit decimal.Decimal `json:"min_deposit"`
	CPA        decimal.Decimal `json:"cpa"`
}

func (r *ReferralRules) Load(ctx context.Context) (models.ReferralRule, error) {
	if r.cache != nil {
		raw, err := r.cache.Get(ctx, referralRuleKey)
		if err == nil {
			var c cachedRule
			if err := json.Unmarshal([]byte(raw), &c); err == nil {
				return models.ReferralRule{MinDeposit: c.MinDeposit, CPA: c.CPA}, nil
			}
			slog.Warn("failed to decode cached referral rule", "error", err)
		} else if !errors.Is(err, redis.ErrKeyNotFound) {
			slog.Warn("failed to read cached referral rule", "error", err)
		}
	}

	minDeposit, err := r.setting(ctx, models.SettingAffiliateMinDeposit)
	if err != nil {
		return models.ReferralRule{}, err
	}
	cpa, err := r.setting(ctx, models.SettingAffiliateCPAValue)
	if err != nil {
		return models.ReferralRule{}, err
	}
	rule := models.ReferralRule{MinDeposit: minDeposit, CPA: cpa}

	if r.cache != nil {
		raw, _ := json.Marshal(cachedRule{MinDeposit: minDeposit, CPA: cpa})
		if err := r.cache.Set(ctx, referralRuleKey, string(raw), r.ttl); err != nil {
			slog.Warn("failed to cache referral rule", "error", err)
		}
	}
	return rule, nil
}

// setting returns zero for a missing key, which disables payouts for CPA.
func (r *ReferralRules) setting(ctx context.Context, key string) (decimal.Decimal, error) {
	value, err := r.settings.Get(ctx, key)
	if errors.Is(err, pkgerrors.ErrSettingNotFound) {
		slog.Warn("affiliate setting missing, using zero", "key", key)
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s setting %q: %w", key, value, err)
	}
	return d, nil
}

func (r *ReferralRules) Invalidate(ctx context.Context) {
	if r == nil || r.cache == nil {
		return
	}
	if err := r.cache.Del(ctx, referralRuleKey); err != nil {
		slog.Warn("failed to invalidate cached referral rule", "error", err)
	}
}
