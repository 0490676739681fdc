package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

type User struct {
	ID               int64           `json:"id"`
	Username         string          `json:"username"`
	Email            string          `json:"email"`
	Document         string          `json:"document,omitempty"`
	PasswordHash     string          `json:"-"`
	Role             Role            `json:"role"`
	Balance          decimal.Decimal `json:"balance"`
	BonusBalance     decimal.Decimal `json:"bonus_balance"`
	ReferredBy       *int64          `json:"referred_by,omitempty"`
	ReferralEarnings decimal.Decimal `json:"referral_earnings"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
}
