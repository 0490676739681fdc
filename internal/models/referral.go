package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BonusStatus string

const (
	BonusStatusPending BonusStatus = "pending"
	BonusStatusPaid    BonusStatus = "paid"
)

type ReferralBonus struct {
	ID            int64           `json:"id"`
	ReferrerID    int64           `json:"referrer_id"`
	ReferredID    int64           `json:"referred_id"`
	TransactionID int64           `json:"transaction_id"`
	BonusAmount   decimal.Decimal `json:"bonus_amount"`
	Status        BonusStatus     `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// ReferralRule gates the CPA payout of a deposit. A zero CPA disables payouts.
type ReferralRule struct {
	MinDeposit decimal.Decimal
	CPA        decimal.Decimal
}

func (r ReferralRule) Qualifies(amount decimal.Decimal) bool {
	return r.CPA.IsPositive() && amount.GreaterThanOrEqual(r.MinDeposit)
}
