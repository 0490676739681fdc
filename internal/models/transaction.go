package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Type        TransactionType `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	Status      StatusType      `json:"status"`
	ExternalID  string          `json:"external_id"`
	Metadata    Metadata        `json:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

type TransactionType string

const (
	TypeDeposit    TransactionType = "deposit"
	TypeWithdrawal TransactionType = "withdrawal"
	TypeBet        TransactionType = "bet"
	TypeWin        TransactionType = "win"
	TypeBonus      TransactionType = "bonus"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TypeDeposit, TypeWithdrawal, TypeBet, TypeWin, TypeBonus:
		return true
	}
	return false
}

type StatusType string

const (
	StatusPending    StatusType = "pending"
	StatusProcessing StatusType = "processing"
	StatusCompleted  StatusType = "completed"
	StatusFailed     StatusType = "failed"
	StatusCancelled  StatusType = "cancelled"
)

func (s StatusType) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s StatusType) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition reports whether a transaction in status from may move to status to.
// Allowed: pending -> processing, and pending|processing -> completed|failed|cancelled.
func CanTransition(from, to StatusType) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	switch to {
	case StatusProcessing:
		return from == StatusPending
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Metadata is the open-ended JSONB payload attached to a transaction.
type Metadata map[string]any

func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func (m *Metadata) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported metadata type %T", src)
	}
	out := Metadata{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &out); err != nil {
			return fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	*m = out
	return nil
}

// DepositSettlement is the outcome of crediting a completed deposit.
type DepositSettlement struct {
	Transaction   *Transaction    `json:"transaction"`
	NewBalance    decimal.Decimal `json:"new_balance"`
	ReferralBonus *ReferralBonus  `json:"referral_bonus,omitempty"`
}
