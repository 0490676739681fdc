package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventDepositCreated      EventType = "deposit.created"
	EventDepositCompleted    EventType = "deposit.completed"
	EventReferralPaid        EventType = "referral.paid"
	EventWithdrawalRequested EventType = "withdrawal.requested"
	EventStatusChanged       EventType = "transaction.status_changed"
	EventUserErased          EventType = "user.erased"
)

// LedgerEvent is published after a ledger change has been committed.
type LedgerEvent struct {
	Type          EventType       `json:"type"`
	TransactionID int64           `json:"transaction_id,omitempty"`
	UserID        int64           `json:"user_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        StatusType      `json:"status,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
}
