package kafka

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/honeynil/pix-ledger/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventMessage(t *testing.T) {
	occurred := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	event := models.LedgerEvent{
		Type:          models.EventDepositCompleted,
		TransactionID: 7,
		UserID:        42,
		Amount:        decimal.RequireFromString("50.00"),
		Status:        models.StatusCompleted,
		ExternalID:    "pix-abc",
		OccurredAt:    occurred,
	}

	msg, err := eventMessage(event)
	require.NoError(t, err)

	assert.Equal(t, "42", string(msg.Key))
	require.Len(t, msg.Headers, 1)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, "deposit.completed", string(msg.Headers[0].Value))

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "deposit.completed", body["type"])
	assert.Equal(t, "50", body["amount"])
	assert.Equal(t, "pix-abc", body["external_id"])
	assert.Equal(t, float64(7), body["transaction_id"])
}
