package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		cfg, err := Load("testdata/does-not-exist.env")
		require.NoError(t, err)

		assert.Equal(t, ":8080", cfg.HTTPListenAddr)
		assert.Contains(t, cfg.PostgresDSN, "dbname=ledger")
		assert.Equal(t, []string{"localhost:9092"}, cfg.KafkaBrokers)
		assert.Equal(t, time.Hour, cfg.JWTTTL)
		assert.True(t, cfg.DepositMin.Equal(decimal.RequireFromString("20")))
		assert.True(t, cfg.WithdrawalMax.Equal(decimal.RequireFromString("5000")))
	})

	t.Run("FromEnvironment", func(t *testing.T) {
		t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
		t.Setenv("DEPOSIT_MIN_AMOUNT", "5.50")
		t.Setenv("RECONCILE_INTERVAL", "30s")

		cfg, err := Load("testdata/does-not-exist.env")
		require.NoError(t, err)

		assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
		assert.True(t, cfg.DepositMin.Equal(decimal.RequireFromString("5.5")))
		assert.Equal(t, 30*time.Second, cfg.ReconcileInterval)
	})

	t.Run("InvalidAmount", func(t *testing.T) {
		t.Setenv("WITHDRAWAL_MIN_AMOUNT", "ten")

		_, err := Load("testdata/does-not-exist.env")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "WITHDRAWAL_MIN_AMOUNT")
	})

	t.Run("MinAboveMax", func(t *testing.T) {
		t.Setenv("DEPOSIT_MIN_AMOUNT", "500")
		t.Setenv("DEPOSIT_MAX_AMOUNT", "100")

		_, err := Load("testdata/does-not-exist.env")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
}
