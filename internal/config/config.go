package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	AppEnv         string `env:"APP_ENV,default=dev"`
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR,default=:8080"`

	PostgresDSN   string `env:"POSTGRES_DSN"`
	MigrationsDir string `env:"MIGRATIONS_DIR"`

	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`

	KafkaBrokersRaw  string `env:"KAFKA_BROKERS,default=localhost:9092"`
	KafkaLedgerTopic string `env:"KAFKA_LEDGER_TOPIC,default=ledger"`

	JWTSecret string        `env:"JWT_SECRET,default=supersecret"`
	JWTTTL    time.Duration `env:"JWT_TTL,default=1h"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	PixBaseURL          string        `env:"PIX_BASE_URL,default=https://sandbox.pix-provider.local/v1"`
	PixTokenURL         string        `env:"PIX_TOKEN_URL,default=https://sandbox.pix-provider.local/oauth/token"`
	PixClientID         string        `env:"PIX_CLIENT_ID"`
	PixClientSecret     string        `env:"PIX_CLIENT_SECRET"`
	PixWebhookSecret    string        `env:"PIX_WEBHOOK_SECRET"`
	PixChargeExpiration time.Duration `env:"PIX_CHARGE_EXPIRATION,default=1h"`
	PixTimeout          time.Duration `env:"PIX_TIMEOUT,default=15s"`

	DepositMinRaw    string `env:"DEPOSIT_MIN_AMOUNT,default=20.00"`
	DepositMaxRaw    string `env:"DEPOSIT_MAX_AMOUNT,default=10000.00"`
	WithdrawalMinRaw string `env:"WITHDRAWAL_MIN_AMOUNT,default=10.00"`
	WithdrawalMaxRaw string `env:"WITHDRAWAL_MAX_AMOUNT,default=5000.00"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL,default=1m"`
	ReconcileMinAge   time.Duration `env:"RECONCILE_MIN_AGE,default=2m"`
	ReconcileMaxAge   time.Duration `env:"RECONCILE_MAX_AGE,default=24h"`
	ReconcileBatch    int           `env:"RECONCILE_BATCH_SIZE,default=100"`

	SettingsCacheTTL time.Duration `env:"SETTINGS_CACHE_TTL,default=5m"`
	WebhookLockTTL   time.Duration `env:"WEBHOOK_LOCK_TTL,default=30s"`

	// Derived from the raw values above.
	KafkaBrokers  []string
	DepositMin    decimal.Decimal
	DepositMax    decimal.Decimal
	WithdrawalMin decimal.Decimal
	WithdrawalMax decimal.Decimal
}

// Load reads an optional .env file and maps the environment onto Config.
func Load(paths ...string) (*Config, error) {
	if err := godotenv.Load(paths...); err != nil {
		slog.Warn("failed to load .env file, using environment only", "error", err)
	}

	cfg := &Config{}
	if _, err := env.UnmarshalFromEnviron(cfg); err != nil {
		return nil, fmt.Errorf("failed to map env variables to config: %w", err)
	}
	if err := cfg.parse(); err != nil {
		return nil, err
	}

	slog.Info("config loaded",
		"app_env", cfg.AppEnv,
		"http_listen_addr", cfg.HTTPListenAddr,
		"redis_addr", cfg.RedisAddr,
		"kafka_brokers", cfg.KafkaBrokers,
		"pix_base_url", cfg.PixBaseURL)
	return cfg, nil
}

func (c *Config) parse() error {
	if c.PostgresDSN == "" {
		c.PostgresDSN = "host=localhost user=postgres password=postgres dbname=ledger sslmode=disable"
	}

	for _, b := range strings.Split(c.KafkaBrokersRaw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			c.KafkaBrokers = append(c.KafkaBrokers, b)
		}
	}

	amounts := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"DEPOSIT_MIN_AMOUNT", c.DepositMinRaw, &c.DepositMin},
		{"DEPOSIT_MAX_AMOUNT", c.DepositMaxRaw, &c.DepositMax},
		{"WITHDRAWAL_MIN_AMOUNT", c.WithdrawalMinRaw, &c.WithdrawalMin},
		{"WITHDRAWAL_MAX_AMOUNT", c.WithdrawalMaxRaw, &c.WithdrawalMax},
	}
	for _, a := range amounts {
		d, err := decimal.NewFromString(a.raw)
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", a.name, a.raw, err)
		}
		*a.dst = d
	}

	if c.DepositMin.GreaterThan(c.DepositMax) {
		return fmt.Errorf("DEPOSIT_MIN_AMOUNT %s exceeds DEPOSIT_MAX_AMOUNT %s", c.DepositMin, c.DepositMax)
	}
	if c.WithdrawalMin.GreaterThan(c.WithdrawalMax) {
		return fmt.Errorf("WITHDRAWAL_MIN_AMOUNT %s exceeds WITHDRAWAL_MAX_AMOUNT %s", c.WithdrawalMin, c.WithdrawalMax)
	}
	return nil
}
