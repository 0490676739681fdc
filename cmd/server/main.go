package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/honeynil/pix-ledger/internal/api"
	"github.com/honeynil/pix-ledger/internal/config"
	"github.com/honeynil/pix-ledger/internal/handler"
	"github.com/honeynil/pix-ledger/internal/infrastructure/auth"
	"github.com/honeynil/pix-ledger/internal/infrastructure/kafka"
	"github.com/honeynil/pix-ledger/internal/infrastructure/pix"
	"github.com/honeynil/pix-ledger/internal/infrastructure/redis"
	"github.com/honeynil/pix-ledger/internal/jobs"
	"github.com/honeynil/pix-ledger/internal/observability"
	core "github.com/honeynil/pix-ledger/internal/repository/postgres"
	service "github.com/honeynil/pix-ledger/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, metricsHandler := observability.Setup(ctx, "pix-ledger", cfg.AppEnv, cfg.OTLPEndpoint)
	defer shutdownTracing(context.Background())

	if cfg.PixWebhookSecret == "" {
		slog.Warn("PIX_WEBHOOK_SECRET is empty, every webhook will be rejected")
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := core.Migrate(db, cfg.MigrationsDir); err != nil {
		return err
	}

	redisClient, err := redis.NewClient(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaLedgerTopic)
	defer producer.Close()

	provider := pix.NewClient(pix.Config{
		BaseURL:      cfg.PixBaseURL,
		TokenURL:     cfg.PixTokenURL,
		ClientID:     cfg.PixClientID,
		ClientSecret: cfg.PixClientSecret,
		Timeout:      cfg.PixTimeout,
	})

	userRepo := core.NewPostgresUserRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	settingsRepo := core.NewPostgresSettingsRepository(db)

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTTTL)
	guardConfig := service.DefaultGuardConfig()
	guardConfig.LockTTL = cfg.WebhookLockTTL
	guard := service.NewSettlementGuard(redisClient, guardConfig)
	rules := service.NewReferralRules(settingsRepo, redisClient, cfg.SettingsCacheTTL)

	payments := service.NewPaymentService(userRepo, transactionRepo, provider, rules, guard, producer, service.PaymentConfig{
		Limits: service.Limits{
			DepositMin:    cfg.DepositMin,
			DepositMax:    cfg.DepositMax,
			WithdrawalMin: cfg.WithdrawalMin,
			WithdrawalMax: cfg.WithdrawalMax,
		},
		ChargeExpiration: cfg.PixChargeExpiration,
		WebhookSecret:    cfg.PixWebhookSecret,
	})
	accounts := service.NewAccountService(userRepo, transactionRepo, redisClient, tokens)
	admin := service.NewAdminService(userRepo, transactionRepo, settingsRepo, rules, guard, redisClient, producer)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}
	reconciler := jobs.NewReconciler(transactionRepo, provider, payments, jobs.ReconcilerConfig{
		Interval:  cfg.ReconcileInterval,
		MinAge:    cfg.ReconcileMinAge,
		MaxAge:    cfg.ReconcileMaxAge,
		BatchSize: cfg.ReconcileBatch,
	})
	if _, err := reconciler.Schedule(scheduler); err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			slog.Error("scheduler shutdown failed", "error", err)
		}
	}()

	router := api.SetupRouter(handler.NewHandler(accounts, payments, admin), redisClient, tokens, metricsHandler)
	server := &http.Server{
		Addr:              cfg.HTTPListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPListenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}
