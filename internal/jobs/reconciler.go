package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/honeynil/pix-ledger/internal/repository"
	service "github.com/honeynil/pix-ledger/internal/services"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Settler feeds a paid notice into the ledger.
type Settler interface {
	Reconcile(ctx context.Context, notice service.PaymentNotice) (service.WebhookOutcome, error)
}

type ReconcilerConfig struct {
	Interval  time.Duration
	MinAge    time.Duration
	MaxAge    time.Duration
	BatchSize int
}

// Reconciler polls the provider for deposits whose webhook never arrived. It
// only settles paid charges and never expires or fails a deposit.
type Reconciler struct {
	transactions repository.TransactionRepository
	provider     service.ChargeProvider
	settler      Settler
	config       ReconcilerConfig
	now          func() time.Time
}

func NewReconciler(transactions repository.TransactionRepository, provider service.ChargeProvider, settler Settler, config ReconcilerConfig) *Reconciler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	return &Reconciler{
		transactions: transactions,
		provider:     provider,
		settler:      settler,
		config:       config,
		now:          time.Now,
	}
}

// Schedule registers the poller as a singleton duration job.
func (r *Reconciler) Schedule(s gocron.Scheduler) (gocron.Job, error) {
	job, err := s.NewJob(
		gocron.DurationJob(r.config.Interval),
		gocron.NewTask(func(ctx context.Context) {
			if _, err := r.RunOnce(ctx); err != nil {
				slog.Error("reconciliation run failed", "error", err)
			}
		}),
		gocron.WithName("pix-reconciler"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule reconciler: %w", err)
	}
	slog.Info("reconciler scheduled", "interval", r.config.Interval, "min_age", r.config.MinAge, "max_age", r.config.MaxAge)
	return job, nil
}

// RunOnce checks one batch of stale deposits and returns how many it settled.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	tracer := otel.Tracer("reconciler")
	ctx, span := tracer.Start(ctx, "RunOnce")
	defer span.End()

	now := r.now()
	stale, err := r.transactions.ListStalePending(ctx, now.Add(-r.config.MinAge), now.Add(-r.config.MaxAge), r.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("failed to list stale deposits: %w", err)
	}
	span.SetAttributes(attribute.Int("stale", len(stale)))

	settled := 0
	for _, tx := range stale {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}

		charge, err := r.provider.GetCharge(ctx, tx.ExternalID)
		if err != nil {
			slog.Warn("failed to poll charge", "transaction_id", tx.ID, "external_id", tx.ExternalID, "error", err)
			continue
		}
		if !service.IsPaidStatus(charge.Status) {
			continue
		}

		notice := service.PaymentNotice{
			ExternalID: tx.ExternalID,
			Source:     "poller",
			Metadata: map[string]any{
				"provider_status": charge.Status,
				"settled_via":     "poller",
			},
		}
		if !charge.Amount.IsZero() {
			notice.Amount = decimal.NewNullDecimal(charge.Amount)
		}
		if charge.PaidAt != nil {
			notice.Metadata["paid_at"] = charge.PaidAt.UTC().Format(time.RFC3339)
		}

		outcome, err := r.settler.Reconcile(ctx, notice)
		if err != nil {
			slog.Warn("failed to settle polled charge", "transaction_id", tx.ID, "external_id", tx.ExternalID, "outcome", outcome, "error", err)
			continue
		}
		if outcome == service.OutcomeCredited {
			settled++
		}
		slog.Info("polled charge reconciled", "transaction_id", tx.ID, "external_id", tx.ExternalID, "outcome", outcome)
	}

	span.SetAttributes(attribute.Int("settled", settled))
	return settled, nil
}
