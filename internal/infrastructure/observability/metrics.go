package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Счётчик вызовов методов репозитория
	RepositoryCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "repository_calls_total",
			Help: "Total number of repository method calls",
		},
		[]string{"method", "status"},
	)

	// Гистограмма времени выполнения запросов
	RepositoryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "repository_duration_seconds",
			Help:    "Duration of repository method calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	WebhookOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_webhook_outcomes_total",
			Help: "PIX webhook deliveries by reconciliation outcome",
		},
		[]string{"outcome"},
	)

	// Amounts are recorded in BRL, converted from decimal at the call site.
	LedgerAmount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_amount_brl_total",
			Help: "Sum of settled ledger amounts by operation",
		},
		[]string{"operation"},
	)

	ProviderRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pix_provider_requests_total",
			Help: "Outbound PIX provider calls by operation and status",
		},
		[]string{"operation", "status"},
	)
)

var registerOnce sync.Once

func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RepositoryCalls, RepositoryDuration, WebhookOutcomes, LedgerAmount, ProviderRequests)
	})
}
