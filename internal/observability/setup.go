package observability

import (
	"context"
	"net/http"

	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Setup wires logging, metrics and tracing and returns the tracer shutdown
// function plus the Prometheus scrape handler.
func Setup(ctx context.Context, serviceName, appEnv, otlpEndpoint string) (func(context.Context) error, http.Handler) {
	observability.InitLogger(appEnv)
	observability.InitMetrics()
	tracerShutdown := observability.InitTracing(ctx, serviceName, otlpEndpoint)
	return tracerShutdown, promhttp.Handler()
}
