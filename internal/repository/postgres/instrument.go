package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// call tracks one repository method: a span plus the call counter and
// duration histogram, reported when end is invoked.
type call struct {
	span   trace.Span
	method string
	start  time.Time
}

func startCall(ctx context.Context, tracerName, method string, attrs ...attribute.KeyValue) (context.Context, *call) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, method)
	span.SetAttributes(attrs...)
	return ctx, &call{span: span, method: method, start: time.Now()}
}

func (c *call) end(err error) {
	status := "success"
	if err != nil {
		status = "error"
		c.span.RecordError(err)
		c.span.SetStatus(codes.Error, err.Error())
	}
	observability.RepositoryCalls.WithLabelValues(c.method, status).Inc()
	observability.RepositoryDuration.WithLabelValues(c.method).Observe(time.Since(c.start).Seconds())
	c.span.End()
}

// rollback aborts tx and keeps err as the cause; a failed rollback is folded
// into the returned message.
func rollback(tx *sql.Tx, method string, err error) error {
	if rbErr := tx.Rollback(); rbErr != nil {
		slog.Error("rollback failed", "method", method, "error", rbErr)
		return fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
	}
	return err
}
