package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// InitLogger installs a JSON slog handler as the process default.
func InitLogger(appEnv string) {
	level := slog.LevelInfo
	if strings.EqualFold(appEnv, "dev") {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

type requestIDKey struct{}

// WithRequestID stores the request id so WithContext can attach it to log lines.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func WithContext(ctx context.Context, attrs ...any) *slog.Logger {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok && id != "" {
		attrs = append(attrs, "request_id", id)
	}
	return slog.With(attrs...)
}
