package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	pkgerrors "github.com/honeynil/pix-ledger/pkg/errors"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresSettingsRepository struct {
	db *sql.DB
}

func NewPostgresSettingsRepository(db *sql.DB) *PostgresSettingsRepository {
	return &PostgresSettingsRepository{db: db}
}

func (r *PostgresSettingsRepository) Get(ctx context.Context, key string) (value string, err error) {
	ctx, c := startCall(ctx, "settings-repository", "GetSetting", attribute.String("key", key))
	defer func() { c.end(err) }()

	err = r.db.QueryRowContext(ctx, `SELECT value FROM system_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", pkgerrors.ErrSettingNotFound, key)
		return "", err
	}
	if err != nil {
		slog.Error("failed to get setting", "method", "Get", "key", key, "error", err)
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

func (r *PostgresSettingsRepository) Set(ctx context.Context, key, value string) (err error) {
	ctx, c := startCall(ctx, "settings-repository", "SetSetting", attribute.String("key", key))
	defer func() { c.end(err) }()

	query := `
		INSERT INTO system_settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`
	if _, err = r.db.ExecContext(ctx, query, key, value); err != nil {
		slog.Error("failed to set setting", "method", "Set", "key", key, "error", err)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}

	slog.Info("setting updated", "method", "Set", "key", key, "value", value)
	return nil
}
