package postgres

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/honeynil/pix-ledger/migrations"
	"github.com/pressly/goose/v3"
)

// Migrate applies pending goose migrations. An empty dir uses the migrations
// embedded in the binary.
func Migrate(db *sql.DB, dir string) error {
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	var fsys fs.FS = migrations.FS
	if dir != "" {
		fsys = os.DirFS(dir)
	}
	goose.SetBaseFS(fsys)
	defer goose.SetBaseFS(nil)

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, err := goose.GetDBVersion(db)
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	slog.Info("migrations applied", "version", version)
	return nil
}
