package main

import (
	"database/sql"
	"flag"
	"log/slog"
	"os"

	"github.com/honeynil/pix-ledger/internal/config"
	"github.com/honeynil/pix-ledger/internal/infrastructure/observability"
	"github.com/honeynil/pix-ledger/internal/repository/postgres"
	_ "github.com/lib/pq"
)

func main() {
	envFile := flag.String("env", ".env", "path to the env file")
	dir := flag.String("dir", "", "migrations directory, embedded migrations when empty")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.AppEnv)

	migrationsDir := cfg.MigrationsDir
	if *dir != "" {
		migrationsDir = *dir
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		slog.Error("failed to open Postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := postgres.Migrate(db, migrationsDir); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
}
