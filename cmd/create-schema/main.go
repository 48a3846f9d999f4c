package main

import (
	"context"
	"time"

	"dispute-assistant/config"
	"dispute-assistant/repository"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	_ = config.LoadDotEnv()
	cfg := config.Load()

	logger, err := cfg.NewLogger()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.Database.URL == "" {
		logger.Fatal("DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("failed to create schema", zap.Error(err))
	}

	for _, table := range []string{"uploads", "dispute_runs"} {
		var exists bool
		err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)`, table,
		).Scan(&exists)
		if err != nil || !exists {
			logger.Fatal("table missing after migration", zap.String("table", table), zap.Error(err))
		}
		logger.Info("table ready", zap.String("table", table))
	}
}
