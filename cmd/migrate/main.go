package main

import (
	"context"
	"time"

	"amber-ink/internal/infra/config"
	"amber-ink/internal/infra/db"
	applog "amber-ink/internal/infra/log"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	if cfg.StorageDriver != "postgres" {
		logger.Info().Str("driver", cfg.StorageDriver).Msg("migrate: миграции нужны только для postgres")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := db.Migrate(ctx, cfg.PGDSN); err != nil {
		logger.Fatal().Err(err).Msg("migrate: не удалось применить миграции")
	}
	logger.Info().Msg("migrate: миграции применены")
}
