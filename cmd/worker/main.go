package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"amber-ink/internal/app"
	"amber-ink/internal/infra/cache"
	"amber-ink/internal/infra/config"
	applog "amber-ink/internal/infra/log"
	"amber-ink/internal/infra/metrics"
	"amber-ink/internal/infra/queue"
	"amber-ink/internal/usecase/delivery"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: нет подключения к хранилищу")
	}
	defer closeStore()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к Redis")
		}
		defer redisClient.Close()
	}
	jobs, closeQueue, err := app.OpenQueue(cfg, redisClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: очередь доставки недоступна")
	}
	defer closeQueue()
	if rq, ok := jobs.(*queue.RedisDeliveryQueue); ok {
		go rq.RunReclaimer(ctx, time.Minute, applog.Component(logger, "queue"))
	}

	signer, err := app.NewSigner(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не задан AUTH_SECRET")
	}
	dispatcher, err := app.NewDispatcher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось собрать отправителей")
	}

	service := delivery.NewService(store, store, store, dispatcher, signer, logger)
	worker := delivery.NewWorker(jobs, service, logger)
	if redisClient != nil {
		worker.WithDedup(cache.NewRedis(redisClient))
	}

	logger.Info().Str("queue", cfg.Queues.Driver).Msg("worker: запуск обработки очереди")
	worker.Run(ctx)
	logger.Info().Msg("worker: остановлен")
}
