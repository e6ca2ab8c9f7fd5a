package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"amber-ink/internal/adapters/generator"
	"amber-ink/internal/app"
	"amber-ink/internal/domain"
	"amber-ink/internal/infra/cache"
	"amber-ink/internal/infra/config"
	"amber-ink/internal/infra/jobs"
	applog "amber-ink/internal/infra/log"
	"amber-ink/internal/infra/metrics"
	"amber-ink/internal/usecase/analyzer"
	"amber-ink/internal/usecase/delivery"
	"amber-ink/internal/usecase/emergency"
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
		logger.Fatal().Err(err).Msg("scheduler: нет подключения к хранилищу")
	}
	defer closeStore()

	signer, err := app.NewSigner(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не задан AUTH_SECRET")
	}
	dispatcher, err := app.NewDispatcher(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось собрать отправителей")
	}

	var leases jobs.Leaser
	if cfg.RedisAddr != "" {
		redisClient, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к Redis")
		}
		defer redisClient.Close()
		leases = cache.NewRedis(redisClient)
	} else {
		logger.Warn().Msg("scheduler: REDIS_ADDR не задан, задачи выполняются без аренды")
	}

	loc := cfg.Location()
	var gen domain.ContentGenerator
	if llm := app.NewLLMClient(cfg); llm != nil {
		gen, err = generator.NewOpenAI(llm, generator.Config{
			Model:      cfg.OpenAI.Model,
			Timeout:    cfg.OpenAI.Timeout,
			Location:   loc,
			DeliveryAt: cfg.Jobs.DefaultDeliveryAt,
		})
	} else {
		logger.Warn().Msg("scheduler: OPENAI_API_KEY не задан, используется шаблонный генератор")
		gen, err = generator.NewSimple(loc, cfg.Jobs.DefaultDeliveryAt)
	}
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: некорректный DEFAULT_DELIVERY_TIME")
	}

	deliveryService := delivery.NewService(store, store, store, dispatcher, signer, logger)
	emergencyService := emergency.NewService(store, store, dispatcher, signer, logger)
	analyzerService := analyzer.NewService(store, gen, deliveryService, logger)
	threshold := cfg.InactivityThreshold()

	runner := jobs.NewRunner(ctx, loc, leases, cfg.Jobs.LeaseTTL, logger)
	tasks := []struct {
		name string
		spec string
		fn   jobs.Func
	}{
		{"analyzer", cfg.Jobs.AnalyzerCron, func(ctx context.Context) error {
			_, err := analyzerService.Run(ctx)
			return err
		}},
		{"delivery", cfg.Jobs.DeliveryCron, func(ctx context.Context) error {
			_, err := deliveryService.RunDue(ctx, time.Now(), "")
			return err
		}},
		{"emergency", cfg.Jobs.EmergencyCron, func(ctx context.Context) error {
			_, err := emergencyService.Scan(ctx, time.Now(), threshold)
			return err
		}},
	}
	for _, task := range tasks {
		if err := runner.Add(task.name, task.spec, task.fn); err != nil {
			logger.Fatal().Err(err).Str("job", task.name).Msg("scheduler: некорректное расписание")
		}
	}

	runner.Start()
	<-ctx.Done()
	logger.Info().Msg("scheduler: остановка")
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runner.Stop(stopCtx)
}
