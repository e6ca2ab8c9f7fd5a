package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"amber-ink/internal/adapters/agent"
	"amber-ink/internal/adapters/api"
	"amber-ink/internal/app"
	"amber-ink/internal/domain"
	"amber-ink/internal/infra/cache"
	"amber-ink/internal/infra/config"
	httpinfra "amber-ink/internal/infra/http"
	applog "amber-ink/internal/infra/log"
	"amber-ink/internal/infra/metrics"
	"amber-ink/internal/usecase/checkin"
	"amber-ink/internal/usecase/companion"
	"amber-ink/internal/usecase/onboarding"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.OpenStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: нет подключения к хранилищу")
	}
	defer closeStore()

	signer, err := app.NewSigner(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: не задан AUTH_SECRET")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient, err = cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: нет подключения к Redis")
		}
		defer redisClient.Close()
	}

	var jobs domain.DeliveryQueue
	q, closeQueue, err := app.OpenQueue(cfg, redisClient)
	if err != nil {
		logger.Warn().Err(err).Msg("api: очередь доставки недоступна, ручные доставки отключены")
	} else {
		jobs = q
		defer closeQueue()
	}

	loc := cfg.Location()
	var onboardingAgent domain.OnboardingAgent
	var companionService *companion.Service
	if llm := app.NewLLMClient(cfg); llm != nil {
		llmAgent := agent.NewOpenAI(llm, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		onboardingAgent = llmAgent
		companionService = companion.NewService(store, store, llmAgent, cfg.Jobs.CompanionHistory, logger)
	} else {
		logger.Warn().Msg("api: OPENAI_API_KEY не задан, диалоговые агенты отключены")
	}

	handler := api.NewHandler(api.Deps{
		Tokens:     signer,
		Onboarding: onboarding.NewService(store, store, store, onboardingAgent, loc, logger),
		Companion:  companionService,
		Checkins:   checkin.NewService(store, store, store, loc, logger),
		Jobs:       jobs,
		Threshold:  cfg.InactivityThreshold(),
	}, logger)

	server := httpinfra.NewServer(logger)
	handler.Routes(server.Router)

	go func() {
		if err := server.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logger.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}
