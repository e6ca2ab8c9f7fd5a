package app

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"amber-ink/internal/adapters/repo"
	"amber-ink/internal/adapters/sender"
	"amber-ink/internal/domain"
	"amber-ink/internal/infra/auth"
	"amber-ink/internal/infra/config"
	"amber-ink/internal/infra/db"
	"amber-ink/internal/infra/openai"
	"amber-ink/internal/infra/queue"
)

// OpenStore подключает хранилище, выбранное STORAGE_DRIVER. Возвращённая
// функция закрывает соединения.
func OpenStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (domain.Store, func(), error) {
	switch cfg.StorageDriver {
	case "postgres", "":
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres: %w", err)
		}
		logger.Info().Msg("app: хранилище postgres")
		return repo.NewPostgres(pool), pool.Close, nil
	case "mongo":
		client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return nil, nil, fmt.Errorf("mongo: %w", err)
		}
		store := repo.NewMongo(client.Database(cfg.Mongo.Database), cfg.Location(), logger)
		if err := store.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Info().Str("db", cfg.Mongo.Database).Msg("app: хранилище mongo")
		return store, func() { _ = client.Disconnect(context.Background()) }, nil
	case "memory":
		logger.Warn().Msg("app: хранилище в памяти, данные не сохраняются между запусками")
		return repo.NewMemory(), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный STORAGE_DRIVER %q", cfg.StorageDriver)
	}
}

// OpenQueue создаёт очередь задач доставки, выбранную QUEUE_DRIVER.
func OpenQueue(cfg config.AppConfig, redisClient *redis.Client) (domain.DeliveryQueue, func(), error) {
	switch cfg.Queues.Driver {
	case "rabbitmq":
		q, err := queue.NewRabbitDeliveryQueue(cfg.RabbitURL, cfg.Queues.Delivery)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { _ = q.Close() }, nil
	case "redis", "":
		if redisClient == nil {
			return nil, nil, fmt.Errorf("очередь redis требует REDIS_ADDR")
		}
		return queue.NewRedisDeliveryQueue(redisClient, cfg.Queues.Delivery), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("неизвестный QUEUE_DRIVER %q", cfg.Queues.Driver)
	}
}

// NewSigner создаёт подписчика токенов сессий и ссылок.
func NewSigner(cfg config.AppConfig) (*auth.Signer, error) {
	return auth.NewSigner(auth.Config{
		Secret:     cfg.Auth.Secret,
		Issuer:     cfg.Auth.TokenIssuer,
		PublicURL:  cfg.PublicURL,
		SessionTTL: cfg.Auth.SessionTTL,
		CheckInTTL: cfg.Auth.CheckInTTL,
		StatusTTL:  cfg.Auth.StatusTTL,
	})
}

// NewLLMClient возвращает клиента OpenAI или nil, если ключ не задан.
func NewLLMClient(cfg config.AppConfig) *openai.Client {
	if cfg.OpenAI.APIKey == "" {
		return nil
	}
	return openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
}

// NewDispatcher собирает таблицу отправителей. Email служит запасным каналом;
// telegram подключается, только если задан токен бота.
func NewDispatcher(cfg config.AppConfig, logger zerolog.Logger) (*sender.Dispatcher, error) {
	email, err := sender.NewEmail(sender.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("email sender: %w", err)
	}
	if cfg.SMTP.Host == "" {
		logger.Warn().Msg("app: SMTP_HOST не задан, письма только логируются")
	}

	d := sender.NewDispatcher(email, cfg.Jobs.DeliveryTimeout, logger)
	d.Register(domain.ContactLine, sender.NewLine(logger))
	d.Register(domain.ContactPhone, sender.NewSMS(logger))
	if cfg.Telegram.Token != "" {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		d.Register(domain.ContactTelegram, sender.NewTelegram(bot, logger))
	}
	return d, nil
}
