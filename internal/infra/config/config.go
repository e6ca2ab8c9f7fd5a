package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	LedgerTZ    string `envconfig:"LEDGER_TZ" default:"Asia/Tokyo"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	PGDSN         string `envconfig:"PG_DSN"`

	Mongo struct {
		URI      string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
		Database string `envconfig:"MONGODB_DB_NAME" default:"amber_ink"`
	} `envconfig:""`

	RedisAddr string `envconfig:"REDIS_ADDR"`
	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Driver   string `envconfig:"QUEUE_DRIVER" default:"redis"`
		Delivery string `envconfig:"DELIVERY_QUEUE_KEY" default:"delivery_jobs"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	SMTP struct {
		Host     string `envconfig:"SMTP_HOST"`
		Port     int    `envconfig:"SMTP_PORT" default:"587"`
		Username string `envconfig:"SMTP_USER"`
		Password string `envconfig:"SMTP_PASS"`
		From     string `envconfig:"SMTP_FROM" default:"Amber Ink <no-reply@amber-ink.local>"`
	} `envconfig:""`

	Telegram struct {
		Token string `envconfig:"TG_BOT_TOKEN"`
	} `envconfig:""`

	Auth struct {
		Secret      string        `envconfig:"AUTH_SECRET"`
		SessionTTL  time.Duration `envconfig:"AUTH_SESSION_TTL" default:"720h"`
		CheckInTTL  time.Duration `envconfig:"AUTH_CHECKIN_LINK_TTL" default:"168h"`
		StatusTTL   time.Duration `envconfig:"AUTH_STATUS_LINK_TTL" default:"720h"`
		TokenIssuer string        `envconfig:"AUTH_ISSUER" default:"amber-ink"`
	} `envconfig:""`

	Jobs struct {
		AnalyzerCron      string        `envconfig:"ANALYZER_CRON" default:"0 0 5 * * *"`
		DeliveryCron      string        `envconfig:"DELIVERY_CRON" default:"@every 1m"`
		EmergencyCron     string        `envconfig:"EMERGENCY_CRON" default:"@every 15m"`
		DeliveryTimeout   time.Duration `envconfig:"DELIVERY_TIMEOUT" default:"30s"`
		InactivityDays    int           `envconfig:"INACTIVITY_THRESHOLD_DAYS" default:"3"`
		DefaultDeliveryAt string        `envconfig:"DEFAULT_DELIVERY_TIME" default:"08:00"`
		LeaseTTL          time.Duration `envconfig:"JOB_LEASE_TTL" default:"5m"`
		CompanionHistory  int           `envconfig:"COMPANION_HISTORY_LIMIT" default:"20"`
	} `envconfig:""`
}

// InactivityThreshold возвращает порог тишины как длительность.
func (c AppConfig) InactivityThreshold() time.Duration {
	days := c.Jobs.InactivityDays
	if days <= 0 {
		days = 3
	}
	return time.Duration(days) * 24 * time.Hour
}

// Location возвращает зону, в которой отметки нормализуются к дням.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.LedgerTZ)
	if err != nil {
		log.Fatalf("некорректный LEDGER_TZ %q: %v", c.LedgerTZ, err)
	}
	return loc
}

// Load загружает конфиг из .env (если есть) и окружения.
func Load() AppConfig {
	_ = godotenv.Load()
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
