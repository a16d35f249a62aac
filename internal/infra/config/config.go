package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	AppURL      string `envconfig:"APP_URL" default:"https://your-website.com"`
	JWTSecret   string `envconfig:"JWT_SECRET"`

	Store struct {
		Driver        string `envconfig:"STORE_DRIVER" default:"mongo"`
		MongoURI      string `envconfig:"MONGO_URI" default:"mongodb://localhost:27017/?replicaSet=rs0"`
		MongoDatabase string `envconfig:"MONGO_DATABASE" default:"reviewhub"`
		PGDSN         string `envconfig:"PG_DSN"`
	} `envconfig:""`

	RedisAddr    string        `envconfig:"REDIS_ADDR"`
	ListCacheTTL time.Duration `envconfig:"LIST_CACHE_TTL" default:"30s"`

	Scheduler struct {
		Interval        time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"5m"`
		FailureCooldown time.Duration `envconfig:"SCHEDULER_FAILURE_COOLDOWN" default:"5m"`
	} `envconfig:""`

	Google struct {
		ClientID     string        `envconfig:"GOOGLE_CLIENT_ID"`
		ClientSecret string        `envconfig:"GOOGLE_CLIENT_SECRET"`
		RedirectURI  string        `envconfig:"GOOGLE_REDIRECT_URI"`
		TokenURL     string        `envconfig:"GOOGLE_TOKEN_URL"`
		BaseURL      string        `envconfig:"GBP_BASE_URL" default:"https://mybusiness.googleapis.com"`
		Timeout      time.Duration `envconfig:"GBP_TIMEOUT"`
	} `envconfig:""`

	Events struct {
		Driver    string `envconfig:"EVENTS_DRIVER" default:"none"`
		RabbitURL string `envconfig:"RABBITMQ_URL"`
		Queue     string `envconfig:"EVENTS_QUEUE" default:"scheduled_post_events"`
	} `envconfig:""`

	Telegram struct {
		Token       string `envconfig:"TG_BOT_TOKEN"`
		AlertChatID int64  `envconfig:"TG_ALERT_CHAT_ID"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
