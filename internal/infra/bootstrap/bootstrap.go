package bootstrap

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"review-hub/internal/adapters/gbp"
	"review-hub/internal/adapters/oauth"
	"review-hub/internal/adapters/repo"
	"review-hub/internal/adapters/telegram"
	"review-hub/internal/domain"
	"review-hub/internal/infra/cache"
	"review-hub/internal/infra/config"
	"review-hub/internal/infra/db"
	"review-hub/internal/infra/queue"
	"review-hub/internal/usecase/scheduling"
)

// Store — хранилище постов вместе с бизнес-метриками.
type Store interface {
	domain.PostRepo
	domain.BusinessMetricRepo
}

var (
	_ Store = (*repo.Mongo)(nil)
	_ Store = (*repo.Postgres)(nil)
)

// Deps — общие зависимости api и scheduler.
type Deps struct {
	Store     Store
	Cache     domain.PostListCache
	Processor *scheduling.Processor

	closers []func()
}

// Close освобождает соединения в обратном порядке.
func (d *Deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// Build подключает хранилище, кэш, очередь событий и оповещения.
// Redis и Telegram необязательны: без них сервис работает без кэша и оповещений.
func Build(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*Deps, error) {
	deps := &Deps{}
	store, err := deps.openStore(ctx, cfg, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Store = store

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		deps.closers = append(deps.closers, func() { _ = redisClient.Close() })
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		deps.Cache = cache.NewRedis(redisClient, cfg.ListCacheTTL)
	}

	events, err := deps.openEvents(cfg, redisClient)
	if err != nil {
		deps.Close()
		return nil, err
	}

	opts := []scheduling.ProcessorOption{
		scheduling.WithEvents(events),
		scheduling.WithBusinessMetrics(store),
	}
	if deps.Cache != nil {
		opts = append(opts, scheduling.WithListCache(deps.Cache))
	}
	if cfg.Telegram.Token != "" && cfg.Telegram.AlertChatID != 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("telegram bot: %w", err)
		}
		opts = append(opts, scheduling.WithAlerter(telegram.NewAlerter(bot, cfg.Telegram.AlertChatID)))
	} else {
		logger.Warn().Msg("оповещения в Telegram отключены")
	}

	publisher := gbp.NewClient(gbp.Config{
		BaseURL: cfg.Google.BaseURL,
		AppURL:  cfg.AppURL,
		Timeout: cfg.Google.Timeout,
	})
	refresher := oauth.NewRefresher(oauth.Config{
		ClientID:     cfg.Google.ClientID,
		ClientSecret: cfg.Google.ClientSecret,
		RedirectURL:  cfg.Google.RedirectURI,
		TokenURL:     cfg.Google.TokenURL,
	})
	deps.Processor = scheduling.NewProcessor(store, publisher, refresher, logger, opts...)
	return deps, nil
}

func (d *Deps) openStore(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (Store, error) {
	switch cfg.Store.Driver {
	case "mongo":
		client, database, err := db.ConnectMongo(cfg.Store.MongoURI, cfg.Store.MongoDatabase)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(closeCtx)
		})
		store := repo.NewMongo(client, database)
		indexCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := store.EnsureIndexes(indexCtx); err != nil {
			return nil, fmt.Errorf("mongo indexes: %w", err)
		}
		logger.Info().Str("database", cfg.Store.MongoDatabase).Msg("хранилище: MongoDB")
		return store, nil
	case "postgres":
		pool, err := db.Connect(cfg.Store.PGDSN)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		logger.Info().Msg("хранилище: PostgreSQL")
		return repo.NewPostgres(pool), nil
	}
	return nil, fmt.Errorf("неизвестный STORE_DRIVER %q", cfg.Store.Driver)
}

func (d *Deps) openEvents(cfg config.AppConfig, redisClient *redis.Client) (domain.PostEventPublisher, error) {
	switch cfg.Events.Driver {
	case "", "none":
		return queue.NopEventQueue{}, nil
	case "rabbitmq":
		q, err := queue.NewRabbitEventQueue(cfg.Events.RabbitURL, cfg.Events.Queue)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, func() { _ = q.Close() })
		return q, nil
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("EVENTS_DRIVER=redis требует REDIS_ADDR")
		}
		return queue.NewRedisEventQueue(redisClient, cfg.Events.Queue), nil
	}
	return nil, fmt.Errorf("неизвестный EVENTS_DRIVER %q", cfg.Events.Driver)
}
