package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

const upcomingKeyPrefix = "scheduled_posts:upcoming:"

// RedisCache реализует domain.PostListCache через Redis.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.PostListCache = (*RedisCache)(nil)

// NewRedis создаёт кэш списков.
func NewRedis(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{client: client, ttl: ttl}
}

// GetUpcoming возвращает закэшированный список, ok=false при промахе.
// Токены в кэш не попадают: у TokenDetails тег json:"-".
func (c *RedisCache) GetUpcoming(ctx context.Context, userID string) (posts []domain.ScheduledPost, ok bool, err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("redis", "get_upcoming", upcomingKeyPrefix, start, err)
	}()

	raw, err := c.client.Get(ctx, upcomingKeyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	posts, ok = decodeUpcoming(raw)
	if !ok {
		// битое значение считаем промахом
		_ = c.client.Del(ctx, upcomingKeyPrefix+userID).Err()
		return nil, false, nil
	}
	return posts, true, nil
}

// SetUpcoming сохраняет список с TTL.
func (c *RedisCache) SetUpcoming(ctx context.Context, userID string, posts []domain.ScheduledPost) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("redis", "set_upcoming", upcomingKeyPrefix, start, err)
	}()

	raw, err := encodeUpcoming(posts)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, upcomingKeyPrefix+userID, raw, c.ttl).Err()
}

// Invalidate удаляет список пользователя.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) (err error) {
	start := time.Now()
	defer func() {
		metrics.ObserveNetworkRequest("redis", "invalidate_upcoming", upcomingKeyPrefix, start, err)
	}()
	return c.client.Del(ctx, upcomingKeyPrefix+userID).Err()
}

func encodeUpcoming(posts []domain.ScheduledPost) ([]byte, error) {
	if posts == nil {
		posts = []domain.ScheduledPost{}
	}
	return json.Marshal(posts)
}

func decodeUpcoming(raw []byte) ([]domain.ScheduledPost, bool) {
	var posts []domain.ScheduledPost
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, false
	}
	return posts, true
}
