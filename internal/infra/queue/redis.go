package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// RedisEventQueue публикует события постов в Redis list.
type RedisEventQueue struct {
	client *redis.Client
	key    string
}

var _ domain.PostEventPublisher = (*RedisEventQueue)(nil)

// NewRedisEventQueue создаёт очередь по указанному ключу.
func NewRedisEventQueue(client *redis.Client, key string) *RedisEventQueue {
	return &RedisEventQueue{client: client, key: key}
}

// PublishPostEvent кладёт событие в голову списка, потребители читают BRPOP.
func (q *RedisEventQueue) PublishPostEvent(ctx context.Context, event domain.PostEvent) error {
	payload, err := encodeEvent(&event)
	if err != nil {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "publish_event", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push event: %w", err)
	}
	return nil
}
