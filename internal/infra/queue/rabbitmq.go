package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// RabbitEventQueue публикует события постов в durable-очередь RabbitMQ.
type RabbitEventQueue struct {
	url   string
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ domain.PostEventPublisher = (*RabbitEventQueue)(nil)

// NewRabbitEventQueue подключается к брокеру и объявляет очередь.
func NewRabbitEventQueue(amqpURL, queue string) (*RabbitEventQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	q := &RabbitEventQueue{url: amqpURL, queue: queue}
	if err := q.connect(); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *RabbitEventQueue) connect() error {
	conn, err := amqp.Dial(q.url)
	if err != nil {
		return fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("declare queue: %w", err)
	}
	q.conn, q.ch = conn, ch
	return nil
}

// PublishPostEvent публикует событие. Закрытый канал переоткрывается один раз.
func (q *RabbitEventQueue) PublishPostEvent(ctx context.Context, event domain.PostEvent) error {
	payload, err := encodeEvent(&event)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ch == nil || q.ch.IsClosed() {
		if q.conn != nil {
			_ = q.conn.Close()
		}
		if err := q.connect(); err != nil {
			return err
		}
	}

	start := time.Now()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.OccurredAt,
		Type:         string(event.Type),
		Body:         payload,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close закрывает канал и соединение.
func (q *RabbitEventQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	var errs []error
	if q.ch != nil {
		errs = append(errs, q.ch.Close())
	}
	if q.conn != nil {
		errs = append(errs, q.conn.Close())
	}
	q.ch, q.conn = nil, nil
	return errors.Join(errs...)
}

// NopEventQueue отбрасывает события, используется при EVENTS_DRIVER=none.
type NopEventQueue struct{}

// PublishPostEvent ничего не делает.
func (NopEventQueue) PublishPostEvent(context.Context, domain.PostEvent) error { return nil }

// encodeEvent проставляет ID и время события, если они пусты, и кодирует его в JSON.
func encodeEvent(event *domain.PostEvent) ([]byte, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return payload, nil
}
