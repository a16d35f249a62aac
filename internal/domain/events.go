package domain

import (
	"context"
	"time"
)

// PostEventType описывает, что произошло с постом.
type PostEventType string

const (
	PostEventPublished PostEventType = "published"
	PostEventFailed    PostEventType = "failed"
	PostEventRearmed   PostEventType = "rearmed"
)

// PostEvent публикуется во внешнюю очередь после обработки поста диспетчером.
type PostEvent struct {
	ID         string        `json:"event_id"`
	Type       PostEventType `json:"type"`
	PostID     string        `json:"post_id"`
	AccountID  string        `json:"account_id"`
	LocationID string        `json:"location_id"`
	CreatedBy  string        `json:"created_by,omitempty"`
	Status     PostStatus    `json:"status"`
	NextRun    *time.Time    `json:"next_run,omitempty"`
	Error      string        `json:"error,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// PostEventPublisher отправляет события о постах в очередь.
type PostEventPublisher interface {
	PublishPostEvent(ctx context.Context, event PostEvent) error
}
