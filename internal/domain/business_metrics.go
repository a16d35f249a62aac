package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	PostID     string
	UserID     string
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventPostSubmitted фиксирует создание поста через API.
	BusinessMetricEventPostSubmitted = "post_submitted"
	// BusinessMetricEventPostPublished фиксирует успешную публикацию.
	BusinessMetricEventPostPublished = "post_published"
	// BusinessMetricEventPostFailed фиксирует неудачную попытку публикации.
	BusinessMetricEventPostFailed = "post_failed"
	// BusinessMetricEventPostRearmed фиксирует постановку повторяющегося поста на следующий запуск.
	BusinessMetricEventPostRearmed = "post_rearmed"
	// BusinessMetricEventPostCancelled фиксирует отмену поста пользователем.
	BusinessMetricEventPostCancelled = "post_cancelled"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
