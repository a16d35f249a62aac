package domain

import (
	"context"
	"encoding/json"
	"time"
)

// Clock возвращает текущее время. В проде это time.Now, в тестах — фиксированные часы.
type Clock func() time.Time

// PostRepo хранит запланированные посты.
type PostRepo interface {
	CreatePost(ctx context.Context, post *ScheduledPost) error
	GetPost(ctx context.Context, id string) (ScheduledPost, error)
	// ListDue возвращает посты, которые пора публиковать, в порядке scheduledFor, nextRun.
	ListDue(ctx context.Context, now time.Time, cooldown time.Duration) ([]ScheduledPost, error)
	// ListUpcomingByUser возвращает нетерминальные посты пользователя.
	ListUpcomingByUser(ctx context.Context, userID string) ([]ScheduledPost, error)
	// WithinTx выполняет fn в одной транзакции. Ошибка fn откатывает все записи.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx PostTx) error) error
	// MarkFailed отдельной записью переводит пост в failed вне транзакции обработки.
	MarkFailed(ctx context.Context, failure FailureRecord) error
	// ReplaceIfStatus сохраняет пост, только если его статус в хранилище равен expected.
	ReplaceIfStatus(ctx context.Context, post *ScheduledPost, expected PostStatus) error
}

// PostTx — операции над постом внутри транзакции.
type PostTx interface {
	// ClaimPost сохраняет пост, только если в хранилище у него статус expected.
	// Иначе возвращает ErrStatusConflict.
	ClaimPost(ctx context.Context, post *ScheduledPost, expected PostStatus) error
	SavePost(ctx context.Context, post *ScheduledPost) error
}

// FailureRecord — данные отдельной записи о неудачной попытке.
type FailureRecord struct {
	PostID   string
	Message  string
	At       time.Time
	Attempts int
	// TokenDetails задан, если до ошибки удалось обновить доступ.
	TokenDetails *TokenDetails
}

// PublishRequest — данные для публикации поста во внешнем API.
type PublishRequest struct {
	AccountID   string
	LocationID  string
	Content     string
	AccessToken string
}

// PublishResult — ответ внешнего API.
type PublishResult struct {
	Name string
	Raw  json.RawMessage
}

// Publisher публикует пост во внешнем API.
type Publisher interface {
	PublishLocalPost(ctx context.Context, req PublishRequest) (PublishResult, error)
}

// TokenRefresher обменивает refresh token на новый access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, current TokenDetails) (TokenDetails, error)
}

// PostListCache кэширует список ближайших постов пользователя.
type PostListCache interface {
	GetUpcoming(ctx context.Context, userID string) ([]ScheduledPost, bool, error)
	SetUpcoming(ctx context.Context, userID string, posts []ScheduledPost) error
	Invalidate(ctx context.Context, userID string) error
}

// FailureAlerter уведомляет оператора о неудачной публикации.
type FailureAlerter interface {
	AlertFailure(ctx context.Context, post ScheduledPost, reason string) error
}
