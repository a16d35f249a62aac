package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// Outcome — итог обработки одного поста.
type Outcome string

const (
	// OutcomePosted — пост опубликован и больше не выбирается.
	OutcomePosted Outcome = "posted"
	// OutcomeRearmed — повторяющийся пост опубликован и ждёт следующего запуска.
	OutcomeRearmed Outcome = "rearmed"
	// OutcomeFailed — публикация не удалась, пост переведён в failed.
	OutcomeFailed Outcome = "failed"
	// OutcomeSkipped — транзакция не завершилась, пост остался в прежнем состоянии.
	OutcomeSkipped Outcome = "skipped"
)

// Result описывает результат Process.
type Result struct {
	Outcome Outcome
	// Post — состояние поста после обработки, насколько оно известно процессору.
	Post domain.ScheduledPost
	Err  error
}

// Processor проводит пост через pending → processing → {posted, failed}.
type Processor struct {
	repo      domain.PostRepo
	publisher domain.Publisher
	refresher domain.TokenRefresher

	events  domain.PostEventPublisher
	biz     domain.BusinessMetricRepo
	alerter domain.FailureAlerter
	cache   domain.PostListCache
	clock   domain.Clock
	log     zerolog.Logger
}

// ProcessorOption настраивает необязательные зависимости процессора.
type ProcessorOption func(*Processor)

// WithEvents публикует события о результатах обработки.
func WithEvents(events domain.PostEventPublisher) ProcessorOption {
	return func(p *Processor) { p.events = events }
}

// WithBusinessMetrics сохраняет бизнесовые события.
func WithBusinessMetrics(repo domain.BusinessMetricRepo) ProcessorOption {
	return func(p *Processor) { p.biz = repo }
}

// WithAlerter уведомляет оператора о неудачах.
func WithAlerter(alerter domain.FailureAlerter) ProcessorOption {
	return func(p *Processor) { p.alerter = alerter }
}

// WithListCache сбрасывает кэш списка автора после смены статуса.
func WithListCache(cache domain.PostListCache) ProcessorOption {
	return func(p *Processor) { p.cache = cache }
}

// WithClock подменяет часы.
func WithClock(clock domain.Clock) ProcessorOption {
	return func(p *Processor) { p.clock = clock }
}

// NewProcessor создаёт процессор.
func NewProcessor(repo domain.PostRepo, publisher domain.Publisher, refresher domain.TokenRefresher, logger zerolog.Logger, opts ...ProcessorOption) *Processor {
	p := &Processor{
		repo:      repo,
		publisher: publisher,
		refresher: refresher,
		clock:     time.Now,
		log:       logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process публикует пост. Ошибки не возвращаются вызывающему: они отражены в Result
// и, для ошибок публикации и доступа, записаны в сам пост.
func (p *Processor) Process(ctx context.Context, post domain.ScheduledPost) Result {
	now := p.clock().UTC()
	working := post.Clone()
	var (
		refreshed *domain.TokenDetails
		rearmed   bool
	)

	err := p.repo.WithinTx(ctx, func(ctx context.Context, tx domain.PostTx) error {
		if !domain.CanTransition(working.Status, domain.PostStatusProcessing) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, working.Status, domain.PostStatusProcessing)
		}
		selected := working.Status
		working.Status = domain.PostStatusProcessing
		working.LastRun = domain.TimePtr(now)
		working.Attempts++
		if err := tx.ClaimPost(ctx, &working, selected); err != nil {
			return err
		}

		tokens := working.TokenDetails
		if !tokens.HasCredentials() {
			return &domain.CredentialError{Err: domain.ErrCredentialsMissing}
		}
		if tokens.NeedsRefresh(now) {
			next, err := p.refresher.Refresh(ctx, *tokens)
			if err != nil {
				return asCredentialError(err)
			}
			refreshed = &next
			working.TokenDetails = &next
			if err := tx.SavePost(ctx, &working); err != nil {
				return err
			}
		}

		res, err := p.publisher.PublishLocalPost(ctx, domain.PublishRequest{
			AccountID:   working.AccountID,
			LocationID:  working.LocationID,
			Content:     working.Content,
			AccessToken: working.TokenDetails.AccessToken,
		})
		if err != nil {
			return err
		}
		p.log.Debug().Str("post_id", working.ID).Str("name", res.Name).Msg("scheduler: пост опубликован")

		working.Status = domain.PostStatusPosted
		working.PostedAt = domain.TimePtr(now)
		working.LastError = ""
		if working.IsRecurring {
			if next := working.CalculateNextRun(now); next != nil {
				working.NextRun = next
				working.ScheduledFor = domain.TimePtr(*next)
				working.Status = domain.PostStatusPending
				rearmed = true
			} else {
				working.NextRun = nil
				p.log.Warn().Str("post_id", working.ID).Str("repeat_type", string(working.RepeatType)).
					Msg("scheduler: не удалось вычислить следующий запуск, пост остаётся опубликованным")
			}
		}
		return tx.SavePost(ctx, &working)
	})

	switch {
	case err == nil:
		return p.succeeded(ctx, working, rearmed)
	case domain.IsStoreError(err):
		return p.skipped(ctx, post, err)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrStatusConflict):
		p.log.Warn().Err(err).Str("post_id", post.ID).Msg("scheduler: пост пропущен")
		metrics.IncProcessed(string(OutcomeSkipped))
		return Result{Outcome: OutcomeSkipped, Post: post, Err: err}
	default:
		return p.failed(ctx, post, now, refreshed, err)
	}
}

func (p *Processor) succeeded(ctx context.Context, post domain.ScheduledPost, rearmed bool) Result {
	outcome := OutcomePosted
	eventType := domain.PostEventPublished
	bizEvent := domain.BusinessMetricEventPostPublished
	if rearmed {
		outcome = OutcomeRearmed
		eventType = domain.PostEventRearmed
		bizEvent = domain.BusinessMetricEventPostRearmed
	}
	metrics.IncProcessed(string(outcome))

	event := p.log.Info().Str("post_id", post.ID).Str("status", string(post.Status))
	if post.NextRun != nil {
		event = event.Time("next_run", *post.NextRun)
	}
	event.Msg("scheduler: пост обработан")

	p.afterCommit(ctx, post, eventType, bizEvent, "")
	return Result{Outcome: outcome, Post: post}
}

func (p *Processor) failed(ctx context.Context, post domain.ScheduledPost, now time.Time, refreshed *domain.TokenDetails, cause error) Result {
	metrics.IncProcessed(string(OutcomeFailed))
	failedPost := post.Clone()
	failedPost.Status = domain.PostStatusFailed
	failedPost.LastError = cause.Error()
	failedPost.LastRun = domain.TimePtr(now)
	failedPost.Attempts = post.Attempts + 1
	if refreshed != nil {
		failedPost.TokenDetails = refreshed
	}

	// Запись о неудаче не должна зависеть от отмены контекста прохода.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := p.repo.MarkFailed(writeCtx, domain.FailureRecord{
		PostID:       post.ID,
		Message:      failedPost.LastError,
		At:           now,
		Attempts:     failedPost.Attempts,
		TokenDetails: refreshed,
	})
	if err != nil {
		p.log.Error().Err(err).Str("post_id", post.ID).Msg("scheduler: не удалось записать неудачу")
		failedPost = post
	}

	p.log.Error().Err(cause).Str("post_id", post.ID).Int("attempts", failedPost.Attempts).Msg("scheduler: публикация не удалась")
	if p.alerter != nil {
		if alertErr := p.alerter.AlertFailure(writeCtx, failedPost, cause.Error()); alertErr != nil {
			p.log.Warn().Err(alertErr).Str("post_id", post.ID).Msg("scheduler: не удалось отправить оповещение")
		}
	}
	p.afterCommit(writeCtx, failedPost, domain.PostEventFailed, domain.BusinessMetricEventPostFailed, cause.Error())
	return Result{Outcome: OutcomeFailed, Post: failedPost, Err: cause}
}

// skipped оставляет пост в прежнем состоянии. Если хранилище всё же сохранило processing,
// возвращаем прежнюю версию, чтобы пост не завис.
func (p *Processor) skipped(ctx context.Context, post domain.ScheduledPost, cause error) Result {
	metrics.IncProcessed(string(OutcomeSkipped))
	p.log.Error().Err(cause).Str("post_id", post.ID).Msg("scheduler: ошибка хранилища, пост будет обработан в следующем проходе")

	restoreCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	restore := post.Clone()
	err := p.repo.ReplaceIfStatus(restoreCtx, &restore, domain.PostStatusProcessing)
	switch {
	case err == nil:
		p.log.Warn().Str("post_id", post.ID).Msg("scheduler: статус processing откатан вручную")
	case errors.Is(err, domain.ErrStatusConflict):
	default:
		p.log.Error().Err(err).Str("post_id", post.ID).Msg("scheduler: не удалось проверить состояние поста")
	}
	return Result{Outcome: OutcomeSkipped, Post: post, Err: cause}
}

func (p *Processor) afterCommit(ctx context.Context, post domain.ScheduledPost, eventType domain.PostEventType, bizEvent, reason string) {
	if p.events != nil {
		err := p.events.PublishPostEvent(ctx, domain.PostEvent{
			Type:       eventType,
			PostID:     post.ID,
			AccountID:  post.AccountID,
			LocationID: post.LocationID,
			CreatedBy:  post.CreatedBy,
			Status:     post.Status,
			NextRun:    post.NextRun,
			Error:      reason,
			OccurredAt: p.clock().UTC(),
		})
		if err != nil {
			p.log.Warn().Err(err).Str("post_id", post.ID).Msg("scheduler: не удалось опубликовать событие")
		}
	}
	if p.biz != nil {
		metadata := map[string]any{"status": string(post.Status), "attempts": post.Attempts}
		if reason != "" {
			metadata["error"] = reason
		}
		err := p.biz.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:    bizEvent,
			PostID:   post.ID,
			UserID:   post.CreatedBy,
			Metadata: metadata,
		})
		if err != nil {
			p.log.Warn().Err(err).Str("post_id", post.ID).Msg("scheduler: не удалось сохранить бизнес-метрику")
		}
	}
	if p.cache != nil && post.CreatedBy != "" {
		if err := p.cache.Invalidate(ctx, post.CreatedBy); err != nil {
			p.log.Warn().Err(err).Str("user_id", post.CreatedBy).Msg("scheduler: не удалось сбросить кэш списка")
		}
	}
}

func asCredentialError(err error) error {
	var credErr *domain.CredentialError
	if errors.As(err, &credErr) {
		return err
	}
	return &domain.CredentialError{Err: err}
}
