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

// SubmitResult — итог приёма заявки.
type SubmitResult struct {
	Post domain.ScheduledPost
	// Published задан для немедленных постов, которые обработаны синхронно.
	Published *Result
}

// Service принимает заявки на публикацию и отдаёт списки постов.
type Service struct {
	repo      domain.PostRepo
	processor *Processor
	cache     domain.PostListCache
	biz       domain.BusinessMetricRepo
	clock     domain.Clock
	log       zerolog.Logger
}

// NewService создаёт сервис. cache и biz могут быть nil.
func NewService(repo domain.PostRepo, processor *Processor, cache domain.PostListCache, biz domain.BusinessMetricRepo, logger zerolog.Logger) *Service {
	return &Service{repo: repo, processor: processor, cache: cache, biz: biz, clock: time.Now, log: logger}
}

// Submit проверяет и сохраняет пост. Немедленный пост с доступом публикуется сразу
// тем же процессором, что и диспетчер.
func (s *Service) Submit(ctx context.Context, sub domain.Submission) (SubmitResult, error) {
	if err := domain.ValidateSubmission(sub); err != nil {
		return SubmitResult{}, err
	}
	now := s.clock().UTC()
	post := sub.ToPost(now)
	post.Status = domain.PostStatusPending
	if !post.TokenDetails.HasCredentials() {
		post.Status = domain.PostStatusPendingOAuth
	}
	post.RecomputeNextRun(now)

	if err := s.repo.CreatePost(ctx, &post); err != nil {
		return SubmitResult{}, fmt.Errorf("сохранение поста: %w", err)
	}
	metrics.IncSubmitted(submissionKind(post))
	s.record(ctx, domain.BusinessMetricEventPostSubmitted, post, map[string]any{
		"kind":   submissionKind(post),
		"status": string(post.Status),
	})
	s.invalidate(ctx, post.CreatedBy)
	s.log.Info().Str("post_id", post.ID).Str("status", string(post.Status)).Bool("scheduled", post.IsScheduled).Msg("api: пост принят")

	result := SubmitResult{Post: post}
	if !post.IsScheduled && post.Status == domain.PostStatusPending && s.processor != nil {
		res := s.processor.Process(ctx, post)
		result.Post = res.Post
		result.Published = &res
	}
	return result, nil
}

// ListUpcoming возвращает нетерминальные посты пользователя, ближайшие первыми.
func (s *Service) ListUpcoming(ctx context.Context, userID string) ([]domain.ScheduledPost, error) {
	if s.cache != nil {
		posts, ok, err := s.cache.GetUpcoming(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("api: кэш списка недоступен")
		} else if ok {
			return posts, nil
		}
	}
	posts, err := s.repo.ListUpcomingByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("список постов: %w", err)
	}
	domain.SortUpcoming(posts)
	if s.cache != nil {
		if err := s.cache.SetUpcoming(ctx, userID, posts); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("api: не удалось сохранить список в кэш")
		}
	}
	return posts, nil
}

// Get возвращает пост владельца. Чужой пост неотличим от отсутствующего.
func (s *Service) Get(ctx context.Context, userID, postID string) (domain.ScheduledPost, error) {
	post, err := s.repo.GetPost(ctx, postID)
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	if post.CreatedBy != userID {
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	return post, nil
}

// Cancel отменяет пост, который ещё не опубликован и не обрабатывается.
func (s *Service) Cancel(ctx context.Context, userID, postID string) (domain.ScheduledPost, error) {
	post, err := s.Get(ctx, userID, postID)
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	if !domain.CanTransition(post.Status, domain.PostStatusCancelled) {
		return domain.ScheduledPost{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, post.Status, domain.PostStatusCancelled)
	}
	expected := post.Status
	post.Status = domain.PostStatusCancelled
	post.NextRun = nil
	if err := s.repo.ReplaceIfStatus(ctx, &post, expected); err != nil {
		return domain.ScheduledPost{}, err
	}
	s.record(ctx, domain.BusinessMetricEventPostCancelled, post, map[string]any{"from": string(expected)})
	s.invalidate(ctx, userID)
	s.log.Info().Str("post_id", post.ID).Str("from", string(expected)).Msg("api: пост отменён")
	return post, nil
}

// AttachCredentials сохраняет OAuth доступ у поста в pending_oauth и возвращает его в очередь.
// Немедленный пост после этого публикуется сразу, как при создании.
func (s *Service) AttachCredentials(ctx context.Context, userID, postID string, tokens domain.TokenDetails) (SubmitResult, error) {
	if !tokens.HasCredentials() {
		return SubmitResult{}, fmt.Errorf("%w: access or refresh token is required", domain.ErrValidation)
	}
	post, err := s.Get(ctx, userID, postID)
	if err != nil {
		return SubmitResult{}, err
	}
	if post.Status != domain.PostStatusPendingOAuth {
		return SubmitResult{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, post.Status, domain.PostStatusPending)
	}
	if tokens.ExpiryDate != nil {
		tokens.ExpiryDate = domain.TimePtr(*tokens.ExpiryDate)
	}
	post.TokenDetails = &tokens
	post.Status = domain.PostStatusPending
	post.RecomputeNextRun(s.clock().UTC())
	if err := s.repo.ReplaceIfStatus(ctx, &post, domain.PostStatusPendingOAuth); err != nil {
		return SubmitResult{}, err
	}
	s.invalidate(ctx, userID)
	s.log.Info().Str("post_id", post.ID).Msg("api: доступ к профилю сохранён")

	result := SubmitResult{Post: post}
	if !post.IsScheduled && s.processor != nil {
		res := s.processor.Process(ctx, post)
		result.Post = res.Post
		result.Published = &res
	}
	return result, nil
}

func (s *Service) record(ctx context.Context, event string, post domain.ScheduledPost, metadata map[string]any) {
	if s.biz == nil {
		return
	}
	err := s.biz.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:    event,
		PostID:   post.ID,
		UserID:   post.CreatedBy,
		Metadata: metadata,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("api: не удалось сохранить бизнес-метрику")
	}
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil || userID == "" {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn().Err(err).Str("user_id", userID).Msg("api: не удалось сбросить кэш списка")
	}
}

func submissionKind(post domain.ScheduledPost) string {
	switch {
	case post.IsRecurring:
		return "recurring"
	case post.IsScheduled:
		return "scheduled"
	}
	return "immediate"
}
