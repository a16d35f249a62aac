package scheduling

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"review-hub/internal/domain"
)

func newTestService(repo *memRepo, pub *fakePublisher, cache *fakeCache, biz *fakeBiz) *Service {
	var (
		opts      []ProcessorOption
		listCache domain.PostListCache
		bizRepo   domain.BusinessMetricRepo
	)
	if cache != nil {
		listCache = cache
		opts = append(opts, WithListCache(cache))
	}
	if biz != nil {
		bizRepo = biz
		opts = append(opts, WithBusinessMetrics(biz))
	}
	proc := newTestProcessor(repo, pub, &fakeRefresher{}, opts...)
	svc := NewService(repo, proc, listCache, bizRepo, zerolog.Nop())
	svc.clock = fixedClock(testNow)
	return svc
}

func immediateSubmission() domain.Submission {
	return domain.Submission{
		Content:      "  Скидка 10% всю неделю  ",
		AccountID:    "accounts/1",
		LocationID:   "locations/2",
		CreatedBy:    "u1",
		TokenDetails: validTokens(),
	}
}

func TestSubmitValidationError(t *testing.T) {
	repo := newMemRepo()
	sub := immediateSubmission()
	sub.Content = "   "
	_, err := newTestService(repo, &fakePublisher{}, nil, nil).Submit(context.Background(), sub)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("ожидали ErrValidation, получили %v", err)
	}
	if len(repo.posts) != 0 {
		t.Fatalf("невалидный пост не должен сохраняться")
	}
}

func TestSubmitImmediatePublishes(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	cache := newFakeCache()
	biz := &fakeBiz{}

	res, err := newTestService(repo, pub, cache, biz).Submit(context.Background(), immediateSubmission())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Published == nil || res.Published.Outcome != OutcomePosted {
		t.Fatalf("немедленный пост должен публиковаться сразу: %+v", res.Published)
	}
	if res.Post.Status != domain.PostStatusPosted || res.Post.Content != "Скидка 10% всю неделю" {
		t.Fatalf("неожиданный пост: %+v", res.Post)
	}
	if stored := repo.get(res.Post.ID); stored.Status != domain.PostStatusPosted || stored.NextRun != nil {
		t.Fatalf("в хранилище ожидали posted без nextRun: %+v", stored)
	}
	if len(pub.requests) != 1 {
		t.Fatalf("ожидали одну публикацию, получили %d", len(pub.requests))
	}
	if len(biz.events) < 2 || biz.events[0] != domain.BusinessMetricEventPostSubmitted {
		t.Fatalf("ожидали бизнес-метрики приёма и публикации: %v", biz.events)
	}
	if len(cache.invalidated) == 0 {
		t.Fatalf("кэш автора должен сбрасываться")
	}
}

func TestSubmitImmediateFailureStillAccepted(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{err: &domain.PublishError{StatusCode: 401}}

	res, err := newTestService(repo, pub, nil, nil).Submit(context.Background(), immediateSubmission())
	if err != nil {
		t.Fatalf("ошибка публикации не должна отклонять заявку: %v", err)
	}
	if res.Published == nil || res.Published.Outcome != OutcomeFailed || res.Post.Status != domain.PostStatusFailed {
		t.Fatalf("ожидали failed пост в ответе: %+v", res)
	}
}

func TestSubmitWithoutCredentials(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	sub := immediateSubmission()
	sub.TokenDetails = nil

	res, err := newTestService(repo, pub, nil, nil).Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Post.Status != domain.PostStatusPendingOAuth || res.Published != nil {
		t.Fatalf("пост без доступа должен ждать OAuth: %+v", res)
	}
	if len(pub.requests) != 0 {
		t.Fatalf("публикация не должна вызываться")
	}
}

func TestSubmitRecurringInFuture(t *testing.T) {
	repo := newMemRepo()
	pub := &fakePublisher{}
	future := testNow.Add(48 * time.Hour)
	sub := immediateSubmission()
	sub.IsScheduled = true
	sub.ScheduledFor = &future
	sub.IsRecurring = true
	sub.RepeatType = domain.RepeatWeekly
	sub.RepeatDays = []string{"monday", "Monday", "friday"}

	res, err := newTestService(repo, pub, nil, nil).Submit(context.Background(), sub)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	post := res.Post
	if post.Status != domain.PostStatusPending || res.Published != nil || len(pub.requests) != 0 {
		t.Fatalf("отложенный пост не должен публиковаться сразу: %+v", res)
	}
	if post.NextRun == nil || !post.NextRun.Equal(future) {
		t.Fatalf("первый запуск должен совпадать со scheduledFor: %v", post.NextRun)
	}
	if len(post.RepeatDays) != 2 {
		t.Fatalf("дни недели должны быть без повторов: %v", post.RepeatDays)
	}
	if domain.IsDue(repo.get(post.ID), testNow, domain.DefaultFailureCooldown) {
		t.Fatalf("будущий пост не должен выбираться")
	}
}

func TestListUpcomingUsesCache(t *testing.T) {
	soon := domain.TimePtr(testNow.Add(time.Hour))
	later := domain.TimePtr(testNow.Add(2 * time.Hour))
	repo := newMemRepo(
		domain.ScheduledPost{ID: "later", CreatedBy: "u1", IsScheduled: true, ScheduledFor: later, Status: domain.PostStatusPending},
		domain.ScheduledPost{ID: "soon", CreatedBy: "u1", IsScheduled: true, ScheduledFor: soon, Status: domain.PostStatusFailed},
		domain.ScheduledPost{ID: "done", CreatedBy: "u1", Status: domain.PostStatusPosted},
		domain.ScheduledPost{ID: "other", CreatedBy: "u2", Status: domain.PostStatusPending},
	)
	cache := newFakeCache()
	svc := newTestService(repo, &fakePublisher{}, cache, nil)

	posts, err := svc.ListUpcoming(context.Background(), "u1")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(posts) != 2 || posts[0].ID != "soon" || posts[1].ID != "later" {
		t.Fatalf("неожиданный список: %+v", posts)
	}
	if _, ok := cache.lists["u1"]; !ok {
		t.Fatalf("список должен попасть в кэш")
	}

	delete(repo.posts, "soon")
	posts, err = svc.ListUpcoming(context.Background(), "u1")
	if err != nil || len(posts) != 2 {
		t.Fatalf("второй вызов должен отдать кэш: %v %d", err, len(posts))
	}
}

func TestGetHidesForeignPosts(t *testing.T) {
	repo := newMemRepo(domain.ScheduledPost{ID: "p1", CreatedBy: "u2", Status: domain.PostStatusPending})
	_, err := newTestService(repo, &fakePublisher{}, nil, nil).Get(context.Background(), "u1", "p1")
	if !errors.Is(err, domain.ErrPostNotFound) {
		t.Fatalf("чужой пост должен выглядеть отсутствующим, получили %v", err)
	}
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		status  domain.PostStatus
		wantErr error
	}{
		{name: "pending", status: domain.PostStatusPending},
		{name: "failed", status: domain.PostStatusFailed},
		{name: "pending oauth", status: domain.PostStatusPendingOAuth},
		{name: "posted", status: domain.PostStatusPosted, wantErr: domain.ErrInvalidTransition},
		{name: "processing", status: domain.PostStatusProcessing, wantErr: domain.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next := domain.TimePtr(testNow.Add(time.Hour))
			repo := newMemRepo(domain.ScheduledPost{ID: "p1", CreatedBy: "u1", Status: tt.status, NextRun: next})
			biz := &fakeBiz{}
			post, err := newTestService(repo, &fakePublisher{}, nil, biz).Cancel(context.Background(), "u1", "p1")
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ожидали %v, получили %v", tt.wantErr, err)
				}
				if repo.get("p1").Status != tt.status {
					t.Fatalf("статус не должен меняться")
				}
				return
			}
			if err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			stored := repo.get("p1")
			if post.Status != domain.PostStatusCancelled || stored.Status != domain.PostStatusCancelled || stored.NextRun != nil {
				t.Fatalf("ожидали cancelled без nextRun: %+v", stored)
			}
			if len(biz.events) != 1 || biz.events[0] != domain.BusinessMetricEventPostCancelled {
				t.Fatalf("ожидали бизнес-метрику отмены: %v", biz.events)
			}
		})
	}
}

func TestAttachCredentialsPublishesImmediatePost(t *testing.T) {
	repo := newMemRepo(domain.ScheduledPost{ID: "p1", CreatedBy: "u1", Status: domain.PostStatusPendingOAuth})
	pub := &fakePublisher{}

	res, err := newTestService(repo, pub, nil, nil).AttachCredentials(context.Background(), "u1", "p1", *validTokens())
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Published == nil || res.Post.Status != domain.PostStatusPosted {
		t.Fatalf("после получения доступа пост должен опубликоваться: %+v", res)
	}
	if len(pub.requests) != 1 || pub.requests[0].AccessToken != "access" {
		t.Fatalf("публикация должна использовать новый токен: %+v", pub.requests)
	}
}

func TestAttachCredentialsScheduledPost(t *testing.T) {
	future := domain.TimePtr(testNow.Add(time.Hour))
	repo := newMemRepo(domain.ScheduledPost{ID: "p1", CreatedBy: "u1", IsScheduled: true, ScheduledFor: future, Status: domain.PostStatusPendingOAuth})
	pub := &fakePublisher{}

	res, err := newTestService(repo, pub, nil, nil).AttachCredentials(context.Background(), "u1", "p1", domain.TokenDetails{RefreshToken: "r"})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if res.Published != nil || len(pub.requests) != 0 {
		t.Fatalf("отложенный пост не должен публиковаться сразу")
	}
	if stored := repo.get("p1"); stored.Status != domain.PostStatusPending || stored.TokenDetails == nil || stored.TokenDetails.RefreshToken != "r" {
		t.Fatalf("ожидали pending с сохранённым доступом: %+v", stored)
	}
}

func TestAttachCredentialsErrors(t *testing.T) {
	repo := newMemRepo(domain.ScheduledPost{ID: "p1", CreatedBy: "u1", Status: domain.PostStatusPending})
	svc := newTestService(repo, &fakePublisher{}, nil, nil)

	if _, err := svc.AttachCredentials(context.Background(), "u1", "p1", domain.TokenDetails{}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("пустой доступ должен отклоняться, получили %v", err)
	}
	if _, err := svc.AttachCredentials(context.Background(), "u1", "p1", *validTokens()); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("доступ принимается только для pending_oauth, получили %v", err)
	}
	if _, err := svc.AttachCredentials(context.Background(), "u2", "p1", *validTokens()); !errors.Is(err, domain.ErrPostNotFound) {
		t.Fatalf("чужой пост должен выглядеть отсутствующим, получили %v", err)
	}
}
