package scheduling

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"review-hub/internal/domain"
)

var testNow = time.Date(2025, time.June, 6, 12, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) domain.Clock {
	return func() time.Time { return t }
}

// memRepo — хранилище в памяти с транзакциями на копии данных.
type memRepo struct {
	mu    sync.Mutex
	posts map[string]domain.ScheduledPost
	seq   int

	failSaveAt int
	failCommit bool
	failList   error
	failMark   error

	saves int
	marks []domain.FailureRecord
}

var _ domain.PostRepo = (*memRepo)(nil)

func newMemRepo(posts ...domain.ScheduledPost) *memRepo {
	r := &memRepo{posts: map[string]domain.ScheduledPost{}}
	for _, p := range posts {
		r.posts[p.ID] = p.Clone()
	}
	return r
}

func (r *memRepo) get(id string) domain.ScheduledPost {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.posts[id].Clone()
}

func (r *memRepo) CreatePost(_ context.Context, post *domain.ScheduledPost) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if post.ID == "" {
		r.seq++
		post.ID = fmt.Sprintf("new-%d", r.seq)
	}
	r.posts[post.ID] = post.Clone()
	return nil
}

func (r *memRepo) GetPost(_ context.Context, id string) (domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[id]
	if !ok {
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	return p.Clone(), nil
}

func (r *memRepo) ListDue(_ context.Context, now time.Time, cooldown time.Duration) ([]domain.ScheduledPost, error) {
	if r.failList != nil {
		return nil, r.failList
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []domain.ScheduledPost
	for _, p := range r.posts {
		if domain.IsDue(p, now, cooldown) {
			due = append(due, p.Clone())
		}
	}
	domain.SortDue(due)
	return due, nil
}

func (r *memRepo) ListUpcomingByUser(_ context.Context, userID string) ([]domain.ScheduledPost, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.ScheduledPost
	for _, p := range r.posts {
		if p.CreatedBy != userID || p.Status.Terminal() {
			continue
		}
		out = append(out, p.Clone())
	}
	return out, nil
}

func (r *memRepo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.PostTx) error) error {
	tx := &memTx{repo: r, staged: map[string]domain.ScheduledPost{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if r.failCommit {
		return &domain.StoreError{Op: "commit", Err: errors.New("write conflict")}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range tx.staged {
		r.posts[id] = p
	}
	return nil
}

func (r *memRepo) MarkFailed(_ context.Context, f domain.FailureRecord) error {
	if r.failMark != nil {
		return r.failMark
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.posts[f.PostID]
	if !ok {
		return domain.ErrPostNotFound
	}
	p.Status = domain.PostStatusFailed
	p.LastError = f.Message
	p.LastRun = domain.TimePtr(f.At)
	p.Attempts = f.Attempts
	if f.TokenDetails != nil {
		td := *f.TokenDetails
		p.TokenDetails = &td
	}
	r.posts[f.PostID] = p
	r.marks = append(r.marks, f)
	return nil
}

func (r *memRepo) ReplaceIfStatus(_ context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.posts[post.ID]
	if !ok {
		return domain.ErrPostNotFound
	}
	if cur.Status != expected {
		return domain.ErrStatusConflict
	}
	r.posts[post.ID] = post.Clone()
	return nil
}

type memTx struct {
	repo   *memRepo
	staged map[string]domain.ScheduledPost
}

func (t *memTx) SavePost(_ context.Context, post *domain.ScheduledPost) error {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	t.repo.saves++
	if t.repo.failSaveAt != 0 && t.repo.saves == t.repo.failSaveAt {
		return &domain.StoreError{Op: "save", Err: errors.New("connection reset")}
	}
	if _, ok := t.repo.posts[post.ID]; !ok {
		return &domain.StoreError{Op: "save", Err: domain.ErrPostNotFound}
	}
	t.staged[post.ID] = post.Clone()
	return nil
}

func (t *memTx) ClaimPost(ctx context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	t.repo.mu.Lock()
	stored, ok := t.repo.posts[post.ID]
	t.repo.mu.Unlock()
	if !ok || stored.Status != expected {
		return domain.ErrStatusConflict
	}
	return t.SavePost(ctx, post)
}

type fakePublisher struct {
	mu       sync.Mutex
	requests []domain.PublishRequest
	err      error
}

func (f *fakePublisher) PublishLocalPost(_ context.Context, req domain.PublishRequest) (domain.PublishResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return domain.PublishResult{}, f.err
	}
	return domain.PublishResult{Name: "localPosts/" + req.LocationID}, nil
}

type fakeRefresher struct {
	calls int
	next  domain.TokenDetails
	err   error
}

func (f *fakeRefresher) Refresh(_ context.Context, current domain.TokenDetails) (domain.TokenDetails, error) {
	f.calls++
	if f.err != nil {
		return domain.TokenDetails{}, f.err
	}
	next := f.next
	if next.RefreshToken == "" {
		next.RefreshToken = current.RefreshToken
	}
	return next, nil
}

type fakeEvents struct {
	events []domain.PostEvent
}

func (f *fakeEvents) PublishPostEvent(_ context.Context, e domain.PostEvent) error {
	f.events = append(f.events, e)
	return nil
}

type fakeBiz struct {
	events []string
}

func (f *fakeBiz) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	f.events = append(f.events, m.Event)
	return nil
}

type fakeAlerter struct {
	reasons []string
}

func (f *fakeAlerter) AlertFailure(_ context.Context, _ domain.ScheduledPost, reason string) error {
	f.reasons = append(f.reasons, reason)
	return nil
}

type fakeCache struct {
	lists       map[string][]domain.ScheduledPost
	gets        int
	invalidated []string
}

func newFakeCache() *fakeCache {
	return &fakeCache{lists: map[string][]domain.ScheduledPost{}}
}

func (f *fakeCache) GetUpcoming(_ context.Context, userID string) ([]domain.ScheduledPost, bool, error) {
	f.gets++
	posts, ok := f.lists[userID]
	return posts, ok, nil
}

func (f *fakeCache) SetUpcoming(_ context.Context, userID string, posts []domain.ScheduledPost) error {
	f.lists[userID] = posts
	return nil
}

func (f *fakeCache) Invalidate(_ context.Context, userID string) error {
	delete(f.lists, userID)
	f.invalidated = append(f.invalidated, userID)
	return nil
}

func validTokens() *domain.TokenDetails {
	expiry := testNow.Add(time.Hour)
	return &domain.TokenDetails{AccessToken: "access", RefreshToken: "refresh", ExpiryDate: &expiry}
}
