package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// Postgres реализует хранилище постов на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.PostRepo           = (*Postgres)(nil)
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// execer — общее подмножество pgxpool.Pool и pgx.Tx.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const postColumns = `id, content, account_id, location_id, business_name, is_scheduled, scheduled_for,
is_recurring, repeat_type, repeat_days, status, last_run, next_run, posted_at, error, attempts,
token_details, created_by, created_at, updated_at`

const dueQuery = `
SELECT ` + postColumns + `
FROM scheduled_posts
WHERE status IN ('pending', 'failed')
  AND (
        next_run <= $1
     OR (is_scheduled AND scheduled_for <= $1 AND next_run IS NULL AND status <> 'posted')
     OR (status <> 'posted' AND (scheduled_for IS NULL OR scheduled_for <= $1))
  )
  AND (status <> 'failed' OR last_run IS NULL OR last_run <= $2)
ORDER BY scheduled_for ASC NULLS FIRST, next_run ASC NULLS FIRST, id ASC
`

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// CreatePost вставляет пост и заполняет его ID.
func (p *Postgres) CreatePost(ctx context.Context, post *domain.ScheduledPost) error {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	args, err := postArgs(*post)
	if err != nil {
		return err
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err = p.pool.Exec(ctx, `
INSERT INTO scheduled_posts (`+postColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
`, args...)
	metrics.ObserveNetworkRequest("postgres", "insert_post", "scheduled_posts", start, err)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// GetPost возвращает пост по ID.
func (p *Postgres) GetPost(ctx context.Context, id string) (domain.ScheduledPost, error) {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	row := p.pool.QueryRow(ctx, `SELECT `+postColumns+` FROM scheduled_posts WHERE id=$1`, id)
	post, err := scanPost(row)
	if errors.Is(err, pgx.ErrNoRows) {
		metrics.ObserveNetworkRequest("postgres", "get_post", "scheduled_posts", start, nil)
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	metrics.ObserveNetworkRequest("postgres", "get_post", "scheduled_posts", start, err)
	return post, err
}

// ListDue выбирает посты, которые пора публиковать.
func (p *Postgres) ListDue(ctx context.Context, now time.Time, cooldown time.Duration) ([]domain.ScheduledPost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	now = now.UTC()
	start := time.Now()
	rows, err := p.pool.Query(ctx, dueQuery, now, now.Add(-cooldown))
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_due", "scheduled_posts", start, err)
		return nil, fmt.Errorf("query due posts: %w", err)
	}
	posts, err := collectPosts(rows)
	metrics.ObserveNetworkRequest("postgres", "list_due", "scheduled_posts", start, err)
	return posts, err
}

// ListUpcomingByUser возвращает нетерминальные посты пользователя.
func (p *Postgres) ListUpcomingByUser(ctx context.Context, userID string) ([]domain.ScheduledPost, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT `+postColumns+`
FROM scheduled_posts
WHERE created_by=$1 AND status IN ('pending', 'processing', 'failed', 'pending_oauth')
ORDER BY COALESCE(next_run, scheduled_for) ASC NULLS LAST, created_at ASC
`, userID)
	if err != nil {
		metrics.ObserveNetworkRequest("postgres", "list_upcoming", "scheduled_posts", start, err)
		return nil, fmt.Errorf("query upcoming posts: %w", err)
	}
	posts, err := collectPosts(rows)
	metrics.ObserveNetworkRequest("postgres", "list_upcoming", "scheduled_posts", start, err)
	return posts, err
}

// WithinTx выполняет fn в транзакции. Ошибка fn откатывает все записи.
func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.PostTx) error) error {
	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "scheduled_posts", start, err)
	if err != nil {
		return &domain.StoreError{Op: "begin", Err: err}
	}
	defer tx.Rollback(context.Background())

	if err := fn(ctx, pgTx{p: p, tx: tx}); err != nil {
		return err
	}

	start = time.Now()
	err = tx.Commit(ctx)
	metrics.ObserveNetworkRequest("postgres", "commit_tx", "scheduled_posts", start, err)
	if err != nil {
		return &domain.StoreError{Op: "commit", Err: err}
	}
	return nil
}

type pgTx struct {
	p  *Postgres
	tx pgx.Tx
}

// ClaimPost обновляет пост, если его статус в таблице всё ещё expected.
func (t pgTx) ClaimPost(ctx context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	err := t.p.update(ctx, t.tx, post, expected)
	if errors.Is(err, domain.ErrPostNotFound) {
		return fmt.Errorf("%w: post %s is no longer %s", domain.ErrStatusConflict, post.ID, expected)
	}
	if err != nil {
		return &domain.StoreError{Op: "claim", Err: err}
	}
	return nil
}

// SavePost обновляет пост внутри транзакции.
func (t pgTx) SavePost(ctx context.Context, post *domain.ScheduledPost) error {
	if err := t.p.update(ctx, t.tx, post, ""); err != nil {
		return &domain.StoreError{Op: "save", Err: err}
	}
	return nil
}

func (p *Postgres) update(ctx context.Context, db execer, post *domain.ScheduledPost, expected domain.PostStatus) error {
	post.UpdatedAt = time.Now().UTC()
	args, err := postArgs(*post)
	if err != nil {
		return err
	}
	query := `
UPDATE scheduled_posts SET
  content=$2, account_id=$3, location_id=$4, business_name=$5, is_scheduled=$6, scheduled_for=$7,
  is_recurring=$8, repeat_type=$9, repeat_days=$10, status=$11, last_run=$12, next_run=$13,
  posted_at=$14, error=$15, attempts=$16, token_details=$17, created_by=$18, created_at=$19,
  updated_at=$20
WHERE id=$1`
	if expected != "" {
		query += ` AND status=$21`
		args = append(args, string(expected))
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := db.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "update_post", "scheduled_posts", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// MarkFailed переводит пост в failed отдельной записью.
func (p *Postgres) MarkFailed(ctx context.Context, failure domain.FailureRecord) error {
	if _, err := uuid.Parse(failure.PostID); err != nil {
		return domain.ErrPostNotFound
	}
	var tokens any
	if failure.TokenDetails != nil {
		data, err := json.Marshal(failure.TokenDetails)
		if err != nil {
			return fmt.Errorf("marshal tokens: %w", err)
		}
		tokens = data
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE scheduled_posts
SET status='failed', error=$2, last_run=$3, attempts=$4,
    token_details=COALESCE($5::jsonb, token_details), updated_at=now()
WHERE id=$1
`, failure.PostID, failure.Message, failure.At.UTC(), failure.Attempts, tokens)
	metrics.ObserveNetworkRequest("postgres", "mark_failed", "scheduled_posts", start, err)
	if err != nil {
		return fmt.Errorf("mark post failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// ReplaceIfStatus сохраняет пост, если его статус в таблице равен expected.
func (p *Postgres) ReplaceIfStatus(ctx context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	err := p.update(ctx, p.pool, post, expected)
	if !errors.Is(err, domain.ErrPostNotFound) {
		return err
	}
	if _, getErr := p.GetPost(ctx, post.ID); getErr != nil {
		return getErr
	}
	return domain.ErrStatusConflict
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	ctx, cancel := p.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO business_metrics (event, post_id, user_id, metadata, occurred_at)
VALUES ($1, $2, $3, $4, $5)
`, metric.Event, nullString(metric.PostID), nullString(metric.UserID), payload, metric.OccurredAt)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

func postArgs(post domain.ScheduledPost) ([]any, error) {
	var tokens any
	if post.TokenDetails != nil {
		data, err := json.Marshal(post.TokenDetails)
		if err != nil {
			return nil, fmt.Errorf("marshal tokens: %w", err)
		}
		tokens = data
	}
	days := make([]string, 0, len(post.RepeatDays))
	for _, d := range post.RepeatDays {
		days = append(days, string(d))
	}
	return []any{
		post.ID,
		post.Content,
		post.AccountID,
		post.LocationID,
		nullString(post.BusinessName),
		post.IsScheduled,
		utcPtr(post.ScheduledFor),
		post.IsRecurring,
		nullString(string(post.RepeatType)),
		days,
		string(post.Status),
		utcPtr(post.LastRun),
		utcPtr(post.NextRun),
		utcPtr(post.PostedAt),
		nullString(post.LastError),
		post.Attempts,
		tokens,
		nullString(post.CreatedBy),
		post.CreatedAt.UTC(),
		post.UpdatedAt.UTC(),
	}, nil
}

func scanPost(row pgx.Row) (domain.ScheduledPost, error) {
	var (
		post         domain.ScheduledPost
		businessName sql.NullString
		repeatType   sql.NullString
		repeatDays   []string
		status       string
		lastError    sql.NullString
		tokens       []byte
		createdBy    sql.NullString
	)
	err := row.Scan(
		&post.ID,
		&post.Content,
		&post.AccountID,
		&post.LocationID,
		&businessName,
		&post.IsScheduled,
		&post.ScheduledFor,
		&post.IsRecurring,
		&repeatType,
		&repeatDays,
		&status,
		&post.LastRun,
		&post.NextRun,
		&post.PostedAt,
		&lastError,
		&post.Attempts,
		&tokens,
		&createdBy,
		&post.CreatedAt,
		&post.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	post.BusinessName = businessName.String
	post.RepeatType = domain.RepeatType(repeatType.String)
	post.Status = domain.PostStatus(status)
	post.LastError = lastError.String
	post.CreatedBy = createdBy.String
	for _, raw := range repeatDays {
		if d, ok := domain.ParseWeekday(raw); ok {
			post.RepeatDays = append(post.RepeatDays, d)
		}
	}
	if len(tokens) > 0 {
		var td domain.TokenDetails
		if err := json.Unmarshal(tokens, &td); err != nil {
			return domain.ScheduledPost{}, fmt.Errorf("decode tokens: %w", err)
		}
		post.TokenDetails = &td
	}
	post.ScheduledFor = utcPtr(post.ScheduledFor)
	post.LastRun = utcPtr(post.LastRun)
	post.NextRun = utcPtr(post.NextRun)
	post.PostedAt = utcPtr(post.PostedAt)
	post.CreatedAt = post.CreatedAt.UTC()
	post.UpdatedAt = post.UpdatedAt.UTC()
	return post, nil
}

func collectPosts(rows pgx.Rows) ([]domain.ScheduledPost, error) {
	defer rows.Close()
	var posts []domain.ScheduledPost
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return posts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
