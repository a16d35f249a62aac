package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

const (
	postsCollection   = "scheduledposts"
	metricsCollection = "business_metrics"
)

// Mongo реализует хранилище постов на MongoDB. Для транзакций нужен replica set.
type Mongo struct {
	client  *mongo.Client
	posts   *mongo.Collection
	metrics *mongo.Collection
}

var (
	_ domain.PostRepo           = (*Mongo)(nil)
	_ domain.BusinessMetricRepo = (*Mongo)(nil)
)

// NewMongo создаёт адаптер поверх базы db.
func NewMongo(client *mongo.Client, db *mongo.Database) *Mongo {
	return &Mongo{
		client:  client,
		posts:   db.Collection(postsCollection),
		metrics: db.Collection(metricsCollection),
	}
}

type tokenDocument struct {
	AccessToken  string     `bson:"accessToken"`
	RefreshToken string     `bson:"refreshToken,omitempty"`
	ExpiryDate   *time.Time `bson:"expiryDate,omitempty"`
	Scopes       []string   `bson:"scopes,omitempty"`
}

// postDocument — форма поста в коллекции. Незаданные даты не пишутся вовсе,
// поэтому условие «поле не задано» в запросах выражается через $exists: false.
type postDocument struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Content      string             `bson:"content"`
	AccountID    string             `bson:"accountId"`
	LocationID   string             `bson:"locationId"`
	BusinessName string             `bson:"businessName,omitempty"`
	IsScheduled  bool               `bson:"isScheduled"`
	ScheduledFor *time.Time         `bson:"scheduledFor,omitempty"`
	IsRecurring  bool               `bson:"isRecurring"`
	RepeatType   string             `bson:"repeatType,omitempty"`
	RepeatDays   []string           `bson:"repeatDays,omitempty"`
	Status       string             `bson:"status"`
	LastRun      *time.Time         `bson:"lastRun,omitempty"`
	NextRun      *time.Time         `bson:"nextRun,omitempty"`
	PostedAt     *time.Time         `bson:"postedAt,omitempty"`
	Error        string             `bson:"error,omitempty"`
	Attempts     int                `bson:"attempts"`
	TokenDetails *tokenDocument     `bson:"tokenDetails,omitempty"`
	CreatedBy    string             `bson:"createdBy,omitempty"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

func (m *Mongo) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// EnsureIndexes создаёт индексы под выборку диспетчера и списки пользователя.
func (m *Mongo) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := m.posts.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "accountId", Value: 1}, {Key: "locationId", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextRun", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledFor", Value: 1}}},
		{Keys: bson.D{{Key: "createdBy", Value: 1}, {Key: "status", Value: 1}}},
	})
	metrics.ObserveNetworkRequest("mongo", "create_indexes", postsCollection, start, err)
	return err
}

// CreatePost вставляет новый пост и заполняет его ID.
func (m *Mongo) CreatePost(ctx context.Context, post *domain.ScheduledPost) error {
	now := time.Now().UTC()
	if post.CreatedAt.IsZero() {
		post.CreatedAt = now
	}
	post.UpdatedAt = now
	doc, err := toDocument(*post)
	if err != nil {
		return err
	}
	if doc.ID.IsZero() {
		doc.ID = primitive.NewObjectID()
	}

	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err = m.posts.InsertOne(ctx, doc)
	metrics.ObserveNetworkRequest("mongo", "insert_post", postsCollection, start, err)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	post.ID = doc.ID.Hex()
	return nil
}

// GetPost возвращает пост по ID.
func (m *Mongo) GetPost(ctx context.Context, id string) (domain.ScheduledPost, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	ctx, cancel := m.connCtx(ctx)
	defer cancel()

	var doc postDocument
	start := time.Now()
	err = m.posts.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc)
	metrics.ObserveNetworkRequest("mongo", "get_post", postsCollection, start, ignoreNoDocuments(err))
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ScheduledPost{}, domain.ErrPostNotFound
	}
	if err != nil {
		return domain.ScheduledPost{}, err
	}
	return fromDocument(doc), nil
}

// ListDue выбирает посты, которые пора публиковать.
func (m *Mongo) ListDue(ctx context.Context, now time.Time, cooldown time.Duration) ([]domain.ScheduledPost, error) {
	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	cur, err := m.posts.Find(ctx, dueFilter(now.UTC(), cooldown), options.Find().SetSort(dueSort()))
	if err != nil {
		metrics.ObserveNetworkRequest("mongo", "list_due", postsCollection, start, err)
		return nil, fmt.Errorf("find due posts: %w", err)
	}
	posts, err := decodePosts(ctx, cur)
	metrics.ObserveNetworkRequest("mongo", "list_due", postsCollection, start, err)
	return posts, err
}

// ListUpcomingByUser возвращает нетерминальные посты пользователя, ближайшие первыми.
func (m *Mongo) ListUpcomingByUser(ctx context.Context, userID string) ([]domain.ScheduledPost, error) {
	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	filter := bson.M{
		"createdBy": userID,
		"status": bson.M{"$in": bson.A{
			string(domain.PostStatusPending),
			string(domain.PostStatusProcessing),
			string(domain.PostStatusFailed),
			string(domain.PostStatusPendingOAuth),
		}},
	}
	start := time.Now()
	cur, err := m.posts.Find(ctx, filter)
	if err != nil {
		metrics.ObserveNetworkRequest("mongo", "list_upcoming", postsCollection, start, err)
		return nil, fmt.Errorf("find upcoming posts: %w", err)
	}
	posts, err := decodePosts(ctx, cur)
	metrics.ObserveNetworkRequest("mongo", "list_upcoming", postsCollection, start, err)
	if err != nil {
		return nil, err
	}
	domain.SortUpcoming(posts)
	return posts, nil
}

// WithinTx выполняет fn в транзакции сессии. Транзакция не повторяется автоматически:
// внутри fn идёт вызов внешнего API, и повтор означал бы повторную публикацию.
func (m *Mongo) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.PostTx) error) error {
	start := time.Now()
	session, err := m.client.StartSession()
	metrics.ObserveNetworkRequest("mongo", "start_session", postsCollection, start, err)
	if err != nil {
		return &domain.StoreError{Op: "start_session", Err: err}
	}
	defer session.EndSession(context.Background())

	if err := session.StartTransaction(); err != nil {
		return &domain.StoreError{Op: "begin", Err: err}
	}
	sc := mongo.NewSessionContext(ctx, session)

	if err := fn(sc, mongoTx{m: m}); err != nil {
		abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.AbortTransaction(abortCtx)
		return err
	}

	start = time.Now()
	err = session.CommitTransaction(sc)
	metrics.ObserveNetworkRequest("mongo", "commit", postsCollection, start, err)
	if err != nil {
		abortCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = session.AbortTransaction(abortCtx)
		return &domain.StoreError{Op: "commit", Err: err}
	}
	return nil
}

type mongoTx struct {
	m *Mongo
}

// ClaimPost заменяет документ, если его статус всё ещё expected.
func (tx mongoTx) ClaimPost(ctx context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	err := tx.m.replace(ctx, post, bson.M{"status": string(expected)})
	if errors.Is(err, domain.ErrPostNotFound) {
		return fmt.Errorf("%w: post %s is no longer %s", domain.ErrStatusConflict, post.ID, expected)
	}
	if err != nil {
		return &domain.StoreError{Op: "claim", Err: err}
	}
	return nil
}

// SavePost заменяет документ поста внутри транзакции.
func (tx mongoTx) SavePost(ctx context.Context, post *domain.ScheduledPost) error {
	if err := tx.m.replace(ctx, post, bson.M{}); err != nil {
		return &domain.StoreError{Op: "save", Err: err}
	}
	return nil
}

func (m *Mongo) replace(ctx context.Context, post *domain.ScheduledPost, extra bson.M) error {
	post.UpdatedAt = time.Now().UTC()
	doc, err := toDocument(*post)
	if err != nil {
		return err
	}
	if doc.ID.IsZero() {
		return domain.ErrPostNotFound
	}
	filter := bson.M{"_id": doc.ID}
	for k, v := range extra {
		filter[k] = v
	}

	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	res, err := m.posts.ReplaceOne(ctx, filter, doc)
	metrics.ObserveNetworkRequest("mongo", "replace_post", postsCollection, start, err)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// MarkFailed переводит пост в failed отдельной записью вне транзакции обработки.
func (m *Mongo) MarkFailed(ctx context.Context, failure domain.FailureRecord) error {
	oid, err := primitive.ObjectIDFromHex(failure.PostID)
	if err != nil {
		return domain.ErrPostNotFound
	}
	at := failure.At.UTC()
	set := bson.M{
		"status":    string(domain.PostStatusFailed),
		"error":     failure.Message,
		"lastRun":   at,
		"attempts":  failure.Attempts,
		"updatedAt": time.Now().UTC(),
	}
	if failure.TokenDetails != nil {
		set["tokenDetails"] = toTokenDocument(failure.TokenDetails)
	}

	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	res, err := m.posts.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": set})
	metrics.ObserveNetworkRequest("mongo", "mark_failed", postsCollection, start, err)
	if err != nil {
		return fmt.Errorf("mark post failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrPostNotFound
	}
	return nil
}

// ReplaceIfStatus сохраняет пост, если в коллекции у него всё ещё статус expected.
func (m *Mongo) ReplaceIfStatus(ctx context.Context, post *domain.ScheduledPost, expected domain.PostStatus) error {
	err := m.replace(ctx, post, bson.M{"status": string(expected)})
	if !errors.Is(err, domain.ErrPostNotFound) {
		return err
	}
	if _, getErr := m.GetPost(ctx, post.ID); getErr != nil {
		return getErr
	}
	return domain.ErrStatusConflict
}

// RecordBusinessMetric сохраняет бизнесовую метрику.
func (m *Mongo) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}
	doc := bson.M{
		"event":      metric.Event,
		"occurredAt": metric.OccurredAt,
	}
	if metric.PostID != "" {
		doc["postId"] = metric.PostID
	}
	if metric.UserID != "" {
		doc["userId"] = metric.UserID
	}
	if len(metric.Metadata) > 0 {
		doc["metadata"] = metric.Metadata
	}

	ctx, cancel := m.connCtx(ctx)
	defer cancel()
	start := time.Now()
	_, err := m.metrics.InsertOne(ctx, doc)
	metrics.ObserveNetworkRequest("mongo", "business_metrics_insert", metricsCollection, start, err)
	return err
}

// dueFilter — запрос выборки диспетчера.
func dueFilter(now time.Time, cooldown time.Duration) bson.M {
	pending := string(domain.PostStatusPending)
	failed := string(domain.PostStatusFailed)
	posted := string(domain.PostStatusPosted)
	return bson.M{
		"status": bson.M{"$in": bson.A{pending, failed}},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"nextRun": bson.M{"$lte": now}},
				bson.M{
					"isScheduled":  true,
					"scheduledFor": bson.M{"$lte": now},
					"nextRun":      bson.M{"$exists": false},
					"status":       bson.M{"$ne": posted},
				},
				bson.M{
					"status": bson.M{"$ne": posted},
					"$or": bson.A{
						bson.M{"scheduledFor": bson.M{"$exists": false}},
						bson.M{"scheduledFor": bson.M{"$lte": now}},
					},
				},
			}},
			bson.M{"$or": bson.A{
				bson.M{"status": bson.M{"$ne": failed}},
				bson.M{"lastRun": bson.M{"$exists": false}},
				bson.M{"lastRun": bson.M{"$lte": now.Add(-cooldown)}},
			}},
		},
	}
}

func dueSort() bson.D {
	return bson.D{
		{Key: "scheduledFor", Value: 1},
		{Key: "nextRun", Value: 1},
		{Key: "_id", Value: 1},
	}
}

func decodePosts(ctx context.Context, cur *mongo.Cursor) ([]domain.ScheduledPost, error) {
	defer cur.Close(ctx)
	var docs []postDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode posts: %w", err)
	}
	posts := make([]domain.ScheduledPost, 0, len(docs))
	for _, doc := range docs {
		posts = append(posts, fromDocument(doc))
	}
	return posts, nil
}

func ignoreNoDocuments(err error) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	return err
}

func toDocument(p domain.ScheduledPost) (postDocument, error) {
	doc := postDocument{
		Content:      p.Content,
		AccountID:    p.AccountID,
		LocationID:   p.LocationID,
		BusinessName: p.BusinessName,
		IsScheduled:  p.IsScheduled,
		ScheduledFor: utcPtr(p.ScheduledFor),
		IsRecurring:  p.IsRecurring,
		RepeatType:   string(p.RepeatType),
		Status:       string(p.Status),
		LastRun:      utcPtr(p.LastRun),
		NextRun:      utcPtr(p.NextRun),
		PostedAt:     utcPtr(p.PostedAt),
		Error:        p.LastError,
		Attempts:     p.Attempts,
		TokenDetails: toTokenDocument(p.TokenDetails),
		CreatedBy:    p.CreatedBy,
		CreatedAt:    p.CreatedAt.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
	}
	for _, d := range p.RepeatDays {
		doc.RepeatDays = append(doc.RepeatDays, string(d))
	}
	if p.ID != "" {
		oid, err := primitive.ObjectIDFromHex(p.ID)
		if err != nil {
			return postDocument{}, fmt.Errorf("%w: bad id %q", domain.ErrPostNotFound, p.ID)
		}
		doc.ID = oid
	}
	return doc, nil
}

func fromDocument(doc postDocument) domain.ScheduledPost {
	p := domain.ScheduledPost{
		ID:           doc.ID.Hex(),
		Content:      doc.Content,
		AccountID:    doc.AccountID,
		LocationID:   doc.LocationID,
		BusinessName: doc.BusinessName,
		IsScheduled:  doc.IsScheduled,
		ScheduledFor: utcPtr(doc.ScheduledFor),
		IsRecurring:  doc.IsRecurring,
		RepeatType:   domain.RepeatType(doc.RepeatType),
		Status:       domain.PostStatus(doc.Status),
		LastRun:      utcPtr(doc.LastRun),
		NextRun:      utcPtr(doc.NextRun),
		PostedAt:     utcPtr(doc.PostedAt),
		LastError:    doc.Error,
		Attempts:     doc.Attempts,
		CreatedBy:    doc.CreatedBy,
		CreatedAt:    doc.CreatedAt.UTC(),
		UpdatedAt:    doc.UpdatedAt.UTC(),
	}
	for _, raw := range doc.RepeatDays {
		if d, ok := domain.ParseWeekday(raw); ok {
			p.RepeatDays = append(p.RepeatDays, d)
		}
	}
	if doc.TokenDetails != nil {
		p.TokenDetails = &domain.TokenDetails{
			AccessToken:  doc.TokenDetails.AccessToken,
			RefreshToken: doc.TokenDetails.RefreshToken,
			ExpiryDate:   utcPtr(doc.TokenDetails.ExpiryDate),
			Scopes:       append([]string(nil), doc.TokenDetails.Scopes...),
		}
	}
	return p
}

func toTokenDocument(t *domain.TokenDetails) *tokenDocument {
	if t == nil {
		return nil
	}
	return &tokenDocument{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiryDate:   utcPtr(t.ExpiryDate),
		Scopes:       append([]string(nil), t.Scopes...),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
