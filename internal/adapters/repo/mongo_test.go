package repo

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"review-hub/internal/domain"
)

func TestDueFilterShape(t *testing.T) {
	now := time.Date(2025, time.June, 6, 12, 0, 0, 0, time.UTC)
	filter := dueFilter(now, 5*time.Minute)

	status, ok := filter["status"].(bson.M)
	if !ok {
		t.Fatalf("ожидали условие на статус, получили %#v", filter["status"])
	}
	in, ok := status["$in"].(bson.A)
	if !ok || len(in) != 2 || in[0] != "pending" || in[1] != "failed" {
		t.Fatalf("ожидали $in [pending failed], получили %#v", status["$in"])
	}

	and, ok := filter["$and"].(bson.A)
	if !ok || len(and) != 2 {
		t.Fatalf("ожидали два блока $and, получили %#v", filter["$and"])
	}
	due := and[0].(bson.M)["$or"].(bson.A)
	if len(due) != 3 {
		t.Fatalf("ожидали три ветви выборки, получили %d", len(due))
	}
	scheduled := due[1].(bson.M)
	if scheduled["nextRun"].(bson.M)["$exists"] != false {
		t.Fatalf("вторая ветвь должна требовать отсутствия nextRun: %#v", scheduled)
	}

	gate := and[1].(bson.M)["$or"].(bson.A)
	cutoff := gate[2].(bson.M)["lastRun"].(bson.M)["$lte"].(time.Time)
	if !cutoff.Equal(now.Add(-5 * time.Minute)) {
		t.Fatalf("неверная граница cooldown: %s", cutoff)
	}
}

func TestDueSortOrder(t *testing.T) {
	sort := dueSort()
	keys := []string{"scheduledFor", "nextRun", "_id"}
	if len(sort) != len(keys) {
		t.Fatalf("неожиданная сортировка: %#v", sort)
	}
	for i, key := range keys {
		if sort[i].Key != key || sort[i].Value != 1 {
			t.Fatalf("позиция %d: %#v, ожидали %s asc", i, sort[i], key)
		}
	}
}

func TestDocumentConversion(t *testing.T) {
	id := primitive.NewObjectID()
	at := time.Date(2025, time.June, 6, 10, 0, 0, 0, time.FixedZone("IST", 5*3600+1800))
	post := domain.ScheduledPost{
		ID:           id.Hex(),
		Content:      "Акция",
		AccountID:    "acc",
		LocationID:   "loc",
		IsScheduled:  true,
		ScheduledFor: &at,
		IsRecurring:  true,
		RepeatType:   domain.RepeatWeekly,
		RepeatDays:   []domain.Weekday{domain.Monday},
		Status:       domain.PostStatusPending,
		TokenDetails: &domain.TokenDetails{AccessToken: "a", RefreshToken: "r"},
	}
	doc, err := toDocument(post)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if doc.ID != id || doc.NextRun != nil || doc.ScheduledFor.Location() != time.UTC {
		t.Fatalf("неожиданный документ: %+v", doc)
	}
	back := fromDocument(doc)
	if back.ID != post.ID || !back.ScheduledFor.Equal(at) || back.RepeatDays[0] != domain.Monday {
		t.Fatalf("пост изменился при конвертации: %+v", back)
	}
	if back.TokenDetails == nil || back.TokenDetails.RefreshToken != "r" {
		t.Fatalf("токены потерялись: %+v", back.TokenDetails)
	}

	if _, err := toDocument(domain.ScheduledPost{ID: "not-hex"}); err == nil {
		t.Fatalf("ожидали ошибку для некорректного ID")
	}
}
