package repo

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"review-hub/internal/domain"
)

func TestDueQueryOrdering(t *testing.T) {
	if !strings.Contains(dueQuery, "ORDER BY scheduled_for ASC NULLS FIRST, next_run ASC NULLS FIRST, id ASC") {
		t.Fatalf("выборка должна сортироваться как в MongoDB: %s", dueQuery)
	}
	if !strings.Contains(dueQuery, "last_run <= $2") {
		t.Fatalf("выборка должна учитывать cooldown: %s", dueQuery)
	}
}

func TestPostArgs(t *testing.T) {
	expiry := time.Date(2025, time.June, 6, 10, 0, 0, 0, time.UTC)
	post := domain.ScheduledPost{
		ID:           "8f0c2a64-6c39-4f0b-8d7e-3f0a5f9c1b11",
		Content:      "Акция",
		AccountID:    "acc",
		LocationID:   "loc",
		RepeatType:   domain.RepeatWeekly,
		RepeatDays:   []domain.Weekday{domain.Monday, domain.Friday},
		Status:       domain.PostStatusPending,
		TokenDetails: &domain.TokenDetails{AccessToken: "a", ExpiryDate: &expiry},
	}
	args, err := postArgs(post)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if len(args) != 20 {
		t.Fatalf("ожидали 20 аргументов, получили %d", len(args))
	}
	days, ok := args[9].([]string)
	if !ok || len(days) != 2 || days[0] != "monday" {
		t.Fatalf("неожиданные дни: %#v", args[9])
	}
	raw, ok := args[16].([]byte)
	if !ok {
		t.Fatalf("ожидали JSON токенов, получили %#v", args[16])
	}
	var td domain.TokenDetails
	if err := json.Unmarshal(raw, &td); err != nil || td.AccessToken != "a" {
		t.Fatalf("токены закодированы неверно: %s", raw)
	}
	if bn := nullString(post.BusinessName); bn.Valid {
		t.Fatalf("пустое имя должно писаться как NULL")
	}

	post.TokenDetails = nil
	args, _ = postArgs(post)
	if args[16] != nil {
		t.Fatalf("без токенов ожидали NULL, получили %#v", args[16])
	}
}
