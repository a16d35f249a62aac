package domain

import (
	"sort"
	"time"
)

// DefaultFailureCooldown — пауза после неудачной попытки, до которой пост не выбирается повторно.
const DefaultFailureCooldown = 5 * time.Minute

// IsDue повторяет в памяти запрос выборки диспетчера:
//
//	status ∈ {pending, failed} И (
//	    nextRun ≤ now
//	    ИЛИ (isScheduled И scheduledFor ≤ now И nextRun не задан)
//	    ИЛИ (status ≠ posted И (scheduledFor не задан ИЛИ scheduledFor ≤ now)))
//
// Посты в статусе failed дополнительно ждут cooldown с момента lastRun.
func IsDue(p ScheduledPost, now time.Time, cooldown time.Duration) bool {
	if p.Status != PostStatusPending && p.Status != PostStatusFailed {
		return false
	}
	if p.Status == PostStatusFailed && !CooledDown(p.LastRun, now, cooldown) {
		return false
	}
	if p.NextRun != nil && !p.NextRun.After(now) {
		return true
	}
	if p.IsScheduled && p.ScheduledFor != nil && !p.ScheduledFor.After(now) && p.NextRun == nil {
		return true
	}
	if p.Status != PostStatusPosted && (p.ScheduledFor == nil || !p.ScheduledFor.After(now)) {
		return true
	}
	return false
}

// CooledDown сообщает, прошла ли пауза после последней попытки.
func CooledDown(lastRun *time.Time, now time.Time, cooldown time.Duration) bool {
	if lastRun == nil {
		return true
	}
	return !lastRun.After(now.Add(-cooldown))
}

// SortDue упорядочивает посты как запрос выборки: scheduledFor, затем nextRun, затем ID.
// Незаданное время идёт первым, как null в индексе MongoDB.
func SortDue(posts []ScheduledPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		if c := compareNullable(posts[i].ScheduledFor, posts[j].ScheduledFor); c != 0 {
			return c < 0
		}
		if c := compareNullable(posts[i].NextRun, posts[j].NextRun); c != 0 {
			return c < 0
		}
		return posts[i].ID < posts[j].ID
	})
}

// SortUpcoming упорядочивает посты по времени срабатывания, посты без времени идут последними.
func SortUpcoming(posts []ScheduledPost) {
	sort.SliceStable(posts, func(i, j int) bool {
		a, b := posts[i].DueAt(), posts[j].DueAt()
		switch {
		case a == nil && b == nil:
			return posts[i].CreatedAt.Before(posts[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return a.Before(*b)
	})
}

func compareNullable(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	case a.Before(*b):
		return -1
	case a.After(*b):
		return 1
	}
	return 0
}
