package domain

import (
	"strings"
	"time"
)

// PostStatus описывает состояние запланированного поста.
type PostStatus string

const (
	// PostStatusPending — пост ждёт своего времени публикации.
	PostStatusPending PostStatus = "pending"
	// PostStatusProcessing — пост взят диспетчером в работу.
	PostStatusProcessing PostStatus = "processing"
	// PostStatusPosted — пост опубликован.
	PostStatusPosted PostStatus = "posted"
	// PostStatusFailed — последняя попытка публикации завершилась ошибкой.
	PostStatusFailed PostStatus = "failed"
	// PostStatusCancelled — пост отменён пользователем.
	PostStatusCancelled PostStatus = "cancelled"
	// PostStatusPendingOAuth — у поста нет OAuth-доступа, диспетчер его не трогает.
	PostStatusPendingOAuth PostStatus = "pending_oauth"
)

// Valid сообщает, известен ли статус.
func (s PostStatus) Valid() bool {
	switch s {
	case PostStatusPending, PostStatusProcessing, PostStatusPosted, PostStatusFailed, PostStatusCancelled, PostStatusPendingOAuth:
		return true
	}
	return false
}

// Terminal возвращает true для статусов, после которых пост не попадает в список ближайших.
func (s PostStatus) Terminal() bool {
	return s == PostStatusPosted || s == PostStatusCancelled
}

var transitions = map[PostStatus][]PostStatus{
	PostStatusPending:      {PostStatusProcessing, PostStatusCancelled},
	PostStatusFailed:       {PostStatusProcessing, PostStatusCancelled},
	PostStatusProcessing:   {PostStatusPosted, PostStatusFailed},
	PostStatusPosted:       {PostStatusPending},
	PostStatusPendingOAuth: {PostStatusPending, PostStatusCancelled},
}

// CanTransition проверяет, разрешён ли переход между статусами.
func CanTransition(from, to PostStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RepeatType задаёт единицу повторения. Пустое значение означает отсутствие повторов.
type RepeatType string

const (
	RepeatNone    RepeatType = ""
	RepeatDaily   RepeatType = "daily"
	RepeatWeekly  RepeatType = "weekly"
	RepeatMonthly RepeatType = "monthly"
)

// Valid сообщает, что тип повторения пригоден для повторяющегося поста.
func (r RepeatType) Valid() bool {
	return r == RepeatDaily || r == RepeatWeekly || r == RepeatMonthly
}

// Weekday — день недели в том виде, в каком он хранится и приходит из API.
type Weekday string

const (
	Monday    Weekday = "monday"
	Tuesday   Weekday = "tuesday"
	Wednesday Weekday = "wednesday"
	Thursday  Weekday = "thursday"
	Friday    Weekday = "friday"
	Saturday  Weekday = "saturday"
	Sunday    Weekday = "sunday"
)

var weekdays = map[Weekday]time.Weekday{
	Sunday:    time.Sunday,
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
}

// ParseWeekday нормализует название дня недели.
func ParseWeekday(raw string) (Weekday, bool) {
	day := Weekday(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := weekdays[day]
	return day, ok
}

// Time возвращает день недели из стандартной библиотеки.
func (d Weekday) Time() (time.Weekday, bool) {
	wd, ok := weekdays[d]
	return wd, ok
}

// TokenDetails — снимок OAuth-доступа, принадлежащий конкретному посту.
type TokenDetails struct {
	AccessToken  string     `json:"accessToken"`
	RefreshToken string     `json:"refreshToken,omitempty"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
	Scopes       []string   `json:"scopes,omitempty"`
}

// Expired сообщает, что срок действия токена истёк к моменту now.
func (t *TokenDetails) Expired(now time.Time) bool {
	return t != nil && t.ExpiryDate != nil && t.ExpiryDate.Before(now)
}

// Usable сообщает, что снимок содержит access token.
func (t *TokenDetails) Usable() bool {
	return t != nil && strings.TrimSpace(t.AccessToken) != ""
}

// HasCredentials сообщает, что по снимку можно получить доступ: есть access или refresh token.
func (t *TokenDetails) HasCredentials() bool {
	return t.Usable() || (t != nil && strings.TrimSpace(t.RefreshToken) != "")
}

// NeedsRefresh сообщает, что перед публикацией нужно обновить access token.
func (t *TokenDetails) NeedsRefresh(now time.Time) bool {
	if t == nil {
		return false
	}
	return t.Expired(now) || (!t.Usable() && strings.TrimSpace(t.RefreshToken) != "")
}

// ScheduledPost — пост для профиля компании, публикуемый сразу или по расписанию.
type ScheduledPost struct {
	ID           string        `json:"id"`
	Content      string        `json:"content"`
	AccountID    string        `json:"accountId"`
	LocationID   string        `json:"locationId"`
	BusinessName string        `json:"businessName,omitempty"`
	IsScheduled  bool          `json:"isScheduled"`
	ScheduledFor *time.Time    `json:"scheduledFor"`
	IsRecurring  bool          `json:"isRecurring"`
	RepeatType   RepeatType    `json:"repeatType"`
	RepeatDays   []Weekday     `json:"repeatDays"`
	Status       PostStatus    `json:"status"`
	LastRun      *time.Time    `json:"lastRun"`
	NextRun      *time.Time    `json:"nextRun"`
	PostedAt     *time.Time    `json:"postedAt"`
	LastError    string        `json:"error,omitempty"`
	Attempts     int           `json:"attempts"`
	TokenDetails *TokenDetails `json:"-"`
	CreatedBy    string        `json:"createdBy,omitempty"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// CalculateNextRun возвращает следующее срабатывание повторяющегося поста или nil.
func (p *ScheduledPost) CalculateNextRun(now time.Time) *time.Time {
	if !p.IsRecurring || p.ScheduledFor == nil {
		return nil
	}
	next, ok := NextOccurrence(*p.ScheduledFor, p.RepeatType, p.RepeatDays, now)
	if !ok {
		return nil
	}
	return &next
}

// RecomputeNextRun пересчитывает nextRun после изменения параметров расписания.
// Пока первый запуск не наступил, nextRun совпадает со scheduledFor.
func (p *ScheduledPost) RecomputeNextRun(now time.Time) {
	if p.IsRecurring && p.ScheduledFor != nil && p.ScheduledFor.After(now) {
		p.NextRun = cloneTime(p.ScheduledFor)
		return
	}
	p.NextRun = p.CalculateNextRun(now)
}

// DueAt возвращает время, по которому пост сортируется в списках.
func (p *ScheduledPost) DueAt() *time.Time {
	if p.NextRun != nil {
		return p.NextRun
	}
	return p.ScheduledFor
}

// Clone возвращает глубокую копию поста.
func (p ScheduledPost) Clone() ScheduledPost {
	cp := p
	cp.ScheduledFor = cloneTime(p.ScheduledFor)
	cp.LastRun = cloneTime(p.LastRun)
	cp.NextRun = cloneTime(p.NextRun)
	cp.PostedAt = cloneTime(p.PostedAt)
	if p.RepeatDays != nil {
		cp.RepeatDays = append([]Weekday(nil), p.RepeatDays...)
	}
	if p.TokenDetails != nil {
		td := *p.TokenDetails
		td.ExpiryDate = cloneTime(p.TokenDetails.ExpiryDate)
		if p.TokenDetails.Scopes != nil {
			td.Scopes = append([]string(nil), p.TokenDetails.Scopes...)
		}
		cp.TokenDetails = &td
	}
	return cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr возвращает указатель на время в UTC.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
