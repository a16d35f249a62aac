package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Submission — запрос на создание поста после разбора HTTP-тела.
type Submission struct {
	Content      string        `json:"content"`
	AccountID    string        `json:"accountId"`
	LocationID   string        `json:"locationId"`
	BusinessName string        `json:"businessName"`
	IsScheduled  bool          `json:"isScheduled"`
	ScheduledFor *time.Time    `json:"scheduledFor"`
	IsRecurring  bool          `json:"isRecurring"`
	RepeatType   RepeatType    `json:"repeatType"`
	RepeatDays   []string      `json:"repeatDays"`
	CreatedBy    string        `json:"createdBy"`
	TokenDetails *TokenDetails `json:"tokenDetails"`
}

// Validate проверяет обязательные поля и согласованность флагов расписания.
func (s Submission) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.Content,
			validation.By(notBlank("content is required"))),
		validation.Field(&s.AccountID,
			validation.Required.Error("accountId is required")),
		validation.Field(&s.LocationID,
			validation.Required.Error("locationId is required")),
		validation.Field(&s.ScheduledFor,
			validation.When(s.IsScheduled, validation.Required.Error("scheduled time is required for scheduled posts"))),
		validation.Field(&s.RepeatType,
			validation.When(s.IsRecurring,
				validation.Required.Error("valid repeatType is required for recurring posts"),
				validation.In(RepeatDaily, RepeatWeekly, RepeatMonthly).Error("valid repeatType is required for recurring posts"))),
		validation.Field(&s.RepeatDays,
			validation.When(s.IsRecurring && s.RepeatType == RepeatWeekly,
				validation.Required.Error("repeat days are required for weekly recurring posts"),
				validation.Each(validation.By(validWeekday)))),
	)
}

// ValidateSubmission проверяет запрос и оборачивает ошибку в ErrValidation.
func ValidateSubmission(s Submission) error {
	if err := s.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrValidation, err)
	}
	return nil
}

// ValidationMessages раскладывает ошибку проверки в список сообщений для ответа API.
func ValidationMessages(err error) []string {
	var fieldErrs validation.Errors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}
	messages := make([]string, 0, len(fieldErrs))
	for field, fieldErr := range fieldErrs {
		messages = append(messages, field+": "+fieldErr.Error())
	}
	sort.Strings(messages)
	return messages
}

// ToPost строит пост из проверенного запроса. Статус и nextRun выставляет вызывающая сторона.
func (s Submission) ToPost(now time.Time) ScheduledPost {
	post := ScheduledPost{
		Content:      strings.TrimSpace(s.Content),
		AccountID:    strings.TrimSpace(s.AccountID),
		LocationID:   strings.TrimSpace(s.LocationID),
		BusinessName: strings.TrimSpace(s.BusinessName),
		IsScheduled:  s.IsScheduled,
		IsRecurring:  s.IsRecurring,
		CreatedBy:    s.CreatedBy,
		TokenDetails: s.TokenDetails,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}
	if s.IsScheduled && s.ScheduledFor != nil {
		post.ScheduledFor = TimePtr(*s.ScheduledFor)
	}
	if s.IsRecurring {
		post.RepeatType = s.RepeatType
		if s.RepeatType == RepeatWeekly {
			for _, raw := range s.RepeatDays {
				if day, ok := ParseWeekday(raw); ok && !containsDay(post.RepeatDays, day) {
					post.RepeatDays = append(post.RepeatDays, day)
				}
			}
		}
	}
	return post
}

func validWeekday(value interface{}) error {
	raw, _ := value.(string)
	if _, ok := ParseWeekday(raw); !ok {
		return fmt.Errorf("unknown weekday %q", raw)
	}
	return nil
}

func notBlank(message string) validation.RuleFunc {
	return func(value interface{}) error {
		raw, _ := value.(string)
		if strings.TrimSpace(raw) == "" {
			return errors.New(message)
		}
		return nil
	}
}

func containsDay(days []Weekday, day Weekday) bool {
	for _, d := range days {
		if d == day {
			return true
		}
	}
	return false
}
