package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPostNotFound возвращается, когда пост не найден.
	ErrPostNotFound = errors.New("scheduled post not found")

	// ErrValidation оборачивает ошибки проверки запроса на создание поста.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransition возвращается при недопустимой смене статуса.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStatusConflict возвращается, когда статус поста изменился между чтением и записью.
	ErrStatusConflict = errors.New("post status changed concurrently")

	// ErrCredentialsMissing возвращается, если у поста нет OAuth-доступа.
	ErrCredentialsMissing = errors.New("post has no oauth credentials")

	// ErrInvalidTimezone возвращается, если указан некорректный часовой пояс.
	ErrInvalidTimezone = errors.New("invalid timezone")
)

// PublishError описывает отказ внешнего API публикации.
type PublishError struct {
	StatusCode int
	Body       string
}

func (e *PublishError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("publish failed: status %d", e.StatusCode)
	}
	return fmt.Sprintf("publish failed: status %d: %s", e.StatusCode, e.Body)
}

// CredentialError описывает невозможность получить рабочий access token.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("oauth credentials: %v", e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// StoreError помечает ошибку хранилища внутри транзакции обработки поста.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsStoreError сообщает, что в цепочке ошибок есть ошибка хранилища.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}
