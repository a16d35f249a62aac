package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"review-hub/internal/domain"
	"review-hub/internal/infra/metrics"
)

// Sender — часть tgbotapi.BotAPI, которая нужна для отправки сообщений.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Alerter отправляет оператору сообщения о неудачных публикациях.
type Alerter struct {
	bot    Sender
	chatID int64
}

var _ domain.FailureAlerter = (*Alerter)(nil)

// NewAlerter создаёт Alerter для чата chatID.
func NewAlerter(bot Sender, chatID int64) *Alerter {
	return &Alerter{bot: bot, chatID: chatID}
}

// AlertFailure отправляет сообщение о неудаче, разбивая длинный текст на части.
func (a *Alerter) AlertFailure(ctx context.Context, post domain.ScheduledPost, reason string) error {
	for _, part := range SplitMessage(FormatFailure(post, reason)) {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()
		_, err := a.bot.Send(tgbotapi.NewMessage(a.chatID, part))
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(a.chatID, 10), start, err)
		if err != nil {
			metrics.AlertSendErrors.Inc()
			return fmt.Errorf("send alert: %w", err)
		}
	}
	return nil
}

// FormatFailure собирает текст оповещения.
func FormatFailure(post domain.ScheduledPost, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ Не удалось опубликовать пост %s\n", post.ID)
	if post.BusinessName != "" {
		fmt.Fprintf(&b, "Компания: %s\n", post.BusinessName)
	}
	fmt.Fprintf(&b, "Аккаунт: %s, локация: %s\n", post.AccountID, post.LocationID)
	if post.CreatedBy != "" {
		fmt.Fprintf(&b, "Автор: %s\n", post.CreatedBy)
	}
	fmt.Fprintf(&b, "Попытка: %d\n", post.Attempts)
	fmt.Fprintf(&b, "Ошибка: %s\n\n", reason)
	b.WriteString(post.Content)
	return b.String()
}
