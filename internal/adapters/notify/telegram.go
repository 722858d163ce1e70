// Package notify доставляет служебные уведомления оператору форвардера.
package notify

import (
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-forwarder/internal/infra/metrics"
)

// Notifier получает уведомления о состоянии запуска.
type Notifier interface {
	Notify(text string)
}

// Telegram шлёт уведомления ботом в админский чат.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    zerolog.Logger
}

var _ Notifier = (*Telegram)(nil)

// NewTelegram создаёт уведомителя поверх Bot API.
func NewTelegram(token string, chatID int64, log zerolog.Logger) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("bot api: %w", err)
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

// Notify отправляет текст, разбивая его по лимиту размера сообщения.
// Ошибки отправки не мешают завершению запуска.
func (t *Telegram) Notify(text string) {
	for i, part := range SplitMessage(text) {
		msg := tgbotapi.NewMessage(t.chatID, part)
		start := time.Now()
		_, err := t.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(t.chatID, 10), start, err)
		if err != nil {
			metrics.IncNotifyError()
			t.log.Error().Err(err).Int("part", i).Msg("notify: не удалось отправить уведомление")
			return
		}
	}
}

// Nop молча игнорирует уведомления, когда бот не настроен.
type Nop struct{}

var _ Notifier = Nop{}

// Notify ничего не делает.
func (Nop) Notify(string) {}
