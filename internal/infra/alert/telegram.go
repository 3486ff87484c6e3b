// Package alert pushes ops alerts for anomalies that need a human:
// unknown product mappings, invariant violations, failed saga
// compensations.
package alert

import (
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends alerts to the configured admin chat. A nil *Telegram
// is valid and drops everything, so call sites don't branch.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

// New returns nil (alerts disabled) when token or chatID is unset.
func New(token string, chatID int64, log *slog.Logger) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &Telegram{bot: bot, chatID: chatID, log: log}, nil
}

// Notify is fire-and-forget: alerting must never block or fail a
// webhook acknowledgement.
func (t *Telegram) Notify(text string) {
	if t == nil {
		return
	}
	go func() {
		msg := tgbotapi.NewMessage(t.chatID, text)
		if _, err := t.bot.Send(msg); err != nil {
			t.log.Error("failed to send admin alert", "err", err)
		}
	}()
}
