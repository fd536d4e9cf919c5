// Package notify sends operational alerts to an admin Telegram chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/digkill/leadmail/internal/config"
	"github.com/digkill/leadmail/internal/models"
)

type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	log    *slog.Logger
}

func NewTelegram(cfg config.Config, log *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return nil, fmt.Errorf("telegram bot api: %w", err)
	}
	return NewTelegramWithAPI(api, cfg.TelegramAdminChatID, log), nil
}

func NewTelegramWithAPI(api *tgbotapi.BotAPI, chatID int64, log *slog.Logger) *Telegram {
	return &Telegram{api: api, chatID: chatID, log: log}
}

func (t *Telegram) NotifyPurchase(ctx context.Context, purchase models.CreditPurchase, balance int) error {
	var b strings.Builder
	b.WriteString("Credits purchased\n")
	fmt.Fprintf(&b, "User: %s\n", purchase.UserID)
	fmt.Fprintf(&b, "Credits: +%d (balance %d)\n", purchase.Credits, balance)
	if purchase.ProviderRef != "" {
		fmt.Fprintf(&b, "Ref: %s\n", purchase.ProviderRef)
	}
	return t.send(ctx, b.String())
}

func (t *Telegram) send(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(t.chatID, strings.TrimSpace(text))
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		return fmt.Errorf("send telegram message: %w", err)
	}
	if t.log != nil {
		t.log.Debug("telegram notification sent", "chat_id", t.chatID)
	}
	return nil
}
