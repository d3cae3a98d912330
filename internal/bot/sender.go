package bot

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/mmeshcher/rewardbot/internal/dialog"
	"github.com/mmeshcher/rewardbot/internal/service"
)

// Sender отправляет уведомления пользователям. Реализует контракт
// service.Notifier; таймаут обеспечивается HTTP-клиентом API.
type Sender struct {
	api *tgbotapi.BotAPI
}

// NewSender создаёт отправитель уведомлений поверх клиента Telegram API.
func NewSender(api *tgbotapi.BotAPI) *Sender {
	return &Sender{api: api}
}

// Notify отправляет пользователю текстовое сообщение.
func (s *Sender) Notify(ctx context.Context, userID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(userID, text)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// NotifyActions отправляет сообщение с кнопками действий.
func (s *Sender) NotifyActions(ctx context.Context, userID int64, text string, buttons [][]service.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(userID, text)
	msg.ReplyMarkup = actionsKeyboard(buttons)
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func actionsKeyboard(buttons [][]service.Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
		}
		rows = append(rows, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func replyKeyboard(buttons [][]dialog.Button) *tgbotapi.InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			if b.URL != "" {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonURL(b.Label, b.URL))
			} else {
				btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Action))
			}
		}
		rows = append(rows, btns)
	}

	kb := tgbotapi.NewInlineKeyboardMarkup(rows...)
	return &kb
}
