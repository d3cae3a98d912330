// Package bot содержит адаптер Telegram: приём обновлений, отправку
// ответов и сериализацию обработки по пользователям.
package bot

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/hashicorp/go-retryablehttp"
)

// apiTimeout ограничивает каждый исходящий вызов Telegram API.
const apiTimeout = 10 * time.Second

// NewAPI создаёт клиент Telegram API поверх retryablehttp: временные
// сетевые сбои повторяются, каждый вызов ограничен по времени.
func NewAPI(token string) (*tgbotapi.BotAPI, error) {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.HTTPClient.Timeout = apiTimeout
	rc.Logger = nil

	api, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, rc.StandardClient())
	if err != nil {
		return nil, fmt.Errorf("init telegram api: %w", err)
	}

	return api, nil
}
