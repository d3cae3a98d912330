package bot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// SetupWebhookRouter настраивает маршруты приёма обновлений по
// webhook. Путь содержит токен бота: Telegram — единственный, кто его
// знает, это и служит аутентификацией входящих запросов.
func (b *Bot) SetupWebhookRouter(ctx context.Context, token string) *chi.Mux {
	r := chi.NewRouter()

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Post("/webhook/"+token, func(w http.ResponseWriter, req *http.Request) {
		var update tgbotapi.Update
		if err := json.NewDecoder(req.Body).Decode(&update); err != nil {
			b.logger.Warn("decode webhook update failed", zap.Error(err))
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}

		// Telegram ждёт быстрый 200, обработка идёт асинхронно.
		go b.dispatch(ctx, update)
		w.WriteHeader(http.StatusOK)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	return r
}

// RegisterWebhook сообщает Telegram адрес приёма обновлений.
func (b *Bot) RegisterWebhook(baseURL, token string) error {
	wh, err := tgbotapi.NewWebhook(fmt.Sprintf("%s/webhook/%s", baseURL, token))
	if err != nil {
		return fmt.Errorf("build webhook config: %w", err)
	}

	if _, err := b.api.Request(wh); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}

	return nil
}

// DeleteWebhook снимает регистрацию webhook перед переходом в polling.
func (b *Bot) DeleteWebhook() error {
	if _, err := b.api.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
