package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/rewardbot/internal/dialog"
)

// updateTimeout ограничивает обработку одного входящего события.
// Самая длинная операция внутри — рассылка, поэтому лимит щедрый.
const updateTimeout = 2 * time.Minute

// Bot принимает обновления Telegram и передаёт их движку диалога.
type Bot struct {
	api    *tgbotapi.BotAPI
	engine *dialog.Engine
	logger *zap.Logger

	// locks сериализует обработку событий по пользователям: два
	// быстрых сообщения одного человека не перемежают чтение и запись
	// состояния диалога и не создают дубликат при первом контакте.
	locks sync.Map
}

// New создаёт адаптер Telegram поверх движка диалога.
func New(api *tgbotapi.BotAPI, engine *dialog.Engine, logger *zap.Logger) *Bot {
	return &Bot{
		api:    api,
		engine: engine,
		logger: logger,
	}
}

// Run запускает приём обновлений в режиме long polling и блокируется
// до отмены контекста.
func (b *Bot) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 60
	cfg.AllowedUpdates = []string{"message", "callback_query"}

	updates := b.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.dispatch(ctx, update)
		}
	}
}

// dispatch обрабатывает одно обновление под блокировкой пользователя.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	ev, menuMsgID, ok := mapUpdate(update)
	if !ok {
		return
	}

	mu := b.userLock(ev.UserID)
	mu.Lock()
	defer mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	replies := b.engine.Handle(ctx, ev)

	if update.CallbackQuery != nil {
		if _, err := b.api.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
			b.logger.Warn("answer callback failed", zap.Error(err), zap.Int64("user", ev.UserID))
		}
	}

	b.sendReplies(ev.UserID, menuMsgID, replies)
}

func (b *Bot) userLock(userID int64) *sync.Mutex {
	v, _ := b.locks.LoadOrStore(userID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// mapUpdate переводит обновление Telegram во входящее событие диалога.
func mapUpdate(update tgbotapi.Update) (dialog.Event, int, bool) {
	if update.Message != nil && update.Message.From != nil {
		return dialog.Event{
			UserID:    update.Message.From.ID,
			Username:  update.Message.From.UserName,
			FirstName: update.Message.From.FirstName,
			Text:      update.Message.Text,
		}, 0, true
	}

	if update.CallbackQuery != nil && update.CallbackQuery.From != nil {
		menuMsgID := 0
		if update.CallbackQuery.Message != nil {
			menuMsgID = update.CallbackQuery.Message.MessageID
		}
		return dialog.Event{
			UserID:    update.CallbackQuery.From.ID,
			Username:  update.CallbackQuery.From.UserName,
			FirstName: update.CallbackQuery.From.FirstName,
			Action:    update.CallbackQuery.Data,
			IsAction:  true,
		}, menuMsgID, true
	}

	return dialog.Event{}, 0, false
}

// sendReplies отправляет ответы движка. Edit правит сообщение с меню,
// по которому пришло нажатие; без него ответ уходит новым сообщением.
func (b *Bot) sendReplies(userID int64, menuMsgID int, replies []dialog.Reply) {
	for _, r := range replies {
		kb := replyKeyboard(r.Buttons)

		if r.Edit && menuMsgID != 0 {
			edit := tgbotapi.NewEditMessageText(userID, menuMsgID, r.Text)
			if kb != nil {
				edit.ReplyMarkup = kb
			}
			if _, err := b.api.Send(edit); err != nil {
				b.logger.Warn("edit message failed", zap.Error(err), zap.Int64("user", userID))
			}
			continue
		}

		msg := tgbotapi.NewMessage(userID, r.Text)
		if kb != nil {
			msg.ReplyMarkup = kb
		}
		if _, err := b.api.Send(msg); err != nil {
			b.logger.Warn("send message failed", zap.Error(err), zap.Int64("user", userID))
		}
	}
}
