// Package dialog реализует конечный автомат диалога с пользователем.
//
// На каждое входящее событие движок загружает текущее состояние и
// накопленные значения пользователя, выбирает обработчик по таблице
// переходов и сохраняет новое состояние до отправки ответов. Команда
// /start из любого состояния сбрасывает диалог в главное меню и
// выполняет роль универсальной отмены.
package dialog

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
	"github.com/mmeshcher/rewardbot/internal/service"
)

// Event — входящее событие канала: свободный текст или нажатие кнопки.
type Event struct {
	UserID    int64
	Username  string
	FirstName string
	Text      string
	Action    string
	IsAction  bool
}

// Button — кнопка исходящего сообщения: либо тег действия, либо ссылка.
type Button struct {
	Label  string
	Action string
	URL    string
}

// Reply — исходящий ответ. Edit означает правку сообщения с меню
// вместо отправки нового.
type Reply struct {
	Text    string
	Buttons [][]Button
	Edit    bool
}

// Service описывает контракт бизнес-логики, используемый диалогом.
type Service interface {
	RegisterUser(ctx context.Context, id int64, username, firstName, refToken string) (*model.User, bool, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error
	GetSettings(ctx context.Context) (*model.Settings, error)
	IsRoot(userID int64) bool
	IsModerator(ctx context.Context, userID int64) (bool, error)
	SubmitWork(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error)
	ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID int64) (model.Resolution, error)
	ListPendingWorkItems(ctx context.Context, moderatorID int64, limit int) ([]model.WorkItem, error)
	CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error)
	ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, error)
	ListPendingPayouts(ctx context.Context, moderatorID int64, limit int) ([]model.PayoutRequest, error)
	AdjustBalance(ctx context.Context, moderatorID, userID, delta int64) error
	SetBlocked(ctx context.Context, moderatorID, userID int64, blocked bool) error
	DeleteUser(ctx context.Context, moderatorID, userID int64) error
	GrantModerator(ctx context.Context, rootID, userID int64) (bool, error)
	RevokeModerator(ctx context.Context, rootID, userID int64) (bool, error)
	UpdateSetting(ctx context.Context, rootID int64, key, rawValue string) error
	GetLiability(ctx context.Context, rootID int64) (*model.LiabilityReport, error)
	CountUsers(ctx context.Context, moderatorID int64) (int64, error)
	Broadcast(ctx context.Context, moderatorID int64, text string) (int, int, error)
}

// step — результат одного шага диалога.
type step struct {
	next    model.State
	scratch model.Scratch
	replies []Reply
}

// stay переиспользует текущее состояние при неудачной валидации:
// пользователь остаётся на том же шаге с теми же значениями.
func stay(u *model.User, replies ...Reply) step {
	return step{next: u.State, scratch: u.Scratch, replies: replies}
}

func toIdle(replies ...Reply) step {
	return step{next: model.StateIdle, scratch: model.Scratch{}, replies: replies}
}

type textHandler func(ctx context.Context, u *model.User, text string) (step, error)

// Engine — движок диалога.
type Engine struct {
	service     Service
	logger      *zap.Logger
	textHandler map[model.State]textHandler
}

// NewEngine создаёт движок диалога поверх бизнес-логики.
func NewEngine(svc Service, logger *zap.Logger) *Engine {
	e := &Engine{
		service: svc,
		logger:  logger,
	}

	// Таблица переходов для текстовых событий. Состояния, ожидающие
	// нажатие кнопки, в таблице отсутствуют: текст в них отвечается
	// повтором подсказки без смены состояния.
	e.textHandler = map[model.State]textHandler{
		model.StateSubmitScreenshot:    e.onSubmitScreenshot,
		model.StateSubmitReviewLink:    e.onSubmitReviewLink,
		model.StateSubmitReviewEmail:   e.onSubmitReviewEmail,
		model.StateWithdrawAmount:      e.onWithdrawAmount,
		model.StateWithdrawDestination: e.onWithdrawDestination,
		model.StateAdminAdjustUser:     e.onAdminAdjustUser,
		model.StateAdminAdjustAmount:   e.onAdminAdjustAmount,
		model.StateAdminBroadcast:      e.onAdminBroadcast,
		model.StateAdminGrant:          e.onAdminGrant,
		model.StateAdminRevoke:         e.onAdminRevoke,
		model.StateAdminBlockUser:      e.onAdminBlockUser,
		model.StateAdminSettingValue:   e.onAdminSettingValue,
	}

	return e
}

// Handle обрабатывает одно входящее событие и возвращает ответы.
// Вызовы для одного пользователя должны быть сериализованы снаружи.
func (e *Engine) Handle(ctx context.Context, ev Event) []Reply {
	u, created, err := e.register(ctx, ev)
	if err != nil {
		e.logger.Error("register user failed", zap.Error(err), zap.Int64("user", ev.UserID))
		return []Reply{{Text: msgStorageError}}
	}

	if u.IsBlocked {
		return []Reply{{Text: msgBlocked}}
	}

	var st step
	switch {
	case !ev.IsAction && isStartCommand(ev.Text):
		st = e.onStart(ctx, u, created)
	case !ev.IsAction && strings.TrimSpace(ev.Text) == "/admin":
		st, err = e.onAdminCommand(ctx, u)
	case ev.IsAction:
		st, err = e.handleAction(ctx, u, ev.Action)
	default:
		st, err = e.handleText(ctx, u, ev.Text)
	}
	if err != nil {
		e.logger.Error("dialog step failed",
			zap.Error(err), zap.Int64("user", u.ID), zap.String("state", string(u.State)))
		return []Reply{{Text: errorReply(err)}}
	}

	// Состояние сохраняется до отправки ответов: рестарт процесса
	// продолжит поток ровно с того шага, на котором остановился.
	if st.next != u.State || !scratchEqual(st.scratch, u.Scratch) {
		if err := e.service.SetDialogState(ctx, u.ID, st.next, st.scratch); err != nil {
			e.logger.Error("persist dialog state failed", zap.Error(err), zap.Int64("user", u.ID))
			return []Reply{{Text: msgStorageError}}
		}
	}

	return st.replies
}

// register создаёт запись пользователя при первом контакте. Токен
// реферера извлекается только из команды /start.
func (e *Engine) register(ctx context.Context, ev Event) (*model.User, bool, error) {
	refToken := ""
	if !ev.IsAction {
		refToken = startPayload(ev.Text)
	}
	return e.service.RegisterUser(ctx, ev.UserID, ev.Username, ev.FirstName, refToken)
}

// onStart сбрасывает диалог в главное меню из любого состояния.
func (e *Engine) onStart(ctx context.Context, u *model.User, created bool) step {
	settings, err := e.service.GetSettings(ctx)
	if err != nil {
		e.logger.Error("get settings failed", zap.Error(err))
		settings = &model.Settings{}
	}
	return toIdle(Reply{
		Text:    msgWelcome(u.FirstName, created),
		Buttons: mainMenu(settings),
	})
}

// onAdminCommand открывает панель модератора по команде /admin.
// Проверка прав выполняется до любых видимых действий.
func (e *Engine) onAdminCommand(ctx context.Context, u *model.User) (step, error) {
	ok, err := e.service.IsModerator(ctx, u.ID)
	if err != nil {
		return step{}, err
	}
	if !ok {
		return stay(u, Reply{Text: msgNotAllowed}), nil
	}
	return toIdle(Reply{Text: msgAdminPanel, Buttons: adminMenu(e.service.IsRoot(u.ID))}), nil
}

func (e *Engine) handleText(ctx context.Context, u *model.User, text string) (step, error) {
	if h, ok := e.textHandler[u.State]; ok {
		return h(ctx, u, text)
	}

	switch u.State {
	case model.StateSubmitKind:
		return stay(u, Reply{Text: msgChooseWithButtons}), nil
	case model.StateWithdrawMethod:
		return stay(u, Reply{Text: msgChooseWithButtons}), nil
	}

	// Свободный текст вне потока не меняет состояние.
	settings, err := e.service.GetSettings(ctx)
	if err != nil {
		return step{}, err
	}
	return stay(u, Reply{Text: msgUseMenu, Buttons: mainMenu(settings)}), nil
}

func isStartCommand(text string) bool {
	t := strings.TrimSpace(text)
	return t == "/start" || strings.HasPrefix(t, "/start ")
}

func startPayload(text string) string {
	t := strings.TrimSpace(text)
	if payload, ok := strings.CutPrefix(t, "/start "); ok {
		return strings.TrimSpace(payload)
	}
	return ""
}

func scratchEqual(a, b model.Scratch) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// errorReply переводит ошибку шага в текст для пользователя. Ошибки
// авторизации и идемпотентности — штатные ситуации со своим текстом,
// всё остальное скрывается за общим сообщением о сбое.
func errorReply(err error) string {
	switch {
	case errors.Is(err, service.ErrNotAllowed):
		return msgNotAllowed
	case errors.Is(err, repository.ErrUserNotFound):
		return msgUserNotFound
	default:
		return msgStorageError
	}
}
