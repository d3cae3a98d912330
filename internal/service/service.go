// Package service реализует бизнес-логику бота вознаграждений.
package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
	"github.com/mmeshcher/rewardbot/internal/validation"
)

// ErrNotAllowed возвращается при попытке выполнить привилегированную
// операцию без соответствующих прав.
var (
	ErrNotAllowed = errors.New("operation not allowed")
	// ErrBelowMinimum возвращается, если сумма выплаты меньше порога.
	ErrBelowMinimum = errors.New("amount below minimum withdrawal")
	// ErrUnknownSetting возвращается при попытке изменить неизвестный параметр.
	ErrUnknownSetting = errors.New("unknown setting key")
	// ErrBadSettingValue возвращается, если значение параметра не разбирается.
	ErrBadSettingValue = errors.New("bad setting value")
	// ErrRootImmutable возвращается при попытке выдать или отозвать права root-аккаунта.
	ErrRootImmutable = errors.New("root account cannot be granted or revoked")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, id int64, username, firstName string, referredBy *int64) (bool, error)
	GetUser(ctx context.Context, id int64) (*model.User, error)
	ApplyDelta(ctx context.Context, userID, delta int64) error
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error
	SetBlocked(ctx context.Context, userID int64, blocked bool) error
	DeleteUser(ctx context.Context, userID int64) error
	ForEachUserID(ctx context.Context, fn func(id int64) error) error
	CountUsers(ctx context.Context) (int64, error)
	GetLiability(ctx context.Context) (*model.LiabilityReport, error)
	CreateWorkItem(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error)
	ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID, reward int64) (model.Resolution, int64, error)
	ListPendingWorkItems(ctx context.Context, limit int) ([]model.WorkItem, error)
	CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error)
	ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, *model.PayoutRequest, error)
	ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error)
	AddModerator(ctx context.Context, userID, grantedBy int64) (bool, error)
	RemoveModerator(ctx context.Context, userID int64) (bool, error)
	HasModerator(ctx context.Context, userID int64) (bool, error)
	GetSettings(ctx context.Context) (*model.Settings, error)
	UpdateSettings(ctx context.Context, s *model.Settings) error
}

// Button описывает кнопку, прикладываемую к исходящему уведомлению.
type Button struct {
	Label  string
	Action string
}

// Notifier описывает канал исходящих уведомлений пользователям.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
	NotifyActions(ctx context.Context, userID int64, text string, buttons [][]Button) error
}

// broadcastDelay — пауза между отправками рассылки, чтобы не упираться
// в лимиты исходящих сообщений Telegram.
const broadcastDelay = 50 * time.Millisecond

// Service содержит бизнес-логику бота вознаграждений.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger
	adminID  int64
}

// NewService создаёт новый сервис. adminID — идентификатор root-аккаунта.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, adminID int64) *Service {
	return &Service{
		repo:     repo,
		notifier: notifier,
		logger:   logger,
		adminID:  adminID,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// IsRoot проверяет, является ли пользователь root-аккаунтом.
func (s *Service) IsRoot(userID int64) bool {
	return userID == s.adminID
}

// IsModerator проверяет права модерации: root либо делегированное право.
func (s *Service) IsModerator(ctx context.Context, userID int64) (bool, error) {
	if s.IsRoot(userID) {
		return true, nil
	}
	return s.repo.HasModerator(ctx, userID)
}

// RegisterUser создаёт пользователя при первом контакте и возвращает
// его запись. refToken — необязательный реферальный токен из /start.
// Бонус начисляется рефереру ровно один раз, в момент создания записи;
// новый пользователь всегда открывается с нулевым балансом.
func (s *Service) RegisterUser(ctx context.Context, id int64, username, firstName, refToken string) (*model.User, bool, error) {
	referredBy := s.parseReferrer(id, refToken)

	created, err := s.repo.CreateUser(ctx, id, username, firstName, referredBy)
	if err != nil {
		return nil, false, err
	}

	if created && referredBy != nil {
		if err := s.creditReferralBonus(ctx, *referredBy); err != nil {
			s.logger.Error("credit referral bonus failed",
				zap.Error(err), zap.Int64("referrer", *referredBy), zap.Int64("user", id))
		}
	}

	u, err := s.repo.GetUser(ctx, id)
	if err != nil {
		return nil, false, err
	}

	return u, created, nil
}

// parseReferrer валидирует реферальный токен: число, не сам пользователь.
func (s *Service) parseReferrer(userID int64, refToken string) *int64 {
	if refToken == "" {
		return nil
	}
	ref, err := strconv.ParseInt(refToken, 10, 64)
	if err != nil || ref <= 0 || ref == userID {
		return nil
	}
	return &ref
}

func (s *Service) creditReferralBonus(ctx context.Context, referrerID int64) error {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}
	if settings.ReferralBonus <= 0 {
		return nil
	}

	if err := s.repo.ApplyDelta(ctx, referrerID, settings.ReferralBonus); err != nil {
		// Несуществующий реферер означает недействительный токен,
		// это не ошибка регистрации нового пользователя.
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil
		}
		return err
	}

	if err := s.notifier.Notify(ctx, referrerID, msgReferralBonus(settings.ReferralBonus)); err != nil {
		s.logger.Warn("referral bonus notification failed", zap.Error(err), zap.Int64("referrer", referrerID))
	}

	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (s *Service) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetUser(ctx, id)
}

// GetBalance возвращает снимок баланса пользователя.
func (s *Service) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.repo.GetBalance(ctx, userID)
}

// SetDialogState сохраняет состояние диалога пользователя.
func (s *Service) SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error {
	return s.repo.SetDialogState(ctx, userID, state, scratch)
}

// GetSettings возвращает глобальные настройки программы.
func (s *Service) GetSettings(ctx context.Context) (*model.Settings, error) {
	return s.repo.GetSettings(ctx)
}

// SubmitWork сохраняет заявленную работу и уведомляет root-аккаунт,
// прикладывая кнопки разрешения.
func (s *Service) SubmitWork(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error) {
	id, err := s.repo.CreateWorkItem(ctx, userID, kind, payload)
	if err != nil {
		return 0, err
	}

	buttons := [][]Button{{
		{Label: "✅ Принять", Action: "wapprove_" + strconv.FormatInt(id, 10)},
		{Label: "❌ Отклонить", Action: "wreject_" + strconv.FormatInt(id, 10)},
	}}
	if err := s.notifier.NotifyActions(ctx, s.adminID, msgWorkSubmitted(id, userID, kind, payload), buttons); err != nil {
		s.logger.Warn("moderator notification failed", zap.Error(err), zap.Int64("workItem", id))
	}

	return id, nil
}

// ResolveWorkItem разрешает работу от имени модератора. Повторное
// разрешение — штатный no-op: побочный эффект и уведомление
// отправителю происходят только при первом разрешении.
func (s *Service) ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID int64) (model.Resolution, error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotAllowed
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return 0, err
	}

	outcome, submitterID, err := s.repo.ResolveWorkItem(ctx, id, approve, moderatorID, settings.TaskReward)
	if err != nil {
		return 0, err
	}

	if outcome == model.ResolutionApplied {
		text := msgWorkRejected()
		if approve {
			text = msgWorkApproved(settings.TaskReward)
		}
		if err := s.notifier.Notify(ctx, submitterID, text); err != nil {
			s.logger.Warn("submitter notification failed", zap.Error(err), zap.Int64("user", submitterID))
		}
	}

	return outcome, nil
}

// ListPendingWorkItems возвращает работы, ожидающие проверки.
func (s *Service) ListPendingWorkItems(ctx context.Context, moderatorID int64, limit int) ([]model.WorkItem, error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAllowed
	}
	return s.repo.ListPendingWorkItems(ctx, limit)
}

// CreatePayout создаёт заявку на выплату. Сумма проверяется против
// минимального порога и свежего баланса, списание выполняется до того,
// как заявка станет видна модераторам.
func (s *Service) CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return 0, err
	}
	if amount < settings.MinWithdrawal {
		return 0, ErrBelowMinimum
	}

	id, err := s.repo.CreatePayout(ctx, userID, amount, method, destination)
	if err != nil {
		return 0, err
	}

	buttons := [][]Button{{
		{Label: "💸 Выплачено", Action: "paid_" + strconv.FormatInt(id, 10)},
		{Label: "↩️ Отказать", Action: "refund_" + strconv.FormatInt(id, 10)},
	}}
	if err := s.notifier.NotifyActions(ctx, s.adminID, msgPayoutRequested(id, userID, amount, method, destination), buttons); err != nil {
		s.logger.Warn("moderator notification failed", zap.Error(err), zap.Int64("payout", id))
	}

	return id, nil
}

// ResolvePayout завершает заявку на выплату от имени модератора.
// paid — терминальная смена статуса без движения по балансу, отказ
// возвращает сумму ровно один раз.
func (s *Service) ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotAllowed
	}

	outcome, payout, err := s.repo.ResolvePayout(ctx, id, paid, moderatorID)
	if err != nil {
		return 0, err
	}

	if outcome == model.ResolutionApplied {
		text := msgPayoutRejected(payout.Amount)
		if paid {
			text = msgPayoutPaid(payout.Amount)
		}
		if err := s.notifier.Notify(ctx, payout.UserID, text); err != nil {
			s.logger.Warn("requester notification failed", zap.Error(err), zap.Int64("user", payout.UserID))
		}
	}

	return outcome, nil
}

// ListPendingPayouts возвращает заявки на выплату, ожидающие решения.
func (s *Service) ListPendingPayouts(ctx context.Context, moderatorID int64, limit int) ([]model.PayoutRequest, error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotAllowed
	}
	return s.repo.ListPendingPayouts(ctx, limit)
}

// AdjustBalance изменяет баланс пользователя от имени модератора.
// Отрицательные дельты допустимы, баланс при этом может уйти в минус.
func (s *Service) AdjustBalance(ctx context.Context, moderatorID, userID, delta int64) error {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}

	if err := s.repo.ApplyDelta(ctx, userID, delta); err != nil {
		return err
	}

	if err := s.notifier.Notify(ctx, userID, msgBalanceAdjusted(delta)); err != nil {
		s.logger.Warn("adjustment notification failed", zap.Error(err), zap.Int64("user", userID))
	}

	return nil
}

// SetBlocked включает или снимает блокировку пользователя.
func (s *Service) SetBlocked(ctx context.Context, moderatorID, userID int64, blocked bool) error {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}
	return s.repo.SetBlocked(ctx, userID, blocked)
}

// DeleteUser необратимо удаляет пользователя.
func (s *Service) DeleteUser(ctx context.Context, moderatorID, userID int64) error {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAllowed
	}
	return s.repo.DeleteUser(ctx, userID)
}

// GrantModerator выдаёт делегированное право модерации. Только root.
// Root-аккаунт хранится в конфигурации, его права выдать нельзя.
func (s *Service) GrantModerator(ctx context.Context, rootID, userID int64) (bool, error) {
	if !s.IsRoot(rootID) {
		return false, ErrNotAllowed
	}
	if s.IsRoot(userID) {
		return false, ErrRootImmutable
	}
	return s.repo.AddModerator(ctx, userID, rootID)
}

// RevokeModerator отзывает делегированное право модерации. Только root.
func (s *Service) RevokeModerator(ctx context.Context, rootID, userID int64) (bool, error) {
	if !s.IsRoot(rootID) {
		return false, ErrNotAllowed
	}
	if s.IsRoot(userID) {
		return false, ErrRootImmutable
	}
	return s.repo.RemoveModerator(ctx, userID)
}

// UpdateSetting изменяет один параметр настроек. Только root.
// Денежные параметры принимают суммы в BDT и хранятся в пойшах.
func (s *Service) UpdateSetting(ctx context.Context, rootID int64, key, rawValue string) error {
	if !s.IsRoot(rootID) {
		return ErrNotAllowed
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return err
	}

	switch key {
	case "task_reward", "referral_bonus", "min_withdrawal":
		amount, ok := validation.ParseAmount(rawValue)
		if !ok {
			return ErrBadSettingValue
		}
		switch key {
		case "task_reward":
			settings.TaskReward = amount
		case "referral_bonus":
			settings.ReferralBonus = amount
		case "min_withdrawal":
			settings.MinWithdrawal = amount
		}
	case "support_contact":
		settings.SupportContact = rawValue
	case "payment_channel":
		settings.PaymentChannel = rawValue
	case "guide_text":
		settings.GuideText = rawValue
	default:
		return ErrUnknownSetting
	}

	return s.repo.UpdateSettings(ctx, settings)
}

// GetLiability возвращает сводку обязательств системы. Только root.
func (s *Service) GetLiability(ctx context.Context, rootID int64) (*model.LiabilityReport, error) {
	if !s.IsRoot(rootID) {
		return nil, ErrNotAllowed
	}
	return s.repo.GetLiability(ctx)
}

// CountUsers возвращает число зарегистрированных пользователей.
func (s *Service) CountUsers(ctx context.Context, moderatorID int64) (int64, error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNotAllowed
	}
	return s.repo.CountUsers(ctx)
}

// Broadcast рассылает текст всем незаблокированным пользователям.
// Недоставка одному получателю не прерывает рассылку, между отправками
// выдерживается пауза. Отмена контекста останавливает рассылку.
func (s *Service) Broadcast(ctx context.Context, moderatorID int64, text string) (sent, failed int, err error) {
	ok, err := s.IsModerator(ctx, moderatorID)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, ErrNotAllowed
	}

	err = s.repo.ForEachUserID(ctx, func(id int64) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := s.notifier.Notify(ctx, id, text); err != nil {
			failed++
			s.logger.Warn("broadcast delivery failed", zap.Error(err), zap.Int64("user", id))
		} else {
			sent++
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(broadcastDelay):
			return nil
		}
	})
	if err != nil {
		return sent, failed, err
	}

	return sent, failed, nil
}
