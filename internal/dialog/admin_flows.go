package dialog

import (
	"context"
	"errors"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
	"github.com/mmeshcher/rewardbot/internal/service"
	"github.com/mmeshcher/rewardbot/internal/validation"
)

// pendingListLimit ограничивает длину списков ожидающих записей в
// панели модератора.
const pendingListLimit = 10

// handleAdminAction обрабатывает пункты панели модератора. Второй
// результат сообщает, был ли тег опознан. Проверка прав выполняется на
// входе в поток; привилегированные операции дополнительно проверяются
// на уровне сервиса.
func (e *Engine) handleAdminAction(ctx context.Context, u *model.User, action string) (step, bool, error) {
	switch action {
	case "admin_panel", "admin_users", "admin_adjust", "admin_broadcast",
		"admin_block", "admin_unblock", "admin_delete",
		"admin_pending_work", "admin_pending_payouts",
		"admin_grant", "admin_revoke", "admin_settings", "admin_report":
	default:
		return step{}, false, nil
	}

	ok, err := e.service.IsModerator(ctx, u.ID)
	if err != nil {
		return step{}, true, err
	}
	if !ok {
		return stay(u, Reply{Text: msgNotAllowed}), true, nil
	}

	switch action {
	case "admin_panel":
		return stay(u, Reply{Text: msgAdminPanel, Buttons: adminMenu(e.service.IsRoot(u.ID)), Edit: true}), true, nil

	case "admin_users":
		count, err := e.service.CountUsers(ctx, u.ID)
		if err != nil {
			return step{}, true, err
		}
		return stay(u, Reply{Text: msgUserCount(count), Buttons: adminBackMenu(), Edit: true}), true, nil

	case "admin_adjust":
		return adminStep(model.StateAdminAdjustUser, nil, msgAskTargetUser), true, nil

	case "admin_broadcast":
		return adminStep(model.StateAdminBroadcast, nil, msgAskBroadcast), true, nil

	case "admin_block":
		return adminStep(model.StateAdminBlockUser, model.Scratch{"op": "block"}, msgAskTargetUser), true, nil

	case "admin_unblock":
		return adminStep(model.StateAdminBlockUser, model.Scratch{"op": "unblock"}, msgAskTargetUser), true, nil

	case "admin_delete":
		return adminStep(model.StateAdminBlockUser, model.Scratch{"op": "delete"}, msgAskTargetUser), true, nil

	case "admin_pending_work":
		items, err := e.service.ListPendingWorkItems(ctx, u.ID, pendingListLimit)
		if err != nil {
			return step{}, true, err
		}
		text, buttons := renderPendingWork(items)
		return stay(u, Reply{Text: text, Buttons: buttons, Edit: true}), true, nil

	case "admin_pending_payouts":
		payouts, err := e.service.ListPendingPayouts(ctx, u.ID, pendingListLimit)
		if err != nil {
			return step{}, true, err
		}
		text, buttons := renderPendingPayouts(payouts)
		return stay(u, Reply{Text: text, Buttons: buttons, Edit: true}), true, nil

	case "admin_grant":
		if !e.service.IsRoot(u.ID) {
			return stay(u, Reply{Text: msgNotAllowed}), true, nil
		}
		return adminStep(model.StateAdminGrant, nil, msgAskTargetUser), true, nil

	case "admin_revoke":
		if !e.service.IsRoot(u.ID) {
			return stay(u, Reply{Text: msgNotAllowed}), true, nil
		}
		return adminStep(model.StateAdminRevoke, nil, msgAskTargetUser), true, nil

	case "admin_settings":
		if !e.service.IsRoot(u.ID) {
			return stay(u, Reply{Text: msgNotAllowed}), true, nil
		}
		settings, err := e.service.GetSettings(ctx)
		if err != nil {
			return step{}, true, err
		}
		return stay(u, Reply{Text: msgSettings(settings), Buttons: settingsMenu(), Edit: true}), true, nil

	case "admin_report":
		if !e.service.IsRoot(u.ID) {
			return stay(u, Reply{Text: msgNotAllowed}), true, nil
		}
		rep, err := e.service.GetLiability(ctx, u.ID)
		if err != nil {
			return step{}, true, err
		}
		return stay(u, Reply{Text: msgLiability(rep), Buttons: adminBackMenu(), Edit: true}), true, nil
	}

	return step{}, false, nil
}

func adminStep(next model.State, scratch model.Scratch, prompt string) step {
	if scratch == nil {
		scratch = model.Scratch{}
	}
	return step{
		next:    next,
		scratch: scratch,
		replies: []Reply{{Text: prompt, Edit: true}},
	}
}

// onAdminSettingKey запоминает редактируемый параметр и запрашивает
// новое значение. Только root.
func (e *Engine) onAdminSettingKey(ctx context.Context, u *model.User, key string) (step, error) {
	if !e.service.IsRoot(u.ID) {
		return stay(u, Reply{Text: msgNotAllowed}), nil
	}

	switch key {
	case "task_reward", "referral_bonus", "min_withdrawal", "support_contact", "payment_channel", "guide_text":
	default:
		return stay(u, Reply{Text: msgUseMenu}), nil
	}

	return adminStep(model.StateAdminSettingValue, model.Scratch{"key": key}, msgAskSettingValue(key)), nil
}

func (e *Engine) onAdminAdjustUser(ctx context.Context, u *model.User, text string) (step, error) {
	target, ok := validation.ParseUserID(text)
	if !ok {
		return stay(u, Reply{Text: msgBadUserID}), nil
	}

	if _, err := e.service.GetUser(ctx, target); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return stay(u, Reply{Text: msgUserNotFound}), nil
		}
		return step{}, err
	}

	scratch := u.Scratch.Clone()
	scratch["target"] = text

	return step{
		next:    model.StateAdminAdjustAmount,
		scratch: scratch,
		replies: []Reply{{Text: msgAskAdjustAmount}},
	}, nil
}

func (e *Engine) onAdminAdjustAmount(ctx context.Context, u *model.User, text string) (step, error) {
	delta, ok := validation.ParseSignedAmount(text)
	if !ok {
		return stay(u, Reply{Text: msgBadAmount}), nil
	}

	target, ok := validation.ParseUserID(u.Scratch["target"])
	if !ok {
		return toIdle(Reply{Text: msgUseMenu}), nil
	}

	if err := e.service.AdjustBalance(ctx, u.ID, target, delta); err != nil {
		return step{}, err
	}

	return toIdle(Reply{Text: msgAdjustDone(target, delta), Buttons: adminBackMenu()}), nil
}

func (e *Engine) onAdminBroadcast(ctx context.Context, u *model.User, text string) (step, error) {
	sent, failed, err := e.service.Broadcast(ctx, u.ID, text)
	if err != nil {
		return step{}, err
	}
	return toIdle(Reply{Text: msgBroadcastDone(sent, failed), Buttons: adminBackMenu()}), nil
}

func (e *Engine) onAdminGrant(ctx context.Context, u *model.User, text string) (step, error) {
	target, ok := validation.ParseUserID(text)
	if !ok {
		return stay(u, Reply{Text: msgBadUserID}), nil
	}

	created, err := e.service.GrantModerator(ctx, u.ID, target)
	if err != nil {
		if errors.Is(err, service.ErrRootImmutable) {
			return toIdle(Reply{Text: msgRootImmutable, Buttons: adminBackMenu()}), nil
		}
		return step{}, err
	}

	if !created {
		return toIdle(Reply{Text: msgAlreadyModerator, Buttons: adminBackMenu()}), nil
	}
	return toIdle(Reply{Text: msgGrantDone(target), Buttons: adminBackMenu()}), nil
}

func (e *Engine) onAdminRevoke(ctx context.Context, u *model.User, text string) (step, error) {
	target, ok := validation.ParseUserID(text)
	if !ok {
		return stay(u, Reply{Text: msgBadUserID}), nil
	}

	removed, err := e.service.RevokeModerator(ctx, u.ID, target)
	if err != nil {
		if errors.Is(err, service.ErrRootImmutable) {
			return toIdle(Reply{Text: msgRootImmutable, Buttons: adminBackMenu()}), nil
		}
		return step{}, err
	}

	if !removed {
		return toIdle(Reply{Text: msgNotModerator, Buttons: adminBackMenu()}), nil
	}
	return toIdle(Reply{Text: msgRevokeDone(target), Buttons: adminBackMenu()}), nil
}

func (e *Engine) onAdminBlockUser(ctx context.Context, u *model.User, text string) (step, error) {
	target, ok := validation.ParseUserID(text)
	if !ok {
		return stay(u, Reply{Text: msgBadUserID}), nil
	}

	op := u.Scratch["op"]

	var err error
	switch op {
	case "block":
		err = e.service.SetBlocked(ctx, u.ID, target, true)
	case "unblock":
		err = e.service.SetBlocked(ctx, u.ID, target, false)
	case "delete":
		err = e.service.DeleteUser(ctx, u.ID, target)
	default:
		return toIdle(Reply{Text: msgUseMenu}), nil
	}
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return stay(u, Reply{Text: msgUserNotFound}), nil
		}
		return step{}, err
	}

	return toIdle(Reply{Text: msgUserOpDone(op, target), Buttons: adminBackMenu()}), nil
}

func (e *Engine) onAdminSettingValue(ctx context.Context, u *model.User, text string) (step, error) {
	key := u.Scratch["key"]

	err := e.service.UpdateSetting(ctx, u.ID, key, text)
	if err != nil {
		if errors.Is(err, service.ErrBadSettingValue) {
			return stay(u, Reply{Text: msgBadAmount}), nil
		}
		if errors.Is(err, service.ErrUnknownSetting) {
			return toIdle(Reply{Text: msgUseMenu}), nil
		}
		return step{}, err
	}

	return toIdle(Reply{Text: msgSettingDone(key), Buttons: adminBackMenu()}), nil
}
