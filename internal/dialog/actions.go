package dialog

import (
	"context"
	"strconv"
	"strings"

	"github.com/mmeshcher/rewardbot/internal/model"
)

// handleAction обрабатывает нажатие кнопки. Теги с идентификатором
// (разрешение работ и выплат) разбираются по префиксу, остальные —
// фиксированные пункты меню.
func (e *Engine) handleAction(ctx context.Context, u *model.User, action string) (step, error) {
	if idStr, ok := strings.CutPrefix(action, "wapprove_"); ok {
		return e.onResolveWork(ctx, u, idStr, true)
	}
	if idStr, ok := strings.CutPrefix(action, "wreject_"); ok {
		return e.onResolveWork(ctx, u, idStr, false)
	}
	if idStr, ok := strings.CutPrefix(action, "paid_"); ok {
		return e.onResolvePayout(ctx, u, idStr, true)
	}
	if idStr, ok := strings.CutPrefix(action, "refund_"); ok {
		return e.onResolvePayout(ctx, u, idStr, false)
	}
	if key, ok := strings.CutPrefix(action, "set_"); ok {
		return e.onAdminSettingKey(ctx, u, key)
	}

	switch action {
	case "back_to_main":
		settings, err := e.service.GetSettings(ctx)
		if err != nil {
			return step{}, err
		}
		return toIdle(Reply{Text: msgMainMenu, Buttons: mainMenu(settings), Edit: true}), nil

	case "show_account":
		balance, err := e.service.GetBalance(ctx, u.ID)
		if err != nil {
			return step{}, err
		}
		return stay(u, Reply{Text: msgAccount(u.ID, balance), Buttons: backMenu(), Edit: true}), nil

	case "show_guide":
		settings, err := e.service.GetSettings(ctx)
		if err != nil {
			return step{}, err
		}
		return stay(u, Reply{Text: msgGuide(settings), Buttons: backMenu(), Edit: true}), nil

	case "show_links":
		settings, err := e.service.GetSettings(ctx)
		if err != nil {
			return step{}, err
		}
		return stay(u, Reply{Text: msgLinks(settings), Buttons: backMenu(), Edit: true}), nil

	case "show_referral":
		return stay(u, Reply{Text: msgReferral(u.ID), Buttons: backMenu(), Edit: true}), nil

	case "submit_work":
		return step{
			next:    model.StateSubmitKind,
			scratch: model.Scratch{},
			replies: []Reply{{Text: msgChooseKind, Buttons: kindMenu(), Edit: true}},
		}, nil

	case "kind_screenshot":
		if u.State != model.StateSubmitKind {
			return stay(u, Reply{Text: msgUseMenu}), nil
		}
		return step{
			next:    model.StateSubmitScreenshot,
			scratch: model.Scratch{"kind": string(model.WorkKindScreenshot)},
			replies: []Reply{{Text: msgAskScreenshot, Edit: true}},
		}, nil

	case "kind_review":
		if u.State != model.StateSubmitKind {
			return stay(u, Reply{Text: msgUseMenu}), nil
		}
		return step{
			next:    model.StateSubmitReviewLink,
			scratch: model.Scratch{"kind": string(model.WorkKindReview)},
			replies: []Reply{{Text: msgAskReviewLink, Edit: true}},
		}, nil

	case "withdraw":
		return e.onWithdrawStart(ctx, u)

	case "method_bkash", "method_nagad", "method_rocket":
		return e.onWithdrawMethod(ctx, u, strings.TrimPrefix(action, "method_"))
	}

	if st, ok, err := e.handleAdminAction(ctx, u, action); ok || err != nil {
		return st, err
	}

	return stay(u, Reply{Text: msgUseMenu}), nil
}

func (e *Engine) onResolveWork(ctx context.Context, u *model.User, idStr string, approve bool) (step, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return stay(u, Reply{Text: msgUseMenu}), nil
	}

	outcome, err := e.service.ResolveWorkItem(ctx, id, approve, u.ID)
	if err != nil {
		return step{}, err
	}

	return stay(u, Reply{Text: resolutionReply(outcome)}), nil
}

func (e *Engine) onResolvePayout(ctx context.Context, u *model.User, idStr string, paid bool) (step, error) {
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return stay(u, Reply{Text: msgUseMenu}), nil
	}

	outcome, err := e.service.ResolvePayout(ctx, id, paid, u.ID)
	if err != nil {
		return step{}, err
	}

	return stay(u, Reply{Text: resolutionReply(outcome)}), nil
}

// resolutionReply переводит исход разрешения в текст модератору.
// Повторное нажатие — штатный no-op, а не ошибка.
func resolutionReply(outcome model.Resolution) string {
	switch outcome {
	case model.ResolutionApplied:
		return msgResolutionApplied
	case model.ResolutionAlreadyResolved:
		return msgAlreadyResolved
	default:
		return msgRecordNotFound
	}
}
