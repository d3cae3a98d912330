package dialog

import (
	"context"
	"errors"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
	"github.com/mmeshcher/rewardbot/internal/service"
	"github.com/mmeshcher/rewardbot/internal/validation"
)

// onSubmitScreenshot завершает короткий поток: одна ссылка на скриншот.
func (e *Engine) onSubmitScreenshot(ctx context.Context, u *model.User, text string) (step, error) {
	if !validation.HasURLScheme(text) {
		return stay(u, Reply{Text: msgBadLink}), nil
	}

	if _, err := e.service.SubmitWork(ctx, u.ID, model.WorkKindScreenshot, map[string]string{
		"screenshot": text,
	}); err != nil {
		return step{}, err
	}

	return toIdle(Reply{Text: msgWorkAccepted, Buttons: backMenu()}), nil
}

// onSubmitReviewLink — первый шаг потока отзыва. Ссылка сохраняется в
// scratch до следующего шага.
func (e *Engine) onSubmitReviewLink(ctx context.Context, u *model.User, text string) (step, error) {
	if !validation.HasURLScheme(text) {
		return stay(u, Reply{Text: msgBadLink}), nil
	}

	scratch := u.Scratch.Clone()
	scratch["review_link"] = text

	return step{
		next:    model.StateSubmitReviewEmail,
		scratch: scratch,
		replies: []Reply{{Text: msgAskReviewEmail}},
	}, nil
}

// onSubmitReviewEmail — терминальный шаг потока отзыва.
func (e *Engine) onSubmitReviewEmail(ctx context.Context, u *model.User, text string) (step, error) {
	if !validation.LooksLikeEmail(text) {
		return stay(u, Reply{Text: msgBadEmail}), nil
	}

	if _, err := e.service.SubmitWork(ctx, u.ID, model.WorkKindReview, map[string]string{
		"review_link": u.Scratch["review_link"],
		"email":       text,
	}); err != nil {
		return step{}, err
	}

	return toIdle(Reply{Text: msgWorkAccepted, Buttons: backMenu()}), nil
}

// onWithdrawStart открывает поток вывода средств.
func (e *Engine) onWithdrawStart(ctx context.Context, u *model.User) (step, error) {
	settings, err := e.service.GetSettings(ctx)
	if err != nil {
		return step{}, err
	}

	balance, err := e.service.GetBalance(ctx, u.ID)
	if err != nil {
		return step{}, err
	}

	if balance < settings.MinWithdrawal {
		return toIdle(Reply{
			Text:    msgBalanceTooLow(balance, settings.MinWithdrawal),
			Buttons: backMenu(),
			Edit:    true,
		}), nil
	}

	return step{
		next:    model.StateWithdrawAmount,
		scratch: model.Scratch{},
		replies: []Reply{{Text: msgAskAmount(balance, settings.MinWithdrawal), Edit: true}},
	}, nil
}

// onWithdrawAmount проверяет сумму против минимума и свежего баланса.
// Снимок баланса действителен лишь на момент решения: окончательная
// проверка произойдёт при списании.
func (e *Engine) onWithdrawAmount(ctx context.Context, u *model.User, text string) (step, error) {
	amount, ok := validation.ParseAmount(text)
	if !ok {
		return stay(u, Reply{Text: msgBadAmount}), nil
	}

	settings, err := e.service.GetSettings(ctx)
	if err != nil {
		return step{}, err
	}
	if amount < settings.MinWithdrawal {
		return stay(u, Reply{Text: msgAmountBelowMin(settings.MinWithdrawal)}), nil
	}

	balance, err := e.service.GetBalance(ctx, u.ID)
	if err != nil {
		return step{}, err
	}
	if amount > balance {
		return stay(u, Reply{Text: msgAmountOverBalance(balance)}), nil
	}

	scratch := model.Scratch{"amount": text}
	return step{
		next:    model.StateWithdrawMethod,
		scratch: scratch,
		replies: []Reply{{Text: msgChooseMethod, Buttons: methodMenu()}},
	}, nil
}

// onWithdrawMethod фиксирует способ выплаты, выбранный кнопкой.
func (e *Engine) onWithdrawMethod(ctx context.Context, u *model.User, method string) (step, error) {
	if u.State != model.StateWithdrawMethod {
		return stay(u, Reply{Text: msgUseMenu}), nil
	}

	scratch := u.Scratch.Clone()
	scratch["method"] = method

	return step{
		next:    model.StateWithdrawDestination,
		scratch: scratch,
		replies: []Reply{{Text: msgAskDestination, Edit: true}},
	}, nil
}

// onWithdrawDestination — терминальный шаг: создание заявки и
// немедленное списание суммы с баланса.
func (e *Engine) onWithdrawDestination(ctx context.Context, u *model.User, text string) (step, error) {
	if !validation.IsValidDestination(text) {
		return stay(u, Reply{Text: msgBadDestination}), nil
	}

	amount, ok := validation.ParseAmount(u.Scratch["amount"])
	if !ok {
		// Повреждённый scratch: начать поток заново.
		return toIdle(Reply{Text: msgUseMenu}), nil
	}

	id, err := e.service.CreatePayout(ctx, u.ID, amount, model.PayoutMethod(u.Scratch["method"]), text)
	if err != nil {
		// Порог мог вырасти, пока пользователь шёл по шагам.
		if errors.Is(err, service.ErrBelowMinimum) {
			settings, setErr := e.service.GetSettings(ctx)
			if setErr != nil {
				return step{}, setErr
			}
			return step{
				next:    model.StateWithdrawAmount,
				scratch: model.Scratch{},
				replies: []Reply{{Text: msgAmountBelowMin(settings.MinWithdrawal)}},
			}, nil
		}
		// Баланс мог измениться между шагами: вернуть на шаг суммы.
		if errors.Is(err, repository.ErrInsufficientBalance) {
			balance, balErr := e.service.GetBalance(ctx, u.ID)
			if balErr != nil {
				return step{}, balErr
			}
			return step{
				next:    model.StateWithdrawAmount,
				scratch: model.Scratch{},
				replies: []Reply{{Text: msgAmountOverBalance(balance)}},
			}, nil
		}
		return step{}, err
	}

	return toIdle(Reply{Text: msgPayoutCreated(id, amount), Buttons: backMenu()}), nil
}
