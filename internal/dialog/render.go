package dialog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mmeshcher/rewardbot/internal/model"
)

// Меню — чистые функции рендеринга: они вызываются после смены
// состояния и никогда не вызывают диспетчер повторно.

func mainMenu(s *model.Settings) [][]Button {
	menu := [][]Button{
		{{Label: "💰 Сдать работу", Action: "submit_work"}},
		{
			{Label: "👤 Мой аккаунт", Action: "show_account"},
			{Label: "📚 Инструкция", Action: "show_guide"},
		},
		{
			{Label: "💸 Вывод средств", Action: "withdraw"},
			{Label: "🔗 Рефералка", Action: "show_referral"},
		},
		{{Label: "🌐 Полезные ссылки", Action: "show_links"}},
	}
	if s.PaymentChannel != "" {
		menu = append(menu, []Button{{Label: "📢 Канал выплат", URL: s.PaymentChannel}})
	}
	return menu
}

func backMenu() [][]Button {
	return [][]Button{{{Label: "🔙 В меню", Action: "back_to_main"}}}
}

func adminBackMenu() [][]Button {
	return [][]Button{{
		{Label: "👑 Панель", Action: "admin_panel"},
		{Label: "🔙 В меню", Action: "back_to_main"},
	}}
}

func kindMenu() [][]Button {
	return [][]Button{
		{{Label: "🖼 Скриншот задания", Action: "kind_screenshot"}},
		{{Label: "⭐ Отзыв на сайте", Action: "kind_review"}},
		{{Label: "🔙 В меню", Action: "back_to_main"}},
	}
}

func methodMenu() [][]Button {
	return [][]Button{
		{
			{Label: "bKash", Action: "method_bkash"},
			{Label: "Nagad", Action: "method_nagad"},
			{Label: "Rocket", Action: "method_rocket"},
		},
		{{Label: "🔙 В меню", Action: "back_to_main"}},
	}
}

func adminMenu(isRoot bool) [][]Button {
	menu := [][]Button{
		{
			{Label: "👥 Пользователи", Action: "admin_users"},
			{Label: "📢 Рассылка", Action: "admin_broadcast"},
		},
		{
			{Label: "💰 Баланс", Action: "admin_adjust"},
			{Label: "📥 Работы", Action: "admin_pending_work"},
		},
		{
			{Label: "💸 Выплаты", Action: "admin_pending_payouts"},
			{Label: "🚫 Блокировка", Action: "admin_block"},
		},
		{
			{Label: "♻️ Разблокировать", Action: "admin_unblock"},
			{Label: "🗑 Удалить", Action: "admin_delete"},
		},
	}
	if isRoot {
		menu = append(menu,
			[]Button{
				{Label: "➕ Модератор", Action: "admin_grant"},
				{Label: "➖ Модератор", Action: "admin_revoke"},
			},
			[]Button{
				{Label: "⚙️ Настройки", Action: "admin_settings"},
				{Label: "📊 Отчёт", Action: "admin_report"},
			},
		)
	}
	menu = append(menu, []Button{{Label: "🔙 В меню", Action: "back_to_main"}})
	return menu
}

func settingsMenu() [][]Button {
	return [][]Button{
		{
			{Label: "Награда за работу", Action: "set_task_reward"},
			{Label: "Реферальный бонус", Action: "set_referral_bonus"},
		},
		{
			{Label: "Минимум вывода", Action: "set_min_withdrawal"},
			{Label: "Контакт поддержки", Action: "set_support_contact"},
		},
		{
			{Label: "Канал выплат", Action: "set_payment_channel"},
			{Label: "Текст инструкции", Action: "set_guide_text"},
		},
		{{Label: "👑 Панель", Action: "admin_panel"}},
	}
}

func renderPendingWork(items []model.WorkItem) (string, [][]Button) {
	if len(items) == 0 {
		return msgNoPendingWork, adminBackMenu()
	}

	var b strings.Builder
	b.WriteString("📥 Работы на проверке:\n\n")

	var buttons [][]Button
	for _, w := range items {
		fmt.Fprintf(&b, "#%d — пользователь %d, тип %s\n", w.ID, w.UserID, w.Kind)
		for k, v := range w.Payload {
			fmt.Fprintf(&b, "   %s: %s\n", k, v)
		}
		id := strconv.FormatInt(w.ID, 10)
		buttons = append(buttons, []Button{
			{Label: fmt.Sprintf("✅ #%s", id), Action: "wapprove_" + id},
			{Label: fmt.Sprintf("❌ #%s", id), Action: "wreject_" + id},
		})
	}

	buttons = append(buttons, adminBackMenu()...)
	return b.String(), buttons
}

func renderPendingPayouts(payouts []model.PayoutRequest) (string, [][]Button) {
	if len(payouts) == 0 {
		return msgNoPendingPayouts, adminBackMenu()
	}

	var b strings.Builder
	b.WriteString("💸 Заявки на выплату:\n\n")

	var buttons [][]Button
	for _, p := range payouts {
		fmt.Fprintf(&b, "#%d — пользователь %d, %s, %s → %s\n",
			p.ID, p.UserID, fmtBDT(p.Amount), p.Method, p.Destination)
		id := strconv.FormatInt(p.ID, 10)
		buttons = append(buttons, []Button{
			{Label: fmt.Sprintf("💸 #%s", id), Action: "paid_" + id},
			{Label: fmt.Sprintf("↩️ #%s", id), Action: "refund_" + id},
		})
	}

	buttons = append(buttons, adminBackMenu()...)
	return b.String(), buttons
}

// fmtBDT форматирует сумму в пойшах как значение в BDT.
func fmtBDT(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d BDT", sign, amount/100, amount%100)
}

const (
	msgUseMenu           = "Пожалуйста, пользуйтесь кнопками меню. /start — вернуться в главное меню."
	msgChooseWithButtons = "Выберите вариант кнопкой под сообщением."
	msgBlocked           = "🚫 Вы заблокированы и не можете пользоваться ботом."
	msgStorageError      = "⚠️ Произошла ошибка, операция не выполнена. Попробуйте ещё раз позже."
	msgNotAllowed        = "🚫 Эта операция доступна только модераторам."
	msgUserNotFound      = "Пользователь с таким идентификатором не найден."
	msgMainMenu          = "Главное меню. Выберите действие:"
	msgAdminPanel        = "👑 Панель модератора. Выберите действие:"

	msgChooseKind     = "Какую работу вы хотите сдать?"
	msgAskScreenshot  = "🖼 Пришлите ссылку на скриншот выполненного задания (imgur, drive и т.п.)."
	msgAskReviewLink  = "⭐ Шаг 1 из 2. Пришлите ссылку на страницу с вашим отзывом."
	msgAskReviewEmail = "📧 Шаг 2 из 2. Пришлите e-mail аккаунта, с которого оставлен отзыв."
	msgBadLink        = "❌ Это не похоже на ссылку. Нужен адрес, начинающийся с http:// или https://."
	msgBadEmail       = "❌ Это не похоже на e-mail. Пример: name@example.com."
	msgWorkAccepted   = "✅ Работа отправлена на проверку. После одобрения модератором награда будет зачислена на баланс."

	msgChooseMethod   = "Выберите способ выплаты:"
	msgAskDestination = "Пришлите номер кошелька для выплаты (минимум 5 символов)."
	msgBadDestination = "❌ Слишком короткий реквизит. Пришлите корректный номер кошелька."
	msgBadAmount      = "❌ Неверная сумма. Пример: 25 или 25.50."

	msgAskTargetUser    = "Пришлите числовой идентификатор пользователя."
	msgBadUserID        = "❌ Нужен числовой идентификатор пользователя."
	msgAskAdjustAmount  = "Пришлите сумму корректировки в BDT. Отрицательная сумма списывает: -25.50."
	msgAskBroadcast     = "Пришлите текст рассылки. Он будет отправлен всем незаблокированным пользователям."
	msgRootImmutable    = "Права root-аккаунта изменить нельзя."
	msgAlreadyModerator = "Этот пользователь уже модератор."
	msgNotModerator     = "Этот пользователь не был модератором."

	msgResolutionApplied = "✅ Готово."
	msgAlreadyResolved   = "ℹ️ Уже обработано другим модератором."
	msgRecordNotFound    = "Запись не найдена."
	msgNoPendingWork     = "Работ на проверке нет."
	msgNoPendingPayouts  = "Заявок на выплату нет."
)

func msgWelcome(firstName string, created bool) string {
	name := firstName
	if name == "" {
		name = "друг"
	}
	if created {
		return fmt.Sprintf("Ассаляму алейкум, %s! 👋\n\nДобро пожаловать: вы зарегистрированы автоматически. Начните с главного меню.", name)
	}
	return fmt.Sprintf("Ассаляму алейкум, %s! 👋\n\nВыберите действие в главном меню.", name)
}

func msgAccount(userID, balance int64) string {
	return fmt.Sprintf("👤 Ваш аккаунт\n\n🆔 ID: %d\n💰 Баланс: %s", userID, fmtBDT(balance))
}

func msgGuide(s *model.Settings) string {
	if s.GuideText != "" {
		return s.GuideText
	}
	return fmt.Sprintf("📚 Инструкция\n\n1. Выполните задание и сохраните подтверждение.\n2. Сдайте работу через меню «Сдать работу».\n3. После проверки модератором на баланс зачислится %s.\n4. Накопите %s и закажите выплату.",
		fmtBDT(s.TaskReward), fmtBDT(s.MinWithdrawal))
}

func msgLinks(s *model.Settings) string {
	var b strings.Builder
	b.WriteString("🌐 Полезные ссылки\n\n")
	if s.SupportContact != "" {
		fmt.Fprintf(&b, "Поддержка: %s\n", s.SupportContact)
	}
	if s.PaymentChannel != "" {
		fmt.Fprintf(&b, "Канал с подтверждениями выплат: %s\n", s.PaymentChannel)
	}
	return b.String()
}

func msgReferral(userID int64) string {
	return fmt.Sprintf("🔗 Ваша реферальная ссылка:\n\nhttps://t.me/rewardbot?start=%d\n\nБонус зачисляется после регистрации приглашённого.", userID)
}

func msgBalanceTooLow(balance, minWithdrawal int64) string {
	return fmt.Sprintf("Минимальная сумма вывода — %s, на балансе %s. Продолжайте выполнять задания!",
		fmtBDT(minWithdrawal), fmtBDT(balance))
}

func msgAskAmount(balance, minWithdrawal int64) string {
	return fmt.Sprintf("Пришлите сумму вывода в BDT.\nБаланс: %s, минимум: %s.", fmtBDT(balance), fmtBDT(minWithdrawal))
}

func msgAmountBelowMin(minWithdrawal int64) string {
	return fmt.Sprintf("❌ Минимальная сумма вывода — %s. Пришлите сумму заново.", fmtBDT(minWithdrawal))
}

func msgAmountOverBalance(balance int64) string {
	return fmt.Sprintf("❌ Недостаточно средств: на балансе %s. Пришлите сумму заново.", fmtBDT(balance))
}

func msgPayoutCreated(id, amount int64) string {
	return fmt.Sprintf("✅ Заявка на выплату #%d создана, %s зарезервированы. Модератор обработает её вручную.", id, fmtBDT(amount))
}

func msgUserCount(count int64) string {
	return fmt.Sprintf("👥 Зарегистрировано пользователей: %d", count)
}

func msgAdjustDone(target, delta int64) string {
	return fmt.Sprintf("✅ Баланс пользователя %d изменён на %s.", target, fmtBDT(delta))
}

func msgBroadcastDone(sent, failed int) string {
	return fmt.Sprintf("📢 Рассылка завершена: доставлено %d, ошибок %d.", sent, failed)
}

func msgGrantDone(target int64) string {
	return fmt.Sprintf("✅ Пользователь %d назначен модератором.", target)
}

func msgRevokeDone(target int64) string {
	return fmt.Sprintf("✅ Права модератора пользователя %d отозваны.", target)
}

func msgUserOpDone(op string, target int64) string {
	switch op {
	case "block":
		return fmt.Sprintf("🚫 Пользователь %d заблокирован.", target)
	case "unblock":
		return fmt.Sprintf("♻️ Пользователь %d разблокирован.", target)
	default:
		return fmt.Sprintf("🗑 Пользователь %d удалён. Операция необратима.", target)
	}
}

func msgSettings(s *model.Settings) string {
	return fmt.Sprintf("⚙️ Настройки\n\nНаграда за работу: %s\nРеферальный бонус: %s\nМинимум вывода: %s\nПоддержка: %s\nКанал выплат: %s",
		fmtBDT(s.TaskReward), fmtBDT(s.ReferralBonus), fmtBDT(s.MinWithdrawal), s.SupportContact, s.PaymentChannel)
}

func msgAskSettingValue(key string) string {
	switch key {
	case "task_reward", "referral_bonus", "min_withdrawal":
		return "Пришлите новое значение в BDT, например 25 или 25.50."
	default:
		return "Пришлите новое значение."
	}
}

func msgSettingDone(key string) string {
	return fmt.Sprintf("✅ Параметр %s обновлён.", key)
}

func msgLiability(rep *model.LiabilityReport) string {
	return fmt.Sprintf("📊 Отчёт\n\nПользователей: %d\nСумма балансов: %s\nОжидающие выплаты: %s",
		rep.UserCount, fmtBDT(rep.TotalBalance), fmtBDT(rep.PendingPayouts))
}
