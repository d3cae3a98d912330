package service

import (
	"fmt"
	"strings"

	"github.com/mmeshcher/rewardbot/internal/model"
)

// fmtBDT форматирует сумму в пойшах как значение в BDT.
func fmtBDT(amount int64) string {
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d BDT", sign, amount/100, amount%100)
}

func msgReferralBonus(amount int64) string {
	return fmt.Sprintf("🎉 По вашей реферальной ссылке зарегистрировался новый участник! Бонус %s зачислен на баланс.", fmtBDT(amount))
}

func msgWorkApproved(reward int64) string {
	return fmt.Sprintf("✅ Ваша работа принята! На баланс зачислено %s.", fmtBDT(reward))
}

func msgWorkRejected() string {
	return "❌ Ваша работа отклонена модератором. Проверьте требования в разделе «Инструкция» и попробуйте снова."
}

func msgWorkSubmitted(id, userID int64, kind model.WorkKind, payload map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📥 Новая работа #%d\n👤 Пользователь: %d\n📂 Тип: %s\n", id, userID, kind)
	for k, v := range payload {
		fmt.Fprintf(&b, "• %s: %s\n", k, v)
	}
	return b.String()
}

func msgPayoutRequested(id, userID, amount int64, method model.PayoutMethod, destination string) string {
	return fmt.Sprintf("💸 Заявка на выплату #%d\n👤 Пользователь: %d\n💰 Сумма: %s\n🏦 Способ: %s\n📟 Реквизит: %s",
		id, userID, fmtBDT(amount), method, destination)
}

func msgPayoutPaid(amount int64) string {
	return fmt.Sprintf("💸 Ваша выплата %s отправлена. Спасибо за работу!", fmtBDT(amount))
}

func msgPayoutRejected(amount int64) string {
	return fmt.Sprintf("↩️ Заявка на выплату отклонена, %s возвращены на баланс. Свяжитесь с поддержкой при вопросах.", fmtBDT(amount))
}

func msgBalanceAdjusted(delta int64) string {
	if delta >= 0 {
		return fmt.Sprintf("💰 Модератор зачислил на ваш баланс %s.", fmtBDT(delta))
	}
	return fmt.Sprintf("💰 Модератор списал с вашего баланса %s.", fmtBDT(-delta))
}
