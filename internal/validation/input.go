// Package validation содержит проверки пользовательского ввода.
package validation

import (
	"strconv"
	"strings"
)

// ParseAmount разбирает денежную сумму из свободного текста и
// возвращает её в пойшах (сотых долях BDT). Допускается не больше
// двух знаков после точки. Неположительные суммы отклоняются.
func ParseAmount(input string) (int64, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return 0, false
	}

	whole, frac, hasFrac := strings.Cut(s, ".")

	if whole == "" || strings.HasPrefix(whole, "-") || strings.HasPrefix(whole, "+") {
		return 0, false
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, false
	}

	var fracVal int64
	if hasFrac {
		if len(frac) == 0 || len(frac) > 2 {
			return 0, false
		}
		fracVal, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, false
		}
		if len(frac) == 1 {
			fracVal *= 10
		}
	}

	amount := wholeVal*100 + fracVal
	if amount <= 0 {
		return 0, false
	}

	return amount, true
}

// HasURLScheme проверяет, что текст содержит ссылку со схемой.
func HasURLScheme(input string) bool {
	s := strings.TrimSpace(input)
	return strings.Contains(s, "http://") || strings.Contains(s, "https://")
}

// LooksLikeEmail проверяет, что текст похож на адрес электронной
// почты: содержит @ и точку после него.
func LooksLikeEmail(input string) bool {
	s := strings.TrimSpace(input)
	at := strings.Index(s, "@")
	if at <= 0 || at == len(s)-1 {
		return false
	}
	return strings.Contains(s[at+1:], ".")
}

// IsValidDestination проверяет минимальную длину платёжного реквизита.
func IsValidDestination(input string) bool {
	return len(strings.TrimSpace(input)) >= 5
}

// ParseUserID разбирает идентификатор пользователя Telegram.
func ParseUserID(input string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(input), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// ParseSignedAmount разбирает сумму со знаком для корректировки
// баланса модератором. Отрицательные значения допустимы.
func ParseSignedAmount(input string) (int64, bool) {
	s := strings.TrimSpace(input)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}

	amount, ok := ParseAmount(s)
	if !ok {
		return 0, false
	}
	if neg {
		return -amount, true
	}
	return amount, true
}
