// Package model содержит доменные сущности бота вознаграждений.
package model

import "time"

// State идентифицирует текущий шаг диалога пользователя.
// Имя потока закодировано в значении, чтобы шаги разных потоков
// нельзя было перепутать между собой.
type State string

const (
	// StateIdle — терминальное состояние без активного потока.
	StateIdle State = "idle"

	StateSubmitKind        State = "submit/kind"
	StateSubmitScreenshot  State = "submit/screenshot"
	StateSubmitReviewLink  State = "submit/review_link"
	StateSubmitReviewEmail State = "submit/review_email"

	StateWithdrawAmount      State = "withdraw/amount"
	StateWithdrawMethod      State = "withdraw/method"
	StateWithdrawDestination State = "withdraw/destination"

	StateAdminAdjustUser   State = "admin/adjust_user"
	StateAdminAdjustAmount State = "admin/adjust_amount"
	StateAdminBroadcast    State = "admin/broadcast"
	StateAdminGrant        State = "admin/grant"
	StateAdminRevoke       State = "admin/revoke"
	StateAdminBlockUser    State = "admin/block_user"
	StateAdminSettingValue State = "admin/setting_value"
)

// Scratch хранит значения, накопленные по шагам многошагового потока.
type Scratch map[string]string

// Clone возвращает копию scratch, пригодную для добавления полей
// следующего шага без изменения исходной карты.
func (s Scratch) Clone() Scratch {
	c := make(Scratch, len(s)+1)
	for k, v := range s {
		c[k] = v
	}
	return c
}

// User представляет участника программы вознаграждений.
// Баланс хранится в пойшах (сотых долях BDT) и изменяется только
// атомарными дельтами на уровне хранилища.
type User struct {
	ID         int64
	Username   string
	FirstName  string
	Balance    int64
	ReferredBy *int64
	IsBlocked  bool
	State      State
	Scratch    Scratch
	CreatedAt  time.Time
}

// WorkKind описывает тип выполненной работы.
type WorkKind string

const (
	WorkKindScreenshot WorkKind = "screenshot"
	WorkKindReview     WorkKind = "review"
)

// WorkStatus описывает статус проверки работы модератором.
type WorkStatus string

const (
	WorkStatusPending  WorkStatus = "pending"
	WorkStatusApproved WorkStatus = "approved"
	WorkStatusRejected WorkStatus = "rejected"
)

// WorkItem — неизменяемая запись о заявленной выполненной работе.
// После разрешения меняются только статус и идентификатор модератора.
type WorkItem struct {
	ID         int64
	UserID     int64
	Kind       WorkKind
	Payload    map[string]string
	Status     WorkStatus
	ResolvedBy *int64
	CreatedAt  time.Time
}

// PayoutMethod описывает способ выплаты.
type PayoutMethod string

const (
	PayoutMethodBkash  PayoutMethod = "bkash"
	PayoutMethodNagad  PayoutMethod = "nagad"
	PayoutMethodRocket PayoutMethod = "rocket"
)

// PayoutStatus описывает статус заявки на выплату.
type PayoutStatus string

const (
	PayoutStatusPending  PayoutStatus = "pending"
	PayoutStatusPaid     PayoutStatus = "paid"
	PayoutStatusRejected PayoutStatus = "rejected"
)

// PayoutRequest — заявка пользователя на выплату. Сумма списывается с
// баланса в момент создания заявки, а не при её одобрении.
type PayoutRequest struct {
	ID          int64
	UserID      int64
	Amount      int64
	Method      PayoutMethod
	Destination string
	Status      PayoutStatus
	ResolvedBy  *int64
	CreatedAt   time.Time
}

// Settings содержит глобальные настройки программы. Суммы в пойшах.
type Settings struct {
	TaskReward     int64
	ReferralBonus  int64
	MinWithdrawal  int64
	SupportContact string
	PaymentChannel string
	GuideText      string
}

// Moderator — делегированное право модерации, выданное root-аккаунтом.
// Сам root в эту таблицу никогда не попадает.
type Moderator struct {
	UserID    int64
	GrantedBy int64
	CreatedAt time.Time
}

// Resolution описывает исход попытки разрешить запись модератором.
type Resolution int

const (
	// ResolutionApplied — статус изменён этим вызовом.
	ResolutionApplied Resolution = iota
	// ResolutionAlreadyResolved — запись уже была разрешена ранее.
	ResolutionAlreadyResolved
	// ResolutionNotFound — запись не найдена.
	ResolutionNotFound
)

// LiabilityReport — сводка обязательств системы перед пользователями.
type LiabilityReport struct {
	UserCount      int64
	TotalBalance   int64
	PendingPayouts int64
}
