package dialog

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
)

type stateWrite struct {
	state   model.State
	scratch model.Scratch
}

type stubService struct {
	user    *model.User
	created bool

	balance  int64
	settings *model.Settings

	isRoot      bool
	isModerator bool

	stateWrites []stateWrite

	submittedKind    model.WorkKind
	submittedPayload map[string]string
	submitCalls      int

	workResolution model.Resolution
	resolvedWorkID int64
	workApprove    bool

	payoutResolution model.Resolution

	payoutID          int64
	createPayoutErr   error
	payoutAmount      int64
	payoutMethod      model.PayoutMethod
	payoutDestination string

	broadcastSent   int
	broadcastFailed int
	broadcastText   string
}

func newStubService() *stubService {
	return &stubService{
		user: &model.User{ID: 1, State: model.StateIdle, Scratch: model.Scratch{}},
		settings: &model.Settings{
			TaskReward:    500,
			ReferralBonus: 200,
			MinWithdrawal: 2000,
		},
	}
}

func (s *stubService) RegisterUser(ctx context.Context, id int64, username, firstName, refToken string) (*model.User, bool, error) {
	return s.user, s.created, nil
}

func (s *stubService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.user, nil
}

func (s *stubService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.balance, nil
}

func (s *stubService) SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error {
	s.stateWrites = append(s.stateWrites, stateWrite{state: state, scratch: scratch})
	return nil
}

func (s *stubService) GetSettings(ctx context.Context) (*model.Settings, error) {
	return s.settings, nil
}

func (s *stubService) IsRoot(userID int64) bool { return s.isRoot }

func (s *stubService) IsModerator(ctx context.Context, userID int64) (bool, error) {
	return s.isModerator || s.isRoot, nil
}

func (s *stubService) SubmitWork(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error) {
	s.submitCalls++
	s.submittedKind = kind
	s.submittedPayload = payload
	return 77, nil
}

func (s *stubService) ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID int64) (model.Resolution, error) {
	s.resolvedWorkID = id
	s.workApprove = approve
	return s.workResolution, nil
}

func (s *stubService) ListPendingWorkItems(ctx context.Context, moderatorID int64, limit int) ([]model.WorkItem, error) {
	return nil, nil
}

func (s *stubService) CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error) {
	if s.createPayoutErr != nil {
		return 0, s.createPayoutErr
	}
	s.payoutAmount = amount
	s.payoutMethod = method
	s.payoutDestination = destination
	return s.payoutID, nil
}

func (s *stubService) ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, error) {
	return s.payoutResolution, nil
}

func (s *stubService) ListPendingPayouts(ctx context.Context, moderatorID int64, limit int) ([]model.PayoutRequest, error) {
	return nil, nil
}

func (s *stubService) AdjustBalance(ctx context.Context, moderatorID, userID, delta int64) error {
	return nil
}

func (s *stubService) SetBlocked(ctx context.Context, moderatorID, userID int64, blocked bool) error {
	return nil
}

func (s *stubService) DeleteUser(ctx context.Context, moderatorID, userID int64) error { return nil }

func (s *stubService) GrantModerator(ctx context.Context, rootID, userID int64) (bool, error) {
	return true, nil
}

func (s *stubService) RevokeModerator(ctx context.Context, rootID, userID int64) (bool, error) {
	return true, nil
}

func (s *stubService) UpdateSetting(ctx context.Context, rootID int64, key, rawValue string) error {
	return nil
}

func (s *stubService) GetLiability(ctx context.Context, rootID int64) (*model.LiabilityReport, error) {
	return &model.LiabilityReport{}, nil
}

func (s *stubService) CountUsers(ctx context.Context, moderatorID int64) (int64, error) {
	return 0, nil
}

func (s *stubService) Broadcast(ctx context.Context, moderatorID int64, text string) (int, int, error) {
	s.broadcastText = text
	return s.broadcastSent, s.broadcastFailed, nil
}

func newTestEngine(svc *stubService) *Engine {
	return NewEngine(svc, zap.NewNop())
}

func (s *stubService) lastWrite(t *testing.T) stateWrite {
	t.Helper()
	if len(s.stateWrites) == 0 {
		t.Fatalf("expected a dialog state write")
	}
	return s.stateWrites[len(s.stateWrites)-1]
}

func TestHandle_StartResetsAnyState(t *testing.T) {
	states := []model.State{
		model.StateSubmitScreenshot,
		model.StateWithdrawAmount,
		model.StateWithdrawDestination,
		model.StateAdminBroadcast,
	}

	for _, state := range states {
		t.Run(string(state), func(t *testing.T) {
			svc := newStubService()
			svc.user.State = state
			svc.user.Scratch = model.Scratch{"amount": "30", "method": "bkash"}
			e := newTestEngine(svc)

			replies := e.Handle(context.Background(), Event{UserID: 1, Text: "/start"})
			if len(replies) != 1 {
				t.Fatalf("replies = %d, want 1", len(replies))
			}

			w := svc.lastWrite(t)
			if w.state != model.StateIdle {
				t.Fatalf("state = %q, want idle", w.state)
			}
			if len(w.scratch) != 0 {
				t.Fatalf("scratch must be cleared, got %v", w.scratch)
			}
		})
	}
}

func TestHandle_IdleStartWritesNothing(t *testing.T) {
	svc := newStubService()
	e := newTestEngine(svc)

	e.Handle(context.Background(), Event{UserID: 1, Text: "/start"})
	if len(svc.stateWrites) != 0 {
		t.Fatalf("idle to idle must not persist state, got %d writes", len(svc.stateWrites))
	}
}

func TestHandle_BlockedUser(t *testing.T) {
	svc := newStubService()
	svc.user.IsBlocked = true
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "/start"})
	if len(replies) != 1 || replies[0].Text != msgBlocked {
		t.Fatalf("blocked user must get the block notice, got %+v", replies)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("blocked user must not change state")
	}
}

func TestHandle_FreeTextOutsideFlow(t *testing.T) {
	svc := newStubService()
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "hello"})
	if len(replies) != 1 || replies[0].Text != msgUseMenu {
		t.Fatalf("free text must point back to the menu, got %+v", replies)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("free text outside a flow must not persist state")
	}
}

func TestHandle_AdminCommandGate(t *testing.T) {
	svc := newStubService()
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "/admin"})
	if len(replies) != 1 || replies[0].Text != msgNotAllowed {
		t.Fatalf("plain user must be refused the panel, got %+v", replies)
	}

	svc.isModerator = true
	replies = e.Handle(context.Background(), Event{UserID: 1, Text: "/admin"})
	if len(replies) != 1 || replies[0].Text != msgAdminPanel {
		t.Fatalf("moderator must see the panel, got %+v", replies)
	}
}

func TestHandle_SubmitScreenshotFlow(t *testing.T) {
	svc := newStubService()
	svc.user.State = model.StateSubmitScreenshot
	e := newTestEngine(svc)

	// Текст без схемы URL не продвигает поток.
	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "not a link"})
	if replies[0].Text != msgBadLink {
		t.Fatalf("reply = %q, want bad link prompt", replies[0].Text)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("failed validation must keep the state untouched")
	}

	replies = e.Handle(context.Background(), Event{UserID: 1, Text: "https://example.com/shot.png"})
	if replies[0].Text != msgWorkAccepted {
		t.Fatalf("reply = %q, want acceptance", replies[0].Text)
	}
	if svc.submitCalls != 1 || svc.submittedKind != model.WorkKindScreenshot {
		t.Fatalf("expected one screenshot submission, got %d %q", svc.submitCalls, svc.submittedKind)
	}
	if svc.submittedPayload["screenshot"] != "https://example.com/shot.png" {
		t.Fatalf("payload = %v", svc.submittedPayload)
	}

	w := svc.lastWrite(t)
	if w.state != model.StateIdle {
		t.Fatalf("state after submission = %q, want idle", w.state)
	}
}

func TestHandle_ReviewFlowCarriesScratch(t *testing.T) {
	svc := newStubService()
	svc.user.State = model.StateSubmitReviewLink
	e := newTestEngine(svc)

	e.Handle(context.Background(), Event{UserID: 1, Text: "https://maps.example.com/review"})

	w := svc.lastWrite(t)
	if w.state != model.StateSubmitReviewEmail {
		t.Fatalf("state = %q, want review email step", w.state)
	}
	if w.scratch["review_link"] != "https://maps.example.com/review" {
		t.Fatalf("scratch = %v", w.scratch)
	}

	svc.user.State = w.state
	svc.user.Scratch = w.scratch

	e.Handle(context.Background(), Event{UserID: 1, Text: "user@example.com"})
	if svc.submitCalls != 1 || svc.submittedKind != model.WorkKindReview {
		t.Fatalf("expected one review submission, got %d %q", svc.submitCalls, svc.submittedKind)
	}
	if svc.submittedPayload["review_link"] != "https://maps.example.com/review" ||
		svc.submittedPayload["email"] != "user@example.com" {
		t.Fatalf("payload = %v", svc.submittedPayload)
	}
}

func TestHandle_WithdrawBalanceTooLow(t *testing.T) {
	svc := newStubService()
	svc.balance = 1500
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Action: "withdraw", IsAction: true})
	if len(replies) != 1 || replies[0].Text != msgBalanceTooLow(1500, 2000) {
		t.Fatalf("reply = %+v, want balance too low", replies)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("refused withdrawal must stay in idle without a write")
	}
}

func TestHandle_WithdrawHappyPath(t *testing.T) {
	svc := newStubService()
	svc.balance = 5000
	svc.payoutID = 9
	e := newTestEngine(svc)

	// Кнопка вывода открывает шаг суммы.
	e.Handle(context.Background(), Event{UserID: 1, Action: "withdraw", IsAction: true})
	w := svc.lastWrite(t)
	if w.state != model.StateWithdrawAmount {
		t.Fatalf("state = %q, want amount step", w.state)
	}

	svc.user.State = w.state
	svc.user.Scratch = w.scratch

	// Сумма меньше минимума не продвигает поток.
	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "15"})
	if replies[0].Text != msgAmountBelowMin(2000) {
		t.Fatalf("reply = %q, want below-minimum prompt", replies[0].Text)
	}

	replies = e.Handle(context.Background(), Event{UserID: 1, Text: "30"})
	if replies[0].Text != msgChooseMethod {
		t.Fatalf("reply = %q, want method menu", replies[0].Text)
	}
	w = svc.lastWrite(t)
	if w.state != model.StateWithdrawMethod || w.scratch["amount"] != "30" {
		t.Fatalf("write = %+v", w)
	}

	svc.user.State = w.state
	svc.user.Scratch = w.scratch

	e.Handle(context.Background(), Event{UserID: 1, Action: "method_bkash", IsAction: true})
	w = svc.lastWrite(t)
	if w.state != model.StateWithdrawDestination || w.scratch["method"] != "bkash" {
		t.Fatalf("write = %+v", w)
	}

	svc.user.State = w.state
	svc.user.Scratch = w.scratch

	replies = e.Handle(context.Background(), Event{UserID: 1, Text: "01711111111"})
	if replies[0].Text != msgPayoutCreated(9, 3000) {
		t.Fatalf("reply = %q, want payout confirmation", replies[0].Text)
	}
	if svc.payoutAmount != 3000 || svc.payoutMethod != model.PayoutMethodBkash || svc.payoutDestination != "01711111111" {
		t.Fatalf("payout call = %d %q %q", svc.payoutAmount, svc.payoutMethod, svc.payoutDestination)
	}

	w = svc.lastWrite(t)
	if w.state != model.StateIdle || len(w.scratch) != 0 {
		t.Fatalf("final write = %+v, want clean idle", w)
	}
}

func TestHandle_WithdrawAmountOverBalance(t *testing.T) {
	svc := newStubService()
	svc.balance = 2500
	svc.user.State = model.StateWithdrawAmount
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "30"})
	if replies[0].Text != msgAmountOverBalance(2500) {
		t.Fatalf("reply = %q, want over-balance prompt", replies[0].Text)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("failed validation must keep the state untouched")
	}
}

func TestHandle_WithdrawBalanceChangedMidFlow(t *testing.T) {
	svc := newStubService()
	svc.balance = 1000
	svc.createPayoutErr = repository.ErrInsufficientBalance
	svc.user.State = model.StateWithdrawDestination
	svc.user.Scratch = model.Scratch{"amount": "30", "method": "bkash"}
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Text: "01711111111"})
	if replies[0].Text != msgAmountOverBalance(1000) {
		t.Fatalf("reply = %q, want fresh over-balance prompt", replies[0].Text)
	}

	w := svc.lastWrite(t)
	if w.state != model.StateWithdrawAmount {
		t.Fatalf("state = %q, want a return to the amount step", w.state)
	}
}

func TestHandle_MethodButtonOutsideFlow(t *testing.T) {
	svc := newStubService()
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Action: "method_bkash", IsAction: true})
	if replies[0].Text != msgUseMenu {
		t.Fatalf("stale method button must be refused, got %q", replies[0].Text)
	}
	if len(svc.stateWrites) != 0 {
		t.Fatalf("stale button must not change state")
	}
}

func TestHandle_ResolveWorkButtons(t *testing.T) {
	tests := []struct {
		name       string
		action     string
		resolution model.Resolution
		wantReply  string
		wantID     int64
		approve    bool
	}{
		{
			name:       "approve applied",
			action:     "wapprove_5",
			resolution: model.ResolutionApplied,
			wantReply:  msgResolutionApplied,
			wantID:     5,
			approve:    true,
		},
		{
			name:       "reject applied",
			action:     "wreject_6",
			resolution: model.ResolutionApplied,
			wantReply:  msgResolutionApplied,
			wantID:     6,
		},
		{
			name:       "repeat press",
			action:     "wapprove_5",
			resolution: model.ResolutionAlreadyResolved,
			wantReply:  msgAlreadyResolved,
			wantID:     5,
			approve:    true,
		},
		{
			name:       "missing record",
			action:     "wapprove_404",
			resolution: model.ResolutionNotFound,
			wantReply:  msgRecordNotFound,
			wantID:     404,
			approve:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newStubService()
			svc.isModerator = true
			svc.workResolution = tt.resolution
			e := newTestEngine(svc)

			replies := e.Handle(context.Background(), Event{UserID: 1, Action: tt.action, IsAction: true})
			if replies[0].Text != tt.wantReply {
				t.Fatalf("reply = %q, want %q", replies[0].Text, tt.wantReply)
			}
			if svc.resolvedWorkID != tt.wantID || svc.workApprove != tt.approve {
				t.Fatalf("resolve call = %d %v", svc.resolvedWorkID, svc.workApprove)
			}
		})
	}
}

func TestHandle_UnknownAction(t *testing.T) {
	svc := newStubService()
	e := newTestEngine(svc)

	replies := e.Handle(context.Background(), Event{UserID: 1, Action: "bogus", IsAction: true})
	if replies[0].Text != msgUseMenu {
		t.Fatalf("unknown action must fall back to the menu hint, got %q", replies[0].Text)
	}
}

func TestStartPayload(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/start", ""},
		{"/start 123", "123"},
		{"/start   123  ", "123"},
		{"hello", ""},
	}

	for _, tt := range tests {
		if got := startPayload(tt.text); got != tt.want {
			t.Errorf("startPayload(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
