package service

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/rewardbot/internal/model"
	"github.com/mmeshcher/rewardbot/internal/repository"
)

const rootID int64 = 999

type stubRepo struct {
	created       bool
	createUserErr error
	referredBy    *int64

	getUser    *model.User
	getUserErr error

	deltas       map[int64]int64
	applyErrFor  map[int64]error
	hasModerator bool

	settings *model.Settings

	workResolution model.Resolution
	workSubmitter  int64

	payoutID         int64
	createPayoutErr  error
	payoutResolution model.Resolution
	payoutRecord     *model.PayoutRequest

	addedModerator   bool
	removedModerator bool

	userIDs []int64

	updatedSettings *model.Settings
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		deltas: make(map[int64]int64),
		settings: &model.Settings{
			TaskReward:    500,
			ReferralBonus: 200,
			MinWithdrawal: 2000,
		},
	}
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, id int64, username, firstName string, referredBy *int64) (bool, error) {
	s.referredBy = referredBy
	return s.created, s.createUserErr
}

func (s *stubRepo) GetUser(ctx context.Context, id int64) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) ApplyDelta(ctx context.Context, userID, delta int64) error {
	if err := s.applyErrFor[userID]; err != nil {
		return err
	}
	s.deltas[userID] += delta
	return nil
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.deltas[userID], nil
}

func (s *stubRepo) SetDialogState(ctx context.Context, userID int64, state model.State, scratch model.Scratch) error {
	return nil
}

func (s *stubRepo) SetBlocked(ctx context.Context, userID int64, blocked bool) error { return nil }

func (s *stubRepo) DeleteUser(ctx context.Context, userID int64) error { return nil }

func (s *stubRepo) ForEachUserID(ctx context.Context, fn func(id int64) error) error {
	for _, id := range s.userIDs {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func (s *stubRepo) CountUsers(ctx context.Context) (int64, error) {
	return int64(len(s.userIDs)), nil
}

func (s *stubRepo) GetLiability(ctx context.Context) (*model.LiabilityReport, error) {
	return &model.LiabilityReport{}, nil
}

func (s *stubRepo) CreateWorkItem(ctx context.Context, userID int64, kind model.WorkKind, payload map[string]string) (int64, error) {
	return 77, nil
}

func (s *stubRepo) ResolveWorkItem(ctx context.Context, id int64, approve bool, moderatorID, reward int64) (model.Resolution, int64, error) {
	return s.workResolution, s.workSubmitter, nil
}

func (s *stubRepo) ListPendingWorkItems(ctx context.Context, limit int) ([]model.WorkItem, error) {
	return nil, nil
}

func (s *stubRepo) CreatePayout(ctx context.Context, userID, amount int64, method model.PayoutMethod, destination string) (int64, error) {
	return s.payoutID, s.createPayoutErr
}

func (s *stubRepo) ResolvePayout(ctx context.Context, id int64, paid bool, moderatorID int64) (model.Resolution, *model.PayoutRequest, error) {
	return s.payoutResolution, s.payoutRecord, nil
}

func (s *stubRepo) ListPendingPayouts(ctx context.Context, limit int) ([]model.PayoutRequest, error) {
	return nil, nil
}

func (s *stubRepo) AddModerator(ctx context.Context, userID, grantedBy int64) (bool, error) {
	return s.addedModerator, nil
}

func (s *stubRepo) RemoveModerator(ctx context.Context, userID int64) (bool, error) {
	return s.removedModerator, nil
}

func (s *stubRepo) HasModerator(ctx context.Context, userID int64) (bool, error) {
	return s.hasModerator, nil
}

func (s *stubRepo) GetSettings(ctx context.Context) (*model.Settings, error) {
	cp := *s.settings
	return &cp, nil
}

func (s *stubRepo) UpdateSettings(ctx context.Context, settings *model.Settings) error {
	s.updatedSettings = settings
	return nil
}

type stubNotifier struct {
	texts   map[int64][]string
	actions map[int64]int
	failFor map[int64]error
}

func newStubNotifier() *stubNotifier {
	return &stubNotifier{
		texts:   make(map[int64][]string),
		actions: make(map[int64]int),
		failFor: make(map[int64]error),
	}
}

func (n *stubNotifier) Notify(ctx context.Context, userID int64, text string) error {
	if err := n.failFor[userID]; err != nil {
		return err
	}
	n.texts[userID] = append(n.texts[userID], text)
	return nil
}

func (n *stubNotifier) NotifyActions(ctx context.Context, userID int64, text string, buttons [][]Button) error {
	if err := n.failFor[userID]; err != nil {
		return err
	}
	n.actions[userID]++
	return nil
}

func newTestService(repo *stubRepo, notifier *stubNotifier) *Service {
	return NewService(repo, notifier, zap.NewNop(), rootID)
}

func TestRegisterUser_ReferralBonusOnce(t *testing.T) {
	repo := newStubRepo()
	repo.created = true
	repo.getUser = &model.User{ID: 2}
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	_, created, err := svc.RegisterUser(context.Background(), 2, "u", "U", "1")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if !created {
		t.Fatalf("expected created = true")
	}
	if repo.deltas[1] != 200 {
		t.Fatalf("referrer delta = %d, want 200", repo.deltas[1])
	}
	if len(notifier.texts[1]) != 1 {
		t.Fatalf("referrer notifications = %d, want 1", len(notifier.texts[1]))
	}
	if repo.deltas[2] != 0 {
		t.Fatalf("new user must start at zero, got %d", repo.deltas[2])
	}
}

func TestRegisterUser_NoBonusForExistingUser(t *testing.T) {
	repo := newStubRepo()
	repo.created = false
	repo.getUser = &model.User{ID: 2}
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	_, created, err := svc.RegisterUser(context.Background(), 2, "u", "U", "1")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if created {
		t.Fatalf("expected created = false")
	}
	if repo.deltas[1] != 0 {
		t.Fatalf("repeated contact must not credit the referrer, got %d", repo.deltas[1])
	}
}

func TestRegisterUser_SelfReferralIgnored(t *testing.T) {
	repo := newStubRepo()
	repo.created = true
	repo.getUser = &model.User{ID: 2}
	svc := newTestService(repo, newStubNotifier())

	_, _, err := svc.RegisterUser(context.Background(), 2, "u", "U", "2")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if repo.referredBy != nil {
		t.Fatalf("self-referral must be dropped, got %v", *repo.referredBy)
	}
	if repo.deltas[2] != 0 {
		t.Fatalf("self-referral must not credit anyone, got %d", repo.deltas[2])
	}
}

func TestRegisterUser_BadTokenIgnored(t *testing.T) {
	repo := newStubRepo()
	repo.created = true
	repo.getUser = &model.User{ID: 2}
	svc := newTestService(repo, newStubNotifier())

	_, _, err := svc.RegisterUser(context.Background(), 2, "u", "U", "not-a-number")
	if err != nil {
		t.Fatalf("RegisterUser error: %v", err)
	}
	if repo.referredBy != nil {
		t.Fatalf("malformed token must be dropped, got %v", *repo.referredBy)
	}
}

func TestRegisterUser_AbsentReferrerNotFatal(t *testing.T) {
	repo := newStubRepo()
	repo.created = true
	repo.getUser = &model.User{ID: 2}
	repo.applyErrFor = map[int64]error{1: repository.ErrUserNotFound}
	svc := newTestService(repo, newStubNotifier())

	_, created, err := svc.RegisterUser(context.Background(), 2, "u", "U", "1")
	if err != nil {
		t.Fatalf("registration must survive a dangling referral token: %v", err)
	}
	if !created {
		t.Fatalf("expected created = true")
	}
}

func TestResolveWorkItem_NotModerator(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, newStubNotifier())

	_, err := svc.ResolveWorkItem(context.Background(), 1, true, 5)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestResolveWorkItem_AppliedNotifiesSubmitter(t *testing.T) {
	repo := newStubRepo()
	repo.workResolution = model.ResolutionApplied
	repo.workSubmitter = 10
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	outcome, err := svc.ResolveWorkItem(context.Background(), 1, true, rootID)
	if err != nil {
		t.Fatalf("ResolveWorkItem error: %v", err)
	}
	if outcome != model.ResolutionApplied {
		t.Fatalf("outcome = %v, want applied", outcome)
	}
	if len(notifier.texts[10]) != 1 {
		t.Fatalf("submitter notifications = %d, want 1", len(notifier.texts[10]))
	}
}

func TestResolveWorkItem_RepeatIsSilent(t *testing.T) {
	repo := newStubRepo()
	repo.workResolution = model.ResolutionAlreadyResolved
	repo.workSubmitter = 10
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	outcome, err := svc.ResolveWorkItem(context.Background(), 1, true, rootID)
	if err != nil {
		t.Fatalf("ResolveWorkItem error: %v", err)
	}
	if outcome != model.ResolutionAlreadyResolved {
		t.Fatalf("outcome = %v, want already resolved", outcome)
	}
	if len(notifier.texts[10]) != 0 {
		t.Fatalf("repeat resolution must not notify the submitter")
	}
}

func TestResolveWorkItem_DelegatedModerator(t *testing.T) {
	repo := newStubRepo()
	repo.hasModerator = true
	repo.workResolution = model.ResolutionApplied
	repo.workSubmitter = 10
	svc := newTestService(repo, newStubNotifier())

	if _, err := svc.ResolveWorkItem(context.Background(), 1, false, 5); err != nil {
		t.Fatalf("delegated moderator must pass the gate: %v", err)
	}
}

func TestCreatePayout_BelowMinimum(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, newStubNotifier())

	_, err := svc.CreatePayout(context.Background(), 1, 1500, model.PayoutMethodBkash, "01711111111")
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestCreatePayout_NotifiesModerators(t *testing.T) {
	repo := newStubRepo()
	repo.payoutID = 5
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	id, err := svc.CreatePayout(context.Background(), 1, 2000, model.PayoutMethodBkash, "01711111111")
	if err != nil {
		t.Fatalf("CreatePayout error: %v", err)
	}
	if id != 5 {
		t.Fatalf("id = %d, want 5", id)
	}
	if notifier.actions[rootID] != 1 {
		t.Fatalf("moderator action notifications = %d, want 1", notifier.actions[rootID])
	}
}

func TestCreatePayout_InsufficientBalancePropagates(t *testing.T) {
	repo := newStubRepo()
	repo.createPayoutErr = repository.ErrInsufficientBalance
	svc := newTestService(repo, newStubNotifier())

	_, err := svc.CreatePayout(context.Background(), 1, 3000, model.PayoutMethodNagad, "01711111111")
	if !errors.Is(err, repository.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
}

func TestResolvePayout_AppliedNotifiesRequester(t *testing.T) {
	repo := newStubRepo()
	repo.payoutResolution = model.ResolutionApplied
	repo.payoutRecord = &model.PayoutRequest{ID: 5, UserID: 10, Amount: 2000}
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	outcome, err := svc.ResolvePayout(context.Background(), 5, true, rootID)
	if err != nil {
		t.Fatalf("ResolvePayout error: %v", err)
	}
	if outcome != model.ResolutionApplied {
		t.Fatalf("outcome = %v, want applied", outcome)
	}
	if len(notifier.texts[10]) != 1 {
		t.Fatalf("requester notifications = %d, want 1", len(notifier.texts[10]))
	}
}

func TestResolvePayout_NotModerator(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, newStubNotifier())

	_, err := svc.ResolvePayout(context.Background(), 5, true, 7)
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestAdjustBalance_Gate(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, newStubNotifier())

	if err := svc.AdjustBalance(context.Background(), 7, 1, 100); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestAdjustBalance_NegativeDelta(t *testing.T) {
	repo := newStubRepo()
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	if err := svc.AdjustBalance(context.Background(), rootID, 1, -300); err != nil {
		t.Fatalf("AdjustBalance error: %v", err)
	}
	if repo.deltas[1] != -300 {
		t.Fatalf("delta = %d, want -300", repo.deltas[1])
	}
	if len(notifier.texts[1]) != 1 {
		t.Fatalf("target notifications = %d, want 1", len(notifier.texts[1]))
	}
}

func TestGrantModerator_OnlyRoot(t *testing.T) {
	repo := newStubRepo()
	repo.hasModerator = true
	svc := newTestService(repo, newStubNotifier())

	if _, err := svc.GrantModerator(context.Background(), 5, 6); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("delegated moderator must not grant rights, got %v", err)
	}
}

func TestGrantModerator_RootImmutable(t *testing.T) {
	repo := newStubRepo()
	svc := newTestService(repo, newStubNotifier())

	if _, err := svc.GrantModerator(context.Background(), rootID, rootID); !errors.Is(err, ErrRootImmutable) {
		t.Fatalf("expected ErrRootImmutable, got %v", err)
	}
	if _, err := svc.RevokeModerator(context.Background(), rootID, rootID); !errors.Is(err, ErrRootImmutable) {
		t.Fatalf("expected ErrRootImmutable, got %v", err)
	}
}

func TestUpdateSetting(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr error
		check   func(s *model.Settings) bool
	}{
		{
			name:  "money value",
			key:   "min_withdrawal",
			value: "25",
			check: func(s *model.Settings) bool { return s.MinWithdrawal == 2500 },
		},
		{
			name:  "text value",
			key:   "support_contact",
			value: "@help",
			check: func(s *model.Settings) bool { return s.SupportContact == "@help" },
		},
		{
			name:    "bad money value",
			key:     "task_reward",
			value:   "abc",
			wantErr: ErrBadSettingValue,
		},
		{
			name:    "unknown key",
			key:     "nonsense",
			value:   "1",
			wantErr: ErrUnknownSetting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newStubRepo()
			svc := newTestService(repo, newStubNotifier())

			err := svc.UpdateSetting(context.Background(), rootID, tt.key, tt.value)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("UpdateSetting error: %v", err)
			}
			if repo.updatedSettings == nil || !tt.check(repo.updatedSettings) {
				t.Fatalf("settings not updated as expected: %+v", repo.updatedSettings)
			}
		})
	}
}

func TestUpdateSetting_OnlyRoot(t *testing.T) {
	repo := newStubRepo()
	repo.hasModerator = true
	svc := newTestService(repo, newStubNotifier())

	err := svc.UpdateSetting(context.Background(), 5, "task_reward", "10")
	if !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestBroadcast_PartialFailure(t *testing.T) {
	repo := newStubRepo()
	repo.userIDs = []int64{1, 2, 3}
	notifier := newStubNotifier()
	notifier.failFor[2] = errors.New("blocked by user")
	svc := newTestService(repo, notifier)

	sent, failed, err := svc.Broadcast(context.Background(), rootID, "hello")
	if err != nil {
		t.Fatalf("Broadcast error: %v", err)
	}
	if sent != 2 || failed != 1 {
		t.Fatalf("sent = %d, failed = %d, want 2 and 1", sent, failed)
	}
}

func TestBroadcast_Gate(t *testing.T) {
	repo := newStubRepo()
	repo.userIDs = []int64{1}
	svc := newTestService(repo, newStubNotifier())

	if _, _, err := svc.Broadcast(context.Background(), 7, "hello"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestBroadcast_ContextCancel(t *testing.T) {
	repo := newStubRepo()
	repo.userIDs = []int64{1, 2, 3}
	notifier := newStubNotifier()
	svc := newTestService(repo, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := svc.Broadcast(ctx, rootID, "hello")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGetLiability_OnlyRoot(t *testing.T) {
	repo := newStubRepo()
	repo.hasModerator = true
	svc := newTestService(repo, newStubNotifier())

	if _, err := svc.GetLiability(context.Background(), 5); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if _, err := svc.GetLiability(context.Background(), rootID); err != nil {
		t.Fatalf("GetLiability error: %v", err)
	}
}
