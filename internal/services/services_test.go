package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/domain/dto"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRepo struct {
	mu       sync.Mutex
	codes    map[int64]*dto.ActivationCode
	sessions []*dto.AutomationSession
	audits   map[int64][]string
	expired  int64
}

func newMemRepo() *memRepo {
	return &memRepo{
		codes:  make(map[int64]*dto.ActivationCode),
		audits: make(map[int64][]string),
	}
}

func (r *memRepo) FindValidCode(_ context.Context, code string) (*dto.ActivationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.codes {
		if c.Code == code && !c.IsUsed && c.ExpiresAt.After(time.Now()) {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrCodeNotFound
}

func (r *memRepo) FindLatestCodeByChat(_ context.Context, chatID int64) (*dto.ActivationCode, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var latest *dto.ActivationCode
	for _, c := range r.codes {
		if !c.ChatID.Valid || c.ChatID.Int64 != chatID || c.IsUsed || !c.ExpiresAt.After(time.Now()) {
			continue
		}
		if latest == nil || c.UpdatedAt.After(latest.UpdatedAt) {
			latest = c
		}
	}
	if latest == nil {
		return nil, domain.ErrCodeNotFound
	}
	cp := *latest
	return &cp, nil
}

func (r *memRepo) ClaimCode(_ context.Context, codeID, chatID int64, chatUsername,
	accountEmail, accountPassword string, status domain.CodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok || c.IsUsed {
		return domain.ErrCodeAlreadyUsed
	}
	c.ChatID = pgtype.Int8{Int64: chatID, Valid: true}
	c.ChatUsername = pgtype.Text{String: chatUsername, Valid: chatUsername != ""}
	c.AccountEmail = pgtype.Text{String: accountEmail, Valid: accountEmail != ""}
	c.AccountPassword = pgtype.Text{String: accountPassword, Valid: accountPassword != ""}
	c.Status = string(status)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) UpdateStatus(_ context.Context, codeID int64, status domain.CodeStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok || c.IsUsed {
		return domain.ErrCodeAlreadyUsed
	}
	c.Status = string(status)
	c.UpdatedAt = time.Now()
	return nil
}

func (r *memRepo) MarkUsed(_ context.Context, codeID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.codes[codeID]
	if !ok || c.IsUsed {
		return false, nil
	}
	c.IsUsed = true
	c.Status = string(domain.StatusUsed)
	c.UpdatedAt = time.Now()
	return true, nil
}

func (r *memRepo) SessionForProduct(_ context.Context, productID int64) (*dto.AutomationSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pool *dto.AutomationSession
	for _, s := range r.sessions {
		if !s.IsActive {
			continue
		}
		if s.ProductID.Valid && s.ProductID.Int64 == productID {
			cp := *s
			return &cp, nil
		}
		if !s.ProductID.Valid && pool == nil {
			pool = s
		}
	}
	if pool != nil {
		cp := *pool
		return &cp, nil
	}
	return nil, domain.ErrNoSession
}

func (r *memRepo) InsertOTPDelivery(_ context.Context, codeID int64, otp, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits[codeID] = append(r.audits[codeID], otp)
	return nil
}

func (r *memRepo) ExpireStale(_ context.Context, _ time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expired, nil
}

type nopLogger struct{}

func (nopLogger) WithField(string, any) domain.Logger     { return nopLogger{} }
func (nopLogger) WithFields(map[string]any) domain.Logger { return nopLogger{} }
func (nopLogger) WithError(error) domain.Logger           { return nopLogger{} }
func (nopLogger) Print(...any)                            {}
func (nopLogger) Debug(...any)                            {}
func (nopLogger) Info(...any)                             {}
func (nopLogger) Warn(...any)                             {}
func (nopLogger) Error(...any)                            {}
func (nopLogger) Fatal(...any)                            {}
func (nopLogger) Panic(...any)                            {}
func (nopLogger) Printf(string, ...any)                   {}
func (nopLogger) Debugf(string, ...any)                   {}
func (nopLogger) Infof(string, ...any)                    {}
func (nopLogger) Warnf(string, ...any)                    {}
func (nopLogger) Errorf(string, ...any)                   {}
func (nopLogger) Fatalf(string, ...any)                   {}
func (nopLogger) Panicf(string, ...any)                   {}

func seedRepo() *memRepo {
	repo := newMemRepo()
	repo.codes[1] = &dto.ActivationCode{
		ID:             1,
		Code:           "ABC123XY",
		ProductID:      10,
		OrderID:        555,
		Status:         string(domain.StatusPending),
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
		ProductName:    "OSN Monthly",
		ActivationType: string(domain.ActivationOTP),
	}
	repo.sessions = append(repo.sessions, &dto.AutomationSession{
		ID:              1,
		ProductID:       pgtype.Int8{Int64: 10, Valid: true},
		Email:           "a@x.com",
		MailboxPassword: "mailbox-secret",
		AccountPassword: pgtype.Text{String: "p1", Valid: true},
		IsActive:        true,
	})
	return repo
}

func newServices(repo *memRepo) (*ActivationService, *ConversationService) {
	activation := NewActivationService(repo, MailboxConfig{Host: "imap.example.com", Port: 993}, nopLogger{})
	return activation, NewConversationService(activation, nopLogger{})
}

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "ABC123XY", NormalizeCode("  abc123xy \n"))
	assert.Equal(t, "", NormalizeCode("   "))
}

func TestValidateCodeIsCaseInsensitive(t *testing.T) {
	activation, _ := newServices(seedRepo())

	code, err := activation.ValidateCode(context.Background(), "abc123xy")
	require.NoError(t, err)
	assert.Equal(t, int64(1), code.ID)

	_, err = activation.ValidateCode(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestCompleteDeliveryIsIdempotent(t *testing.T) {
	repo := seedRepo()
	activation, _ := newServices(repo)
	ctx := context.Background()

	won, err := activation.CompleteDelivery(ctx, 1, "739201", domain.OTPSourceAuto)
	require.NoError(t, err)
	assert.True(t, won)

	// The losing call still records its audit row but must not report success.
	won, err = activation.CompleteDelivery(ctx, 1, "739201", domain.OTPSourceAuto)
	require.NoError(t, err)
	assert.False(t, won)

	assert.True(t, repo.codes[1].IsUsed)
}

func TestCompleteDeliveryWithoutOTPSkipsAudit(t *testing.T) {
	repo := seedRepo()
	activation, _ := newServices(repo)

	won, err := activation.CompleteDelivery(context.Background(), 1, "", domain.OTPSourceAuto)
	require.NoError(t, err)
	assert.True(t, won)
	assert.Empty(t, repo.audits[1])
}

func TestSessionPreferenceOverPool(t *testing.T) {
	repo := seedRepo()
	repo.sessions = append(repo.sessions, &dto.AutomationSession{
		ID:              2,
		Email:           "pool@x.com",
		MailboxPassword: "pool-secret",
		IsActive:        true,
	})
	activation, _ := newServices(repo)

	session, err := activation.ResolveSession(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", session.Email)

	session, err = activation.ResolveSession(context.Background(), 99)
	require.NoError(t, err)
	assert.Equal(t, "pool@x.com", session.Email)
}

func TestReconstructMatchesLiveState(t *testing.T) {
	repo := seedRepo()
	activation, conversations := newServices(repo)
	ctx := context.Background()

	code, err := activation.ValidateCode(ctx, "ABC123XY")
	require.NoError(t, err)
	require.NoError(t, activation.Claim(ctx, code, 100, "customer", "a@x.com", "", domain.StatusInProgress))
	require.NoError(t, activation.Advance(ctx, 1, domain.StatusAwaitingOTP))

	state, err := conversations.Reconstruct(ctx, 100)
	require.NoError(t, err)

	assert.Equal(t, int64(1), state.CodeID)
	assert.Equal(t, "ABC123XY", state.Code)
	assert.Equal(t, "customer", state.Username)
	assert.Equal(t, domain.StepAwaitingOTP, state.Step)
	assert.Equal(t, "a@x.com", state.AccountEmail)
	assert.Equal(t, "a@x.com", state.MailboxEmail)
	assert.Equal(t, "mailbox-secret", state.MailboxPassword)
}

func TestReconstructPrefersNewestCode(t *testing.T) {
	repo := seedRepo()
	repo.codes[2] = &dto.ActivationCode{
		ID:             2,
		Code:           "ZZZ999AA",
		ProductID:      10,
		OrderID:        556,
		Status:         string(domain.StatusInProgress),
		ChatID:         pgtype.Int8{Int64: 100, Valid: true},
		ExpiresAt:      time.Now().Add(time.Hour),
		UpdatedAt:      time.Now().Add(time.Minute),
		ActivationType: string(domain.ActivationOTP),
	}
	repo.codes[1].ChatID = pgtype.Int8{Int64: 100, Valid: true}
	repo.codes[1].Status = string(domain.StatusInProgress)

	_, conversations := newServices(repo)
	state, err := conversations.Reconstruct(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "ZZZ999AA", state.Code)
}

func TestReconstructIgnoresUsedAndExpired(t *testing.T) {
	repo := seedRepo()
	repo.codes[1].ChatID = pgtype.Int8{Int64: 100, Valid: true}
	repo.codes[1].IsUsed = true

	_, conversations := newServices(repo)
	_, err := conversations.Reconstruct(context.Background(), 100)
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)

	repo.codes[1].IsUsed = false
	repo.codes[1].ExpiresAt = time.Now().Add(-time.Minute)
	_, err = conversations.Reconstruct(context.Background(), 100)
	assert.ErrorIs(t, err, domain.ErrCodeNotFound)
}

func TestStepForStatusMapping(t *testing.T) {
	cases := []struct {
		status         domain.CodeStatus
		activationType domain.ActivationType
		want           domain.ConversationStep
	}{
		{domain.StatusAwaitingOTP, domain.ActivationOTP, domain.StepAwaitingOTP},
		{domain.StatusChatGPTAwaitingOTP, domain.ActivationChatGPT, domain.StepRevealed},
		{domain.StatusInProgress, domain.ActivationChatGPT, domain.StepRevealed},
		{domain.StatusInProgress, domain.ActivationQROrOTP, domain.StepChoosingType},
		{domain.StatusInProgress, domain.ActivationQR, domain.StepConfirmLogin},
		{domain.StatusInProgress, domain.ActivationOTP, domain.StepConfirmLogin},
	}

	for _, tc := range cases {
		code := &dto.ActivationCode{Status: string(tc.status)}
		assert.Equal(t, tc.want, stepForStatus(code, tc.activationType), "status %s type %s", tc.status, tc.activationType)
	}
}

func TestConversationCacheLifecycle(t *testing.T) {
	_, conversations := newServices(seedRepo())

	state := &domain.ConversationState{ChatID: 100, Code: "ABC123XY"}
	conversations.Save(state)
	require.NotNil(t, conversations.Get(100))

	// Idle states age out of the cache.
	state.UpdatedAt = time.Now().Add(-conversationIdleTTL - time.Minute)
	assert.Nil(t, conversations.Get(100))

	conversations.Save(state)
	conversations.Delete(100)
	assert.Nil(t, conversations.Get(100))
}

func TestChatLockIsStablePerChat(t *testing.T) {
	_, conversations := newServices(seedRepo())

	a := conversations.ChatLock(100)
	b := conversations.ChatLock(100)
	c := conversations.ChatLock(200)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}

func TestGetOrReconstructUsesCacheFirst(t *testing.T) {
	repo := seedRepo()
	_, conversations := newServices(repo)

	cached := &domain.ConversationState{ChatID: 100, Code: "CACHED"}
	conversations.Save(cached)

	state, err := conversations.GetOrReconstruct(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, "CACHED", state.Code)
}
