package services

import (
	"context"
	"sync"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/domain/dto"
)

const conversationIdleTTL = 30 * time.Minute

// ConversationService keeps per-chat conversation state in memory as a
// cache over the activation code store. The cache is an optimization:
// Reconstruct can rebuild any state from durable rows, so a process
// restart loses nothing correctness-relevant.
type ConversationService struct {
	activation *ActivationService
	logger     domain.Logger

	mu     sync.RWMutex
	states map[int64]*domain.ConversationState
	locks  map[int64]*sync.Mutex
}

// NewConversationService creates a new conversation service instance
func NewConversationService(activation *ActivationService, logger domain.Logger) *ConversationService {
	return &ConversationService{
		activation: activation,
		logger:     logger,
		states:     make(map[int64]*domain.ConversationState),
		locks:      make(map[int64]*sync.Mutex),
	}
}

// ChatLock returns the mutex serializing callback handling for one
// chat. A double button-press must not issue two mailbox reads or two
// QR fetches for the same code.
func (s *ConversationService) ChatLock(chatID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[chatID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[chatID] = lock
	}
	return lock
}

// Get retrieves the cached state for a chat, dropping it when idle too long.
func (s *ConversationService) Get(chatID int64) *domain.ConversationState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[chatID]
	if !ok {
		return nil
	}
	if time.Since(state.UpdatedAt) > conversationIdleTTL {
		delete(s.states, chatID)
		return nil
	}
	return state
}

// Save stores state for a chat, stamping the update time.
func (s *ConversationService) Save(state *domain.ConversationState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state.UpdatedAt = time.Now()
	s.states[state.ChatID] = state
}

// Delete drops a chat's state, on terminal success or abandonment.
func (s *ConversationService) Delete(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.states, chatID)
}

// GetOrReconstruct returns cached state or rebuilds it from storage.
func (s *ConversationService) GetOrReconstruct(ctx context.Context, chatID int64) (*domain.ConversationState, error) {
	if state := s.Get(chatID); state != nil {
		return state, nil
	}

	state, err := s.Reconstruct(ctx, chatID)
	if err != nil {
		return nil, err
	}

	s.Save(state)
	s.logger.WithFields(map[string]any{
		"chat_id": chatID,
		"code":    state.Code,
		"step":    string(state.Step),
	}).Info("Conversation state reconstructed from storage")
	return state, nil
}

// Reconstruct rebuilds conversation state purely from durable rows: the
// most recently updated eligible code for the chat, joined with the
// product's activation type and the automation session credentials.
// When a chat has two simultaneously pending codes the newest wins;
// resubmitting a code text rebinds the conversation explicitly.
func (s *ConversationService) Reconstruct(ctx context.Context, chatID int64) (*domain.ConversationState, error) {
	code, err := s.activation.LatestCodeForChat(ctx, chatID)
	if err != nil {
		return nil, err
	}

	state := &domain.ConversationState{
		ChatID:         chatID,
		Username:       code.ChatUsername.String,
		CodeID:         code.ID,
		Code:           code.Code,
		OrderID:        code.OrderID,
		ProductID:      code.ProductID,
		ActivationType: domain.ActivationType(code.ActivationType),
		AccountEmail:   code.AccountEmail.String,
		Step:           stepForStatus(code, domain.ActivationType(code.ActivationType)),
		CreatedAt:      code.CreatedAt,
	}
	if code.AccountPassword.Valid {
		state.AccountPassword = code.AccountPassword.String
	}

	session, err := s.activation.ResolveSession(ctx, code.ProductID)
	if err != nil {
		// The code row alone is enough to keep talking to the customer;
		// mailbox-backed steps will re-resolve and report properly.
		s.logger.WithError(err).WithField("product_id", code.ProductID).Warn("Reconstruction found no automation session")
		return state, nil
	}

	s.applySession(state, session)
	return state, nil
}

func (s *ConversationService) applySession(state *domain.ConversationState, session *dto.AutomationSession) {
	creds := s.activation.MailboxCredentials(session)
	state.MailboxEmail = creds.Email
	state.MailboxPassword = creds.Password

	if state.AccountEmail == "" {
		state.AccountEmail = session.Email
	}
	if state.AccountPassword == "" && session.AccountPassword.Valid {
		state.AccountPassword = session.AccountPassword.String
	}
}

// stepForStatus maps a stored code status back onto the engine-local phase.
func stepForStatus(code *dto.ActivationCode, activationType domain.ActivationType) domain.ConversationStep {
	switch domain.CodeStatus(code.Status) {
	case domain.StatusAwaitingOTP:
		return domain.StepAwaitingOTP
	case domain.StatusChatGPTAwaitingOTP:
		return domain.StepRevealed
	default:
		if activationType == domain.ActivationChatGPT {
			return domain.StepRevealed
		}
		if activationType == domain.ActivationQROrOTP {
			return domain.StepChoosingType
		}
		return domain.StepConfirmLogin
	}
}
