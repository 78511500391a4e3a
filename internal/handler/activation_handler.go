package handler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/domain/dto"
	"activation-assistant/internal/services"
)

// ActivationHandler turns a submitted code text into a bound, in-flight
// conversation. Everything after the claim is DeliveryHandler territory.
type ActivationHandler struct {
	activation    *services.ActivationService
	conversations *services.ConversationService
	messenger     *Messenger
	logger        domain.Logger
}

// NewActivationHandler creates a new activation handler instance
func NewActivationHandler(
	activation *services.ActivationService,
	conversations *services.ConversationService,
	messenger *Messenger,
	logger domain.Logger,
) *ActivationHandler {
	return &ActivationHandler{
		activation:    activation,
		conversations: conversations,
		messenger:     messenger,
		logger:        logger,
	}
}

// HandleCodeSubmission validates a candidate code, resolves its
// automation session, claims the code for this chat and opens the
// flow matching the product's activation type. The store is updated
// before any reply goes out, so a crash mid-handler leaves a row that
// Reconstruct can resume from.
func (h *ActivationHandler) HandleCodeSubmission(msg *domain.MessageEvent) error {
	lock := h.conversations.ChatLock(msg.ChatID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_STORE_QUERY)
	defer cancel()

	code, err := h.activation.ValidateCode(ctx, msg.Message)
	if err != nil {
		if !errors.Is(err, domain.ErrCodeNotFound) {
			h.logger.WithError(err).WithField("chat_id", msg.ChatID).Error("Code lookup failed")
		}
		return h.messenger.SendMessage(msg.ChatID, MSG_CODE_INVALID)
	}

	session, err := h.activation.ResolveSession(ctx, code.ProductID)
	if err != nil {
		if !errors.Is(err, domain.ErrNoSession) {
			h.logger.WithError(err).WithField("product_id", code.ProductID).Error("Session lookup failed")
		}
		// The code stays pending; the customer can resend it once a
		// session is provisioned.
		return h.messenger.SendMessage(msg.ChatID, MSG_NO_SESSION)
	}

	activationType := domain.ActivationType(code.ActivationType)

	accountEmail := session.Email
	accountPassword := ""
	status := domain.StatusInProgress
	if activationType == domain.ActivationChatGPT {
		// Credential reveal skips the browser entirely; the password is
		// bound onto the code so reconstruction can re-reveal it.
		if session.AccountPassword.Valid {
			accountPassword = session.AccountPassword.String
		}
		status = domain.StatusChatGPTAwaitingOTP
	}

	if err := h.activation.Claim(ctx, code, msg.ChatID, msg.Username, accountEmail, accountPassword, status); err != nil {
		if errors.Is(err, domain.ErrCodeAlreadyUsed) {
			return h.messenger.SendMessage(msg.ChatID, MSG_CODE_INVALID)
		}
		h.logger.WithError(err).WithField("code", code.Code).Error("Code claim failed")
		return h.messenger.SendMessage(msg.ChatID, MSG_CODE_INVALID)
	}

	state := h.buildState(msg, code, session, activationType, accountEmail, accountPassword)
	h.conversations.Save(state)

	return h.openFlow(state)
}

func (h *ActivationHandler) buildState(msg *domain.MessageEvent, code *dto.ActivationCode,
	session *dto.AutomationSession, activationType domain.ActivationType,
	accountEmail, accountPassword string) *domain.ConversationState {

	creds := h.activation.MailboxCredentials(session)

	state := &domain.ConversationState{
		ChatID:          msg.ChatID,
		Username:        msg.Username,
		CodeID:          code.ID,
		Code:            code.Code,
		OrderID:         code.OrderID,
		ProductID:       code.ProductID,
		ActivationType:  activationType,
		AccountEmail:    accountEmail,
		AccountPassword: accountPassword,
		MailboxEmail:    creds.Email,
		MailboxPassword: creds.Password,
		CreatedAt:       time.Now(),
	}

	switch activationType {
	case domain.ActivationChatGPT:
		state.Step = domain.StepRevealed
	case domain.ActivationQROrOTP:
		state.Step = domain.StepChoosingType
	default:
		state.Step = domain.StepConfirmLogin
	}
	return state
}

// openFlow sends the first message of the flow the product calls for.
func (h *ActivationHandler) openFlow(state *domain.ConversationState) error {
	switch state.ActivationType {
	case domain.ActivationChatGPT:
		keyboard := &domain.Keyboard{
			Inline: true,
			Buttons: [][]domain.Button{
				{{Text: MSG_BTN_CHATGPT_GET_OTP, Data: domain.CallbackChatGPTGetOTP}},
			},
		}
		text := fmt.Sprintf(MSG_CREDENTIALS_REVEAL, state.AccountEmail, state.AccountPassword)
		return h.messenger.SendMessageWithKeyboard(state.ChatID, text, keyboard)

	case domain.ActivationQROrOTP:
		keyboard := &domain.Keyboard{
			Inline: true,
			Buttons: [][]domain.Button{
				{{Text: MSG_BTN_QR, Data: domain.CallbackChooseQR}},
				{{Text: MSG_BTN_OTP, Data: domain.CallbackChooseOTP}},
			},
		}
		return h.messenger.SendMessageWithKeyboard(state.ChatID, MSG_CHOOSE_TYPE, keyboard)

	default:
		return h.sendLoginInstructions(state)
	}
}

func (h *ActivationHandler) sendLoginInstructions(state *domain.ConversationState) error {
	keyboard := &domain.Keyboard{
		Inline: true,
		Buttons: [][]domain.Button{
			{{Text: MSG_BTN_LOGGED_IN, Data: domain.CallbackLoggedIn}},
		},
	}
	text := fmt.Sprintf(MSG_LOGIN_INSTRUCTIONS, state.AccountEmail)
	return h.messenger.SendMessageWithKeyboard(state.ChatID, text, keyboard)
}
