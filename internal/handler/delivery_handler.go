package handler

import (
	"context"
	"errors"
	"fmt"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/mailbox"
	"activation-assistant/internal/services"
)

// DeliveryHandler runs the post-claim flows: QR capture through the
// browser session, OTP fetch from the delivery mailbox, and the
// terminal used transition. It is always called under the chat lock.
type DeliveryHandler struct {
	activation    *services.ActivationService
	conversations *services.ConversationService
	browser       BrowserManager
	otp           OTPFetcher
	mailbox       services.MailboxConfig
	messenger     *Messenger
	receiptURL    string
	logger        domain.Logger
}

// NewDeliveryHandler creates a new delivery handler instance
func NewDeliveryHandler(
	activation *services.ActivationService,
	conversations *services.ConversationService,
	browser BrowserManager,
	otp OTPFetcher,
	mailbox services.MailboxConfig,
	messenger *Messenger,
	receiptURL string,
	logger domain.Logger,
) *DeliveryHandler {
	return &DeliveryHandler{
		activation:    activation,
		conversations: conversations,
		browser:       browser,
		otp:           otp,
		mailbox:       mailbox,
		messenger:     messenger,
		receiptURL:    receiptURL,
		logger:        logger,
	}
}

// HandleTypeChoice narrows a dual-type product to the method the
// customer picked and moves the chat to the login step.
func (h *DeliveryHandler) HandleTypeChoice(state *domain.ConversationState, choice domain.ActivationType) error {
	state.ActivationType = choice
	state.Step = domain.StepConfirmLogin
	h.conversations.Save(state)

	keyboard := &domain.Keyboard{
		Inline: true,
		Buttons: [][]domain.Button{
			{{Text: MSG_BTN_LOGGED_IN, Data: domain.CallbackLoggedIn}},
		},
	}
	text := fmt.Sprintf(MSG_LOGIN_INSTRUCTIONS, state.AccountEmail)
	return h.messenger.SendMessageWithKeyboard(state.ChatID, text, keyboard)
}

// HandleLoggedIn fires once the customer reports reaching the
// verification screen. QR products get a freshly captured pairing code;
// OTP products advance to the mailbox step.
func (h *DeliveryHandler) HandleLoggedIn(state *domain.ConversationState) error {
	if state.ActivationType == domain.ActivationOTP {
		ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_STORE_QUERY)
		err := h.activation.Advance(ctx, state.CodeID, domain.StatusAwaitingOTP)
		cancel()
		if err != nil {
			if errors.Is(err, domain.ErrCodeAlreadyUsed) {
				h.conversations.Delete(state.ChatID)
				return h.messenger.SendMessage(state.ChatID, MSG_SESSION_EXPIRED)
			}
			h.logger.WithError(err).WithField("code_id", state.CodeID).Error("Status advance failed")
			return h.messenger.SendMessage(state.ChatID, MSG_OTP_FAILED)
		}

		state.Step = domain.StepAwaitingOTP
		h.conversations.Save(state)

		keyboard := &domain.Keyboard{
			Inline: true,
			Buttons: [][]domain.Button{
				{{Text: MSG_BTN_GET_OTP, Data: domain.CallbackGetOTP}},
			},
		}
		return h.messenger.SendMessageWithKeyboard(state.ChatID, MSG_PRESS_FOR_OTP, keyboard)
	}

	return h.deliverQR(state)
}

// deliverQR ensures a live portal login, captures the pairing QR and
// only then burns the code. A failed capture leaves the code live so
// the retry button still works.
func (h *DeliveryHandler) deliverQR(state *domain.ConversationState) error {
	h.messenger.SendTypingIndicator(state.ChatID)

	if err := h.ensureBrowserSession(state); err != nil {
		h.logger.WithError(err).WithField("chat_id", state.ChatID).Error("Browser session unavailable")
		return h.sendQRRetry(state.ChatID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_QR_FETCH)
	qr, err := h.browser.GetQRCode(ctx)
	cancel()
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", state.ChatID).Error("QR capture failed")
		return h.sendQRRetry(state.ChatID)
	}
	if qr.Degraded {
		h.logger.WithField("chat_id", state.ChatID).Warn("QR capture degraded to full-page shot")
	}

	if err := h.messenger.SendPhoto(state.ChatID, qr.Image, MSG_QR_CAPTION); err != nil {
		return err
	}

	return h.finishDelivery(state, "", "")
}

// HandleGetOTP reads the verification code out of the session mailbox
// and consumes the activation code on success. Failures keep everything
// live and re-offer the button, escalating the hint after repeated misses.
func (h *DeliveryHandler) HandleGetOTP(state *domain.ConversationState, reveal bool) error {
	state.RetryCount++
	h.conversations.Save(state)

	h.messenger.SendTypingIndicator(state.ChatID)

	creds := domain.MailboxCredentials{
		Host:     h.mailbox.Host,
		Port:     h.mailbox.Port,
		Email:    state.MailboxEmail,
		Password: state.MailboxPassword,
	}

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_OTP_FETCH)
	otp, err := h.otp.FetchCode(ctx, creds, mailbox.FetchOptions{})
	cancel()
	if err != nil {
		h.logger.WithError(err).WithFields(map[string]any{
			"chat_id": state.ChatID,
			"attempt": state.RetryCount,
		}).Warn("OTP fetch came up empty")
		return h.sendOTPRetry(state, reveal)
	}

	var reply string
	if reveal {
		reply = fmt.Sprintf(MSG_CHATGPT_OTP_REPLY, state.AccountEmail, state.AccountPassword, otp)
	} else {
		reply = fmt.Sprintf(MSG_OTP_REPLY, otp)
	}

	return h.finishDelivery(state, otp, reply)
}

// finishDelivery performs the terminal transition and reports success.
// The reply carrying the OTP goes out only after the code is burned; if
// another flow got there first the customer sees the expiry message.
func (h *DeliveryHandler) finishDelivery(state *domain.ConversationState, otp, reply string) error {
	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_STORE_QUERY)
	won, err := h.activation.CompleteDelivery(ctx, state.CodeID, otp, domain.OTPSourceAuto)
	cancel()
	if err != nil {
		h.logger.WithError(err).WithField("code_id", state.CodeID).Error("Terminal transition failed")
		return h.messenger.SendMessage(state.ChatID, MSG_SESSION_EXPIRED)
	}
	if !won {
		h.conversations.Delete(state.ChatID)
		return h.messenger.SendMessage(state.ChatID, MSG_SESSION_EXPIRED)
	}

	if reply != "" {
		if err := h.messenger.SendMessage(state.ChatID, reply); err != nil {
			return err
		}
	}

	orderID := state.OrderID
	h.conversations.Delete(state.ChatID)

	if h.receiptURL != "" {
		keyboard := &domain.Keyboard{
			Inline: true,
			Buttons: [][]domain.Button{
				{{Text: MSG_BTN_RECEIPT, URL: fmt.Sprintf("%s/%d", h.receiptURL, orderID)}},
			},
		}
		return h.messenger.SendMessageWithKeyboard(state.ChatID, MSG_SUCCESS, keyboard)
	}
	return h.messenger.SendMessage(state.ChatID, MSG_SUCCESS)
}

// ensureBrowserSession reuses a live login for the session account or
// performs the full email plus mailed-code login when there is none.
func (h *DeliveryHandler) ensureBrowserSession(state *domain.ConversationState) error {
	status := h.browser.GetStatus()
	if status.IsLoggedIn && status.Email == state.AccountEmail {
		ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_QR_FETCH)
		defer cancel()
		return h.browser.EnsureLoggedIn(ctx)
	}

	creds := domain.MailboxCredentials{
		Host:     h.mailbox.Host,
		Port:     h.mailbox.Port,
		Email:    state.MailboxEmail,
		Password: state.MailboxPassword,
	}

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_BROWSER_INIT)
	defer cancel()
	return h.browser.Initialize(ctx, state.AccountEmail, creds)
}

func (h *DeliveryHandler) sendQRRetry(chatID int64) error {
	keyboard := &domain.Keyboard{
		Inline: true,
		Buttons: [][]domain.Button{
			{{Text: MSG_BTN_RETRY_QR, Data: domain.CallbackLoggedIn}},
		},
	}
	return h.messenger.SendMessageWithKeyboard(chatID, MSG_QR_FAILED, keyboard)
}

func (h *DeliveryHandler) sendOTPRetry(state *domain.ConversationState, reveal bool) error {
	data := domain.CallbackGetOTP
	if reveal {
		data = domain.CallbackChatGPTGetOTP
	}
	keyboard := &domain.Keyboard{
		Inline: true,
		Buttons: [][]domain.Button{
			{{Text: MSG_BTN_RETRY_OTP, Data: data}},
		},
	}

	text := MSG_OTP_FAILED
	if state.RetryCount >= OTP_ESCALATION_THRESHOLD {
		text = MSG_OTP_FAILED_ESCALATED
	}
	return h.messenger.SendMessageWithKeyboard(state.ChatID, text, keyboard)
}
