package handler

import (
	"context"
	"fmt"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/mailbox"
	"activation-assistant/internal/services"

	"github.com/gookit/event"
)

// BrowserManager is the slice of the browser session manager the
// conversation flows need.
type BrowserManager interface {
	Initialize(ctx context.Context, email string, creds domain.MailboxCredentials) error
	EnsureLoggedIn(ctx context.Context) error
	GetQRCode(ctx context.Context) (*domain.QRResult, error)
	GetStatus() domain.BrowserStatus
}

// OTPFetcher reads verification codes out of a delivery mailbox.
type OTPFetcher interface {
	FetchCode(ctx context.Context, creds domain.MailboxCredentials, opts mailbox.FetchOptions) (string, error)
}

type MessageHandler struct {
	eventManager  *event.Manager
	conversations *services.ConversationService
	logger        domain.Logger

	activationHandler *ActivationHandler
	deliveryHandler   *DeliveryHandler
	messenger         *Messenger
}

// NewMessageHandler creates a new message handler instance with sub-handlers
func NewMessageHandler(
	eventManager *event.Manager,
	activationService *services.ActivationService,
	conversationService *services.ConversationService,
	browser BrowserManager,
	otp OTPFetcher,
	mailboxConfig services.MailboxConfig,
	receiptBaseURL string,
	logger domain.Logger,
) *MessageHandler {
	messenger := NewMessenger(eventManager)

	return &MessageHandler{
		eventManager:  eventManager,
		conversations: conversationService,
		logger:        logger,
		activationHandler: NewActivationHandler(
			activationService, conversationService, messenger, logger,
		),
		deliveryHandler: NewDeliveryHandler(
			activationService, conversationService, browser, otp, mailboxConfig, messenger, receiptBaseURL, logger,
		),
		messenger: messenger,
	}
}

// RegisterEventListeners registers event listeners for messages and callbacks
func (h *MessageHandler) RegisterEventListeners() {
	h.eventManager.On("telegram.message.received", event.ListenerFunc(func(e event.Event) error {
		msgEvent, ok := e.Get("event").(*domain.MessageEvent)
		if !ok {
			return fmt.Errorf("invalid message event type")
		}
		return h.handleMessage(msgEvent)
	}))

	h.eventManager.On("telegram.callback.received", event.ListenerFunc(func(e event.Event) error {
		callbackEvent, ok := e.Get("event").(*domain.CallbackEvent)
		if !ok {
			return fmt.Errorf("invalid callback event type")
		}
		return h.handleCallback(callbackEvent)
	}))
}

// handleMessage treats any plain text as a candidate activation code
func (h *MessageHandler) handleMessage(msg *domain.MessageEvent) error {
	if msg.Message == "/start" {
		return h.messenger.SendMessage(msg.ChatID, MSG_WELCOME)
	}

	return h.activationHandler.HandleCodeSubmission(msg)
}

// handleCallback routes button presses through the per-chat lock so a
// double press cannot run two deliveries for one code.
func (h *MessageHandler) handleCallback(callback *domain.CallbackEvent) error {
	lock := h.conversations.ChatLock(callback.ChatID)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), TIMEOUT_STORE_QUERY)
	state, err := h.conversations.GetOrReconstruct(ctx, callback.ChatID)
	cancel()
	if err != nil {
		h.logger.WithError(err).WithField("chat_id", callback.ChatID).Debug("No conversation to resume")
		return h.messenger.SendMessage(callback.ChatID, MSG_SESSION_EXPIRED)
	}

	switch callback.Data {
	case domain.CallbackChooseQR:
		return h.deliveryHandler.HandleTypeChoice(state, domain.ActivationQR)
	case domain.CallbackChooseOTP:
		return h.deliveryHandler.HandleTypeChoice(state, domain.ActivationOTP)
	case domain.CallbackLoggedIn:
		return h.deliveryHandler.HandleLoggedIn(state)
	case domain.CallbackGetOTP:
		return h.deliveryHandler.HandleGetOTP(state, false)
	case domain.CallbackChatGPTGetOTP:
		return h.deliveryHandler.HandleGetOTP(state, true)
	default:
		return nil
	}
}
