package handler

import (
	"activation-assistant/internal/domain"

	"github.com/gookit/event"
)

// Messenger handles sending messages to customers. Sends go through
// Fire, never MustFire: a transport listener error (Telegram outage,
// bad chat id) comes back as an error result instead of a panic in the
// handling goroutine.
type Messenger struct {
	eventManager *event.Manager
}

// NewMessenger creates a new messenger instance
func NewMessenger(eventManager *event.Manager) *Messenger {
	return &Messenger{
		eventManager: eventManager,
	}
}

// SendMessage sends a text message to a chat
func (m *Messenger) SendMessage(chatID int64, text string) error {
	response := &domain.MessageResponse{
		ChatID: chatID,
		Text:   text,
	}

	err, _ := m.eventManager.Fire("telegram.send.message", event.M{
		"response": response,
	})
	return err
}

// SendMessageWithKeyboard sends a message with an inline keyboard
func (m *Messenger) SendMessageWithKeyboard(chatID int64, text string, keyboard *domain.Keyboard) error {
	response := &domain.MessageResponse{
		ChatID:   chatID,
		Text:     text,
		Keyboard: keyboard,
	}

	err, _ := m.eventManager.Fire("telegram.send.message", event.M{
		"response": response,
	})
	return err
}

// SendPhoto posts an image with a caption to a chat
func (m *Messenger) SendPhoto(chatID int64, image []byte, caption string) error {
	response := &domain.PhotoResponse{
		ChatID:  chatID,
		Image:   image,
		Caption: caption,
	}

	err, _ := m.eventManager.Fire("telegram.send.photo", event.M{
		"response": response,
	})
	return err
}

// EditMessage edits an existing message in place
func (m *Messenger) EditMessage(chatID int64, messageID int, text string, keyboard *domain.Keyboard) error {
	response := &domain.EditResponse{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
		Keyboard:  keyboard,
	}

	err, _ := m.eventManager.Fire("telegram.edit.message", event.M{
		"response": response,
	})
	return err
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast
func (m *Messenger) AnswerCallbackQuery(callbackID string, text string, showAlert bool) error {
	err, _ := m.eventManager.Fire("telegram.answer.callback", event.M{
		"callbackID": callbackID,
		"text":       text,
		"showAlert":  showAlert,
	})
	return err
}

// SendTypingIndicator sends a typing action to show the bot is working.
// Best effort: a failed typing action never fails the flow.
func (m *Messenger) SendTypingIndicator(chatID int64) {
	_, _ = m.eventManager.Fire("telegram.send.typing", event.M{
		"chatID": chatID,
	})
}
