package telegram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"

	"activation-assistant/internal/domain"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gookit/event"
)

// Telegram bridges the bot API and the in-process event bus. Inbound
// updates become domain events; outbound events become API calls. The
// handlers never see this package.
type Telegram struct {
	bot          *bot.Bot
	eventManager *event.Manager
	logger       domain.Logger
}

func NewTelegram(token string, eventManager *event.Manager, logger domain.Logger) (*Telegram, error) {
	adapter := &Telegram{
		eventManager: eventManager,
		logger:       logger,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(adapter.defaultHandler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	adapter.bot = b

	// Register bot handlers
	adapter.registerHandlers()

	// Register event listeners for responses
	adapter.registerEventListeners()

	return adapter, nil
}

// Start runs long polling until the context is cancelled.
func (t *Telegram) Start(ctx context.Context) {
	t.bot.Start(ctx)
}

// StartWebhook registers the webhook URL with the API and serves
// updates pushed to it. The returned handler must be mounted by the
// caller's HTTP server.
func (t *Telegram) StartWebhook(ctx context.Context, url string) error {
	ok, err := t.bot.SetWebhook(ctx, &bot.SetWebhookParams{URL: url})
	if err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	if !ok {
		return fmt.Errorf("set webhook: API refused %s", url)
	}

	t.logger.WithField("url", url).Info("Webhook registered")
	t.bot.StartWebhook(ctx)
	return nil
}

// WebhookHandler returns the HTTP handler that feeds pushed updates
// into the bot.
func (t *Telegram) WebhookHandler() http.Handler {
	return t.bot.WebhookHandler()
}

func (t *Telegram) registerHandlers() {
	t.bot.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, t.handleMessage)
	t.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, t.handleCallback)
}

func (t *Telegram) handleMessage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	msgEvent := &domain.MessageEvent{
		UserID:   update.Message.From.ID,
		ChatID:   update.Message.Chat.ID,
		Username: update.Message.From.Username,
		Message:  update.Message.Text,
	}

	t.logger.WithFields(map[string]any{
		"user_id": msgEvent.UserID,
		"chat_id": msgEvent.ChatID,
	}).Debug("Message received")

	if err, _ := t.eventManager.Fire("telegram.message.received", event.M{
		"event": msgEvent,
	}); err != nil {
		t.logger.WithError(err).WithField("chat_id", msgEvent.ChatID).Error("Message handling failed")
	}
}

func (t *Telegram) handleCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	// Answer right away to clear the client's loading state; flows that
	// want a toast answer again with text.
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
	})

	callbackEvent := &domain.CallbackEvent{
		UserID:     update.CallbackQuery.From.ID,
		Username:   update.CallbackQuery.From.Username,
		CallbackID: update.CallbackQuery.ID,
		Data:       update.CallbackQuery.Data,
	}
	if update.CallbackQuery.Message.Message != nil {
		callbackEvent.ChatID = update.CallbackQuery.Message.Message.Chat.ID
		callbackEvent.MessageID = update.CallbackQuery.Message.Message.ID
	}

	t.logger.WithFields(map[string]any{
		"user_id": callbackEvent.UserID,
		"data":    callbackEvent.Data,
	}).Debug("Callback received")

	if err, _ := t.eventManager.Fire("telegram.callback.received", event.M{
		"event": callbackEvent,
	}); err != nil {
		t.logger.WithError(err).WithField("chat_id", callbackEvent.ChatID).Error("Callback handling failed")
	}
}

func (t *Telegram) registerEventListeners() {
	t.eventManager.On("telegram.send.message", event.ListenerFunc(func(e event.Event) error {
		data, ok := e.Get("response").(*domain.MessageResponse)
		if !ok {
			return fmt.Errorf("invalid message response type")
		}

		params := &bot.SendMessageParams{
			ChatID: data.ChatID,
			Text:   data.Text,
		}
		if data.Keyboard != nil {
			params.ReplyMarkup = t.buildKeyboard(data.Keyboard)
		}

		if _, err := t.bot.SendMessage(context.Background(), params); err != nil {
			t.logger.WithError(err).WithField("chat_id", data.ChatID).Error("Send message failed")
			return err
		}
		return nil
	}))

	t.eventManager.On("telegram.send.photo", event.ListenerFunc(func(e event.Event) error {
		data, ok := e.Get("response").(*domain.PhotoResponse)
		if !ok {
			return fmt.Errorf("invalid photo response type")
		}

		_, err := t.bot.SendPhoto(context.Background(), &bot.SendPhotoParams{
			ChatID: data.ChatID,
			Photo: &models.InputFileUpload{
				Filename: "qr.png",
				Data:     bytes.NewReader(data.Image),
			},
			Caption: data.Caption,
		})
		if err != nil {
			t.logger.WithError(err).WithField("chat_id", data.ChatID).Error("Send photo failed")
			return err
		}
		return nil
	}))

	t.eventManager.On("telegram.edit.message", event.ListenerFunc(func(e event.Event) error {
		data, ok := e.Get("response").(*domain.EditResponse)
		if !ok {
			return fmt.Errorf("invalid edit response type")
		}

		params := &bot.EditMessageTextParams{
			ChatID:    data.ChatID,
			MessageID: data.MessageID,
			Text:      data.Text,
		}
		if data.Keyboard != nil {
			params.ReplyMarkup = t.buildKeyboard(data.Keyboard)
		}

		if _, err := t.bot.EditMessageText(context.Background(), params); err != nil {
			t.logger.WithError(err).WithField("chat_id", data.ChatID).Error("Edit message failed")
			return err
		}
		return nil
	}))

	t.eventManager.On("telegram.answer.callback", event.ListenerFunc(func(e event.Event) error {
		callbackID, ok := e.Get("callbackID").(string)
		if !ok {
			return fmt.Errorf("invalid callbackID type")
		}
		text, _ := e.Get("text").(string)
		showAlert, _ := e.Get("showAlert").(bool)

		_, err := t.bot.AnswerCallbackQuery(context.Background(), &bot.AnswerCallbackQueryParams{
			CallbackQueryID: callbackID,
			Text:            text,
			ShowAlert:       showAlert,
		})
		if err != nil {
			t.logger.WithError(err).Error("Answer callback failed")
			return err
		}
		return nil
	}))

	t.eventManager.On("telegram.send.typing", event.ListenerFunc(func(e event.Event) error {
		chatID, ok := e.Get("chatID").(int64)
		if !ok {
			return fmt.Errorf("invalid chatID type")
		}

		_, err := t.bot.SendChatAction(context.Background(), &bot.SendChatActionParams{
			ChatID: chatID,
			Action: models.ChatActionTyping,
		})
		if err != nil {
			t.logger.WithError(err).WithField("chat_id", chatID).Error("Send typing action failed")
			return err
		}
		return nil
	}))
}

func (t *Telegram) buildKeyboard(keyboard *domain.Keyboard) models.ReplyMarkup {
	if keyboard.Inline {
		var rows [][]models.InlineKeyboardButton
		for _, row := range keyboard.Buttons {
			var buttons []models.InlineKeyboardButton
			for _, btn := range row {
				button := models.InlineKeyboardButton{Text: btn.Text}
				if btn.URL != "" {
					button.URL = btn.URL
				} else {
					button.CallbackData = btn.Data
				}
				buttons = append(buttons, button)
			}
			rows = append(rows, buttons)
		}
		return &models.InlineKeyboardMarkup{
			InlineKeyboard: rows,
		}
	}

	// Reply keyboard
	var rows [][]models.KeyboardButton
	for _, row := range keyboard.Buttons {
		var buttons []models.KeyboardButton
		for _, btn := range row {
			buttons = append(buttons, models.KeyboardButton{
				Text: btn.Text,
			})
		}
		rows = append(rows, buttons)
	}
	return &models.ReplyKeyboardMarkup{
		Keyboard:       rows,
		ResizeKeyboard: true,
	}
}

func (t *Telegram) defaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	t.logger.WithField("update_id", update.ID).Debug("Unhandled update")
}
