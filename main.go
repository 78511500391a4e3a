package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"activation-assistant/internal/browser"
	"activation-assistant/internal/database"
	"activation-assistant/internal/domain"
	"activation-assistant/internal/handler"
	"activation-assistant/internal/logger"
	"activation-assistant/internal/mailbox"
	"activation-assistant/internal/repository"
	"activation-assistant/internal/services"
	"activation-assistant/internal/telegram"

	"github.com/gookit/event"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

type Config struct {
	TelegramToken   string
	DatabaseDSN     string
	PortalLoginURL  string
	PortalDeviceURL string
	MailboxHost     string
	MailboxPort     int
	Headless        bool
	WebhookURL      string
	ListenAddr      string
	ReceiptBaseURL  string
	LogLevel        string
}

type Application struct {
	logger       domain.Logger
	db           database.DB
	config       *Config
	services     *Services
	handlers     *Handlers
	browser      *browser.Manager
	eventManager *event.Manager
	cron         *cron.Cron
}

type Services struct {
	Activation   *services.ActivationService
	Conversation *services.ConversationService
}

type Handlers struct {
	Message *handler.MessageHandler
}

// main initializes and runs the activation assistant application
func main() {
	app, err := NewApplication()
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Close()

	if err := app.Run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

// NewApplication creates a new application instance with all dependencies
func NewApplication() (*Application, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found: %v", err)
	}

	config, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	appLogger, err := initializeLogger(config.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	db, err := initializeDatabase(config.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	eventManager := event.NewManager("app")

	activationRepo := repository.NewActivationRepository(db)
	mailboxConfig := services.MailboxConfig{Host: config.MailboxHost, Port: config.MailboxPort}

	activationService := services.NewActivationService(activationRepo, mailboxConfig, appLogger)
	conversationService := services.NewConversationService(activationService, appLogger)

	extractor := mailbox.NewExtractor(appLogger)
	browserManager := browser.NewManager(
		browser.DefaultPortalConfig(config.PortalLoginURL, config.PortalDeviceURL, config.Headless),
		extractor,
		appLogger,
	)

	handlers := &Handlers{
		Message: handler.NewMessageHandler(
			eventManager,
			activationService,
			conversationService,
			browserManager,
			extractor,
			mailboxConfig,
			config.ReceiptBaseURL,
			appLogger,
		),
	}

	app := &Application{
		config:       config,
		logger:       appLogger,
		db:           db,
		services:     &Services{Activation: activationService, Conversation: conversationService},
		handlers:     handlers,
		browser:      browserManager,
		eventManager: eventManager,
		cron:         cron.New(),
	}

	return app, nil
}

// Run starts the application and handles graceful shutdown
func (app *Application) Run() error {
	app.handlers.Message.RegisterEventListeners()

	telegramBot, err := telegram.NewTelegram(app.config.TelegramToken, app.eventManager, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create telegram bot: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app.startExpirySweep(ctx)
	app.startHTTPServer(ctx, telegramBot)

	app.logStartupMessages()

	if app.config.WebhookURL != "" {
		return telegramBot.StartWebhook(ctx, app.config.WebhookURL)
	}
	telegramBot.Start(ctx)
	return nil
}

// Close performs cleanup operations
func (app *Application) Close() {
	if app.cron != nil {
		app.cron.Stop()
	}
	if app.browser != nil {
		app.browser.CloseBrowser()
	}
	if app.db != nil {
		if err := app.db.Close(context.Background()); err != nil {
			log.Printf("Database close error: %v", err)
		}
	}
}

// startExpirySweep schedules the hourly dashboard sweep of expired codes.
func (app *Application) startExpirySweep(ctx context.Context) {
	_, err := app.cron.AddFunc("@hourly", func() {
		sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		app.services.Activation.SweepExpired(sweepCtx)
	})
	if err != nil {
		app.logger.WithError(err).Error("Failed to schedule expiry sweep")
		return
	}
	app.cron.Start()
}

// startHTTPServer serves the health endpoint and, in webhook mode, the
// update receiver.
func (app *Application) startHTTPServer(ctx context.Context, telegramBot *telegram.Telegram) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", app.handleHealthz)
	if app.config.WebhookURL != "" {
		mux.Handle("/webhook", telegramBot.WebhookHandler())
	}

	server := &http.Server{
		Addr:    app.config.ListenAddr,
		Handler: mux,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.WithError(err).Error("HTTP server stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// handleHealthz reports browser session health for monitoring.
func (app *Application) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	status := app.browser.GetStatus()
	payload := map[string]any{
		"status":  "ok",
		"browser": status,
	}

	if status.BrowserConnected {
		if err := app.browser.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["browserError"] = err.Error()
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

// logStartupMessages displays startup information
func (app *Application) logStartupMessages() {
	app.logger.Info("🤖 Bot started successfully!")
	app.logger.Info("🗄️ Connected to the activation code store")
	if app.config.WebhookURL != "" {
		app.logger.Info("📡 Receiving updates via webhook at " + app.config.WebhookURL)
	} else {
		app.logger.Info("📡 Receiving updates via long polling")
	}
	app.logger.Info("✅ Ready to deliver activations")
}

// loadConfig loads configuration from environment variables
func loadConfig() (*Config, error) {
	config := &Config{
		TelegramToken:   getEnv("TELEGRAM_BOT_TOKEN", ""),
		DatabaseDSN:     getEnv("DATABASE_URL", ""),
		PortalLoginURL:  getEnv("PORTAL_LOGIN_URL", ""),
		PortalDeviceURL: getEnv("PORTAL_DEVICE_URL", ""),
		MailboxHost:     getEnv("MAILBOX_IMAP_HOST", ""),
		MailboxPort:     getEnvAsInt("MAILBOX_IMAP_PORT", 993),
		Headless:        getEnvAsBool("BROWSER_HEADLESS", true),
		WebhookURL:      getEnv("TELEGRAM_WEBHOOK_URL", ""),
		ListenAddr:      getEnv("LISTEN_ADDR", ":8080"),
		ReceiptBaseURL:  getEnv("RECEIPT_BASE_URL", ""),
		LogLevel:        getEnv("LOG_LEVEL", "debug"),
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	return config, nil
}

// validateConfig ensures all required configuration values are present
func validateConfig(config *Config) error {
	required := map[string]string{
		"TELEGRAM_BOT_TOKEN": config.TelegramToken,
		"DATABASE_URL":       config.DatabaseDSN,
		"PORTAL_LOGIN_URL":   config.PortalLoginURL,
		"PORTAL_DEVICE_URL":  config.PortalDeviceURL,
		"MAILBOX_IMAP_HOST":  config.MailboxHost,
	}

	for key, value := range required {
		if value == "" {
			return fmt.Errorf("required environment variable %s is not set", key)
		}
	}

	return nil
}

// initializeLogger creates and configures the application logger
func initializeLogger(logLevel string) (*logger.ZLogXAdapter, error) {
	logConfig := &logger.Config{
		Level:          logLevel,
		DateTimeLayout: "02/01/2006 15:04:05",
		Colored:        true,
		JSONFormat:     false,
		UseEmoji:       true,
	}

	zlog, err := logger.New(logConfig)
	if err != nil {
		return nil, err
	}

	return &logger.ZLogXAdapter{ZLogX: zlog}, nil
}

// initializeDatabase creates and connects to the database
func initializeDatabase(dsn string) (database.DB, error) {
	ctx := context.Background()
	return database.NewPostgres(ctx, dsn)
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves environment variable as integer with fallback
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBool retrieves environment variable as boolean with fallback
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
