package domain

import "errors"

// Mailbox extractor errors
var (
	ErrMailboxAuth  = errors.New("mailbox authentication failed")
	ErrNoRecentMail = errors.New("no recent messages in mailbox")
	ErrNoCodeFound  = errors.New("messages found but no code recognized")
)

// Browser session manager errors
var (
	ErrSelectorNotFound      = errors.New("no selector strategy matched")
	ErrBrowserTimeout        = errors.New("browser operation timed out")
	ErrNavigationFailed      = errors.New("portal navigation failed")
	ErrNotLoggedIn           = errors.New("browser session is not logged in")
	ErrLoginAttemptsExceeded = errors.New("maximum login attempts exceeded")
)

// Activation store errors
var (
	ErrCodeNotFound    = errors.New("activation code not found")
	ErrCodeAlreadyUsed = errors.New("activation code already used")
	ErrNoSession       = errors.New("no active automation session for product")
)
