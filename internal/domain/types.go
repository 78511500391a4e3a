package domain

import "time"

// Events
type MessageEvent struct {
	UserID   int64
	ChatID   int64
	Username string
	Message  string
}

type CallbackEvent struct {
	UserID     int64
	ChatID     int64
	Username   string
	CallbackID string
	MessageID  int
	Data       string
}

// Responses
type MessageResponse struct {
	ChatID   int64
	Text     string
	Keyboard *Keyboard
}

type PhotoResponse struct {
	ChatID  int64
	Image   []byte
	Caption string
}

type EditResponse struct {
	ChatID    int64
	MessageID int
	Text      string
	Keyboard  *Keyboard
}

type Keyboard struct {
	Inline  bool
	Buttons [][]Button
}

type Button struct {
	Text string
	Data string
	URL  string
}

// Activation code statuses as stored on the code row.
type CodeStatus string

const (
	StatusPending            CodeStatus = "pending"
	StatusInProgress         CodeStatus = "in_progress"
	StatusAwaitingOTP        CodeStatus = "awaiting_otp"
	StatusChatGPTAwaitingOTP CodeStatus = "chatgpt_awaiting_otp"
	StatusUsed               CodeStatus = "used"
	// StatusExpired is written only by the dashboard sweep. Validity
	// checks gate on expires_at, never on this value.
	StatusExpired CodeStatus = "expired"
)

// Activation types declared on the product.
type ActivationType string

const (
	ActivationQR      ActivationType = "qr"
	ActivationOTP     ActivationType = "otp"
	ActivationQROrOTP ActivationType = "qr_otp"
	ActivationChatGPT ActivationType = "chatgpt"
)

// Callback actions carried in button callback data. These are wire
// values; changing them breaks in-flight keyboards.
const (
	CallbackChooseQR      = "choose_qr"
	CallbackChooseOTP     = "choose_otp"
	CallbackLoggedIn      = "logged_in"
	CallbackGetOTP        = "get_otp"
	CallbackChatGPTGetOTP = "chatgpt_get_otp"
)

// Conversation steps
type ConversationStep string

const (
	StepChoosingType ConversationStep = "choosing_type"
	StepConfirmLogin ConversationStep = "confirm_login"
	StepAwaitingOTP  ConversationStep = "awaiting_otp"
	StepRevealed     ConversationStep = "revealed"
)

// ConversationState is the per-chat working state. It lives in process
// memory only; every field can be rebuilt from the activation code row,
// the product and the automation session (see ConversationService.Reconstruct).
type ConversationState struct {
	ChatID          int64
	Username        string
	CodeID          int64
	Code            string
	OrderID         int64
	ProductID       int64
	ActivationType  ActivationType
	AccountEmail    string
	AccountPassword string
	MailboxEmail    string
	MailboxPassword string
	Step            ConversationStep
	RetryCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// MailboxCredentials identify the inbox that receives portal OTP mail.
type MailboxCredentials struct {
	Host     string
	Port     int
	Email    string
	Password string
}

// BrowserStatus is a cheap, side-effect-free view of the automation session.
type BrowserStatus struct {
	IsLoggedIn       bool      `json:"isLoggedIn"`
	Email            string    `json:"email"`
	LastActivity     time.Time `json:"lastActivity"`
	BrowserConnected bool      `json:"browserConnected"`
}

// QRResult is what the browser manager hands back for a pairing request.
// Degraded marks a full-page fallback shot taken when no QR element was found.
type QRResult struct {
	Image    []byte
	Degraded bool
}

// OTP delivery audit sources
const (
	OTPSourceAuto   = "auto"
	OTPSourceManual = "manual"
)
