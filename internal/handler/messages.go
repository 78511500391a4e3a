package handler

import "time"

// Message constants for the bot
const (
	MSG_WELCOME = "👋 Welcome to activation support!\n\n" +
		"Please send the activation code from your order to get started."

	MSG_CODE_INVALID = "❌ This code is invalid or expired.\n" +
		"Please check the code from your order and send it again."

	MSG_NO_SESSION = "⚠️ This product has no active delivery session right now.\n" +
		"Please try again in a few minutes or contact support."

	MSG_SESSION_EXPIRED = "Session expired. Please resend your activation code."

	// Type choice
	MSG_CHOOSE_TYPE = "📺 How would you like to activate?\n\n" +
		"🔲 QR — scan a code with your device\n" +
		"🔢 OTP — enter a numeric code on your device"
	MSG_BTN_QR  = "🔲 QR code"
	MSG_BTN_OTP = "🔢 Numeric code"

	// Browser-automation flow
	MSG_LOGIN_INSTRUCTIONS = "📺 On your device, open the app and sign in with:\n\n" +
		"📧 %s\n\n" +
		"When you reach the verification screen, tap the button below."
	MSG_BTN_LOGGED_IN = "✅ I'm at the verification screen"

	MSG_QR_CAPTION = "🔲 Scan this QR code with your device now.\nIt expires in a few minutes."
	MSG_QR_FAILED  = "❌ Couldn't fetch the QR code right now.\n" +
		"Make sure the pairing screen is open, then try again."
	MSG_BTN_RETRY_QR = "🔄 Try QR again"

	MSG_PRESS_FOR_OTP = "📬 Tap the button below and I'll fetch your verification code."
	MSG_BTN_GET_OTP   = "📬 Get my code"

	MSG_OTP_REPLY = "🔑 Your verification code:\n\n%s\n\nEnter it on your device now."

	MSG_OTP_FAILED = "❌ No verification code arrived yet.\n" +
		"Request the code on your device first, wait a few seconds, then try again."
	MSG_OTP_FAILED_ESCALATED = "❌ Still no code after several tries.\n\n" +
		"Double-check that your device shows the email verification screen " +
		"and that you requested a new code. If this keeps failing, contact support."
	MSG_BTN_RETRY_OTP = "🔄 Try again"

	// Credential-reveal flow
	MSG_CREDENTIALS_REVEAL = "🔐 Your account credentials:\n\n" +
		"📧 Email: %s\n" +
		"🔑 Password: %s\n\n" +
		"Sign in on your device. When it asks for a verification code, tap below."
	MSG_BTN_CHATGPT_GET_OTP = "📬 Get verification code"

	MSG_CHATGPT_OTP_REPLY = "✅ All set!\n\n" +
		"📧 Email: %s\n" +
		"🔑 Password: %s\n" +
		"🔢 Code: %s"

	MSG_SUCCESS = "🎉 Activation complete! Enjoy.\n" +
		"This code is now used and can't be redeemed again."
	MSG_BTN_RECEIPT = "🧾 View receipt"
)

// Timeout constants
const (
	TIMEOUT_STORE_QUERY  = 15 * time.Second
	TIMEOUT_QR_FETCH     = 90 * time.Second
	TIMEOUT_OTP_FETCH    = 60 * time.Second
	TIMEOUT_BROWSER_INIT = 3 * time.Minute

	// Escalate the retry hint after this many failed OTP attempts.
	OTP_ESCALATION_THRESHOLD = 3
)
