package browser

import "time"

// PortalConfig describes the upstream portal surface. Selector lists are
// ordered strategies evaluated until one matches; they are deployment
// configuration because the portal UI drifts without notice.
type PortalConfig struct {
	LoginURL  string
	DeviceURL string

	EmailSelectors  []string
	SubmitSelectors []string
	SubmitTexts     []string
	OTPSelectors    []string
	AddDeviceTexts  []string
	QRSelectors     []string

	NavigationTimeout time.Duration
	SelectorTimeout   time.Duration
	OTPWaitAttempts   int
	OTPWaitDelay      time.Duration
	MaxLoginAttempts  int

	Headless bool
}

// DefaultPortalConfig returns the selector strategies known to work
// against the current portal build.
func DefaultPortalConfig(loginURL, deviceURL string, headless bool) PortalConfig {
	return PortalConfig{
		LoginURL:  loginURL,
		DeviceURL: deviceURL,
		EmailSelectors: []string{
			`input[type="email"]`,
			`input[name="email"]`,
			`input[autocomplete="email"]`,
			`form input[type="text"]`,
		},
		SubmitSelectors: []string{
			`button[type="submit"]`,
			`form button`,
		},
		SubmitTexts: []string{"continue", "sign in", "log in", "next", "متابعة"},
		OTPSelectors: []string{
			`input[autocomplete="one-time-code"]`,
			`input[type="tel"]`,
			`input[name*="otp"]`,
			`input[name*="code"]`,
		},
		AddDeviceTexts: []string{"add device", "link device", "pair", "إضافة جهاز"},
		QRSelectors: []string{
			`canvas[aria-label*="QR"]`,
			`img[src^="data:image"]`,
			`[class*="qr"] canvas`,
			`[class*="qr"] img`,
		},
		NavigationTimeout: 45 * time.Second,
		SelectorTimeout:   8 * time.Second,
		OTPWaitAttempts:   6,
		OTPWaitDelay:      10 * time.Second,
		MaxLoginAttempts:  3,
		Headless:          headless,
	}
}
