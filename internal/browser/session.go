package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/mailbox"

	"github.com/chromedp/chromedp"
)

// OTPSource supplies verification codes mailed by the portal during login.
type OTPSource interface {
	CheckAuth(ctx context.Context, creds domain.MailboxCredentials) error
	FetchCode(ctx context.Context, creds domain.MailboxCredentials, opts mailbox.FetchOptions) (string, error)
}

// Manager owns the single automated browser session used to drive the
// portal's email-entry, OTP-entry and device-pairing pages. All flows
// serialize on one mutex: there is one browser context and one page.
type Manager struct {
	cfg    PortalConfig
	otp    OTPSource
	logger domain.Logger

	mu            sync.Mutex
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	browserCtx    context.Context
	connected     bool

	loggedIn       bool
	email          string
	mailCreds      domain.MailboxCredentials
	lastActivity   time.Time
	loginAttempts  int
	lastScreenshot []byte
}

// NewManager creates a new browser session manager instance
func NewManager(cfg PortalConfig, otp OTPSource, logger domain.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		otp:    otp,
		logger: logger,
	}
}

// Initialize validates mailbox connectivity, resets the attempt counter
// and performs a fresh portal login for the given account.
func (m *Manager) Initialize(ctx context.Context, email string, creds domain.MailboxCredentials) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.otp.CheckAuth(ctx, creds); err != nil {
		return fmt.Errorf("mailbox precheck: %w", err)
	}

	m.loginAttempts = 0
	m.email = email
	m.mailCreds = creds

	return m.login(ctx)
}

// Login retries the portal login for the account set by Initialize,
// bounded by the per-initialize attempt cap.
func (m *Manager) Login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.email == "" {
		return domain.ErrNotLoggedIn
	}
	return m.login(ctx)
}

// EnsureLoggedIn is a cheap recheck before QR capture: if the current
// page still looks authenticated it does nothing, otherwise it reruns
// the login with the last known account. The portal session can expire
// silently mid-conversation.
func (m *Manager) EnsureLoggedIn(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.connected && m.loggedIn {
		var location string
		if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.Location(&location)); err == nil &&
			urlLooksAuthenticated(location) {
			m.lastActivity = time.Now()
			return nil
		}
	}

	if m.email == "" {
		return domain.ErrNotLoggedIn
	}

	// The attempt counter stays: only a fresh Initialize resets it, so a
	// portal that keeps bouncing re-logins cannot retry unboundedly.
	m.loggedIn = false
	return m.login(ctx)
}

// GetQRCode navigates to the device-pairing page and returns a
// screenshot of the QR element, falling back to a full-page shot marked
// degraded when no QR element is found.
func (m *Manager) GetQRCode(ctx context.Context) (*domain.QRResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loggedIn {
		return nil, domain.ErrNotLoggedIn
	}

	if err := m.run(ctx, m.cfg.NavigationTimeout, chromedp.Navigate(m.cfg.DeviceURL)); err != nil {
		m.captureDiagnostic(ctx, "qr_navigate")
		return nil, fmt.Errorf("%w: device page: %v", domain.ErrNavigationFailed, err)
	}

	// Some portal builds hide the QR behind an "add device" control.
	if clicked, _ := m.clickByText(ctx, m.cfg.AddDeviceTexts); clicked {
		_ = m.run(ctx, m.cfg.SelectorTimeout, chromedp.Sleep(2*time.Second))
	}

	for _, sel := range m.cfg.QRSelectors {
		if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err != nil {
			continue
		}

		var shot []byte
		if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.Screenshot(sel, &shot, chromedp.NodeVisible, chromedp.ByQuery)); err != nil {
			continue
		}

		m.lastActivity = time.Now()
		m.logger.WithField("selector", sel).Info("QR element captured")
		return &domain.QRResult{Image: shot}, nil
	}

	var full []byte
	if err := m.run(ctx, m.cfg.NavigationTimeout, chromedp.FullScreenshot(&full, 90)); err != nil {
		return nil, fmt.Errorf("%w: no QR element and full-page capture failed: %v", domain.ErrSelectorNotFound, err)
	}

	m.lastActivity = time.Now()
	m.logger.Warn("No QR element matched, returning degraded full-page capture")
	return &domain.QRResult{Image: full, Degraded: true}, nil
}

// GetStatus returns a side-effect-free view of the session.
func (m *Manager) GetStatus() domain.BrowserStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	return domain.BrowserStatus{
		IsLoggedIn:       m.loggedIn,
		Email:            m.email,
		LastActivity:     m.lastActivity,
		BrowserConnected: m.connected,
	}
}

// Ping runs a trivial evaluation to detect a cold or crashed browser
// before a real login is attempted.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureBrowser(); err != nil {
		return err
	}

	var one int
	if err := m.run(ctx, 10*time.Second, chromedp.Evaluate("1", &one)); err != nil {
		return fmt.Errorf("%w: ping: %v", domain.ErrBrowserTimeout, err)
	}
	return nil
}

// LastScreenshot returns the most recent diagnostic capture, for
// operator troubleshooting only. Never forwarded to customers.
func (m *Manager) LastScreenshot() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastScreenshot
}

// CloseBrowser tears the browser context down. Safe to call at any
// time, including when no session is open; the mutex keeps it from
// interleaving with an in-flight login.
func (m *Manager) CloseBrowser() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.browserCancel != nil {
		m.browserCancel()
		m.browserCancel = nil
	}
	if m.allocCancel != nil {
		m.allocCancel()
		m.allocCancel = nil
	}

	m.browserCtx = nil
	m.connected = false
	m.loggedIn = false
}

// login drives email entry, mailbox OTP retrieval, OTP entry and the
// final URL check. Caller holds the mutex.
func (m *Manager) login(ctx context.Context) error {
	if m.loginAttempts >= m.cfg.MaxLoginAttempts {
		return domain.ErrLoginAttemptsExceeded
	}
	m.loginAttempts++

	log := m.logger.WithFields(map[string]any{
		"email":   m.email,
		"attempt": m.loginAttempts,
	})
	log.Info("Starting portal login")

	if err := m.ensureBrowser(); err != nil {
		return err
	}

	if err := m.run(ctx, m.cfg.NavigationTimeout, chromedp.Navigate(m.cfg.LoginURL)); err != nil {
		m.captureDiagnostic(ctx, "login_navigate")
		return fmt.Errorf("%w: login page: %v", domain.ErrNavigationFailed, err)
	}

	emailSel, err := m.firstVisible(ctx, m.cfg.EmailSelectors)
	if err != nil {
		m.captureDiagnostic(ctx, "email_input")
		return fmt.Errorf("%w: email input", domain.ErrSelectorNotFound)
	}

	if err := m.run(ctx, m.cfg.SelectorTimeout,
		chromedp.Clear(emailSel, chromedp.ByQuery),
		chromedp.SendKeys(emailSel, m.email, chromedp.ByQuery),
	); err != nil {
		m.captureDiagnostic(ctx, "email_fill")
		return fmt.Errorf("filling email input: %w", err)
	}

	if err := m.submit(ctx); err != nil {
		m.captureDiagnostic(ctx, "email_submit")
		return err
	}

	code, err := m.waitForMailedCode(ctx)
	if err != nil {
		m.captureDiagnostic(ctx, "otp_wait")
		return err
	}

	if err := m.enterOTP(ctx, code); err != nil {
		m.captureDiagnostic(ctx, "otp_fill")
		return err
	}

	// Segmented inputs usually auto-submit; a leftover submit control
	// is clicked best-effort.
	if err := m.submit(ctx); err != nil {
		log.WithError(err).Debug("No submit control after OTP entry, assuming auto-submit")
	}

	_ = m.run(ctx, m.cfg.SelectorTimeout, chromedp.Sleep(3*time.Second))

	var location string
	if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.Location(&location)); err != nil {
		return fmt.Errorf("%w: reading post-login URL: %v", domain.ErrBrowserTimeout, err)
	}

	if !urlLooksAuthenticated(location) {
		m.captureDiagnostic(ctx, "login_verify")
		return fmt.Errorf("portal still on %s after OTP entry", location)
	}

	m.loggedIn = true
	m.lastActivity = time.Now()
	log.Info("Portal login succeeded")
	return nil
}

// waitForMailedCode polls the mailbox with fixed spacing for the code
// the portal just sent.
func (m *Manager) waitForMailedCode(ctx context.Context) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= m.cfg.OTPWaitAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(m.cfg.OTPWaitDelay):
		}

		code, err := m.otp.FetchCode(ctx, m.mailCreds, mailbox.FetchOptions{
			MaxAge: mailbox.MaxAgeCeiling,
		})
		if err == nil {
			return code, nil
		}

		lastErr = err
		m.logger.WithError(err).WithField("attempt", attempt).Debug("Portal OTP not in mailbox yet")
	}

	return "", fmt.Errorf("portal OTP never arrived: %w", lastErr)
}

// enterOTP fills either segmented one-digit inputs or a single code
// input, decided by how many candidate inputs the page exposes.
func (m *Manager) enterOTP(ctx context.Context, code string) error {
	selector := strings.Join(m.cfg.OTPSelectors, ", ")

	script := fmt.Sprintf(`(() => {
		const inputs = [...document.querySelectorAll(%q)];
		const code = %q;
		if (inputs.length === 0) return 0;
		const fill = (el, v) => {
			el.focus();
			el.value = v;
			el.dispatchEvent(new Event('input', {bubbles: true}));
			el.dispatchEvent(new Event('change', {bubbles: true}));
		};
		if (inputs.length >= code.length) {
			for (let i = 0; i < code.length; i++) fill(inputs[i], code[i]);
		} else {
			fill(inputs[0], code);
		}
		return inputs.length;
	})()`, selector, code)

	var count int
	if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.Evaluate(script, &count)); err != nil {
		return fmt.Errorf("%w: otp entry: %v", domain.ErrBrowserTimeout, err)
	}
	if count == 0 {
		return fmt.Errorf("%w: otp input", domain.ErrSelectorNotFound)
	}

	m.logger.WithField("inputs", count).Debug("OTP entered")
	return nil
}

// submit clicks the first matching submit control, falling back to a
// text search over button-like elements.
func (m *Manager) submit(ctx context.Context) error {
	for _, sel := range m.cfg.SubmitSelectors {
		if err := m.run(ctx, m.cfg.SelectorTimeout,
			chromedp.WaitVisible(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		); err == nil {
			return nil
		}
	}

	clicked, err := m.clickByText(ctx, m.cfg.SubmitTexts)
	if err != nil {
		return fmt.Errorf("%w: submit control: %v", domain.ErrSelectorNotFound, err)
	}
	if !clicked {
		return fmt.Errorf("%w: submit control", domain.ErrSelectorNotFound)
	}
	return nil
}

// clickByText clicks the first button-like element whose visible text
// contains one of the given fragments.
func (m *Manager) clickByText(ctx context.Context, texts []string) (bool, error) {
	quoted := make([]string, len(texts))
	for i, t := range texts {
		quoted[i] = fmt.Sprintf("%q", strings.ToLower(t))
	}

	script := fmt.Sprintf(`(() => {
		const texts = [%s];
		const els = [...document.querySelectorAll('button, [role="button"], input[type="submit"], a.btn')];
		for (const t of texts) {
			const el = els.find(e => ((e.innerText || e.value || '')).toLowerCase().includes(t));
			if (el) { el.click(); return true; }
		}
		return false;
	})()`, strings.Join(quoted, ", "))

	var clicked bool
	if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.Evaluate(script, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

// firstVisible returns the first selector strategy that matches a
// visible element.
func (m *Manager) firstVisible(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.WaitVisible(sel, chromedp.ByQuery)); err == nil {
			return sel, nil
		}
	}
	return "", domain.ErrSelectorNotFound
}

// ensureBrowser starts the browser context on first use or after a
// close. Caller holds the mutex.
func (m *Manager) ensureBrowser() error {
	if m.connected && m.browserCtx != nil && m.browserCtx.Err() == nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", m.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1280, 900),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Materialize the browser process now so failures surface here, not
	// in the middle of a login flow.
	startCtx, cancel := context.WithTimeout(browserCtx, m.cfg.NavigationTimeout)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("%w: starting browser: %v", domain.ErrNavigationFailed, err)
	}

	m.allocCancel = allocCancel
	m.browserCancel = browserCancel
	m.browserCtx = browserCtx
	m.connected = true
	return nil
}

// run executes actions against the shared page with a bounded deadline,
// honoring the caller's context.
func (m *Manager) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if m.browserCtx == nil {
		return domain.ErrNotLoggedIn
	}

	runCtx, cancel := context.WithTimeout(m.browserCtx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()

	select {
	case <-ctx.Done():
		cancel()
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// captureDiagnostic stores a screenshot of the failure state for the
// operator log. Failures here are swallowed; diagnostics must never
// mask the original error.
func (m *Manager) captureDiagnostic(ctx context.Context, stage string) {
	var shot []byte
	if err := m.run(ctx, m.cfg.SelectorTimeout, chromedp.CaptureScreenshot(&shot)); err != nil {
		m.logger.WithError(err).WithField("stage", stage).Debug("Diagnostic screenshot failed")
		return
	}

	m.lastScreenshot = shot
	m.logger.WithFields(map[string]any{
		"stage": stage,
		"bytes": len(shot),
	}).Warn("Captured diagnostic screenshot")
}

// urlLooksAuthenticated decides login success by the absence of the
// login/verification path markers in the final URL.
func urlLooksAuthenticated(location string) bool {
	if location == "" || strings.HasPrefix(location, "about:") {
		return false
	}

	lower := strings.ToLower(location)
	return !strings.Contains(lower, "login") && !strings.Contains(lower, "verify")
}
