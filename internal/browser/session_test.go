package browser

import (
	"context"
	"errors"
	"testing"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/mailbox"
)

type stubOTPSource struct {
	authErr  error
	code     string
	fetchErr error
	fetches  int
}

func (s *stubOTPSource) CheckAuth(ctx context.Context, creds domain.MailboxCredentials) error {
	return s.authErr
}

func (s *stubOTPSource) FetchCode(ctx context.Context, creds domain.MailboxCredentials, opts mailbox.FetchOptions) (string, error) {
	s.fetches++
	if s.fetchErr != nil {
		return "", s.fetchErr
	}
	return s.code, nil
}

func testConfig() PortalConfig {
	cfg := DefaultPortalConfig("https://portal.example/login", "https://portal.example/devices", true)
	cfg.OTPWaitAttempts = 2
	cfg.OTPWaitDelay = time.Millisecond
	return cfg
}

func discardLogger() domain.Logger { return nopLogger{} }

type nopLogger struct{}

func (nopLogger) WithField(string, any) domain.Logger      { return nopLogger{} }
func (nopLogger) WithFields(map[string]any) domain.Logger  { return nopLogger{} }
func (nopLogger) WithError(error) domain.Logger            { return nopLogger{} }
func (nopLogger) Print(...any)                             {}
func (nopLogger) Debug(...any)                             {}
func (nopLogger) Info(...any)                              {}
func (nopLogger) Warn(...any)                              {}
func (nopLogger) Error(...any)                             {}
func (nopLogger) Fatal(...any)                             {}
func (nopLogger) Panic(...any)                             {}
func (nopLogger) Printf(string, ...any)                    {}
func (nopLogger) Debugf(string, ...any)                    {}
func (nopLogger) Infof(string, ...any)                     {}
func (nopLogger) Warnf(string, ...any)                     {}
func (nopLogger) Errorf(string, ...any)                    {}
func (nopLogger) Fatalf(string, ...any)                    {}
func (nopLogger) Panicf(string, ...any)                    {}

func TestLoginAttemptCapShortCircuits(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &stubOTPSource{}, discardLogger())
	m.email = "account@example.com"
	m.loginAttempts = m.cfg.MaxLoginAttempts

	err := m.Login(context.Background())
	if !errors.Is(err, domain.ErrLoginAttemptsExceeded) {
		t.Fatalf("expected ErrLoginAttemptsExceeded, got %v", err)
	}
	if m.browserCtx != nil {
		t.Fatal("capped login must not start a browser")
	}
}

func TestEnsureLoggedInHonorsAttemptCap(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &stubOTPSource{}, discardLogger())
	m.email = "account@example.com"
	m.loginAttempts = m.cfg.MaxLoginAttempts

	err := m.EnsureLoggedIn(context.Background())
	if !errors.Is(err, domain.ErrLoginAttemptsExceeded) {
		t.Fatalf("expected ErrLoginAttemptsExceeded, got %v", err)
	}
	if m.loginAttempts != m.cfg.MaxLoginAttempts {
		t.Fatalf("re-login must not reset the attempt counter, got %d", m.loginAttempts)
	}
	if m.browserCtx != nil {
		t.Fatal("capped re-login must not start a browser")
	}
}

func TestLoginWithoutInitialize(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &stubOTPSource{}, discardLogger())
	if err := m.Login(context.Background()); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestInitializeFailsFastOnMailboxAuth(t *testing.T) {
	t.Parallel()

	src := &stubOTPSource{authErr: domain.ErrMailboxAuth}
	m := NewManager(testConfig(), src, discardLogger())

	err := m.Initialize(context.Background(), "account@example.com", domain.MailboxCredentials{})
	if !errors.Is(err, domain.ErrMailboxAuth) {
		t.Fatalf("expected ErrMailboxAuth, got %v", err)
	}
	if m.browserCtx != nil {
		t.Fatal("mailbox precheck failure must not start a browser")
	}
	if src.fetches != 0 {
		t.Fatalf("no code fetch expected, got %d", src.fetches)
	}
}

func TestGetQRCodeRequiresLogin(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &stubOTPSource{}, discardLogger())
	if _, err := m.GetQRCode(context.Background()); !errors.Is(err, domain.ErrNotLoggedIn) {
		t.Fatalf("expected ErrNotLoggedIn, got %v", err)
	}
}

func TestCloseBrowserIsIdempotent(t *testing.T) {
	t.Parallel()

	m := NewManager(testConfig(), &stubOTPSource{}, discardLogger())
	m.CloseBrowser()
	m.CloseBrowser()

	status := m.GetStatus()
	if status.BrowserConnected || status.IsLoggedIn {
		t.Fatalf("unexpected status after close: %+v", status)
	}
}

func TestURLLooksAuthenticated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		location string
		want     bool
	}{
		{"https://portal.example/home", true},
		{"https://portal.example/settings/devices", true},
		{"https://portal.example/login", false},
		{"https://portal.example/auth/verify?step=otp", false},
		{"https://portal.example/LOGIN", false},
		{"about:blank", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := urlLooksAuthenticated(tt.location); got != tt.want {
			t.Fatalf("urlLooksAuthenticated(%q) = %v, want %v", tt.location, got, tt.want)
		}
	}
}
