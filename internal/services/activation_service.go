package services

import (
	"context"
	"strings"
	"time"

	"activation-assistant/internal/domain"
	"activation-assistant/internal/domain/dto"
)

// MailboxConfig carries the IMAP endpoint shared by all automation
// sessions; per-session rows only store the address and app password.
type MailboxConfig struct {
	Host string
	Port int
}

// ActivationService owns every read and write this engine performs on
// the activation code store.
type ActivationService struct {
	repository domain.ActivationRepository
	mailbox    MailboxConfig
	logger     domain.Logger
}

// NewActivationService creates a new activation service instance
func NewActivationService(repository domain.ActivationRepository, mailbox MailboxConfig, logger domain.Logger) *ActivationService {
	return &ActivationService{
		repository: repository,
		mailbox:    mailbox,
		logger:     logger,
	}
}

// NormalizeCode uppercases and trims a customer-submitted code text.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// ValidateCode matches a submitted code against the store. Used and
// expired codes read as not found; the caller replies with one generic
// message either way.
func (s *ActivationService) ValidateCode(ctx context.Context, raw string) (*dto.ActivationCode, error) {
	normalized := NormalizeCode(raw)
	if normalized == "" {
		return nil, domain.ErrCodeNotFound
	}

	code, err := s.repository.FindValidCode(ctx, normalized)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]any{
		"code":    code.Code,
		"product": code.ProductName,
		"type":    code.ActivationType,
	}).Info("Activation code validated")

	return code, nil
}

// LatestCodeForChat feeds conversation reconstruction.
func (s *ActivationService) LatestCodeForChat(ctx context.Context, chatID int64) (*dto.ActivationCode, error) {
	return s.repository.FindLatestCodeByChat(ctx, chatID)
}

// ResolveSession picks the automation session for a product, preferring
// a product-specific assignment over the shared pool.
func (s *ActivationService) ResolveSession(ctx context.Context, productID int64) (*dto.AutomationSession, error) {
	session, err := s.repository.SessionForProduct(ctx, productID)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]any{
		"product_id":    productID,
		"session_email": session.Email,
	}).Debug("Automation session resolved")

	return session, nil
}

// MailboxCredentials combines the shared IMAP endpoint with a session's
// mailbox identity.
func (s *ActivationService) MailboxCredentials(session *dto.AutomationSession) domain.MailboxCredentials {
	return domain.MailboxCredentials{
		Host:     s.mailbox.Host,
		Port:     s.mailbox.Port,
		Email:    session.Email,
		Password: session.MailboxPassword,
	}
}

// Claim binds chat identity and resolved account credentials to a code
// and moves it into the delivery flow.
func (s *ActivationService) Claim(ctx context.Context, code *dto.ActivationCode, chatID int64, chatUsername string,
	accountEmail, accountPassword string, status domain.CodeStatus) error {
	if err := s.repository.ClaimCode(ctx, code.ID, chatID, chatUsername, accountEmail, accountPassword, status); err != nil {
		return err
	}

	s.logger.WithFields(map[string]any{
		"code":    code.Code,
		"chat_id": chatID,
		"status":  string(status),
	}).Info("Activation code claimed")
	return nil
}

// Advance moves an unused code to a new status.
func (s *ActivationService) Advance(ctx context.Context, codeID int64, status domain.CodeStatus) error {
	return s.repository.UpdateStatus(ctx, codeID, status)
}

// CompleteDelivery records the delivered OTP (when there is one) and
// performs the terminal check-and-set. A false return means another
// flow already consumed the code; the caller must not report success.
func (s *ActivationService) CompleteDelivery(ctx context.Context, codeID int64, otp, source string) (bool, error) {
	if otp != "" {
		if err := s.repository.InsertOTPDelivery(ctx, codeID, otp, source); err != nil {
			s.logger.WithError(err).WithField("code_id", codeID).Error("OTP delivery audit insert failed")
			return false, err
		}
	}

	won, err := s.repository.MarkUsed(ctx, codeID)
	if err != nil {
		return false, err
	}
	if !won {
		s.logger.WithField("code_id", codeID).Warn("Terminal transition lost: code already used")
	}
	return won, nil
}

// SweepExpired flips stale live rows to the expired status. Dashboards
// read status directly; the validity queries never rely on this.
func (s *ActivationService) SweepExpired(ctx context.Context) {
	count, err := s.repository.ExpireStale(ctx, time.Now())
	if err != nil {
		s.logger.WithError(err).Error("Expired-code sweep failed")
		return
	}
	if count > 0 {
		s.logger.WithField("rows", count).Info("Expired-code sweep flipped stale rows")
	}
}
