package repository

import (
	"context"
	"time"

	"activation-assistant/internal/database"
	"activation-assistant/internal/domain"
	"activation-assistant/internal/domain/dto"

	"github.com/georgysavva/scany/v2/pgxscan"
)

const findValidCodeQuery = `
SELECT ac.id,
       ac.code,
       ac.product_id,
       ac.order_id,
       ac.user_id,
       ac.account_email,
       ac.account_password,
       ac.chat_id,
       ac.chat_username,
       ac.status,
       ac.is_used,
       ac.expires_at,
       ac.created_at,
       ac.updated_at,
       p.name AS product_name,
       p.activation_type AS activation_type
  FROM activation_codes AS ac
 INNER JOIN products AS p ON p.id = ac.product_id
 WHERE UPPER(ac.code) = $1
   AND ac.is_used = false
   AND ac.expires_at > now()
 LIMIT 1;`

const findLatestCodeByChatQuery = `
SELECT ac.id,
       ac.code,
       ac.product_id,
       ac.order_id,
       ac.user_id,
       ac.account_email,
       ac.account_password,
       ac.chat_id,
       ac.chat_username,
       ac.status,
       ac.is_used,
       ac.expires_at,
       ac.created_at,
       ac.updated_at,
       p.name AS product_name,
       p.activation_type AS activation_type
  FROM activation_codes AS ac
 INNER JOIN products AS p ON p.id = ac.product_id
 WHERE ac.chat_id = $1
   AND ac.is_used = false
   AND ac.expires_at > now()
 ORDER BY ac.updated_at DESC
 LIMIT 1;`

const claimCodeStmt = `
UPDATE activation_codes
   SET chat_id = $2,
       chat_username = $3,
       account_email = $4,
       account_password = $5,
       status = $6,
       updated_at = now()
 WHERE id = $1
   AND is_used = false;`

const updateStatusStmt = `
UPDATE activation_codes
   SET status = $2,
       updated_at = now()
 WHERE id = $1
   AND is_used = false;`

const markUsedStmt = `
UPDATE activation_codes
   SET status = 'used',
       is_used = true,
       updated_at = now()
 WHERE id = $1
   AND is_used = false;`

const sessionForProductQuery = `
SELECT s.id,
       s.product_id,
       s.email,
       s.mailbox_password,
       s.account_password,
       s.is_active
  FROM automation_sessions AS s
 WHERE s.is_active = true
   AND (s.product_id = $1 OR s.product_id IS NULL)
 ORDER BY s.product_id NULLS LAST, s.id
 LIMIT 1;`

const insertOTPDeliveryStmt = `
INSERT INTO otp_deliveries (activation_code_id, otp, source, delivered_at)
VALUES ($1, $2, $3, now());`

const expireStaleStmt = `
UPDATE activation_codes
   SET status = 'expired',
       updated_at = now()
 WHERE is_used = false
   AND expires_at <= $1
   AND status IN ('pending', 'in_progress', 'awaiting_otp', 'chatgpt_awaiting_otp');`

type ActivationRepository struct {
	db database.DB
}

var _ domain.ActivationRepository = (*ActivationRepository)(nil)

// NewActivationRepository creates a new activation repository instance
func NewActivationRepository(db database.DB) *ActivationRepository {
	if db == nil {
		panic("database cannot be nil")
	}

	return &ActivationRepository{db: db}
}

// FindValidCode looks up an unused, unexpired code by its normalized text
func (rpt *ActivationRepository) FindValidCode(ctx context.Context, code string) (*dto.ActivationCode, error) {
	if code == "" {
		return nil, domain.ErrCodeNotFound
	}

	record := &dto.ActivationCode{}
	if err := rpt.db.QueryRowStruct(ctx, record, findValidCodeQuery, code); err != nil {
		if pgxscan.NotFound(err) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}

	return record, nil
}

// FindLatestCodeByChat returns the newest eligible code bound to a chat
func (rpt *ActivationRepository) FindLatestCodeByChat(ctx context.Context, chatID int64) (*dto.ActivationCode, error) {
	record := &dto.ActivationCode{}
	if err := rpt.db.QueryRowStruct(ctx, record, findLatestCodeByChatQuery, chatID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, domain.ErrCodeNotFound
		}
		return nil, err
	}

	return record, nil
}

// ClaimCode persists chat identity and resolved credentials onto a code
func (rpt *ActivationRepository) ClaimCode(ctx context.Context, codeID int64, chatID int64, chatUsername string,
	accountEmail, accountPassword string, status domain.CodeStatus) error {
	affected, err := rpt.db.Exec(ctx, claimCodeStmt,
		codeID, chatID, chatUsername, accountEmail, nullable(accountPassword), string(status))
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCodeAlreadyUsed
	}
	return nil
}

// UpdateStatus moves an unused code to a new status
func (rpt *ActivationRepository) UpdateStatus(ctx context.Context, codeID int64, status domain.CodeStatus) error {
	affected, err := rpt.db.Exec(ctx, updateStatusStmt, codeID, string(status))
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.ErrCodeAlreadyUsed
	}
	return nil
}

// MarkUsed performs the terminal check-and-set transition
func (rpt *ActivationRepository) MarkUsed(ctx context.Context, codeID int64) (bool, error) {
	affected, err := rpt.db.Exec(ctx, markUsedStmt, codeID)
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// SessionForProduct resolves the delivery session assigned to a product,
// falling back to any active pool session
func (rpt *ActivationRepository) SessionForProduct(ctx context.Context, productID int64) (*dto.AutomationSession, error) {
	session := &dto.AutomationSession{}
	if err := rpt.db.QueryRowStruct(ctx, session, sessionForProductQuery, productID); err != nil {
		if pgxscan.NotFound(err) {
			return nil, domain.ErrNoSession
		}
		return nil, err
	}

	return session, nil
}

// InsertOTPDelivery appends an audit row for a delivered code
func (rpt *ActivationRepository) InsertOTPDelivery(ctx context.Context, codeID int64, otp, source string) error {
	_, err := rpt.db.Exec(ctx, insertOTPDeliveryStmt, codeID, otp, source)
	return err
}

// ExpireStale flips expired live rows to the expired status for dashboards
func (rpt *ActivationRepository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return rpt.db.Exec(ctx, expireStaleStmt, now)
}

// nullable maps the empty string to SQL NULL for optional columns.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
