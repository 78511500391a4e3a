package domain

import (
	"context"
	"time"

	"activation-assistant/internal/domain/dto"
)

// ActivationRepository is the read/write surface this engine is allowed on
// the order-fulfillment datastore. Schema ownership stays upstream.
type ActivationRepository interface {
	// FindValidCode matches a customer-submitted code text, filtering to
	// is_used = false AND expires_at > now. Returns ErrCodeNotFound otherwise.
	FindValidCode(ctx context.Context, code string) (*dto.ActivationCode, error)

	// FindLatestCodeByChat returns the most recently updated eligible code
	// bound to a chat, for conversation reconstruction.
	FindLatestCodeByChat(ctx context.Context, chatID int64) (*dto.ActivationCode, error)

	// ClaimCode binds chat identity and resolved account credentials to a
	// code and moves it to the given status. Guarded by is_used = false.
	ClaimCode(ctx context.Context, codeID int64, chatID int64, chatUsername string,
		accountEmail, accountPassword string, status CodeStatus) error

	// UpdateStatus moves an unused code to a new status.
	UpdateStatus(ctx context.Context, codeID int64, status CodeStatus) error

	// MarkUsed is the terminal check-and-set: it flips status/is_used only
	// when is_used is still false and reports whether this call won.
	MarkUsed(ctx context.Context, codeID int64) (bool, error)

	// SessionForProduct resolves an automation session, preferring a
	// product-specific assignment over the shared pool.
	SessionForProduct(ctx context.Context, productID int64) (*dto.AutomationSession, error)

	// InsertOTPDelivery appends an audit row for a delivered code.
	InsertOTPDelivery(ctx context.Context, codeID int64, otp, source string) error

	// ExpireStale flips expired pending/in-progress rows to the expired
	// status for dashboards. Returns the number of rows touched.
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}
