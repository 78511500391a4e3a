package dto

import (
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// ActivationCode is one credential-delivery grant per purchased line item,
// joined with the owning product's declared activation type.
type ActivationCode struct {
	ID              int64       `db:"id"`
	Code            string      `db:"code"`
	ProductID       int64       `db:"product_id"`
	OrderID         int64       `db:"order_id"`
	UserID          int64       `db:"user_id"`
	AccountEmail    pgtype.Text `db:"account_email"`
	AccountPassword pgtype.Text `db:"account_password"`
	ChatID          pgtype.Int8 `db:"chat_id"`
	ChatUsername    pgtype.Text `db:"chat_username"`
	Status          string      `db:"status"`
	IsUsed          bool        `db:"is_used"`
	ExpiresAt       time.Time   `db:"expires_at"`
	CreatedAt       time.Time   `db:"created_at"`
	UpdatedAt       time.Time   `db:"updated_at"`

	ProductName    string `db:"product_name"`
	ActivationType string `db:"activation_type"`
}

// AutomationSession is a stored, product-assigned set of mailbox and
// account credentials used to drive the delivery flow. ProductID is null
// for pool sessions assignable to any product.
type AutomationSession struct {
	ID              int64       `db:"id"`
	ProductID       pgtype.Int8 `db:"product_id"`
	Email           string      `db:"email"`
	MailboxPassword string      `db:"mailbox_password"`
	AccountPassword pgtype.Text `db:"account_password"`
	IsActive        bool        `db:"is_active"`
}
