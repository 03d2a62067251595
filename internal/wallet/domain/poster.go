package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Poster is the wallet subsystem contract the commission engine
// depends on. The default implementation posts against local wallet
// tables; deployments backed by an external wallet service swap it.
type Poster interface {
	// Post credits amount to the beneficiary and returns the new
	// balance. Posting is idempotent per reference: a reference that
	// was already credited leaves the balance untouched.
	Post(ctx context.Context, beneficiaryUserID snowflake.ID, amount decimal.Decimal, reference, memo string) (decimal.Decimal, error)

	// Deduct debits amount from the beneficiary inside the
	// caller-supplied transaction; reversal batches rely on this to
	// stay all-or-nothing.
	Deduct(ctx context.Context, tx *gorm.DB, beneficiaryUserID snowflake.ID, amount decimal.Decimal, reference, reason string) error
}

var (
	ErrInvalidAmount       = errors.New("invalid_wallet_amount")
	ErrInsufficientBalance = errors.New("insufficient_balance")
	ErrMissingTransaction  = errors.New("missing_transaction")
)
