package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Result reports how many commission records a reversal touched and
// the total amount clawed back. Zero-effect calls are normal results.
type Result struct {
	Affected      int
	TotalReversed decimal.Decimal
}

// Engine unwinds commissions after refunds and cancellations. Every
// operation is all-or-nothing: one failed wallet deduction rolls back
// the whole batch.
type Engine interface {
	// ReverseCommissionForOrder claws back every PAID commission for
	// the order: wallet deduction, status REVERSED, budget released
	// from spent.
	ReverseCommissionForOrder(ctx context.Context, orderID snowflake.ID, reason string) (*Result, error)

	// VoidCommissionForOrder cancels PENDING-only commissions. Nothing
	// was paid, so wallets are never touched; budget is released from
	// pending.
	VoidCommissionForOrder(ctx context.Context, orderID snowflake.ID) (*Result, error)

	// PartialReversalForOrderItem claws back the refunded share of
	// each PAID commission on the item. The record flips to REVERSED
	// only when the refund covers the full item price.
	PartialReversalForOrderItem(ctx context.Context, orderItemID snowflake.ID, refundAmount decimal.Decimal) (*Result, error)
}

var (
	ErrOrderNotFound     = errors.New("order_not_found")
	ErrOrderItemNotFound = errors.New("order_item_not_found")
	ErrInvalidRefund     = errors.New("invalid_refund_amount")
)
