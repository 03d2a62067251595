package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Outcome summarizes what an order-paid event produced.
type Outcome string

const (
	OutcomeAllocated       Outcome = "allocated"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeNoAttribution   Outcome = "no_attribution"
	OutcomeProgramInactive Outcome = "program_inactive"
	OutcomeSelfCommission  Outcome = "self_commission"
	OutcomeNothingEarned   Outcome = "nothing_earned"
)

// Result reports the allocation outcome. Business no-ops (duplicate
// delivery, missing attribution, inactive program, self-commission)
// are normal results, not errors.
type Result struct {
	Outcome Outcome
	Created int
	Paid    int
}

// Engine allocates commissions in response to order lifecycle events.
type Engine interface {
	// HandleOrderPaid runs the allocation algorithm for a paid order.
	// Safe under at-least-once delivery: a repeated call is a no-op.
	HandleOrderPaid(ctx context.Context, orderID snowflake.ID) (*Result, error)

	// SettlePending makes one wallet-posting attempt for a PENDING
	// record on the supplied handle, marking it PAID and committing
	// the budget reservation on success. The reconciliation sweep
	// drives it for records whose in-line retries were exhausted.
	SettlePending(ctx context.Context, db *gorm.DB, record *CommissionRecord) error
}

var ErrOrderNotFound = errors.New("order_not_found")
