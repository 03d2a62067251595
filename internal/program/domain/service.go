package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReleaseFrom names the commission status a released amount was held
// under, selecting the counter the release decrements.
type ReleaseFrom string

const (
	ReleaseFromPending ReleaseFrom = "PENDING"
	ReleaseFromPaid    ReleaseFrom = "PAID"
)

// BudgetCheck is the read-only result of a cap/budget inspection.
type BudgetCheck struct {
	Available bool
	Reason    string
}

// BudgetLedger guards program budget counters. Reserve and Commit are
// atomic at the storage layer; counters are never read-modify-written
// in process memory.
type BudgetLedger interface {
	// CheckBudgetAvailable inspects total budget headroom and the
	// monthly/daily caps without mutating anything.
	CheckBudgetAvailable(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) (BudgetCheck, error)

	// Reserve places a provisional hold by atomically incrementing
	// pending_budget, refusing when the hold would exceed total budget.
	Reserve(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) error

	// Commit moves a reserved amount pending -> spent and auto-pauses
	// the program when the total budget is exhausted.
	Commit(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) error

	// Release returns a held or spent amount to the budget, floored at
	// zero. Runs on the caller-supplied transaction handle so reversal
	// batches stay all-or-nothing.
	Release(ctx context.Context, tx *gorm.DB, programID snowflake.ID, amount decimal.Decimal, from ReleaseFrom) error

	// GetBudgetStatus returns a reporting snapshot.
	GetBudgetStatus(ctx context.Context, programID snowflake.ID) (*BudgetStatus, error)

	// FindProgram loads a program row, nil when absent.
	FindProgram(ctx context.Context, programID snowflake.ID) (*Program, error)
}

var (
	ErrProgramNotFound = errors.New("program_not_found")
	ErrProgramInactive = errors.New("program_inactive")
	ErrBudgetExceeded  = errors.New("budget_exceeded")
	ErrInvalidAmount   = errors.New("invalid_amount")
)
