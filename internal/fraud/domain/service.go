package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
)

// Gate runs the detection heuristics for an order about to be
// allocated. Heuristic errors are logged and treated as "no finding";
// the gate never blocks the caller.
type Gate interface {
	// Evaluate runs every heuristic against the order, persists each
	// positive finding, and returns the aggregated report.
	Evaluate(ctx context.Context, order *orderdomain.Order, affiliateUserID snowflake.ID, linkID *snowflake.ID) *Report

	// ListLogs pages through fraud logs, newest first. reviewed
	// filters by review state when non-nil.
	ListLogs(ctx context.Context, reviewed *bool, page, limit int) ([]FraudLog, int64, error)

	// Review marks a log reviewed with the admin's chosen action.
	Review(ctx context.Context, logID snowflake.ID, adminID, action string) (*FraudLog, error)
}

var ErrFraudLogNotFound = errors.New("fraud_log_not_found")
