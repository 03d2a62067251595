package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
)

// Service is the referral graph API.
type Service interface {
	// Enroll inserts a referrer -> referee edge after validating the
	// single-parent, no-self, no-cycle invariants.
	Enroll(ctx context.Context, referrerID, refereeID snowflake.ID) (*ReferralEdge, error)

	// FindAncestors walks referee -> referrer upward, nearest-first,
	// bounded by maxDepth.
	FindAncestors(ctx context.Context, userID snowflake.ID, maxDepth int) ([]snowflake.ID, error)

	// FindDescendants lists direct children only, paginated, ordered by
	// enrollment time.
	FindDescendants(ctx context.Context, userID snowflake.ID, page, limit int) ([]Descendant, int64, error)

	// FindFullDescendantTree returns every node reachable downward from
	// userID within maxDepth, tagged with depth and path.
	FindFullDescendantTree(ctx context.Context, userID snowflake.ID, maxDepth int) ([]TreeNode, error)
}

var (
	ErrSelfReferral      = errors.New("self_referral")
	ErrDuplicateReferrer = errors.New("duplicate_referrer")
	ErrCircularReferral  = errors.New("circular_referral")
	ErrUserNotFound      = errors.New("user_not_found")
)
