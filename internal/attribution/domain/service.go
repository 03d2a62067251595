package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
)

// Service resolves which affiliate/program/link is credited for an
// order and lazily enrolls orphan group members.
type Service interface {
	// ResolveSource determines the commission source for an order.
	// A nil source (with nil error) means no attribution: the order
	// earns no commission.
	ResolveSource(ctx context.Context, order *orderdomain.Order, group *orderdomain.GroupOrder) (*Source, error)

	// EnrollOrphanMembers enrolls group members without a referrer
	// under the resolved affiliate. Per-member failures are logged and
	// skipped; the batch never aborts.
	EnrollOrphanMembers(ctx context.Context, group *orderdomain.GroupOrder, source Source) int

	// RecordClick registers a click on a referral link by code.
	RecordClick(ctx context.Context, code, visitorKey, ipAddress string) (*ReferralLink, error)

	// RecordConversion bumps a link's conversion counter.
	RecordConversion(ctx context.Context, linkID snowflake.ID) error

	// FindLink loads a link row, nil when absent.
	FindLink(ctx context.Context, linkID snowflake.ID) (*ReferralLink, error)
}

var ErrLinkNotFound = errors.New("link_not_found")
