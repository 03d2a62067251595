package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository loads order aggregates owned by the checkout subsystem.
type Repository interface {
	FindOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Order, error)
	FindGroupOrder(ctx context.Context, db *gorm.DB, groupOrderID snowflake.ID) (*GroupOrder, error)
	FindOrderItem(ctx context.Context, db *gorm.DB, itemID snowflake.ID) (*OrderItem, error)

	// WriteAttribution records the resolved commission source on the
	// order row for audit.
	WriteAttribution(ctx context.Context, db *gorm.DB, orderID snowflake.ID, affiliateUserID snowflake.ID, programID, linkID *snowflake.ID) error
}
