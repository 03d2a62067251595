package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status is the commission record lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusPaid     Status = "PAID"
	StatusReversed Status = "REVERSED"
	StatusVoided   Status = "VOIDED"
)

// SyntheticGroupItemID marks the aggregated line item used for
// group-buying orders, which have no real order_item row.
const SyntheticGroupItemID snowflake.ID = 0

// CommissionRecord is the append-only allocation outcome for one
// (order, item, level, beneficiary) tuple. order_key is
// COALESCE(group_order_id, order_id); together with item, level and
// beneficiary it is the idempotency keystone.
type CommissionRecord struct {
	ID                snowflake.ID     `gorm:"primaryKey"`
	OrderKey          snowflake.ID     `gorm:"not null"`
	OrderID           *snowflake.ID    `gorm:""`
	GroupOrderID      *snowflake.ID    `gorm:""`
	OrderItemID       snowflake.ID     `gorm:"not null;default:0"`
	PayerUserID       snowflake.ID     `gorm:"not null"`
	BeneficiaryUserID snowflake.ID     `gorm:"not null"`
	Level             int              `gorm:"not null"`
	ProgramID         *snowflake.ID    `gorm:""`
	LinkID            *snowflake.ID    `gorm:""`
	BaseAmount        decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0"`
	RatePercent       decimal.Decimal  `gorm:"type:decimal(10,2);not null;default:0"`
	Amount            decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0"`
	Status            Status           `gorm:"type:text;not null;default:PENDING"`
	CreatedAt         time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	PaidAt            *time.Time       `gorm:""`
	ReversedAmount    *decimal.Decimal `gorm:"type:decimal(20,2)"`
	ReversedAt        *time.Time       `gorm:""`
	ReversalReason    *string          `gorm:"type:text"`
}

// TableName sets the database table name.
func (CommissionRecord) TableName() string { return "commission_records" }
