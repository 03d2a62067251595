package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Order is the slice of the checkout subsystem's order the commission
// engine reads. Attribution fields are set upstream for standalone
// orders and written back by the resolver for group orders.
type Order struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	BuyerUserID     snowflake.ID    `gorm:"not null;index"`
	GroupOrderID    *snowflake.ID   `gorm:"index"`
	AffiliateUserID *snowflake.ID   `gorm:""`
	ProgramID       *snowflake.ID   `gorm:""`
	LinkID          *snowflake.ID   `gorm:""`
	Status          string          `gorm:"type:text;not null;default:created"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	IPAddress       *string         `gorm:"type:text"`
	PaidAt          *time.Time      `gorm:""`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderItem is one order line; its subtotal is the commission base for
// standalone orders.
type OrderItem struct {
	ID          snowflake.ID    `gorm:"primaryKey"`
	OrderID     snowflake.ID    `gorm:"not null;index"`
	ProductName string          `gorm:"type:text;not null;default:''"`
	Quantity    int             `gorm:"not null;default:1"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	CreatedAt   time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderItem) TableName() string { return "order_items" }

// GroupOrder aggregates a group-buying purchase. Its own attribution
// fields are the group-level (host-inherited) commission source.
type GroupOrder struct {
	ID              snowflake.ID    `gorm:"primaryKey"`
	HostUserID      snowflake.ID    `gorm:"not null"`
	AffiliateUserID *snowflake.ID   `gorm:""`
	ProgramID       *snowflake.ID   `gorm:""`
	LinkID          *snowflake.ID   `gorm:""`
	Status          string          `gorm:"type:text;not null;default:open"`
	TotalAmount     decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	CreatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt       time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`

	Members []GroupOrderMember `gorm:"foreignKey:GroupOrderID"`
}

// TableName sets the database table name.
func (GroupOrder) TableName() string { return "group_orders" }

// GroupOrderMember is one participant; ReferrerUserID carries the
// member-specific commission source when present.
type GroupOrderMember struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	GroupOrderID   snowflake.ID  `gorm:"not null;index"`
	UserID         snowflake.ID  `gorm:"not null"`
	ReferrerUserID *snowflake.ID `gorm:""`
	ProgramID      *snowflake.ID `gorm:""`
	LinkID         *snowflake.ID `gorm:""`
	JoinedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GroupOrderMember) TableName() string { return "group_order_members" }
