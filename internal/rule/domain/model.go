package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// CommissionRule configures the payout rate for one referral level.
// A NULL ProgramID marks the marketplace-wide default rule; a
// program-specific rule at the same level takes precedence.
type CommissionRule struct {
	ID          snowflake.ID     `gorm:"primaryKey"`
	ProgramID   *snowflake.ID    `gorm:"index:ix_commission_rules_lookup,priority:1"`
	Level       int              `gorm:"not null;index:ix_commission_rules_lookup,priority:2"`
	RatePercent decimal.Decimal  `gorm:"type:decimal(10,2);not null"`
	ActiveFrom  *time.Time       `gorm:""`
	ActiveTo    *time.Time       `gorm:""`
	CapPerOrder *decimal.Decimal `gorm:"type:decimal(20,2)"`
	CapPerUser  *decimal.Decimal `gorm:"type:decimal(20,2)"`
	IsActive    bool             `gorm:"not null;default:true;index:ix_commission_rules_lookup,priority:3"`
	NumLevels   *int             `gorm:""`
	DeletedAt   *time.Time       `gorm:"index"`
	CreatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt   time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CommissionRule) TableName() string { return "commission_rules" }

// ActiveAt reports whether the rule's window contains asOf. Open bounds
// are treated as unbounded.
func (r CommissionRule) ActiveAt(asOf time.Time) bool {
	if !r.IsActive || r.DeletedAt != nil {
		return false
	}
	if r.ActiveFrom != nil && asOf.Before(*r.ActiveFrom) {
		return false
	}
	if r.ActiveTo != nil && asOf.After(*r.ActiveTo) {
		return false
	}
	return true
}
