package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// ProgramStatus is the lifecycle state of an affiliate program.
type ProgramStatus string

const (
	ProgramStatusActive   ProgramStatus = "active"
	ProgramStatusPaused   ProgramStatus = "paused"
	ProgramStatusInactive ProgramStatus = "inactive"
)

// Program carries the budget counters for one affiliate program.
// Invariant: spent + pending never exceeds total when total > 0; the
// reserve operation enforces it with a conditional atomic update.
type Program struct {
	ID                     snowflake.ID     `gorm:"primaryKey"`
	Name                   string           `gorm:"type:text;not null"`
	Status                 ProgramStatus    `gorm:"type:text;not null;default:active"`
	TotalBudget            decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0"`
	SpentBudget            decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0"`
	PendingBudget          decimal.Decimal  `gorm:"type:decimal(20,2);not null;default:0"`
	MonthlyBudgetCap       *decimal.Decimal `gorm:"type:decimal(20,2)"`
	DailyBudgetCap         *decimal.Decimal `gorm:"type:decimal(20,2)"`
	AutoPauseOnBudgetLimit bool             `gorm:"not null;default:false"`
	PausedReason           *string          `gorm:"type:text"`
	CreatedAt              time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Program) TableName() string { return "programs" }

// BudgetStatus is a read-only snapshot for admin reporting.
type BudgetStatus struct {
	ProgramID     snowflake.ID    `json:"program_id"`
	Status        ProgramStatus   `json:"status"`
	TotalBudget   decimal.Decimal `json:"total_budget"`
	SpentBudget   decimal.Decimal `json:"spent_budget"`
	PendingBudget decimal.Decimal `json:"pending_budget"`
	Available     decimal.Decimal `json:"available"`
	MonthlySpend  decimal.Decimal `json:"monthly_spend"`
	DailySpend    decimal.Decimal `json:"daily_spend"`
	PausedReason  *string         `json:"paused_reason,omitempty"`
}
