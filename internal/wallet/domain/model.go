package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

const (
	DirectionCredit = "credit"
	DirectionDebit  = "debit"
)

// Wallet holds one user's spendable balance.
type Wallet struct {
	UserID    snowflake.ID    `gorm:"primaryKey"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0"`
	UpdatedAt time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Wallet) TableName() string { return "wallets" }

// WalletTransaction is the immutable posting trail behind every
// balance change.
type WalletTransaction struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	UserID       snowflake.ID    `gorm:"not null;index"`
	Direction    string          `gorm:"type:text;not null"`
	Amount       decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(20,2);not null"`
	Reference    string          `gorm:"type:text;not null;index"`
	Memo         string          `gorm:"type:text;not null;default:''"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (WalletTransaction) TableName() string { return "wallet_transactions" }
