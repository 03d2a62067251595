package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Heuristic identifies one fraud detection rule.
type Heuristic string

const (
	HeuristicSelfReferral       Heuristic = "self_referral"
	HeuristicDuplicateBurst     Heuristic = "duplicate_order_burst"
	HeuristicSuspiciousIP       Heuristic = "suspicious_ip"
	HeuristicAbnormalConversion Heuristic = "abnormal_conversion_rate"
	HeuristicRapidPurchase      Heuristic = "rapid_purchase"
)

// Finding is one positive heuristic result with its evidence.
type Finding struct {
	Heuristic Heuristic
	Details   map[string]any
}

// Report aggregates the outcome of all heuristics for one order.
// Advisory only: a positive report never blocks allocation.
type Report struct {
	FraudDetected bool
	Findings      []Finding
}

// FraudLog is one persisted positive finding awaiting admin review.
type FraudLog struct {
	ID              snowflake.ID      `gorm:"primaryKey"`
	Type            string            `gorm:"type:text;not null"`
	AffiliateUserID *snowflake.ID     `gorm:""`
	OrderID         *snowflake.ID     `gorm:""`
	Details         datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'"`
	IPAddress       *string           `gorm:"type:text"`
	DetectedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	Reviewed        bool              `gorm:"not null;default:false"`
	AdminAction     *string           `gorm:"type:text"`
}

// TableName sets the database table name.
func (FraudLog) TableName() string { return "fraud_logs" }
