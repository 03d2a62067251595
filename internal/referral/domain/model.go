package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

const (
	EdgeStatusActive  = "active"
	EdgeStatusRevoked = "revoked"
)

// ReferralEdge is a parent -> child edge in the referral forest.
// Each referee has at most one referrer, enforced by a unique index.
type ReferralEdge struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	ReferrerID snowflake.ID `gorm:"not null;index"`
	RefereeID  snowflake.ID `gorm:"not null;uniqueIndex"`
	Status     string       `gorm:"type:text;not null;default:active"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReferralEdge) TableName() string { return "referral_edges" }

// Descendant is a direct child row returned by paginated listing.
type Descendant struct {
	UserID    snowflake.ID
	CreatedAt time.Time
}

// TreeNode is a node in the full downward tree, tagged with its depth
// and the path of user ids from the queried root.
type TreeNode struct {
	UserID snowflake.ID
	Depth  int
	Path   []snowflake.ID
}
