package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SourceKind tags where a commission source came from. Lower priority
// values outrank higher ones.
type SourceKind string

const (
	SourceKindMemberSpecific SourceKind = "member_specific"
	SourceKindGroupLevel     SourceKind = "group_level"
)

const (
	priorityMemberSpecific = 0
	priorityGroupLevel     = 1
)

// Source is one candidate attribution for an order. Modeling the
// member-specific vs group-level split as a tagged variant keeps the
// priority resolution in a single sortable list.
type Source struct {
	Kind            SourceKind
	AffiliateUserID snowflake.ID
	ProgramID       *snowflake.ID
	LinkID          *snowflake.ID
	Priority        int
}

// NewMemberSpecificSource builds the purchasing member's own source.
func NewMemberSpecificSource(affiliateUserID snowflake.ID, programID, linkID *snowflake.ID) Source {
	return Source{
		Kind:            SourceKindMemberSpecific,
		AffiliateUserID: affiliateUserID,
		ProgramID:       programID,
		LinkID:          linkID,
		Priority:        priorityMemberSpecific,
	}
}

// NewGroupLevelSource builds the host-inherited source.
func NewGroupLevelSource(affiliateUserID snowflake.ID, programID, linkID *snowflake.ID) Source {
	return Source{
		Kind:            SourceKindGroupLevel,
		AffiliateUserID: affiliateUserID,
		ProgramID:       programID,
		LinkID:          linkID,
		Priority:        priorityGroupLevel,
	}
}

// ReferralLink is a trackable affiliate link; its counters feed the
// conversion-rate fraud heuristic.
type ReferralLink struct {
	ID              snowflake.ID  `gorm:"primaryKey"`
	AffiliateUserID snowflake.ID  `gorm:"not null;index"`
	ProgramID       *snowflake.ID `gorm:""`
	Code            string        `gorm:"type:text;not null;uniqueIndex"`
	ClickCount      int64         `gorm:"not null;default:0"`
	ConversionCount int64         `gorm:"not null;default:0"`
	CreatedAt       time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ReferralLink) TableName() string { return "referral_links" }

// LinkClick is one recorded click on a referral link.
type LinkClick struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	LinkID     snowflake.ID `gorm:"not null;index"`
	VisitorKey string       `gorm:"type:text;not null;default:''"`
	IPAddress  string       `gorm:"type:text;not null;default:''"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LinkClick) TableName() string { return "link_clicks" }
