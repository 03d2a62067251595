package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Service resolves the applicable commission rule for a program/level.
type Service interface {
	// Resolve returns the highest-precedence active rule for the level
	// at asOf, or nil when no rule matches. Program-specific rules beat
	// the default (NULL program) rule.
	Resolve(ctx context.Context, programID *snowflake.ID, level int, asOf time.Time) (*CommissionRule, error)

	// ReadNumLevels reads the multi-level configuration carried on the
	// level-0 rule, defaulting to 1 when absent or malformed.
	ReadNumLevels(ctx context.Context, programID *snowflake.ID, asOf time.Time) (int, error)
}

var ErrInvalidLevel = errors.New("invalid_level")
