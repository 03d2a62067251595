package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ngtluan2k/NextMarket-sub001/internal/cache"
	ruledomain "github.com/ngtluan2k/NextMarket-sub001/internal/rule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const ruleCacheTTL = 30 * time.Second

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	ruleCache *cache.TTLCache[string, []ruledomain.CommissionRule]
}

func NewService(p Params) ruledomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("rule.service"),
		ruleCache: cache.NewTTLCache[string, []ruledomain.CommissionRule](),
	}
}

func (s *Service) Resolve(ctx context.Context, programID *snowflake.ID, level int, asOf time.Time) (*ruledomain.CommissionRule, error) {
	if level < 0 {
		return nil, ruledomain.ErrInvalidLevel
	}

	candidates, err := s.loadLevelRules(ctx, programID, level)
	if err != nil {
		return nil, err
	}

	// Program-specific rules were ordered first; pick the first one
	// whose window contains asOf.
	for _, rule := range candidates {
		if rule.ActiveAt(asOf) {
			matched := rule
			return &matched, nil
		}
	}
	return nil, nil
}

func (s *Service) ReadNumLevels(ctx context.Context, programID *snowflake.ID, asOf time.Time) (int, error) {
	rule, err := s.Resolve(ctx, programID, 0, asOf)
	if err != nil {
		return 0, err
	}
	if rule == nil || rule.NumLevels == nil || *rule.NumLevels < 1 {
		return 1, nil
	}
	return *rule.NumLevels, nil
}

func (s *Service) loadLevelRules(ctx context.Context, programID *snowflake.ID, level int) ([]ruledomain.CommissionRule, error) {
	key := cacheKey(programID, level)
	if cached, ok := s.ruleCache.Get(key); ok {
		return cached, nil
	}

	var rules []ruledomain.CommissionRule
	query := s.db.WithContext(ctx).
		Where("level = ? AND is_active = ? AND deleted_at IS NULL", level, true)
	if programID != nil && *programID != 0 {
		query = query.Where("program_id = ? OR program_id IS NULL", *programID).
			Order("program_id IS NULL, created_at DESC")
	} else {
		query = query.Where("program_id IS NULL").
			Order("created_at DESC")
	}
	if err := query.Find(&rules).Error; err != nil {
		return nil, err
	}

	s.ruleCache.Set(key, rules, ruleCacheTTL)
	return rules, nil
}

func cacheKey(programID *snowflake.ID, level int) string {
	if programID == nil || *programID == 0 {
		return fmt.Sprintf("default:%d", level)
	}
	return fmt.Sprintf("%s:%d", programID.String(), level)
}
