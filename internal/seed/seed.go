package seed

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	ruledomain "github.com/ngtluan2k/NextMarket-sub001/internal/rule/domain"
)

const defaultProgramName = "Default Affiliate Program"

// defaultRules are the bootstrap commission rates: 10% direct, 3% one
// level up, 1% two up. The level-0 rule carries the numLevels payload
// the resolver reads to decide how many levels are payable.
var defaultRules = []struct {
	level     int
	rate      string
	numLevels *int
}{
	{level: 0, rate: "10", numLevels: intPtr(3)},
	{level: 1, rate: "3"},
	{level: 2, rate: "1"},
}

// Seeder writes the bootstrap program and default rules on first run.
type Seeder struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

// NewSeeder constructs the bootstrap seeder.
func NewSeeder(db *gorm.DB, log *zap.Logger, genID *snowflake.Node) *Seeder {
	return &Seeder{db: db, log: log.Named("seed"), genID: genID}
}

// Run inserts the default program and the default (program-less)
// commission rules when the tables are empty. Repeated runs are no-ops.
func (s *Seeder) Run(ctx context.Context) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.seedProgram(tx); err != nil {
			return err
		}
		return s.seedRules(tx)
	})
}

func (s *Seeder) seedProgram(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&programdomain.Program{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	program := programdomain.Program{
		ID:          s.genID.Generate(),
		Name:        defaultProgramName,
		Status:      programdomain.ProgramStatusActive,
		TotalBudget: decimal.Zero,
	}
	if err := tx.Create(&program).Error; err != nil {
		return err
	}
	s.log.Info("seeded default program", zap.Int64("program_id", program.ID.Int64()))
	return nil
}

func (s *Seeder) seedRules(tx *gorm.DB) error {
	var count int64
	if err := tx.Model(&ruledomain.CommissionRule{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	for _, r := range defaultRules {
		rule := ruledomain.CommissionRule{
			ID:          s.genID.Generate(),
			ProgramID:   nil,
			Level:       r.level,
			RatePercent: decimal.RequireFromString(r.rate),
			IsActive:    true,
			NumLevels:   r.numLevels,
		}
		if err := tx.Create(&rule).Error; err != nil {
			return err
		}
	}
	s.log.Info("seeded default commission rules", zap.Int("rules", len(defaultRules)))
	return nil
}

func intPtr(v int) *int { return &v }
