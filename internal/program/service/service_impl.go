package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger
	clk clock.Clock
}

func NewService(p Params) programdomain.BudgetLedger {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("program.budget"),
		clk: p.Clock,
	}
}

func (s *Service) CheckBudgetAvailable(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) (programdomain.BudgetCheck, error) {
	if amount.Sign() <= 0 {
		return programdomain.BudgetCheck{}, programdomain.ErrInvalidAmount
	}

	program, err := s.FindProgram(ctx, programID)
	if err != nil {
		return programdomain.BudgetCheck{}, err
	}
	if program == nil {
		return programdomain.BudgetCheck{}, programdomain.ErrProgramNotFound
	}

	if program.TotalBudget.Sign() > 0 {
		headroom := program.TotalBudget.Sub(program.SpentBudget).Sub(program.PendingBudget)
		if amount.GreaterThan(headroom) {
			return programdomain.BudgetCheck{Available: false, Reason: "total_budget_exceeded"}, nil
		}
	}

	now := s.clk.Now()
	if program.MonthlyBudgetCap != nil && program.MonthlyBudgetCap.Sign() > 0 {
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		spend, err := s.windowSpend(ctx, programID, monthStart)
		if err != nil {
			return programdomain.BudgetCheck{}, err
		}
		if spend.Add(amount).GreaterThan(*program.MonthlyBudgetCap) {
			return programdomain.BudgetCheck{Available: false, Reason: "monthly_cap_exceeded"}, nil
		}
	}
	if program.DailyBudgetCap != nil && program.DailyBudgetCap.Sign() > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		spend, err := s.windowSpend(ctx, programID, dayStart)
		if err != nil {
			return programdomain.BudgetCheck{}, err
		}
		if spend.Add(amount).GreaterThan(*program.DailyBudgetCap) {
			return programdomain.BudgetCheck{Available: false, Reason: "daily_cap_exceeded"}, nil
		}
	}

	return programdomain.BudgetCheck{Available: true}, nil
}

func (s *Service) Reserve(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return programdomain.ErrInvalidAmount
	}

	// Check-then-reserve in one conditional update so concurrent orders
	// cannot overrun the total budget.
	result := s.db.WithContext(ctx).Exec(
		`UPDATE programs
		 SET pending_budget = pending_budget + ?, updated_at = ?
		 WHERE id = ?
		   AND status = ?
		   AND (total_budget <= 0 OR spent_budget + pending_budget + ? <= total_budget)`,
		amount, s.clk.Now(), programID, programdomain.ProgramStatusActive, amount,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	program, err := s.FindProgram(ctx, programID)
	if err != nil {
		return err
	}
	if program == nil {
		return programdomain.ErrProgramNotFound
	}
	if program.Status != programdomain.ProgramStatusActive {
		return programdomain.ErrProgramInactive
	}
	return programdomain.ErrBudgetExceeded
}

func (s *Service) Commit(ctx context.Context, programID snowflake.ID, amount decimal.Decimal) error {
	if amount.Sign() <= 0 {
		return programdomain.ErrInvalidAmount
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE programs
		 SET pending_budget = CASE WHEN pending_budget >= ? THEN pending_budget - ? ELSE 0 END,
		     spent_budget = spent_budget + ?,
		     updated_at = ?
		 WHERE id = ?`,
		amount, amount, amount, s.clk.Now(), programID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return programdomain.ErrProgramNotFound
	}

	return s.autoPauseIfExhausted(ctx, programID)
}

func (s *Service) Release(ctx context.Context, tx *gorm.DB, programID snowflake.ID, amount decimal.Decimal, from programdomain.ReleaseFrom) error {
	if amount.Sign() <= 0 {
		return programdomain.ErrInvalidAmount
	}
	if tx == nil {
		tx = s.db
	}

	column := "pending_budget"
	if from == programdomain.ReleaseFromPaid {
		column = "spent_budget"
	}

	result := tx.WithContext(ctx).Exec(
		`UPDATE programs
		 SET `+column+` = CASE WHEN `+column+` >= ? THEN `+column+` - ? ELSE 0 END,
		     updated_at = ?
		 WHERE id = ?`,
		amount, amount, s.clk.Now(), programID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return programdomain.ErrProgramNotFound
	}
	return nil
}

func (s *Service) GetBudgetStatus(ctx context.Context, programID snowflake.ID) (*programdomain.BudgetStatus, error) {
	program, err := s.FindProgram(ctx, programID)
	if err != nil {
		return nil, err
	}
	if program == nil {
		return nil, programdomain.ErrProgramNotFound
	}

	now := s.clk.Now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	monthly, err := s.windowSpend(ctx, programID, monthStart)
	if err != nil {
		return nil, err
	}
	daily, err := s.windowSpend(ctx, programID, dayStart)
	if err != nil {
		return nil, err
	}

	available := decimal.Zero
	if program.TotalBudget.Sign() > 0 {
		available = program.TotalBudget.Sub(program.SpentBudget).Sub(program.PendingBudget)
		if available.Sign() < 0 {
			available = decimal.Zero
		}
	}

	return &programdomain.BudgetStatus{
		ProgramID:     program.ID,
		Status:        program.Status,
		TotalBudget:   program.TotalBudget,
		SpentBudget:   program.SpentBudget,
		PendingBudget: program.PendingBudget,
		Available:     available,
		MonthlySpend:  monthly,
		DailySpend:    daily,
		PausedReason:  program.PausedReason,
	}, nil
}

func (s *Service) FindProgram(ctx context.Context, programID snowflake.ID) (*programdomain.Program, error) {
	var program programdomain.Program
	err := s.db.WithContext(ctx).
		Where("id = ?", programID).
		Take(&program).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &program, nil
}

// windowSpend sums PENDING and PAID commissions created since start,
// counting amounts committed against the program's caps.
func (s *Service) windowSpend(ctx context.Context, programID snowflake.ID, start time.Time) (decimal.Decimal, error) {
	var raw *string
	err := s.db.WithContext(ctx).Raw(
		`SELECT SUM(amount)
		 FROM commission_records
		 WHERE program_id = ? AND status IN ('PENDING', 'PAID') AND created_at >= ?`,
		programID, start,
	).Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil || *raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func (s *Service) autoPauseIfExhausted(ctx context.Context, programID snowflake.ID) error {
	program, err := s.FindProgram(ctx, programID)
	if err != nil || program == nil {
		return err
	}
	if !program.AutoPauseOnBudgetLimit || program.TotalBudget.Sign() <= 0 {
		return nil
	}
	if program.TotalBudget.Sub(program.SpentBudget).Sign() > 0 {
		return nil
	}

	result := s.db.WithContext(ctx).Exec(
		`UPDATE programs
		 SET status = ?, paused_reason = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		programdomain.ProgramStatusPaused, "budget_exhausted", s.clk.Now(),
		programID, programdomain.ProgramStatusActive,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		s.log.Warn("program auto-paused on budget limit",
			zap.String("program_id", programID.String()),
		)
	}
	return nil
}
