package scheduler

import (
	"context"
	"time"

	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Cfg    config.Config
	Engine allocationdomain.Engine
}

// Sweeper periodically retries wallet posting for commission records
// stuck in PENDING after their in-line retries were exhausted.
type Sweeper struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	cfg    config.Config
	engine allocationdomain.Engine
}

func NewSweeper(p Params) *Sweeper {
	return &Sweeper{
		db:     p.DB,
		log:    p.Log.Named("scheduler.sweeper"),
		clock:  p.Clock,
		cfg:    p.Cfg,
		engine: p.Engine,
	}
}

// SweepOnce settles one batch of stale PENDING records. Rows are
// locked so concurrent sweepers skip each other's work; a settlement
// failure only skips that record until the next pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	cutoff := s.clock.Now().UTC().Add(-s.cfg.ReconcileGracePeriod)
	batch := s.cfg.ReconcileBatchSize
	if batch < 1 {
		batch = 50
	}

	settled := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := `
			SELECT * FROM commission_records
			WHERE status = ? AND created_at <= ?
			ORDER BY created_at
			LIMIT ?`
		if tx.Dialector.Name() == "postgres" {
			query += ` FOR UPDATE SKIP LOCKED`
		}

		var records []allocationdomain.CommissionRecord
		err := tx.WithContext(ctx).
			Raw(query, string(allocationdomain.StatusPending), cutoff, batch).
			Scan(&records).Error
		if err != nil {
			return err
		}

		for i := range records {
			if err := s.engine.SettlePending(ctx, tx, &records[i]); err != nil {
				s.log.Warn("reconciliation settlement failed",
					zap.String("commission_id", records[i].ID.String()),
					zap.Error(err),
				)
				continue
			}
			settled++
		}
		return nil
	})
	if err != nil {
		return settled, err
	}

	if settled > 0 {
		s.log.Info("reconciliation sweep settled pending commissions",
			zap.Int("settled", settled),
		)
	}
	return settled, nil
}

// RunForever drives SweepOnce on the configured interval until the
// context is cancelled.
func (s *Sweeper) RunForever(ctx context.Context) {
	interval := s.cfg.ReconcileInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("reconciliation sweeper started",
		zap.Duration("interval", interval),
		zap.Duration("grace_period", s.cfg.ReconcileGracePeriod),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.log.Error("reconciliation sweep failed", zap.Error(err))
			}
		}
	}
}
