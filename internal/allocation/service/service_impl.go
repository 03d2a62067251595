package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	attributiondomain "github.com/ngtluan2k/NextMarket-sub001/internal/attribution/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/config"
	"github.com/ngtluan2k/NextMarket-sub001/internal/events"
	frauddomain "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability/metrics"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	referraldomain "github.com/ngtluan2k/NextMarket-sub001/internal/referral/domain"
	ruledomain "github.com/ngtluan2k/NextMarket-sub001/internal/rule/domain"
	walletdomain "github.com/ngtluan2k/NextMarket-sub001/internal/wallet/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var oneHundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Metrics     *metrics.Metrics
	Outbox      *events.Outbox
	OrderRepo   orderdomain.Repository
	ReferralSvc referraldomain.Service
	RuleSvc     ruledomain.Service
	Budget      programdomain.BudgetLedger
	Wallet      walletdomain.Poster
	Fraud       frauddomain.Gate
	Attribution attributiondomain.Service
}

type Engine struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.Config
	metrics     *metrics.Metrics
	outbox      *events.Outbox
	orderRepo   orderdomain.Repository
	referralSvc referraldomain.Service
	ruleSvc     ruledomain.Service
	budget      programdomain.BudgetLedger
	wallet      walletdomain.Poster
	fraud       frauddomain.Gate
	attribution attributiondomain.Service
}

func NewEngine(p Params) allocationdomain.Engine {
	return &Engine{
		db:          p.DB,
		log:         p.Log.Named("allocation.engine"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg,
		metrics:     p.Metrics,
		outbox:      p.Outbox,
		orderRepo:   p.OrderRepo,
		referralSvc: p.ReferralSvc,
		ruleSvc:     p.RuleSvc,
		budget:      p.Budget,
		wallet:      p.Wallet,
		fraud:       p.Fraud,
		attribution: p.Attribution,
	}
}

// baseItem is one commission base: a real order line for standalone
// orders, or the synthetic aggregate for group orders.
type baseItem struct {
	itemID snowflake.ID
	amount decimal.Decimal
}

func (e *Engine) HandleOrderPaid(ctx context.Context, orderID snowflake.ID) (*allocationdomain.Result, error) {
	order, err := e.orderRepo.FindOrder(ctx, e.db, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, allocationdomain.ErrOrderNotFound
	}

	var group *orderdomain.GroupOrder
	if order.GroupOrderID != nil {
		group, err = e.orderRepo.FindGroupOrder(ctx, e.db, *order.GroupOrderID)
		if err != nil {
			return nil, err
		}
	}

	orderKey := orderID
	if group != nil {
		orderKey = group.ID
	}

	// Fast idempotency path. The unique index on the record table is
	// the authoritative guard for concurrent deliveries.
	exists, err := e.recordsExist(ctx, orderKey)
	if err != nil {
		return nil, err
	}
	if exists {
		e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeDuplicate)).Inc()
		return &allocationdomain.Result{Outcome: allocationdomain.OutcomeDuplicate}, nil
	}

	source, err := e.attribution.ResolveSource(ctx, order, group)
	if err != nil {
		return nil, err
	}
	if source == nil {
		e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeNoAttribution)).Inc()
		return &allocationdomain.Result{Outcome: allocationdomain.OutcomeNoAttribution}, nil
	}

	if source.ProgramID != nil {
		program, err := e.budget.FindProgram(ctx, *source.ProgramID)
		if err != nil {
			return nil, err
		}
		if program == nil || program.Status != programdomain.ProgramStatusActive {
			e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeProgramInactive)).Inc()
			return &allocationdomain.Result{Outcome: allocationdomain.OutcomeProgramInactive}, nil
		}
	}

	// Self-commission aborts the whole order before any record exists.
	if order.BuyerUserID == source.AffiliateUserID {
		e.log.Info("self-commission guard tripped",
			zap.String("order_id", orderID.String()),
			zap.String("buyer_user_id", order.BuyerUserID.String()),
		)
		e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeSelfCommission)).Inc()
		return &allocationdomain.Result{Outcome: allocationdomain.OutcomeSelfCommission}, nil
	}

	// Advisory only.
	if report := e.fraud.Evaluate(ctx, order, source.AffiliateUserID, source.LinkID); report.FraudDetected {
		e.log.Warn("fraud findings on allocated order",
			zap.String("order_id", orderID.String()),
			zap.Int("findings", len(report.Findings)),
		)
	}

	if group != nil {
		if n := e.attribution.EnrollOrphanMembers(ctx, group, *source); n > 0 {
			e.log.Info("enrolled orphan group members",
				zap.String("group_order_id", group.ID.String()),
				zap.Int("enrolled", n),
			)
		}
	}

	now := e.clock.Now().UTC()
	maxLevels, err := e.ruleSvc.ReadNumLevels(ctx, source.ProgramID, now)
	if err != nil {
		return nil, err
	}

	var ancestors []snowflake.ID
	if maxLevels > 1 {
		ancestors, err = e.referralSvc.FindAncestors(ctx, source.AffiliateUserID, maxLevels-1)
		if err != nil {
			return nil, err
		}
	}

	items := e.baseItems(order, group)
	result := &allocationdomain.Result{Outcome: allocationdomain.OutcomeAllocated}
	for _, item := range items {
		created, paid, err := e.allocateItem(ctx, order, group, orderKey, item, *source, ancestors, maxLevels, now)
		if err != nil {
			return nil, err
		}
		result.Created += created
		result.Paid += paid
	}

	if result.Created == 0 {
		result.Outcome = allocationdomain.OutcomeNothingEarned
		e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeNothingEarned)).Inc()
		return result, nil
	}

	if source.LinkID != nil {
		if err := e.attribution.RecordConversion(ctx, *source.LinkID); err != nil {
			e.log.Warn("failed to record link conversion", zap.Error(err))
		}
	}

	e.metrics.AllocationsTotal.WithLabelValues(string(allocationdomain.OutcomeAllocated)).Inc()
	e.log.Info("order allocated",
		zap.String("order_id", orderID.String()),
		zap.Int("records_created", result.Created),
		zap.Int("records_paid", result.Paid),
	)
	return result, nil
}

func (e *Engine) baseItems(order *orderdomain.Order, group *orderdomain.GroupOrder) []baseItem {
	if group != nil {
		// Group orders earn on the aggregated group subtotal as one
		// synthetic item.
		return []baseItem{{
			itemID: allocationdomain.SyntheticGroupItemID,
			amount: group.TotalAmount,
		}}
	}
	items := make([]baseItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, baseItem{itemID: item.ID, amount: item.Subtotal})
	}
	return items
}

func (e *Engine) allocateItem(
	ctx context.Context,
	order *orderdomain.Order,
	group *orderdomain.GroupOrder,
	orderKey snowflake.ID,
	item baseItem,
	source attributiondomain.Source,
	ancestors []snowflake.ID,
	maxLevels int,
	now time.Time,
) (created, paid int, err error) {
	for level := 0; level < maxLevels; level++ {
		beneficiary := source.AffiliateUserID
		if level > 0 {
			if level-1 >= len(ancestors) {
				break
			}
			beneficiary = ancestors[level-1]
			if beneficiary == source.AffiliateUserID {
				// Duplicate beneficiary skips the level, never the
				// order.
				e.metrics.LevelsSkipped.WithLabelValues("duplicate_beneficiary").Inc()
				continue
			}
			if beneficiary == order.BuyerUserID {
				// The buyer never earns on their own order, even via
				// an upline walk that loops back to them.
				e.metrics.LevelsSkipped.WithLabelValues("self_commission").Inc()
				continue
			}
		}

		rule, err := e.ruleSvc.Resolve(ctx, source.ProgramID, level, now)
		if err != nil {
			return created, paid, err
		}
		if rule == nil {
			e.metrics.LevelsSkipped.WithLabelValues("no_rule").Inc()
			continue
		}

		amount := computeCommission(item.amount, rule.RatePercent, rule.CapPerOrder)
		if !amount.IsPositive() {
			e.metrics.LevelsSkipped.WithLabelValues("non_positive").Inc()
			continue
		}

		if source.ProgramID != nil {
			if err := e.budget.Reserve(ctx, *source.ProgramID, amount); err != nil {
				e.log.Info("budget reservation refused, level skipped",
					zap.String("order_id", order.ID.String()),
					zap.Int("level", level),
					zap.Error(err),
				)
				e.metrics.LevelsSkipped.WithLabelValues("budget").Inc()
				continue
			}
		}

		record := allocationdomain.CommissionRecord{
			ID:                e.genID.Generate(),
			OrderKey:          orderKey,
			OrderItemID:       item.itemID,
			PayerUserID:       order.BuyerUserID,
			BeneficiaryUserID: beneficiary,
			Level:             level,
			ProgramID:         source.ProgramID,
			LinkID:            source.LinkID,
			BaseAmount:        item.amount,
			RatePercent:       rule.RatePercent,
			Amount:            amount,
			Status:            allocationdomain.StatusPending,
			CreatedAt:         now,
		}
		if group != nil {
			record.GroupOrderID = &group.ID
		} else {
			record.OrderID = &order.ID
		}

		inserted, err := e.insertPending(ctx, record)
		if err != nil {
			return created, paid, err
		}
		if !inserted {
			// Lost the race to a concurrent delivery of the same
			// order-paid event.
			if source.ProgramID != nil {
				if relErr := e.budget.Release(ctx, e.db, *source.ProgramID, amount, programdomain.ReleaseFromPending); relErr != nil {
					e.log.Error("failed to release reservation after insert race", zap.Error(relErr))
				}
			}
			e.metrics.LevelsSkipped.WithLabelValues("duplicate").Inc()
			continue
		}
		created++
		e.metrics.CommissionsCreated.Inc()
		e.publishRecordEvent(ctx, events.EventCommissionCreated, record)

		if e.postWithRetry(ctx, record) {
			paid++
		}
	}
	return created, paid, nil
}

// insertPending writes the durable PENDING record. The unique keystone
// index makes the write race-safe; false means another allocation got
// there first.
func (e *Engine) insertPending(ctx context.Context, record allocationdomain.CommissionRecord) (bool, error) {
	result := e.db.WithContext(ctx).Exec(`
		INSERT INTO commission_records (
			id, order_key, order_id, group_order_id, order_item_id,
			payer_user_id, beneficiary_user_id, level, program_id, link_id,
			base_amount, rate_percent, amount, status, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (order_key, order_item_id, level, beneficiary_user_id) DO NOTHING
	`,
		record.ID, record.OrderKey, record.OrderID, record.GroupOrderID, record.OrderItemID,
		record.PayerUserID, record.BeneficiaryUserID, record.Level, record.ProgramID, record.LinkID,
		record.BaseAmount, record.RatePercent, record.Amount, string(record.Status), record.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// postWithRetry runs the out-of-transaction wallet posting with
// bounded backoff. Exhausted retries leave the record PENDING for the
// reconciliation sweep; no error surfaces to the caller.
func (e *Engine) postWithRetry(ctx context.Context, record allocationdomain.CommissionRecord) bool {
	attempts := e.cfg.WalletMaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			e.metrics.WalletRetries.Inc()
			e.clock.Sleep(ctx, e.backoffFor(attempt-1))
			if ctx.Err() != nil {
				return false
			}
		}
		if err := e.SettlePending(ctx, e.db, &record); err != nil {
			e.log.Warn("wallet posting attempt failed",
				zap.String("commission_id", record.ID.String()),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}
		return true
	}

	e.metrics.WalletExhausted.Inc()
	e.log.Error("wallet posting exhausted retries, record left pending",
		zap.String("commission_id", record.ID.String()),
		zap.String("beneficiary_user_id", record.BeneficiaryUserID.String()),
	)
	return false
}

func (e *Engine) backoffFor(i int) time.Duration {
	if i < len(e.cfg.WalletBackoff) {
		return e.cfg.WalletBackoff[i]
	}
	if n := len(e.cfg.WalletBackoff); n > 0 {
		return e.cfg.WalletBackoff[n-1]
	}
	return time.Second
}

func (e *Engine) SettlePending(ctx context.Context, db *gorm.DB, record *allocationdomain.CommissionRecord) error {
	memo := fmt.Sprintf("commission level %d for order key %s", record.Level, record.OrderKey)
	if _, err := e.wallet.Post(ctx, record.BeneficiaryUserID, record.Amount, record.ID.String(), memo); err != nil {
		return err
	}

	paidAt := e.clock.Now().UTC()
	result := db.WithContext(ctx).Exec(
		`UPDATE commission_records SET status = ?, paid_at = ? WHERE id = ? AND status = ?`,
		string(allocationdomain.StatusPaid), paidAt, record.ID, string(allocationdomain.StatusPending),
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Already settled elsewhere; nothing further to move.
		return nil
	}
	record.Status = allocationdomain.StatusPaid
	record.PaidAt = &paidAt

	if record.ProgramID != nil {
		if err := e.budget.Commit(ctx, *record.ProgramID, record.Amount); err != nil {
			e.log.Error("budget commit failed after wallet posting",
				zap.String("commission_id", record.ID.String()),
				zap.Error(err),
			)
		}
	}

	e.metrics.CommissionsPaid.Inc()
	e.publishRecordEvent(ctx, events.EventCommissionPaid, *record)
	return nil
}

func (e *Engine) recordsExist(ctx context.Context, orderKey snowflake.ID) (bool, error) {
	var n int64
	err := e.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM commission_records WHERE order_key = ?`, orderKey,
	).Scan(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (e *Engine) publishRecordEvent(ctx context.Context, eventType string, record allocationdomain.CommissionRecord) {
	payload := events.CommissionPayload{
		CommissionID:  record.ID.String(),
		BeneficiaryID: record.BeneficiaryUserID.String(),
		Level:         record.Level,
		Amount:        record.Amount.StringFixed(2),
		Status:        string(record.Status),
	}
	if record.OrderID != nil {
		payload.OrderID = record.OrderID.String()
	}
	if record.GroupOrderID != nil {
		payload.GroupOrderID = record.GroupOrderID.String()
	}
	if err := e.outbox.Publish(ctx, events.Event{
		Type:      eventType,
		Payload:   payload.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s", eventType, record.ID),
	}); err != nil {
		e.log.Warn("failed to publish commission event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// computeCommission applies the rate, rounds half-up to 2 places and
// clamps to the per-order cap when configured.
func computeCommission(base, ratePercent decimal.Decimal, capPerOrder *decimal.Decimal) decimal.Decimal {
	amount := base.Mul(ratePercent).Div(oneHundred).Round(2)
	if capPerOrder != nil && amount.GreaterThan(*capPerOrder) {
		amount = *capPerOrder
	}
	return amount
}
