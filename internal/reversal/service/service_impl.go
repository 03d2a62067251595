package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/events"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability/metrics"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	reversaldomain "github.com/ngtluan2k/NextMarket-sub001/internal/reversal/domain"
	walletdomain "github.com/ngtluan2k/NextMarket-sub001/internal/wallet/domain"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var one = decimal.NewFromInt(1)

type Params struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Outbox    *events.Outbox
	OrderRepo orderdomain.Repository
	Budget    programdomain.BudgetLedger
	Wallet    walletdomain.Poster
}

type Engine struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	metrics   *metrics.Metrics
	outbox    *events.Outbox
	orderRepo orderdomain.Repository
	budget    programdomain.BudgetLedger
	wallet    walletdomain.Poster
}

func NewEngine(p Params) reversaldomain.Engine {
	return &Engine{
		db:        p.DB,
		log:       p.Log.Named("reversal.engine"),
		clock:     p.Clock,
		metrics:   p.Metrics,
		outbox:    p.Outbox,
		orderRepo: p.OrderRepo,
		budget:    p.Budget,
		wallet:    p.Wallet,
	}
}

func (e *Engine) ReverseCommissionForOrder(ctx context.Context, orderID snowflake.ID, reason string) (*reversaldomain.Result, error) {
	orderKey, err := e.orderKeyFor(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &reversaldomain.Result{TotalReversed: decimal.Zero}
	now := e.clock.Now().UTC()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []allocationdomain.CommissionRecord
		err := tx.WithContext(ctx).
			Where("order_key = ? AND status = ?", orderKey, string(allocationdomain.StatusPaid)).
			Find(&records).Error
		if err != nil {
			return err
		}

		for _, record := range records {
			if err := e.wallet.Deduct(ctx, tx, record.BeneficiaryUserID, record.Amount,
				record.ID.String(), fmt.Sprintf("reversal: %s", reason)); err != nil {
				return err
			}
			if err := tx.WithContext(ctx).Exec(
				`UPDATE commission_records
				 SET status = ?, reversed_amount = ?, reversed_at = ?, reversal_reason = ?
				 WHERE id = ? AND status = ?`,
				string(allocationdomain.StatusReversed), record.Amount, now, reason,
				record.ID, string(allocationdomain.StatusPaid),
			).Error; err != nil {
				return err
			}
			if record.ProgramID != nil {
				if err := e.budget.Release(ctx, tx, *record.ProgramID, record.Amount, programdomain.ReleaseFromPaid); err != nil {
					return err
				}
			}
			record.Status = allocationdomain.StatusReversed
			e.publishTx(ctx, tx, events.EventCommissionReversed, record, record.Amount)
			result.Affected++
			result.TotalReversed = result.TotalReversed.Add(record.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ReversalsTotal.WithLabelValues("reverse").Inc()
	e.log.Info("order commissions reversed",
		zap.String("order_id", orderID.String()),
		zap.String("reason", reason),
		zap.Int("affected", result.Affected),
		zap.String("total_reversed", result.TotalReversed.StringFixed(2)),
	)
	return result, nil
}

func (e *Engine) VoidCommissionForOrder(ctx context.Context, orderID snowflake.ID) (*reversaldomain.Result, error) {
	orderKey, err := e.orderKeyFor(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &reversaldomain.Result{TotalReversed: decimal.Zero}
	now := e.clock.Now().UTC()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []allocationdomain.CommissionRecord
		err := tx.WithContext(ctx).
			Where("order_key = ? AND status = ?", orderKey, string(allocationdomain.StatusPending)).
			Find(&records).Error
		if err != nil {
			return err
		}

		for _, record := range records {
			// PENDING means nothing reached the wallet; only the
			// status and the budget hold move.
			if err := tx.WithContext(ctx).Exec(
				`UPDATE commission_records SET status = ?, reversed_at = ? WHERE id = ? AND status = ?`,
				string(allocationdomain.StatusVoided), now,
				record.ID, string(allocationdomain.StatusPending),
			).Error; err != nil {
				return err
			}
			if record.ProgramID != nil {
				if err := e.budget.Release(ctx, tx, *record.ProgramID, record.Amount, programdomain.ReleaseFromPending); err != nil {
					return err
				}
			}
			record.Status = allocationdomain.StatusVoided
			e.publishTx(ctx, tx, events.EventCommissionVoided, record, decimal.Zero)
			result.Affected++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ReversalsTotal.WithLabelValues("void").Inc()
	e.log.Info("order commissions voided",
		zap.String("order_id", orderID.String()),
		zap.Int("affected", result.Affected),
	)
	return result, nil
}

func (e *Engine) PartialReversalForOrderItem(ctx context.Context, orderItemID snowflake.ID, refundAmount decimal.Decimal) (*reversaldomain.Result, error) {
	if !refundAmount.IsPositive() {
		return nil, reversaldomain.ErrInvalidRefund
	}
	item, err := e.orderRepo.FindOrderItem(ctx, e.db, orderItemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, reversaldomain.ErrOrderItemNotFound
	}

	result := &reversaldomain.Result{TotalReversed: decimal.Zero}
	now := e.clock.Now().UTC()

	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []allocationdomain.CommissionRecord
		err := tx.WithContext(ctx).
			Where("order_item_id = ? AND status = ?", orderItemID, string(allocationdomain.StatusPaid)).
			Find(&records).Error
		if err != nil {
			return err
		}

		for _, record := range records {
			// A zero or negative original price cannot produce a
			// sane ratio; skip defensively.
			if !item.Subtotal.IsPositive() {
				e.log.Warn("partial reversal skipped, non-positive item price",
					zap.String("commission_id", record.ID.String()),
					zap.String("order_item_id", orderItemID.String()),
				)
				continue
			}
			ratio := refundAmount.Div(item.Subtotal)
			delta := record.Amount.Mul(ratio).Round(2)

			already := decimal.Zero
			if record.ReversedAmount != nil {
				already = *record.ReversedAmount
			}
			// Never claw back more than was paid out.
			if already.Add(delta).GreaterThan(record.Amount) {
				delta = record.Amount.Sub(already)
			}
			if !delta.IsPositive() {
				continue
			}
			cumulative := already.Add(delta)

			if err := e.wallet.Deduct(ctx, tx, record.BeneficiaryUserID, delta,
				record.ID.String(), "partial refund"); err != nil {
				return err
			}

			status := allocationdomain.StatusPaid
			if ratio.GreaterThanOrEqual(one) || cumulative.GreaterThanOrEqual(record.Amount) {
				status = allocationdomain.StatusReversed
			}
			if err := tx.WithContext(ctx).Exec(
				`UPDATE commission_records
				 SET status = ?, reversed_amount = ?, reversed_at = ?, reversal_reason = ?
				 WHERE id = ?`,
				string(status), cumulative, now, "PARTIAL_REFUND", record.ID,
			).Error; err != nil {
				return err
			}
			if record.ProgramID != nil {
				if err := e.budget.Release(ctx, tx, *record.ProgramID, delta, programdomain.ReleaseFromPaid); err != nil {
					return err
				}
			}
			record.Status = status
			record.ReversedAmount = &cumulative
			e.publishTx(ctx, tx, events.EventCommissionReversed, record, delta)
			result.Affected++
			result.TotalReversed = result.TotalReversed.Add(delta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ReversalsTotal.WithLabelValues("partial").Inc()
	e.log.Info("order item commissions partially reversed",
		zap.String("order_item_id", orderItemID.String()),
		zap.String("refund_amount", refundAmount.StringFixed(2)),
		zap.Int("affected", result.Affected),
		zap.String("total_reversed", result.TotalReversed.StringFixed(2)),
	)
	return result, nil
}

// orderKeyFor maps an order to its commission keystone: the group
// order id for group purchases, the order id otherwise.
func (e *Engine) orderKeyFor(ctx context.Context, orderID snowflake.ID) (snowflake.ID, error) {
	order, err := e.orderRepo.FindOrder(ctx, e.db, orderID)
	if err != nil {
		return 0, err
	}
	if order == nil {
		return 0, reversaldomain.ErrOrderNotFound
	}
	if order.GroupOrderID != nil {
		return *order.GroupOrderID, nil
	}
	return order.ID, nil
}

func (e *Engine) publishTx(ctx context.Context, tx *gorm.DB, eventType string, record allocationdomain.CommissionRecord, reversed decimal.Decimal) {
	payload := events.CommissionPayload{
		CommissionID:  record.ID.String(),
		BeneficiaryID: record.BeneficiaryUserID.String(),
		Level:         record.Level,
		Amount:        reversed.StringFixed(2),
		Status:        string(record.Status),
	}
	if record.OrderID != nil {
		payload.OrderID = record.OrderID.String()
	}
	if record.GroupOrderID != nil {
		payload.GroupOrderID = record.GroupOrderID.String()
	}
	if err := e.outbox.PublishTx(ctx, tx, events.Event{
		Type:      eventType,
		Payload:   payload.ToMap(),
		DedupeKey: fmt.Sprintf("%s:%s:%s", eventType, record.ID, reversed.StringFixed(2)),
	}); err != nil {
		e.log.Warn("failed to publish reversal event",
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}
