package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/ngtluan2k/NextMarket-sub001/internal/audit/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/clock"
	"github.com/ngtluan2k/NextMarket-sub001/internal/events"
	frauddomain "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/domain"
	"github.com/ngtluan2k/NextMarket-sub001/internal/observability/metrics"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	burstWindow        = 24 * time.Hour
	burstOrderLimit    = 10
	burstIdenticalPct  = 0.70
	ipOrderLimit       = 10
	conversionRatePct  = 0.50
	conversionMinClick = 10
	rapidPurchaseGap   = 60 * time.Second
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Metrics  *metrics.Metrics
	Outbox   *events.Outbox
	AuditSvc auditdomain.Service
}

type Gate struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	metrics  *metrics.Metrics
	outbox   *events.Outbox
	auditSvc auditdomain.Service
}

func NewGate(p Params) frauddomain.Gate {
	return &Gate{
		db:       p.DB,
		log:      p.Log.Named("fraud.gate"),
		genID:    p.GenID,
		clock:    p.Clock,
		metrics:  p.Metrics,
		outbox:   p.Outbox,
		auditSvc: p.AuditSvc,
	}
}

type heuristicFn func(ctx context.Context, order *orderdomain.Order, affiliateUserID snowflake.ID, linkID *snowflake.ID) (*frauddomain.Finding, error)

func (g *Gate) Evaluate(ctx context.Context, order *orderdomain.Order, affiliateUserID snowflake.ID, linkID *snowflake.ID) *frauddomain.Report {
	report := &frauddomain.Report{}
	if order == nil {
		return report
	}

	checks := []heuristicFn{
		g.checkSelfReferral,
		g.checkDuplicateBurst,
		g.checkSuspiciousIP,
		g.checkAbnormalConversion,
		g.checkRapidPurchase,
	}
	for _, check := range checks {
		finding, err := check(ctx, order, affiliateUserID, linkID)
		if err != nil {
			g.log.Warn("fraud heuristic failed",
				zap.String("order_id", order.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if finding == nil {
			continue
		}
		report.FraudDetected = true
		report.Findings = append(report.Findings, *finding)
		g.persistFinding(ctx, order, affiliateUserID, *finding)
	}
	return report
}

func (g *Gate) persistFinding(ctx context.Context, order *orderdomain.Order, affiliateUserID snowflake.ID, finding frauddomain.Finding) {
	entry := frauddomain.FraudLog{
		ID:         g.genID.Generate(),
		Type:       string(finding.Heuristic),
		OrderID:    &order.ID,
		Details:    datatypes.JSONMap(finding.Details),
		IPAddress:  order.IPAddress,
		DetectedAt: g.clock.Now().UTC(),
	}
	if affiliateUserID != 0 {
		entry.AffiliateUserID = &affiliateUserID
	}
	if err := g.db.WithContext(ctx).Create(&entry).Error; err != nil {
		g.log.Error("failed to persist fraud finding",
			zap.String("order_id", order.ID.String()),
			zap.String("heuristic", string(finding.Heuristic)),
			zap.Error(err),
		)
		return
	}

	g.metrics.FraudFindings.WithLabelValues(string(finding.Heuristic)).Inc()
	if err := g.outbox.Publish(ctx, events.Event{
		Type: events.EventFraudFlagged,
		Payload: map[string]any{
			"fraud_log_id": entry.ID.String(),
			"order_id":     order.ID.String(),
			"heuristic":    string(finding.Heuristic),
		},
		DedupeKey: fmt.Sprintf("fraud:%s:%s", order.ID, finding.Heuristic),
	}); err != nil {
		g.log.Warn("failed to publish fraud event", zap.Error(err))
	}

	g.log.Info("fraud finding recorded",
		zap.String("order_id", order.ID.String()),
		zap.String("heuristic", string(finding.Heuristic)),
		zap.Any("details", finding.Details),
	)
}

func (g *Gate) checkSelfReferral(_ context.Context, order *orderdomain.Order, affiliateUserID snowflake.ID, _ *snowflake.ID) (*frauddomain.Finding, error) {
	if affiliateUserID == 0 || order.BuyerUserID != affiliateUserID {
		return nil, nil
	}
	return &frauddomain.Finding{
		Heuristic: frauddomain.HeuristicSelfReferral,
		Details: map[string]any{
			"buyer_user_id": order.BuyerUserID.String(),
		},
	}, nil
}

func (g *Gate) checkDuplicateBurst(ctx context.Context, order *orderdomain.Order, _ snowflake.ID, _ *snowflake.ID) (*frauddomain.Finding, error) {
	since := g.clock.Now().UTC().Add(-burstWindow)

	type bucket struct {
		TotalAmount string
		N           int64
	}
	var buckets []bucket
	err := g.db.WithContext(ctx).Raw(`
		SELECT total_amount, COUNT(*) AS n
		FROM orders
		WHERE buyer_user_id = ? AND created_at >= ?
		GROUP BY total_amount
	`, order.BuyerUserID, since).Scan(&buckets).Error
	if err != nil {
		return nil, err
	}

	var total, peak int64
	for _, b := range buckets {
		total += b.N
		if b.N > peak {
			peak = b.N
		}
	}
	if total <= burstOrderLimit {
		return nil, nil
	}
	share := float64(peak) / float64(total)
	if share <= burstIdenticalPct {
		return nil, nil
	}
	return &frauddomain.Finding{
		Heuristic: frauddomain.HeuristicDuplicateBurst,
		Details: map[string]any{
			"orders_24h":      total,
			"identical_share": share,
		},
	}, nil
}

func (g *Gate) checkSuspiciousIP(ctx context.Context, order *orderdomain.Order, _ snowflake.ID, _ *snowflake.ID) (*frauddomain.Finding, error) {
	if order.IPAddress == nil || *order.IPAddress == "" {
		return nil, nil
	}
	since := g.clock.Now().UTC().Add(-burstWindow)

	var n int64
	err := g.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) FROM orders WHERE ip_address = ? AND created_at >= ?
	`, *order.IPAddress, since).Scan(&n).Error
	if err != nil {
		return nil, err
	}
	if n <= ipOrderLimit {
		return nil, nil
	}
	return &frauddomain.Finding{
		Heuristic: frauddomain.HeuristicSuspiciousIP,
		Details: map[string]any{
			"orders_24h": n,
		},
	}, nil
}

func (g *Gate) checkAbnormalConversion(ctx context.Context, _ *orderdomain.Order, _ snowflake.ID, linkID *snowflake.ID) (*frauddomain.Finding, error) {
	if linkID == nil {
		return nil, nil
	}

	var link struct {
		ClickCount      int64
		ConversionCount int64
	}
	err := g.db.WithContext(ctx).Raw(`
		SELECT click_count, conversion_count FROM referral_links WHERE id = ?
	`, *linkID).Scan(&link).Error
	if err != nil {
		return nil, err
	}
	if link.ClickCount <= conversionMinClick {
		return nil, nil
	}
	rate := float64(link.ConversionCount) / float64(link.ClickCount)
	if rate <= conversionRatePct {
		return nil, nil
	}
	return &frauddomain.Finding{
		Heuristic: frauddomain.HeuristicAbnormalConversion,
		Details: map[string]any{
			"clicks":          link.ClickCount,
			"conversions":     link.ConversionCount,
			"conversion_rate": rate,
		},
	}, nil
}

func (g *Gate) checkRapidPurchase(ctx context.Context, order *orderdomain.Order, _ snowflake.ID, linkID *snowflake.ID) (*frauddomain.Finding, error) {
	if linkID == nil {
		return nil, nil
	}

	var clickedAt sql.NullTime
	err := g.db.WithContext(ctx).Raw(`
		SELECT created_at FROM link_clicks
		WHERE link_id = ? AND created_at <= ?
		ORDER BY created_at DESC
		LIMIT 1
	`, *linkID, order.CreatedAt).Scan(&clickedAt).Error
	if err != nil {
		return nil, err
	}
	if !clickedAt.Valid {
		return nil, nil
	}
	gap := order.CreatedAt.Sub(clickedAt.Time)
	if gap >= rapidPurchaseGap {
		return nil, nil
	}
	return &frauddomain.Finding{
		Heuristic: frauddomain.HeuristicRapidPurchase,
		Details: map[string]any{
			"click_to_order_seconds": gap.Seconds(),
		},
	}, nil
}

func (g *Gate) ListLogs(ctx context.Context, reviewed *bool, page, limit int) ([]frauddomain.FraudLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := g.db.WithContext(ctx).Model(&frauddomain.FraudLog{})
	if reviewed != nil {
		query = query.Where("reviewed = ?", *reviewed)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var logs []frauddomain.FraudLog
	err := query.
		Order("detected_at DESC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&logs).Error
	if err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}

func (g *Gate) Review(ctx context.Context, logID snowflake.ID, adminID, action string) (*frauddomain.FraudLog, error) {
	result := g.db.WithContext(ctx).Exec(
		`UPDATE fraud_logs SET reviewed = ?, admin_action = ? WHERE id = ?`,
		true, action, logID,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, frauddomain.ErrFraudLogNotFound
	}

	if err := g.auditSvc.AuditLog(ctx, auditdomain.ActorTypeAdmin, adminID,
		"fraud_log.review", "fraud_log", logID.String(),
		map[string]any{"action": action},
	); err != nil {
		g.log.Warn("failed to audit fraud review", zap.Error(err))
	}

	var entry frauddomain.FraudLog
	err := g.db.WithContext(ctx).Where("id = ?", logID).Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, frauddomain.ErrFraudLogNotFound
		}
		return nil, err
	}
	return &entry, nil
}
