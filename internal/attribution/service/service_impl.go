package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	attributiondomain "github.com/ngtluan2k/NextMarket-sub001/internal/attribution/domain"
	orderdomain "github.com/ngtluan2k/NextMarket-sub001/internal/order/domain"
	referraldomain "github.com/ngtluan2k/NextMarket-sub001/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	OrderRepo   orderdomain.Repository
	ReferralSvc referraldomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	orderRepo   orderdomain.Repository
	referralSvc referraldomain.Service
}

func NewService(p Params) attributiondomain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("attribution.service"),
		genID:       p.GenID,
		orderRepo:   p.OrderRepo,
		referralSvc: p.ReferralSvc,
	}
}

func (s *Service) ResolveSource(ctx context.Context, order *orderdomain.Order, group *orderdomain.GroupOrder) (*attributiondomain.Source, error) {
	if order == nil {
		return nil, nil
	}

	if group == nil {
		// Standalone order: attribution was stamped upstream.
		if order.AffiliateUserID == nil || *order.AffiliateUserID == 0 {
			return nil, nil
		}
		source := attributiondomain.NewMemberSpecificSource(*order.AffiliateUserID, order.ProgramID, order.LinkID)
		return &source, nil
	}

	candidates := s.collectGroupCandidates(order, group)
	if len(candidates) == 0 {
		return nil, nil
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})
	resolved := candidates[0]

	// Written back for audit; failure there must not lose the
	// allocation.
	if err := s.orderRepo.WriteAttribution(ctx, s.db, order.ID, resolved.AffiliateUserID, resolved.ProgramID, resolved.LinkID); err != nil {
		s.log.Warn("failed to write resolved attribution",
			zap.String("order_id", order.ID.String()),
			zap.Error(err),
		)
	}
	return &resolved, nil
}

func (s *Service) collectGroupCandidates(order *orderdomain.Order, group *orderdomain.GroupOrder) []attributiondomain.Source {
	var candidates []attributiondomain.Source

	for _, member := range group.Members {
		if member.UserID != order.BuyerUserID {
			continue
		}
		if member.ReferrerUserID != nil && *member.ReferrerUserID != 0 {
			candidates = append(candidates, attributiondomain.NewMemberSpecificSource(
				*member.ReferrerUserID, member.ProgramID, member.LinkID,
			))
		}
		break
	}

	if group.AffiliateUserID != nil && *group.AffiliateUserID != 0 {
		candidates = append(candidates, attributiondomain.NewGroupLevelSource(
			*group.AffiliateUserID, group.ProgramID, group.LinkID,
		))
	}
	return candidates
}

func (s *Service) EnrollOrphanMembers(ctx context.Context, group *orderdomain.GroupOrder, source attributiondomain.Source) int {
	if group == nil {
		return 0
	}

	enrolled := 0
	for _, member := range group.Members {
		ancestors, err := s.referralSvc.FindAncestors(ctx, member.UserID, 1)
		if err != nil {
			s.log.Warn("orphan check failed",
				zap.String("member_id", member.UserID.String()),
				zap.Error(err),
			)
			continue
		}
		if len(ancestors) > 0 {
			continue
		}

		if _, err := s.referralSvc.Enroll(ctx, source.AffiliateUserID, member.UserID); err != nil {
			// Self/duplicate/cycle/missing users only skip this member.
			if !isExpectedEnrollSkip(err) {
				s.log.Warn("orphan enrollment failed",
					zap.String("member_id", member.UserID.String()),
					zap.Error(err),
				)
			}
			continue
		}
		enrolled++
	}
	return enrolled
}

func isExpectedEnrollSkip(err error) bool {
	return errors.Is(err, referraldomain.ErrSelfReferral) ||
		errors.Is(err, referraldomain.ErrDuplicateReferrer) ||
		errors.Is(err, referraldomain.ErrCircularReferral) ||
		errors.Is(err, referraldomain.ErrUserNotFound)
}

func (s *Service) RecordClick(ctx context.Context, code, visitorKey, ipAddress string) (*attributiondomain.ReferralLink, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, attributiondomain.ErrLinkNotFound
	}

	var link attributiondomain.ReferralLink
	err := s.db.WithContext(ctx).
		Where("code = ?", code).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, attributiondomain.ErrLinkNotFound
		}
		return nil, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.WithContext(ctx).Exec(
			`UPDATE referral_links SET click_count = click_count + 1 WHERE id = ?`,
			link.ID,
		).Error; err != nil {
			return err
		}
		return tx.WithContext(ctx).Exec(
			`INSERT INTO link_clicks (id, link_id, visitor_key, ip_address, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			s.genID.Generate(), link.ID, strings.TrimSpace(visitorKey), strings.TrimSpace(ipAddress), time.Now().UTC(),
		).Error
	})
	if err != nil {
		return nil, err
	}
	link.ClickCount++
	return &link, nil
}

func (s *Service) RecordConversion(ctx context.Context, linkID snowflake.ID) error {
	return s.db.WithContext(ctx).Exec(
		`UPDATE referral_links SET conversion_count = conversion_count + 1 WHERE id = ?`,
		linkID,
	).Error
}

func (s *Service) FindLink(ctx context.Context, linkID snowflake.ID) (*attributiondomain.ReferralLink, error) {
	var link attributiondomain.ReferralLink
	err := s.db.WithContext(ctx).
		Where("id = ?", linkID).
		Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}
