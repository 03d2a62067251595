package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	referraldomain "github.com/ngtluan2k/NextMarket-sub001/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// maxWalkDepth bounds graph walks regardless of the caller's maxDepth.
const maxWalkDepth = 50

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) referraldomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("referral.service"),
		genID: p.GenID,
	}
}

func (s *Service) Enroll(ctx context.Context, referrerID, refereeID snowflake.ID) (*referraldomain.ReferralEdge, error) {
	if referrerID == refereeID {
		return nil, referraldomain.ErrSelfReferral
	}

	exists, err := s.usersExist(ctx, referrerID, refereeID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, referraldomain.ErrUserNotFound
	}

	parent, err := s.parentOf(ctx, s.db, refereeID)
	if err != nil {
		return nil, err
	}
	if parent != 0 {
		return nil, referraldomain.ErrDuplicateReferrer
	}

	// The referee must not already sit above the referrer; that edge
	// would close a cycle.
	ancestors, err := s.FindAncestors(ctx, referrerID, maxWalkDepth)
	if err != nil {
		return nil, err
	}
	for _, ancestor := range ancestors {
		if ancestor == refereeID {
			return nil, referraldomain.ErrCircularReferral
		}
	}

	edge := &referraldomain.ReferralEdge{
		ID:         s.genID.Generate(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Status:     referraldomain.EdgeStatusActive,
		CreatedAt:  time.Now().UTC(),
	}

	// ON CONFLICT guards the race where two enrollments for the same
	// referee pass the pre-check concurrently.
	result := s.db.WithContext(ctx).Exec(
		`INSERT INTO referral_edges (id, referrer_id, referee_id, status, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (referee_id) DO NOTHING`,
		edge.ID, edge.ReferrerID, edge.RefereeID, edge.Status, edge.CreatedAt,
	)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, referraldomain.ErrDuplicateReferrer
	}

	s.log.Info("referral enrolled",
		zap.String("referrer_id", referrerID.String()),
		zap.String("referee_id", refereeID.String()),
	)
	return edge, nil
}

func (s *Service) FindAncestors(ctx context.Context, userID snowflake.ID, maxDepth int) ([]snowflake.ID, error) {
	if maxDepth <= 0 || maxDepth > maxWalkDepth {
		maxDepth = maxWalkDepth
	}

	ancestors := make([]snowflake.ID, 0, maxDepth)
	visited := map[snowflake.ID]bool{userID: true}

	current := userID
	for depth := 0; depth < maxDepth; depth++ {
		parent, err := s.parentOf(ctx, s.db, current)
		if err != nil {
			return nil, err
		}
		if parent == 0 {
			break
		}
		// Visited guard: enroll() prevents cycles, but a corrupted graph
		// must not hang the walk.
		if visited[parent] {
			s.log.Warn("referral cycle detected during ancestor walk",
				zap.String("user_id", userID.String()),
				zap.String("repeated_id", parent.String()),
			)
			break
		}
		visited[parent] = true
		ancestors = append(ancestors, parent)
		current = parent
	}
	return ancestors, nil
}

func (s *Service) FindDescendants(ctx context.Context, userID snowflake.ID, page, limit int) ([]referraldomain.Descendant, int64, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	var total int64
	if err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM referral_edges WHERE referrer_id = ? AND status = ?`,
		userID, referraldomain.EdgeStatusActive,
	).Scan(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []struct {
		RefereeID snowflake.ID
		CreatedAt time.Time
	}
	if err := s.db.WithContext(ctx).Raw(
		`SELECT referee_id, created_at
		 FROM referral_edges
		 WHERE referrer_id = ? AND status = ?
		 ORDER BY created_at, id
		 LIMIT ? OFFSET ?`,
		userID, referraldomain.EdgeStatusActive, limit, (page-1)*limit,
	).Scan(&rows).Error; err != nil {
		return nil, 0, err
	}

	descendants := make([]referraldomain.Descendant, 0, len(rows))
	for _, row := range rows {
		descendants = append(descendants, referraldomain.Descendant{
			UserID:    row.RefereeID,
			CreatedAt: row.CreatedAt,
		})
	}
	return descendants, total, nil
}

func (s *Service) FindFullDescendantTree(ctx context.Context, userID snowflake.ID, maxDepth int) ([]referraldomain.TreeNode, error) {
	if maxDepth <= 0 || maxDepth > maxWalkDepth {
		maxDepth = maxWalkDepth
	}

	type frontierEntry struct {
		userID snowflake.ID
		path   []snowflake.ID
	}

	var nodes []referraldomain.TreeNode
	visited := map[snowflake.ID]bool{userID: true}
	frontier := []frontierEntry{{userID: userID, path: nil}}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		parentIDs := make([]snowflake.ID, 0, len(frontier))
		pathByParent := make(map[snowflake.ID][]snowflake.ID, len(frontier))
		for _, entry := range frontier {
			parentIDs = append(parentIDs, entry.userID)
			pathByParent[entry.userID] = entry.path
		}

		var rows []struct {
			ReferrerID snowflake.ID
			RefereeID  snowflake.ID
		}
		if err := s.db.WithContext(ctx).Raw(
			`SELECT referrer_id, referee_id
			 FROM referral_edges
			 WHERE referrer_id IN ? AND status = ?
			 ORDER BY created_at, id`,
			parentIDs, referraldomain.EdgeStatusActive,
		).Scan(&rows).Error; err != nil {
			return nil, err
		}

		next := make([]frontierEntry, 0, len(rows))
		for _, row := range rows {
			if visited[row.RefereeID] {
				continue
			}
			visited[row.RefereeID] = true

			parentPath := pathByParent[row.ReferrerID]
			path := make([]snowflake.ID, 0, len(parentPath)+1)
			path = append(path, parentPath...)
			path = append(path, row.ReferrerID)

			nodes = append(nodes, referraldomain.TreeNode{
				UserID: row.RefereeID,
				Depth:  depth,
				Path:   path,
			})
			next = append(next, frontierEntry{userID: row.RefereeID, path: path})
		}
		frontier = next
	}
	return nodes, nil
}

func (s *Service) parentOf(ctx context.Context, db *gorm.DB, userID snowflake.ID) (snowflake.ID, error) {
	var parent snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT referrer_id
		 FROM referral_edges
		 WHERE referee_id = ? AND status = ?`,
		userID, referraldomain.EdgeStatusActive,
	).Scan(&parent).Error
	if err != nil {
		return 0, err
	}
	return parent, nil
}

func (s *Service) usersExist(ctx context.Context, ids ...snowflake.ID) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(1) FROM users WHERE id IN ?`,
		ids,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count == int64(len(ids)), nil
}
