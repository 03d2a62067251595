package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// EnrollReferral inserts a referrer -> referee edge.
func (s *Server) EnrollReferral(c *gin.Context) {
	var req struct {
		ReferrerID snowflake.ID `json:"referrer_id"`
		RefereeID  snowflake.ID `json:"referee_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.ReferrerID == 0 {
		AbortWithError(c, newValidationError("referrer_id", "required", "referrer_id is required"))
		return
	}
	if req.RefereeID == 0 {
		AbortWithError(c, newValidationError("referee_id", "required", "referee_id is required"))
		return
	}

	edge, err := s.referralSvc.Enroll(c.Request.Context(), req.ReferrerID, req.RefereeID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"data": gin.H{
		"id":          edge.ID,
		"referrer_id": edge.ReferrerID,
		"referee_id":  edge.RefereeID,
		"status":      edge.Status,
		"created_at":  edge.CreatedAt,
	}})
}

// ListAncestors returns the referral chain upward from a user,
// nearest first.
func (s *Server) ListAncestors(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var query struct {
		MaxDepth int `form:"max_depth"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	maxDepth := query.MaxDepth
	if maxDepth <= 0 || maxDepth > s.cfg.MaxReferralDepth {
		maxDepth = s.cfg.MaxReferralDepth
	}

	ancestors, err := s.referralSvc.FindAncestors(c.Request.Context(), userID, maxDepth)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id":   userID,
		"ancestors": ancestors,
	}})
}

// ListDescendants returns a user's direct children, paginated.
func (s *Server) ListDescendants(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var query struct {
		Page  int `form:"page"`
		Limit int `form:"limit"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit < 1 || query.Limit > 100 {
		query.Limit = 20
	}

	descendants, total, err := s.referralSvc.FindDescendants(c.Request.Context(), userID, query.Page, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(descendants))
	for _, d := range descendants {
		items = append(items, gin.H{
			"user_id":    d.UserID,
			"created_at": d.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"items": items,
		"total": total,
		"page":  query.Page,
		"limit": query.Limit,
	}})
}

// DescendantTree returns every node reachable downward from a user
// within max_depth, tagged with depth and path.
func (s *Server) DescendantTree(c *gin.Context) {
	userID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var query struct {
		MaxDepth int `form:"max_depth"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	maxDepth := query.MaxDepth
	if maxDepth <= 0 || maxDepth > s.cfg.MaxReferralDepth {
		maxDepth = s.cfg.MaxReferralDepth
	}

	nodes, err := s.referralSvc.FindFullDescendantTree(c.Request.Context(), userID, maxDepth)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(nodes))
	for _, n := range nodes {
		items = append(items, gin.H{
			"user_id": n.UserID,
			"depth":   n.Depth,
			"path":    n.Path,
		})
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id": userID,
		"nodes":   items,
	}})
}
