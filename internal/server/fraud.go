package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	frauddomain "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/domain"
)

// ListFraudLogs pages through fraud findings, newest first.
func (s *Server) ListFraudLogs(c *gin.Context) {
	var query struct {
		Reviewed string `form:"reviewed"`
		Page     int    `form:"page"`
		Limit    int    `form:"limit"`
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

	var reviewed *bool
	if raw := strings.TrimSpace(query.Reviewed); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			AbortWithError(c, newValidationError("reviewed", "invalid_reviewed", "invalid reviewed flag"))
			return
		}
		reviewed = &parsed
	}

	logs, total, err := s.fraudGate.ListLogs(c.Request.Context(), reviewed, query.Page, query.Limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	items := make([]gin.H, 0, len(logs))
	for i := range logs {
		items = append(items, fraudLogResponse(&logs[i]))
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"items": items,
		"total": total,
		"page":  query.Page,
		"limit": query.Limit,
	}})
}

// ReviewFraudLog marks a fraud log reviewed with the admin's action.
func (s *Server) ReviewFraudLog(c *gin.Context) {
	logID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		AdminID string `json:"admin_id"`
		Action  string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	adminID := strings.TrimSpace(req.AdminID)
	if adminID == "" {
		AbortWithError(c, newValidationError("admin_id", "required", "admin_id is required"))
		return
	}
	action := strings.TrimSpace(req.Action)
	if action == "" {
		AbortWithError(c, newValidationError("action", "required", "action is required"))
		return
	}

	log, err := s.fraudGate.Review(c.Request.Context(), logID, adminID, action)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": fraudLogResponse(log)})
}

func fraudLogResponse(log *frauddomain.FraudLog) gin.H {
	return gin.H{
		"id":                log.ID,
		"type":              log.Type,
		"affiliate_user_id": log.AffiliateUserID,
		"order_id":          log.OrderID,
		"details":           log.Details,
		"ip_address":        log.IPAddress,
		"detected_at":       log.DetectedAt,
		"reviewed":          log.Reviewed,
		"admin_action":      log.AdminAction,
	}
}
