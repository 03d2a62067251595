package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// RecordLinkClick registers a click on a referral link identified by
// its public code.
func (s *Server) RecordLinkClick(c *gin.Context) {
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, newValidationError("code", "required", "code is required"))
		return
	}

	var req struct {
		VisitorKey string `json:"visitor_key"`
		IPAddress  string `json:"ip_address"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	ip := strings.TrimSpace(req.IPAddress)
	if ip == "" {
		ip = c.ClientIP()
	}

	link, err := s.attributionSvc.RecordClick(c.Request.Context(), code, strings.TrimSpace(req.VisitorKey), ip)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"link_id":          link.ID,
		"code":             link.Code,
		"click_count":      link.ClickCount,
		"conversion_count": link.ConversionCount,
	}})
}
