package server

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

const defaultReversalReason = "MANUAL"

// OrderPaid runs commission allocation for a paid order.
func (s *Server) OrderPaid(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.allocator.HandleOrderPaid(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"outcome": result.Outcome,
		"created": result.Created,
		"paid":    result.Paid,
	}})
}

// ReverseOrder claws back every paid commission for an order.
func (s *Server) ReverseOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, invalidRequestError())
		return
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = defaultReversalReason
	}

	result, err := s.reversals.ReverseCommissionForOrder(c.Request.Context(), orderID, reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"affected":       result.Affected,
		"total_reversed": result.TotalReversed,
	}})
}

// VoidOrder cancels pending commissions for an order before payout.
func (s *Server) VoidOrder(c *gin.Context) {
	orderID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	result, err := s.reversals.VoidCommissionForOrder(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"affected":       result.Affected,
		"total_reversed": result.TotalReversed,
	}})
}

// PartialReversal claws back the refunded share of commissions on a
// single order item.
func (s *Server) PartialReversal(c *gin.Context) {
	itemID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		RefundAmount string `json:"refund_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	refund, err := decimal.NewFromString(strings.TrimSpace(req.RefundAmount))
	if err != nil {
		AbortWithError(c, newValidationError("refund_amount", "invalid_refund_amount", "invalid refund_amount"))
		return
	}

	result, err := s.reversals.PartialReversalForOrderItem(c.Request.Context(), itemID, refund)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"affected":       result.Affected,
		"total_reversed": result.TotalReversed,
	}})
}
