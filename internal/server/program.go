package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ProgramBudget returns the budget snapshot for a program.
func (s *Server) ProgramBudget(c *gin.Context) {
	programID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	status, err := s.budget.GetBudgetStatus(c.Request.Context(), programID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": status})
}
