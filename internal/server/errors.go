package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	allocationdomain "github.com/ngtluan2k/NextMarket-sub001/internal/allocation/domain"
	attributiondomain "github.com/ngtluan2k/NextMarket-sub001/internal/attribution/domain"
	frauddomain "github.com/ngtluan2k/NextMarket-sub001/internal/fraud/domain"
	programdomain "github.com/ngtluan2k/NextMarket-sub001/internal/program/domain"
	referraldomain "github.com/ngtluan2k/NextMarket-sub001/internal/referral/domain"
	reversaldomain "github.com/ngtluan2k/NextMarket-sub001/internal/reversal/domain"
)

// apiError carries an HTTP status plus a machine-readable code for the
// response body.
type apiError struct {
	status  int
	code    string
	message string
	field   string
}

func (e *apiError) Error() string { return e.message }

var (
	ErrNotFound = &apiError{status: http.StatusNotFound, code: "not_found", message: "resource not found"}
)

func invalidRequestError() *apiError {
	return &apiError{status: http.StatusBadRequest, code: "invalid_request", message: "invalid request body"}
}

func newValidationError(field, code, message string) *apiError {
	return &apiError{status: http.StatusBadRequest, code: code, message: message, field: field}
}

// statusMapping translates domain sentinel errors to HTTP statuses.
// Everything unlisted is a 500 with a generic body.
var statusMapping = []struct {
	err    error
	status int
}{
	{referraldomain.ErrSelfReferral, http.StatusBadRequest},
	{referraldomain.ErrDuplicateReferrer, http.StatusConflict},
	{referraldomain.ErrCircularReferral, http.StatusConflict},
	{referraldomain.ErrUserNotFound, http.StatusNotFound},
	{allocationdomain.ErrOrderNotFound, http.StatusNotFound},
	{reversaldomain.ErrOrderNotFound, http.StatusNotFound},
	{reversaldomain.ErrOrderItemNotFound, http.StatusNotFound},
	{reversaldomain.ErrInvalidRefund, http.StatusBadRequest},
	{programdomain.ErrProgramNotFound, http.StatusNotFound},
	{programdomain.ErrProgramInactive, http.StatusConflict},
	{programdomain.ErrBudgetExceeded, http.StatusConflict},
	{programdomain.ErrInvalidAmount, http.StatusBadRequest},
	{attributiondomain.ErrLinkNotFound, http.StatusNotFound},
	{frauddomain.ErrFraudLogNotFound, http.StatusNotFound},
}

// AbortWithError writes the error response for err and stops the
// handler chain. Unknown errors are attached to the gin context so the
// request logger records the detail while the client gets a generic
// body.
func AbortWithError(c *gin.Context, err error) {
	var api *apiError
	if errors.As(err, &api) {
		body := gin.H{"code": api.code, "message": api.message}
		if api.field != "" {
			body["field"] = api.field
		}
		c.AbortWithStatusJSON(api.status, gin.H{"error": body})
		return
	}

	for _, m := range statusMapping {
		if errors.Is(err, m.err) {
			c.AbortWithStatusJSON(m.status, gin.H{"error": gin.H{
				"code":    m.err.Error(),
				"message": m.err.Error(),
			}})
			return
		}
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": gin.H{
		"code":    "internal_error",
		"message": "internal server error",
	}})
}
