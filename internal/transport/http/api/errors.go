package apihttp

import (
	"errors"
	"net/http"

	"fandesk/internal/allocation"
	"fandesk/internal/broker"
	"fandesk/internal/execution"
	"fandesk/internal/rms"
	"fandesk/internal/store"

	"github.com/gin-gonic/gin"
)

// writeError maps domain errors onto HTTP statuses. Risk violations carry a
// machine code alongside the message so clients can branch without parsing
// text.
func writeError(c *gin.Context, err error) {
	var (
		allocErr  allocation.Error
		violation *rms.Violation
		authErr   *broker.AuthError
		orderErr  *broker.OrderError
		callErr   *broker.CallError
	)
	switch {
	case errors.As(err, &violation):
		c.JSON(http.StatusBadRequest, gin.H{"code": violation.Code, "error": violation.Message})
	case errors.As(err, &allocErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": allocErr.Error()})
	case errors.As(err, &authErr):
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
	case errors.As(err, &orderErr):
		c.JSON(http.StatusBadRequest, gin.H{"error": orderErr.Error()})
	case errors.As(err, &callErr):
		c.JSON(http.StatusBadGateway, gin.H{"error": callErr.Error()})
	case errors.Is(err, execution.ErrNoOrders):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
