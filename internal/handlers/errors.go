package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"wa_business/internal/services"

	"github.com/gin-gonic/gin"
)

// respondError maps service errors onto HTTP status codes. Upstream failures carry the
// provider message in details.
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	message := err.Error()

	switch {
	case errors.Is(err, services.ErrValidation), errors.Is(err, services.ErrVoucherInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthenticated), errors.Is(err, services.ErrInvalidCredentials):
		status = http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrSystemPermission),
		errors.Is(err, services.ErrNoActiveSubscription),
		errors.Is(err, services.ErrMessageLimit),
		errors.Is(err, services.ErrDeviceLimit):
		status = http.StatusForbidden
	case errors.Is(err, services.ErrNotFound), errors.Is(err, services.ErrCannotCancel):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConflict),
		errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrVoucherUsed):
		status = http.StatusConflict
	case errors.Is(err, services.ErrGatewayUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "WhatsApp gateway unavailable", "details": err.Error()})
		return
	case errors.Is(err, services.ErrPaymentUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Payment provider unavailable", "details": err.Error()})
		return
	default:
		_ = c.Error(err)
		message = "Internal server error"
	}

	c.JSON(status, gin.H{"error": message})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": message})
}

func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid "+name)
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, def int) int {
	if v, err := strconv.Atoi(c.Query(name)); err == nil {
		return v
	}
	return def
}
