package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"client-portal/internal/access"
	"client-portal/internal/auth"
	"client-portal/internal/resource"
	"client-portal/internal/store"
	"github.com/gin-gonic/gin"
)

const msgTryAgain = "Something went wrong, please try again"

// fail converts err to the portal's {error} body. subject names the entity
// in not-found messages. Unclassified errors are logged and hidden.
func fail(c *gin.Context, logger *slog.Logger, subject string, err error) {
	var verr *resource.ValidationError
	switch {
	case errors.Is(err, access.ErrUnauthenticated), errors.Is(err, auth.ErrInvalidToken):
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidToken.Error()})
	case errors.Is(err, access.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "You do not have permission to perform this action"})
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": capitalize(subject) + " not found"})
	default:
		logger.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgTryAgain})
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
