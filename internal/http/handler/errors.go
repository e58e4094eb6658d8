package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/devhub/internal/domain"
)

// respondError maps service sentinels onto status codes. Descriptions are fixed
// per class so callers learn nothing about which check failed.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "error_description": "Invalid or expired token."})
	case errors.Is(err, domain.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized", "error_description": "Invalid secret."})
	case errors.Is(err, domain.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "emails must be a non-empty array of strings."})
	case errors.Is(err, domain.ErrIdentityUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Error fetching users."})
	case errors.Is(err, domain.ErrStoreUnavailable):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Error fetching user data."})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "server_error", "error_description": "Internal server error."})
	}
}
