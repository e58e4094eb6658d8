package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/devhub/internal/service"
)

// AccessHandler serves the entitlement checks used by the members area.
type AccessHandler struct {
	Access *service.AccessService
}

func NewAccessHandler(access *service.AccessService) *AccessHandler {
	return &AccessHandler{Access: access}
}

// CheckAccess answers POST /api/auth/check-access.
func (h *AccessHandler) CheckAccess(c *gin.Context) {
	res, err := h.Access.ResolveAccess(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// UserData answers POST /api/auth/user-data.
func (h *AccessHandler) UserData(c *gin.Context) {
	data, err := h.Access.UserData(c.Request.Context(), c.GetHeader("Authorization"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, data)
}
