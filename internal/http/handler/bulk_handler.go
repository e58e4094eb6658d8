package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/smallbiznis/devhub/internal/service"
)

// BulkHandler exposes the operator backfill endpoint.
type BulkHandler struct {
	Bulk *service.BulkService
}

func NewBulkHandler(bulk *service.BulkService) *BulkHandler {
	return &BulkHandler{Bulk: bulk}
}

// BulkUpdate answers POST /api/bulk-update. The secret is checked before the
// email list so a caller without it learns nothing about input validation.
func (h *BulkHandler) BulkUpdate(c *gin.Context) {
	var req struct {
		Secret string          `json:"secret"`
		Emails json.RawMessage `json:"emails"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Invalid payload."})
		return
	}

	var emails []string
	if len(req.Emails) > 0 {
		// Non-arrays and arrays holding non-strings leave emails nil, which the
		// service rejects as invalid input once the secret has been checked.
		if err := json.Unmarshal(req.Emails, &emails); err != nil {
			emails = nil
		}
	}

	res, err := h.Bulk.BulkReconcile(c.Request.Context(), req.Secret, emails)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Bulk update completed",
		"batchId": res.BatchID,
		"summary": res.Summary,
		"results": res.Results,
	})
}
