package handler

import (
	"crypto/subtle"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"github.com/smallbiznis/devhub/internal/config"
	"github.com/smallbiznis/devhub/internal/domain"
	"github.com/smallbiznis/devhub/internal/service"
)

const (
	maxWebhookBytes = 1 << 20
	hottokHeader    = "X-Hotmart-Hottok"
)

// WebhookHandler receives purchase notifications from the checkout provider.
type WebhookHandler struct {
	Webhooks *service.WebhookService
	hottok   string
}

func NewWebhookHandler(webhooks *service.WebhookService, cfg config.Config) *WebhookHandler {
	return &WebhookHandler{Webhooks: webhooks, hottok: cfg.HotmartHottok}
}

type userView struct {
	ID                 string                    `json:"id"`
	Email              string                    `json:"email"`
	HasPurchased       bool                      `json:"has_purchased_devhub"`
	SubscriptionStatus domain.SubscriptionStatus `json:"subscription_status"`
	UpdatedAt          time.Time                 `json:"updated_at"`
}

// Hotmart answers POST /api/webhooks/hotmart.
func (h *WebhookHandler) Hotmart(c *gin.Context) {
	if h.hottok != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(hottokHeader)), []byte(h.hottok)) != 1 {
		respondError(c, domain.ErrUnauthorized)
		return
	}

	res, err := h.reconcile(c, "hotmart")
	if errors.Is(err, errUnreadable) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "error_description": "Unreadable payload."})
		return
	}
	if err != nil {
		if errors.Is(err, domain.ErrMissingEmail) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             "missing_email",
				"error_description": "Email not found in webhook payload.",
				"received":          res.Event.Raw,
			})
			return
		}
		respondError(c, err)
		return
	}

	switch res.Outcome {
	case service.OutcomeDeferred:
		c.JSON(http.StatusOK, gin.H{
			"message":          "User not found in auth, will be processed on signup",
			"outcome":          res.Outcome,
			"email":            res.Email,
			"pending_recorded": res.PendingRecorded,
		})
	case service.OutcomeCreated:
		c.JSON(http.StatusOK, gin.H{"message": "User created and access granted", "outcome": res.Outcome, "user": viewOf(res.Record)})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Purchase status updated successfully", "outcome": res.Outcome, "user": viewOf(res.Record)})
	}
}

var errUnreadable = errors.New("unreadable payload")

// reconcile dispatches on the body encoding. Form deliveries use bracketed
// keys such as buyer[email].
func (h *WebhookHandler) reconcile(c *gin.Context, provider string) (service.ReconcileResult, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes)

	if c.ContentType() == binding.MIMEPOSTForm {
		if err := c.Request.ParseForm(); err != nil {
			return service.ReconcileResult{}, errUnreadable
		}
		return h.Webhooks.ReconcileForm(c.Request.Context(), provider, c.Request.PostForm)
	}

	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return service.ReconcileResult{}, errUnreadable
	}
	return h.Webhooks.Reconcile(c.Request.Context(), provider, raw)
}

func viewOf(rec *domain.UserRecord) *userView {
	if rec == nil {
		return nil
	}
	return &userView{
		ID:                 rec.ID,
		Email:              rec.Email,
		HasPurchased:       rec.HasPurchased,
		SubscriptionStatus: rec.SubscriptionStatus,
		UpdatedAt:          rec.UpdatedAt,
	}
}
