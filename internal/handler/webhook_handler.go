package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// WebhookHandler receives enrollment-status events from the sister
// system. Responses use a flat JSON shape fixed by that system's
// integration, not the staff API envelope.
type WebhookHandler struct {
	webhooks *service.WebhookService
}

// NewWebhookHandler constructs WebhookHandler.
func NewWebhookHandler(webhooks *service.WebhookService) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks}
}

// EnrollmentStatus godoc
// @Summary Receive enrollment-status webhook
// @Description Authenticated by the X-Signature shared secret header.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param X-Signature header string true "Shared secret"
// @Param payload body service.WebhookPayload true "Event payload"
// @Success 200 {object} map[string]interface{}
// @Failure 403 {object} map[string]interface{}
// @Failure 404 {object} map[string]interface{}
// @Router /webhooks/enrollment-status [post]
func (h *WebhookHandler) EnrollmentStatus(c *gin.Context) {
	if err := h.webhooks.VerifySignature(c.GetHeader("X-Signature")); err != nil {
		// Deliberately generic. The caller learns nothing about why.
		c.JSON(http.StatusForbidden, gin.H{"success": false, "error": "forbidden"})
		return
	}

	var payload service.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid payload"})
		return
	}

	outcome, err := h.webhooks.Process(c.Request.Context(), payload)
	if err != nil {
		appErr := appErrors.FromError(err)
		body := gin.H{"success": false, "error": appErr.Message}
		if outcome != nil && outcome.Reason != "" {
			body["reason"] = outcome.Reason
		}
		c.JSON(appErr.Status, body)
		return
	}

	body := gin.H{"success": true, "applied": outcome.Applied}
	if outcome.Matricula != "" {
		body["matricula"] = outcome.Matricula
	}
	if outcome.Reason != "" {
		body["reason"] = outcome.Reason
	}
	c.JSON(http.StatusOK, body)
}
