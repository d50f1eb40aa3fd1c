package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// PaymentHandler covers the gateway round trip: staff build the redirect
// form, the gateway posts the callback, the browser gets bounced to a
// success or failure page.
type PaymentHandler struct {
	payments *service.PaymentService
}

// NewPaymentHandler constructs PaymentHandler.
func NewPaymentHandler(payments *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: payments}
}

// BuildRedirect godoc
// @Summary Build the signed payment page form
// @Tags Payments
// @Accept json
// @Produce json
// @Param payload body service.BuildRedirectRequest true "Payment to present"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/azul/redirect [post]
func (h *PaymentHandler) BuildRedirect(c *gin.Context) {
	var req service.BuildRedirectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	form, err := h.payments.BuildRedirect(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, form, nil)
}

// Callback godoc
// @Summary Gateway payment callback
// @Description Form POST from the card gateway. On success the browser
// @Description is redirected to the configured landing page.
// @Tags Payments
// @Accept x-www-form-urlencoded
// @Success 302
// @Failure 403 {object} map[string]interface{}
// @Router /payments/azul/callback [post]
func (h *PaymentHandler) Callback(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid form payload"})
		return
	}

	result, err := h.payments.HandleCallback(c.Request.Context(), c.Request.PostForm)
	if err != nil {
		appErr := appErrors.FromError(err)
		c.JSON(appErr.Status, gin.H{"success": false, "error": appErr.Message})
		return
	}

	target := h.payments.SuccessURL()
	if !result.Approved {
		target = h.payments.FailureURL()
	}
	if target == "" {
		c.JSON(http.StatusOK, gin.H{"success": true, "approved": result.Approved})
		return
	}
	c.Redirect(http.StatusFound, target)
}

// GetByTransaction godoc
// @Summary Look up a recorded payment by gateway transaction id
// @Tags Payments
// @Produce json
// @Param transaction_id path string true "Gateway transaction ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Security BearerAuth
// @Router /payments/{transaction_id} [get]
func (h *PaymentHandler) GetByTransaction(c *gin.Context) {
	payment, err := h.payments.FindByTransactionID(c.Request.Context(), c.Param("transaction_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payment, nil)
}

// ListByStudent godoc
// @Summary List a student's recorded payments
// @Tags Payments
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /students/{id}/payments [get]
func (h *PaymentHandler) ListByStudent(c *gin.Context) {
	payments, err := h.payments.ListByStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, payments, nil)
}
