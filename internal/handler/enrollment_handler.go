package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// EnrollmentHandler exposes the staff enrollment list and approvals.
type EnrollmentHandler struct {
	enrollments *service.EnrollmentService
	approvals   *service.ApprovalService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments *service.EnrollmentService, approvals *service.ApprovalService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments, approvals: approvals}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param status query string false "Filter by enrollment status"
// @Param callStatus query string false "Filter by call outcome"
// @Param agentId query string false "Filter by assigned agent"
// @Param course query string false "Filter by course name"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	var filter models.EnrollmentFilter
	filter.StudentID = c.Query("studentId")
	filter.Status = models.EnrollmentStatus(strings.ToUpper(c.Query("status")))
	filter.CallStatus = models.CallStatusValue(strings.ToLower(c.Query("callStatus")))
	filter.AgentID = c.Query("agentId")
	filter.CourseName = c.Query("course")
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}
	filter.SortBy = c.Query("sort")
	filter.SortOrder = c.Query("order")

	rows, pagination, err := h.enrollments.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Get godoc
// @Summary Get one enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.enrollments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// Approve godoc
// @Summary Approve an enrollment into matriculated status
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/approve [post]
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	var actorID string
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	snap, err := h.approvals.Approve(c.Request.Context(), service.ApproveRequest{
		EnrollmentID: c.Param("id"),
		Trigger:      service.TriggerManual,
		ActorID:      actorID,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, snap, nil)
}

// BulkApprove godoc
// @Summary Approve a batch of enrollments
// @Description Items are processed independently; the response
// @Description partitions them into approved and failed.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body []service.BulkApproveItem true "Batch"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/bulk-approve [post]
func (h *EnrollmentHandler) BulkApprove(c *gin.Context) {
	var items []service.BulkApproveItem
	if err := c.ShouldBindJSON(&items); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	var actorID string
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	result, err := h.approvals.BulkApprove(c.Request.Context(), items, actorID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
