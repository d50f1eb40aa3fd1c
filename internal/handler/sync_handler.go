package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// SyncHandler exposes the sister-system connectivity tools to operators.
type SyncHandler struct {
	sync *service.SyncService
}

// NewSyncHandler constructs SyncHandler.
func NewSyncHandler(sync *service.SyncService) *SyncHandler {
	return &SyncHandler{sync: sync}
}

// Test godoc
// @Summary Test connectivity to the sister system
// @Description Failures surface the upstream status and message verbatim
// @Description so operators can diagnose cross-system misconfiguration.
// @Tags Sync
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /sync/test [get]
func (h *SyncHandler) Test(c *gin.Context) {
	status, err := h.sync.TestConnection(c.Request.Context())
	if err != nil {
		appErr := appErrors.FromError(err)
		c.JSON(appErr.Status, gin.H{
			"success": false,
			"code":    appErr.Code,
			"error":   appErr.Error(),
		})
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Courses godoc
// @Summary List the sister system's course catalogue
// @Tags Sync
// @Produce json
// @Param refresh query bool false "Bypass the cache"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /sync/courses [get]
func (h *SyncHandler) Courses(c *gin.Context) {
	var (
		courses interface{}
		err     error
	)
	if c.Query("refresh") == "true" {
		courses, err = h.sync.RefreshCourses(c.Request.Context())
	} else {
		courses, err = h.sync.Courses(c.Request.Context())
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, courses, nil)
}

// EnrollmentStatus godoc
// @Summary Look up a cedula in the sister system
// @Tags Sync
// @Produce json
// @Param cedula path string true "Cedula"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /sync/enrollments/{cedula} [get]
func (h *SyncHandler) EnrollmentStatus(c *gin.Context) {
	enrollments, err := h.sync.EnrollmentStatus(c.Request.Context(), c.Param("cedula"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollments, nil)
}
