package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/service"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
	"github.com/noah-isme/enrollment-api/pkg/response"
)

// CallCenterHandler exposes agent call logging and backlog distribution.
type CallCenterHandler struct {
	callcenter *service.CallCenterService
}

// NewCallCenterHandler constructs CallCenterHandler.
func NewCallCenterHandler(callcenter *service.CallCenterService) *CallCenterHandler {
	return &CallCenterHandler{callcenter: callcenter}
}

// MarkCalled godoc
// @Summary Log a call attempt against a pending enrollment
// @Tags CallCenter
// @Accept json
// @Produce json
// @Param payload body service.MarkCalledRequest true "Call outcome"
// @Success 201 {object} response.Envelope
// @Security BearerAuth
// @Router /calls [post]
func (h *CallCenterHandler) MarkCalled(c *gin.Context) {
	var req service.MarkCalledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req.AgentID = claims.UserID
	req.AgentName = claims.FullName

	record, err := h.callcenter.MarkCalled(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

type editCommentRequest struct {
	Comment string                 `json:"comment"`
	Status  models.CallStatusValue `json:"status"`
}

// EditComment godoc
// @Summary Edit the comment of an existing call record, optionally moving its follow-up status
// @Tags CallCenter
// @Accept json
// @Produce json
// @Param id path string true "Call record ID"
// @Param payload body editCommentRequest true "New comment and optional status"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /calls/{id}/comment [put]
func (h *CallCenterHandler) EditComment(c *gin.Context) {
	var req editCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.callcenter.EditComment(c.Request.Context(), c.Param("id"), req.Comment, req.Status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}

// History godoc
// @Summary List the call history of an enrollment
// @Tags CallCenter
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /enrollments/{id}/calls [get]
func (h *CallCenterHandler) History(c *gin.Context) {
	records, err := h.callcenter.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

type distributeRequest struct {
	AgentIDs []string `json:"agent_ids"`
}

// Distribute godoc
// @Summary Distribute the pending backlog across a candidate set of agents
// @Tags CallCenter
// @Accept json
// @Produce json
// @Param payload body distributeRequest false "Candidate agents, all active agents when omitted"
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /callcenter/distribute [post]
func (h *CallCenterHandler) Distribute(c *gin.Context) {
	// The body is optional; an empty one means every active agent.
	var req distributeRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
			return
		}
	}
	var actorID string
	if claims := claimsFromContext(c); claims != nil {
		actorID = claims.UserID
	}
	result, err := h.callcenter.DistributePending(c.Request.Context(), actorID, req.AgentIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Summary godoc
// @Summary Pending backlog counters per agent
// @Tags CallCenter
// @Produce json
// @Success 200 {object} response.Envelope
// @Security BearerAuth
// @Router /callcenter/pending [get]
func (h *CallCenterHandler) Summary(c *gin.Context) {
	summary, err := h.callcenter.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
