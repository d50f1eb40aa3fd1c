package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type callRepository interface {
	CreateRecord(ctx context.Context, record *models.CallRecord) error
	FindRecordByID(ctx context.Context, id string) (*models.CallRecord, error)
	ListRecordsByEnrollment(ctx context.Context, enrollmentID string) ([]models.CallRecord, error)
	UpdateRecordComment(ctx context.Context, id, comment string) error
	UpsertStatus(ctx context.Context, enrollmentID string, status models.CallStatusValue) error
	UpsertAssignment(ctx context.Context, enrollmentID, agentID string) error
	AssignIfUnset(ctx context.Context, enrollmentID, agentID string) error
	AdvanceCursor(ctx context.Context, n int) (int64, error)
	ListPendingLeads(ctx context.Context) ([]models.PendingLead, error)
}

type callEnrollmentReader interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
}

type agentLister interface {
	ListActiveByRole(ctx context.Context, role models.UserRole) ([]models.User, error)
}

type summaryCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MarkCalledRequest logs one call attempt and its outcome.
type MarkCalledRequest struct {
	EnrollmentID string                 `json:"enrollment_id" validate:"required"`
	Status       models.CallStatusValue `json:"status" validate:"required"`
	Comment      string                 `json:"comment"`
	AgentID      string                 `json:"-"`
	AgentName    string                 `json:"-"`
}

// DistributionResult summarises one backlog distribution run.
type DistributionResult struct {
	TotalPending int            `json:"total_pending"`
	Retained     int            `json:"retained"`
	Rotated      int            `json:"rotated"`
	PerAgent     map[string]int `json:"per_agent"`
}

// PendingSummary is the backlog counter view served to the back office
// dashboard.
type PendingSummary struct {
	Total      int            `json:"total"`
	Assigned   int            `json:"assigned"`
	Unassigned int            `json:"unassigned"`
	PerAgent   map[string]int `json:"per_agent"`
}

// pendingSummaryTTL caps how stale the cached backlog counters can get.
const pendingSummaryTTL = 30 * time.Second

// CallCenterService handles agent call logging and the distribution of
// the pending backlog across active agents.
type CallCenterService struct {
	calls       callRepository
	enrollments callEnrollmentReader
	users       agentLister
	cache       summaryCache
	audit       auditRecorder
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCallCenterService constructs CallCenterService. cache may be nil,
// in which case the pending summary is computed on every request.
func NewCallCenterService(calls callRepository, enrollments callEnrollmentReader, users agentLister, cache summaryCache, audit auditRecorder, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CallCenterService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CallCenterService{
		calls:       calls,
		enrollments: enrollments,
		users:       users,
		cache:       cache,
		audit:       audit,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// MarkCalled appends a call record, updates the follow-up outcome and
// claims the lead for the calling agent when nobody owns it yet.
func (s *CallCenterService) MarkCalled(ctx context.Context, req MarkCalledRequest) (*models.CallRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid call payload")
	}
	if !models.ValidCallStatus(req.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown call status")
	}

	enrollment, err := s.enrollments.FindByID(ctx, req.EnrollmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	if enrollment.Status != models.EnrollmentStatusApplied {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not pending follow-up")
	}

	// The audit entry is written first so the record can reference it.
	values, _ := json.Marshal(map[string]interface{}{
		"status":  req.Status,
		"comment": req.Comment,
	})
	auditID, err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     &req.AgentID,
		Action:     models.AuditActionCallLogged,
		Resource:   "enrollment",
		ResourceID: &req.EnrollmentID,
		NewValues:  values,
	})
	if err != nil {
		s.logger.Warn("failed to record call audit entry", zap.Error(err))
	}

	record := &models.CallRecord{
		EnrollmentID: req.EnrollmentID,
		AgentID:      req.AgentID,
		AgentName:    req.AgentName,
		Comment:      req.Comment,
		CallLogRef:   auditID,
	}
	if err := s.calls.CreateRecord(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist call record")
	}
	if err := s.calls.UpsertStatus(ctx, req.EnrollmentID, req.Status); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update call status")
	}
	// Calling an unassigned lead claims it. An existing assignment is left
	// alone; the call record itself is what makes ownership sticky on the
	// next distribution run.
	if err := s.calls.AssignIfUnset(ctx, req.EnrollmentID, req.AgentID); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim lead")
	}
	s.invalidateSummary(ctx)

	s.metrics.ObserveCallLogged()
	s.logger.Info("call logged",
		zap.String("enrollment_id", req.EnrollmentID),
		zap.String("agent_id", req.AgentID),
		zap.String("status", string(req.Status)),
	)
	return record, nil
}

// EditComment rewrites the free-text comment of an existing call record
// and, when status is non-empty, moves the enrollment's follow-up outcome
// without logging a fresh call. Editing a record that does not exist is
// an error, never an insert.
func (s *CallCenterService) EditComment(ctx context.Context, recordID, comment string, status models.CallStatusValue) (*models.CallRecord, error) {
	if status != "" && !models.ValidCallStatus(status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown call status")
	}
	record, err := s.calls.FindRecordByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "call record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load call record")
	}
	if err := s.calls.UpdateRecordComment(ctx, recordID, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update call record")
	}
	if status != "" {
		if err := s.calls.UpsertStatus(ctx, record.EnrollmentID, status); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update call status")
		}
	}
	record.Comment = comment
	return record, nil
}

// History returns the call records of one enrollment, newest first.
func (s *CallCenterService) History(ctx context.Context, enrollmentID string) ([]models.CallRecord, error) {
	records, err := s.calls.ListRecordsByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list call records")
	}
	return records, nil
}

// DistributePending reassigns the APPLIED backlog across a candidate set
// of agents, by default every active one. A lead whose last caller is
// among the candidates stays with that agent. Every other lead, including
// ones already assigned but never called, is rotated round-robin starting
// from a shared cursor so consecutive runs continue the rotation instead
// of restarting it.
func (s *CallCenterService) DistributePending(ctx context.Context, actorID string, agentIDs []string) (*DistributionResult, error) {
	agents, err := s.users.ListActiveByRole(ctx, models.RoleAgent)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list agents")
	}
	active := make(map[string]bool, len(agents))
	for _, agent := range agents {
		active[agent.ID] = true
	}

	candidates := make(map[string]bool, len(agents))
	order := make([]string, 0, len(agents))
	if len(agentIDs) > 0 {
		for _, id := range agentIDs {
			if !active[id] {
				return nil, appErrors.Clone(appErrors.ErrValidation, "candidate "+id+" is not an active agent")
			}
			if candidates[id] {
				continue
			}
			candidates[id] = true
			order = append(order, id)
		}
	} else {
		for _, agent := range agents {
			candidates[agent.ID] = true
			order = append(order, agent.ID)
		}
	}
	if len(order) == 0 {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "no active agents to distribute to")
	}

	leads, err := s.calls.ListPendingLeads(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending enrollments")
	}

	result := &DistributionResult{
		TotalPending: len(leads),
		PerAgent:     make(map[string]int, len(agents)),
	}

	var rotate []models.PendingLead
	for _, lead := range leads {
		if lead.LastCallAgentID != nil && candidates[*lead.LastCallAgentID] {
			if err := s.calls.UpsertAssignment(ctx, lead.EnrollmentID, *lead.LastCallAgentID); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to retain lead")
			}
			result.Retained++
			result.PerAgent[*lead.LastCallAgentID]++
			continue
		}
		rotate = append(rotate, lead)
	}

	if len(rotate) > 0 {
		newPos, err := s.calls.AdvanceCursor(ctx, len(rotate))
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance rotation cursor")
		}
		start := newPos - int64(len(rotate))
		for i, lead := range rotate {
			agentID := order[int((start+int64(i))%int64(len(order)))]
			if err := s.calls.UpsertAssignment(ctx, lead.EnrollmentID, agentID); err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign lead")
			}
			result.Rotated++
			result.PerAgent[agentID]++
		}
	}

	s.invalidateSummary(ctx)

	values, _ := json.Marshal(result)
	var userID *string
	if actorID != "" {
		userID = &actorID
	}
	if _, err := s.audit.Create(ctx, &models.AuditLog{
		UserID:    userID,
		Action:    models.AuditActionDistributionRun,
		Resource:  "callcenter",
		NewValues: values,
	}); err != nil {
		s.logger.Warn("failed to record distribution audit entry", zap.Error(err))
	}

	s.metrics.ObserveDistribution(result.Rotated)
	s.logger.Info("pending backlog distributed",
		zap.Int("total", result.TotalPending),
		zap.Int("retained", result.Retained),
		zap.Int("rotated", result.Rotated),
		zap.Int("agents", len(order)),
	)
	return result, nil
}

// Summary returns the backlog counters, served from Redis while fresh.
// Call logging and distribution drop the cached entry, so the counters
// lag a direct write by at most one TTL.
func (s *CallCenterService) Summary(ctx context.Context) (*PendingSummary, error) {
	if s.cache != nil {
		var cached PendingSummary
		if err := s.cache.Get(ctx, repository.CacheKeyPendingSummary, &cached); err == nil {
			return &cached, nil
		}
	}

	leads, err := s.calls.ListPendingLeads(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list pending enrollments")
	}
	summary := &PendingSummary{
		Total:    len(leads),
		PerAgent: make(map[string]int),
	}
	for _, lead := range leads {
		if lead.AssignedAgentID == nil {
			summary.Unassigned++
			continue
		}
		summary.Assigned++
		summary.PerAgent[*lead.AssignedAgentID]++
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, repository.CacheKeyPendingSummary, summary, pendingSummaryTTL); err != nil {
			s.logger.Warn("failed to cache pending summary", zap.Error(err))
		}
	}
	return summary, nil
}

func (s *CallCenterService) invalidateSummary(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, repository.CacheKeyPendingSummary); err != nil {
		s.logger.Warn("failed to drop pending summary cache", zap.Error(err))
	}
}
