package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// Webhook resolution failure reasons returned to the calling system so
// it can tell a bad cedula apart from a bad course name and retry.
const (
	WebhookReasonStudentNotFound = "student_not_found"
	WebhookReasonCourseNotFound  = "course_not_found"
)

// StatusPagado is the only inbound status that triggers an approval.
const StatusPagado = "pagado"

type webhookStudentReader interface {
	FindByCedula(ctx context.Context, cedula string) (*models.Student, error)
	SetExternalMatricula(ctx context.Context, id, matricula string) error
}

type webhookEnrollmentReader interface {
	FindAppliedByCedulaAndCourse(ctx context.Context, cedula, courseName string) (*models.Enrollment, error)
}

// WebhookPayload is the body of the sister system's enrollment-status
// notification. Field names are its wire contract, not ours to rename.
type WebhookPayload struct {
	Cedula      string `json:"cedula" validate:"required"`
	CursoNombre string `json:"curso_nombre" validate:"required"`
	Status      string `json:"status" validate:"required"`
	// Matricula carries the sister system's own number when it has one.
	// Stored as the student's external matricula, which takes precedence
	// over anything minted here.
	Matricula string `json:"matricula"`
}

// WebhookOutcome is what the receiver reports back to the caller.
type WebhookOutcome struct {
	Applied   bool   `json:"applied"`
	Matricula string `json:"matricula,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// WebhookService authenticates and applies inbound enrollment-status
// events from the sister system.
type WebhookService struct {
	students    webhookStudentReader
	enrollments webhookEnrollmentReader
	approver    enrollmentApprover
	audit       auditRecorder
	metrics     *MetricsService
	secret      []byte
	autoEnroll  bool
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewWebhookService constructs WebhookService.
func NewWebhookService(students webhookStudentReader, enrollments webhookEnrollmentReader, approver enrollmentApprover, audit auditRecorder, metrics *MetricsService, webhookCfg config.WebhookConfig, enrollmentCfg config.EnrollmentConfig, validate *validator.Validate, logger *zap.Logger) *WebhookService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookService{
		students:    students,
		enrollments: enrollments,
		approver:    approver,
		audit:       audit,
		metrics:     metrics,
		secret:      []byte(webhookCfg.SharedSecret),
		autoEnroll:  !enrollmentCfg.DisableAutoEnroll,
		validator:   validate,
		logger:      logger,
	}
}

// VerifySignature checks the shared-secret header in constant time. An
// unconfigured secret rejects everything rather than accepting everything.
func (s *WebhookService) VerifySignature(signature string) error {
	supplied := []byte(signature)
	if len(s.secret) == 0 || len(supplied) != len(s.secret) ||
		subtle.ConstantTimeCompare(supplied, s.secret) != 1 {
		s.metrics.ObserveWebhookEvent("rejected")
		return appErrors.Clone(appErrors.ErrForbidden, "invalid webhook signature")
	}
	return nil
}

// Process applies one authenticated enrollment-status event. A "pagado"
// status approves the matching APPLIED row unless auto enrollment is
// switched off, in which case the event is recorded and left for staff.
func (s *WebhookService) Process(ctx context.Context, payload WebhookPayload) (*WebhookOutcome, error) {
	if err := s.validator.Struct(payload); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid webhook payload")
	}

	student, err := s.students.FindByCedula(ctx, payload.Cedula)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.ObserveWebhookEvent("not_found")
			return &WebhookOutcome{Reason: WebhookReasonStudentNotFound},
				appErrors.Clone(appErrors.ErrNotFound, "no student with that cedula")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up student")
	}

	// Stored before any approval so the allocator sees it and reuses it
	// instead of minting a local number.
	if payload.Matricula != "" && payload.Matricula != student.ExternalMatricula {
		if err := s.students.SetExternalMatricula(ctx, student.ID, payload.Matricula); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store external matricula")
		}
	}

	enrollment, err := s.enrollments.FindAppliedByCedulaAndCourse(ctx, payload.Cedula, payload.CursoNombre)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.metrics.ObserveWebhookEvent("not_found")
			return &WebhookOutcome{Reason: WebhookReasonCourseNotFound},
				appErrors.Clone(appErrors.ErrNotFound, "no pending enrollment for that course")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to look up enrollment")
	}

	if payload.Status != StatusPagado {
		s.recordAudit(ctx, models.AuditActionWebhookReceived, enrollment.ID, payload)
		s.metrics.ObserveWebhookEvent("received")
		return &WebhookOutcome{Applied: false}, nil
	}

	if !s.autoEnroll {
		s.recordAudit(ctx, models.AuditActionWebhookSkipped, enrollment.ID, payload)
		s.metrics.ObserveWebhookEvent("skipped")
		s.logger.Info("webhook approval skipped, auto enrollment disabled",
			zap.String("enrollment_id", enrollment.ID),
		)
		return &WebhookOutcome{Applied: false, Reason: "auto_enroll_disabled"}, nil
	}

	snap, err := s.approver.Approve(ctx, ApproveRequest{
		EnrollmentID: enrollment.ID,
		Trigger:      TriggerWebhook,
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, models.AuditActionWebhookReceived, enrollment.ID, payload)
	s.metrics.ObserveWebhookEvent("applied")
	s.logger.Info("webhook approval applied",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("matricula", snap.Matricula),
	)
	return &WebhookOutcome{Applied: true, Matricula: snap.Matricula}, nil
}

func (s *WebhookService) recordAudit(ctx context.Context, action, enrollmentID string, payload WebhookPayload) {
	values, _ := json.Marshal(payload)
	if _, err := s.audit.Create(ctx, &models.AuditLog{
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &enrollmentID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record webhook audit entry", zap.Error(err))
	}
}
