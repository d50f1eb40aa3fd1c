package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/notify"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

// ApprovalTrigger identifies what drove an approval.
type ApprovalTrigger string

const (
	TriggerManual  ApprovalTrigger = "manual"
	TriggerPayment ApprovalTrigger = "payment"
	TriggerWebhook ApprovalTrigger = "webhook"
)

type approvalEnrollmentRepository interface {
	FindByID(ctx context.Context, id string) (*models.Enrollment, error)
	FindByStudentAndPosition(ctx context.Context, studentID string, position int) (*models.Enrollment, error)
	SetMatriculated(ctx context.Context, id, matricula string) error
}

type approvalStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type matriculaAllocator interface {
	AllocateOrReuse(ctx context.Context, studentID string) (string, bool, error)
}

type auditRecorder interface {
	Create(ctx context.Context, entry *models.AuditLog) (string, error)
}

type intentEnqueuer interface {
	Enqueue(intent notify.Intent) error
}

// PaymentMeta carries payment details into a payment-triggered approval's
// audit entry.
type PaymentMeta struct {
	TransactionID string `json:"transaction_id"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

// ApproveRequest addresses an enrollment row either by its stable id or
// by the legacy (student, row index) pair used in gateway tokens.
type ApproveRequest struct {
	EnrollmentID string
	StudentID    string
	Position     *int

	Trigger ApprovalTrigger
	ActorID string
	Payment *PaymentMeta
}

// BulkApproveItem is one entry of a bulk approval batch.
type BulkApproveItem struct {
	EnrollmentID string `json:"enrollment_id" validate:"required"`
}

// BulkApproveFailure reports one failed batch entry.
type BulkApproveFailure struct {
	EnrollmentID string `json:"enrollment_id"`
	Reason       string `json:"reason"`
}

// BulkApproveResult partitions a batch into approved and failed items.
type BulkApproveResult struct {
	Approved []models.EnrollmentSnapshot `json:"approved"`
	Failed   []BulkApproveFailure        `json:"failed"`
}

// ApprovalService moves enrollment rows from APPLIED to MATRICULATED.
type ApprovalService struct {
	enrollments approvalEnrollmentRepository
	students    approvalStudentReader
	allocator   matriculaAllocator
	audit       auditRecorder
	notifier    intentEnqueuer
	metrics     *MetricsService
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewApprovalService constructs ApprovalService.
func NewApprovalService(enrollments approvalEnrollmentRepository, students approvalStudentReader, allocator matriculaAllocator, audit auditRecorder, notifier intentEnqueuer, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *ApprovalService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ApprovalService{
		enrollments: enrollments,
		students:    students,
		allocator:   allocator,
		audit:       audit,
		notifier:    notifier,
		metrics:     metrics,
		validator:   validate,
		logger:      logger,
	}
}

// Approve transitions one row to MATRICULATED. Re-approving an already
// matriculated row is a no-op that returns the existing snapshot, which
// is what makes concurrent same-row approvals and duplicate gateway
// deliveries safe.
func (s *ApprovalService) Approve(ctx context.Context, req ApproveRequest) (*models.EnrollmentSnapshot, error) {
	enrollment, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	student, err := s.students.FindByID(ctx, enrollment.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	if enrollment.Status == models.EnrollmentStatusMatriculated {
		return snapshot(enrollment, student), nil
	}
	if enrollment.Status != models.EnrollmentStatusApplied {
		return nil, appErrors.Clone(appErrors.ErrPreconditionFailed, "enrollment is not pending approval")
	}

	matricula, firstTime, err := s.allocator.AllocateOrReuse(ctx, enrollment.StudentID)
	if err != nil {
		return nil, err
	}

	if err := s.enrollments.SetMatriculated(ctx, enrollment.ID, matricula); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist approval")
	}
	enrollment.Status = models.EnrollmentStatusMatriculated
	enrollment.Matricula = matricula

	snap := snapshot(enrollment, student)
	s.recordAudit(ctx, req, snap)
	// Webhook-driven approvals originate in the sister system, which
	// notifies the student itself; sending again would double-mail.
	if req.Trigger != TriggerWebhook {
		s.enqueueIntent(snap, firstTime)
	}
	s.metrics.ObserveApproval(string(req.Trigger))

	s.logger.Info("enrollment approved",
		zap.String("enrollment_id", enrollment.ID),
		zap.String("student_id", enrollment.StudentID),
		zap.String("matricula", matricula),
		zap.String("trigger", string(req.Trigger)),
	)
	return snap, nil
}

// BulkApprove applies Approve independently per item. A failure of one
// item never aborts the rest; there is deliberately no transaction
// spanning the batch.
func (s *ApprovalService) BulkApprove(ctx context.Context, items []BulkApproveItem, actorID string) (*BulkApproveResult, error) {
	if len(items) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "empty approval batch")
	}
	result := &BulkApproveResult{}
	for _, item := range items {
		if err := s.validator.Struct(item); err != nil {
			result.Failed = append(result.Failed, BulkApproveFailure{EnrollmentID: item.EnrollmentID, Reason: "enrollment_id required"})
			continue
		}
		snap, err := s.Approve(ctx, ApproveRequest{
			EnrollmentID: item.EnrollmentID,
			Trigger:      TriggerManual,
			ActorID:      actorID,
		})
		if err != nil {
			result.Failed = append(result.Failed, BulkApproveFailure{
				EnrollmentID: item.EnrollmentID,
				Reason:       appErrors.FromError(err).Message,
			})
			continue
		}
		result.Approved = append(result.Approved, *snap)
	}
	return result, nil
}

func (s *ApprovalService) resolve(ctx context.Context, req ApproveRequest) (*models.Enrollment, error) {
	var (
		enrollment *models.Enrollment
		err        error
	)
	switch {
	case req.EnrollmentID != "":
		enrollment, err = s.enrollments.FindByID(ctx, req.EnrollmentID)
	case req.StudentID != "" && req.Position != nil:
		enrollment, err = s.enrollments.FindByStudentAndPosition(ctx, req.StudentID, *req.Position)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "enrollment address required")
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "enrollment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment")
	}
	return enrollment, nil
}

func (s *ApprovalService) recordAudit(ctx context.Context, req ApproveRequest, snap *models.EnrollmentSnapshot) {
	action := models.AuditActionApprovalManual
	switch req.Trigger {
	case TriggerPayment:
		action = models.AuditActionApprovalPayment
	case TriggerWebhook:
		action = models.AuditActionApprovalWebhook
	}

	payload := map[string]interface{}{
		"matricula":  snap.Matricula,
		"course":     snap.CourseName,
		"student_id": snap.StudentID,
	}
	if req.Payment != nil {
		payload["transaction_id"] = req.Payment.TransactionID
		payload["amount_cents"] = req.Payment.AmountCents
		payload["currency"] = req.Payment.Currency
	}
	values, _ := json.Marshal(payload)

	var userID *string
	if req.ActorID != "" {
		userID = &req.ActorID
	}
	if _, err := s.audit.Create(ctx, &models.AuditLog{
		UserID:     userID,
		Action:     action,
		Resource:   "enrollment",
		ResourceID: &snap.EnrollmentID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record approval audit entry", zap.Error(err))
	}
}

func (s *ApprovalService) enqueueIntent(snap *models.EnrollmentSnapshot, firstTime bool) {
	if s.notifier == nil {
		return
	}
	kind := notify.IntentAddOn
	if firstTime {
		kind = notify.IntentWelcome
	}
	if err := s.notifier.Enqueue(notify.Intent{Kind: kind, Snapshot: *snap}); err != nil {
		s.logger.Warn("failed to enqueue notification intent", zap.Error(err))
	}
}

func snapshot(enrollment *models.Enrollment, student *models.Student) *models.EnrollmentSnapshot {
	return &models.EnrollmentSnapshot{
		EnrollmentID: enrollment.ID,
		StudentID:    student.ID,
		Matricula:    enrollment.Matricula,
		FullName:     student.FullName,
		Cedula:       student.Cedula,
		Email:        student.Email,
		Phone:        student.Phone,
		CourseName:   enrollment.CourseName,
	}
}
