package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-api/internal/gateway"
	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type paymentRepository interface {
	Create(ctx context.Context, payment *models.PaymentRecord) (bool, error)
	FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.PaymentRecord, error)
}

type paymentStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type enrollmentApprover interface {
	Approve(ctx context.Context, req ApproveRequest) (*models.EnrollmentSnapshot, error)
}

// BuildRedirectRequest describes the payment to send a browser to.
type BuildRedirectRequest struct {
	StudentID   string `json:"student_id" validate:"required"`
	Position    *int   `json:"position"`
	ConceptID   string `json:"concept_id"`
	OrderNumber string `json:"order_number" validate:"required"`
	AmountCents int64  `json:"amount_cents" validate:"gt=0"`
	ItbisCents  int64  `json:"itbis_cents" validate:"gte=0"`
}

// CallbackResult is the outcome of a verified gateway callback, used by
// the handler to pick the browser redirect target.
type CallbackResult struct {
	Approved      bool
	Duplicate     bool
	TransactionID string
	Snapshot      *models.EnrollmentSnapshot
}

// PaymentService verifies gateway callbacks, records payments exactly
// once per transaction and drives payment-triggered approvals.
type PaymentService struct {
	payments paymentRepository
	students paymentStudentReader
	approver enrollmentApprover
	audit    auditRecorder
	metrics  *MetricsService
	cfg      config.GatewayConfig
	logger   *zap.Logger
}

// NewPaymentService constructs PaymentService.
func NewPaymentService(payments paymentRepository, students paymentStudentReader, approver enrollmentApprover, audit auditRecorder, metrics *MetricsService, cfg config.GatewayConfig, logger *zap.Logger) *PaymentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaymentService{
		payments: payments,
		students: students,
		approver: approver,
		audit:    audit,
		metrics:  metrics,
		cfg:      cfg,
		logger:   logger,
	}
}

// BuildRedirect assembles the signed payment page form for a student's
// enrollment row or a general payment concept.
func (s *PaymentService) BuildRedirect(ctx context.Context, req BuildRedirectRequest) (*gateway.RedirectForm, error) {
	if _, err := s.students.FindByID(ctx, req.StudentID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	token := gateway.RoutingToken{Kind: gateway.TokenKindGeneral, ConceptID: req.ConceptID, StudentID: req.StudentID}
	if req.Position != nil {
		token = gateway.RoutingToken{Kind: gateway.TokenKindInscription, StudentID: req.StudentID, Position: *req.Position}
	} else if req.ConceptID == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "either position or concept_id is required")
	}

	form, err := gateway.BuildRedirect(gateway.RedirectRequest{
		OrderNumber: req.OrderNumber,
		AmountCents: req.AmountCents,
		ItbisCents:  req.ItbisCents,
		Token:       token,
		ResponseURL: s.cfg.ResponseURL,
	}, gateway.Credentials{MerchantID: s.cfg.MerchantID, AuthKey: s.cfg.AuthKey}, s.cfg.Environment)
	if err != nil {
		return nil, err
	}
	return form, nil
}

// HandleCallback verifies the gateway callback and applies its effects.
// Verification failures propagate unchanged so the handler answers 403
// with no side effects. Duplicate transaction ids collapse against the
// payments table; the enrollment approval is idempotent on its own.
func (s *PaymentService) HandleCallback(ctx context.Context, fields url.Values) (*CallbackResult, error) {
	event, err := gateway.VerifyCallback(fields, gateway.Credentials{MerchantID: s.cfg.MerchantID, AuthKey: s.cfg.AuthKey})
	if err != nil {
		s.metrics.ObserveGatewayCallback("rejected")
		return nil, err
	}

	if !event.Approved {
		s.recordAudit(ctx, models.AuditActionPaymentDeclined, event, "")
		s.metrics.ObserveGatewayCallback("declined")
		s.logger.Info("gateway declined payment",
			zap.String("transaction_id", event.TransactionID),
			zap.String("response_code", event.ResponseCode),
		)
		return &CallbackResult{Approved: false, TransactionID: event.TransactionID}, nil
	}

	result := &CallbackResult{Approved: true, TransactionID: event.TransactionID}

	description := fmt.Sprintf("enrollment payment (row %d)", event.Token.Position)
	if event.Token.Kind == gateway.TokenKindGeneral {
		description = fmt.Sprintf("payment concept %s", event.Token.ConceptID)
	}
	inserted, err := s.payments.Create(ctx, &models.PaymentRecord{
		TransactionID: event.TransactionID,
		OrderNumber:   event.OrderNumber,
		StudentID:     event.Token.StudentID,
		AmountCents:   event.AmountCents,
		Currency:      "DOP",
		Description:   description,
		Gateway:       gateway.Name,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}
	result.Duplicate = !inserted
	if inserted {
		s.recordAudit(ctx, models.AuditActionPaymentRecorded, event, event.Token.StudentID)
	}

	if event.Token.Kind == gateway.TokenKindInscription {
		position := event.Token.Position
		snap, err := s.approver.Approve(ctx, ApproveRequest{
			StudentID: event.Token.StudentID,
			Position:  &position,
			Trigger:   TriggerPayment,
			Payment: &PaymentMeta{
				TransactionID: event.TransactionID,
				AmountCents:   event.AmountCents,
				Currency:      "DOP",
			},
		})
		if err != nil {
			// The money is already recorded. Surface the approval failure
			// so staff can reconcile, but keep the payment row.
			s.metrics.ObserveGatewayCallback("approval_failed")
			return nil, err
		}
		result.Snapshot = snap
	}

	s.metrics.ObserveGatewayCallback("approved")
	s.logger.Info("gateway payment processed",
		zap.String("transaction_id", event.TransactionID),
		zap.String("kind", string(event.Token.Kind)),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

// SuccessURL is where the browser lands after an approved payment.
func (s *PaymentService) SuccessURL() string { return s.cfg.SuccessURL }

// FailureURL is where the browser lands after a declined payment.
func (s *PaymentService) FailureURL() string { return s.cfg.FailureURL }

// FindByTransactionID returns one recorded payment, used by staff to
// reconcile against the gateway's settlement reports.
func (s *PaymentService) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	payment, err := s.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "payment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load payment")
	}
	return payment, nil
}

// ListByStudent returns the recorded payments of one student.
func (s *PaymentService) ListByStudent(ctx context.Context, studentID string) ([]models.PaymentRecord, error) {
	payments, err := s.payments.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list payments")
	}
	return payments, nil
}

func (s *PaymentService) recordAudit(ctx context.Context, action string, event *gateway.PaymentEvent, studentID string) {
	values, _ := json.Marshal(map[string]interface{}{
		"order_number":  event.OrderNumber,
		"amount_cents":  event.AmountCents,
		"response_code": event.ResponseCode,
		"rrn":           event.RRN,
	})
	var resourceID *string
	if studentID != "" {
		resourceID = &studentID
	}
	if _, err := s.audit.Create(ctx, &models.AuditLog{
		Action:     action,
		Resource:   "payment",
		ResourceID: resourceID,
		NewValues:  values,
	}); err != nil {
		s.logger.Warn("failed to record payment audit entry", zap.Error(err))
	}
}
