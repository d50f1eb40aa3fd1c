package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/pkg/config"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type stubApprover struct {
	requests []ApproveRequest
	snapshot *models.EnrollmentSnapshot
	err      error
}

func (s *stubApprover) Approve(ctx context.Context, req ApproveRequest) (*models.EnrollmentSnapshot, error) {
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	if s.snapshot != nil {
		return s.snapshot, nil
	}
	return &models.EnrollmentSnapshot{EnrollmentID: req.EnrollmentID, Matricula: "26-0001"}, nil
}

type mockWebhookStudents struct {
	cedulas  map[string]models.Student
	external map[string]string
}

func (m *mockWebhookStudents) FindByCedula(ctx context.Context, cedula string) (*models.Student, error) {
	if s, ok := m.cedulas[cedula]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWebhookStudents) SetExternalMatricula(ctx context.Context, id, matricula string) error {
	if m.external == nil {
		m.external = make(map[string]string)
	}
	m.external[id] = matricula
	return nil
}

type mockWebhookEnrollments struct {
	rows map[string]models.Enrollment
}

func (m *mockWebhookEnrollments) FindAppliedByCedulaAndCourse(ctx context.Context, cedula, courseName string) (*models.Enrollment, error) {
	if e, ok := m.rows[cedula+"|"+courseName]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func webhookFixture(disableAutoEnroll bool) (*WebhookService, *stubApprover, *mockAudit) {
	students := &mockWebhookStudents{cedulas: map[string]models.Student{
		"001-1234567-8": {ID: "stu-1", Cedula: "001-1234567-8"},
	}}
	enrollments := &mockWebhookEnrollments{rows: map[string]models.Enrollment{
		"001-1234567-8|Inglés Básico": {ID: "enr-1", StudentID: "stu-1", Status: models.EnrollmentStatusApplied},
	}}
	approver := &stubApprover{}
	audit := &mockAudit{}
	svc := NewWebhookService(students, enrollments, approver, audit, nil,
		config.WebhookConfig{SharedSecret: "topsecret"},
		config.EnrollmentConfig{DisableAutoEnroll: disableAutoEnroll},
		nil, nil)
	return svc, approver, audit
}

func TestVerifySignature(t *testing.T) {
	svc, _, _ := webhookFixture(false)

	assert.NoError(t, svc.VerifySignature("topsecret"))
	assert.Error(t, svc.VerifySignature("wrong"))
	assert.Error(t, svc.VerifySignature(""))
}

func TestVerifySignatureUnconfiguredSecretRejects(t *testing.T) {
	svc := NewWebhookService(nil, nil, nil, nil, nil,
		config.WebhookConfig{}, config.EnrollmentConfig{}, nil, nil)

	assert.Error(t, svc.VerifySignature(""))
	assert.Error(t, svc.VerifySignature("anything"))
}

func TestProcessPagadoApproves(t *testing.T) {
	svc, approver, _ := webhookFixture(false)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "001-1234567-8",
		CursoNombre: "Inglés Básico",
		Status:      "pagado",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	assert.Equal(t, "26-0001", outcome.Matricula)

	require.Len(t, approver.requests, 1)
	assert.Equal(t, "enr-1", approver.requests[0].EnrollmentID)
	assert.Equal(t, TriggerWebhook, approver.requests[0].Trigger)
}

func TestProcessStoresExternalMatricula(t *testing.T) {
	svc, approver, _ := webhookFixture(false)
	students := svc.students.(*mockWebhookStudents)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "001-1234567-8",
		CursoNombre: "Inglés Básico",
		Status:      "pagado",
		Matricula:   "EXT-2026-77",
	})
	require.NoError(t, err)
	assert.True(t, outcome.Applied)
	// Stored before the approval so the allocator reuses the imported
	// number instead of minting one.
	assert.Equal(t, "EXT-2026-77", students.external["stu-1"])
	require.Len(t, approver.requests, 1)
}

func TestProcessDisableAutoEnrollRecordsButSkips(t *testing.T) {
	svc, approver, audit := webhookFixture(true)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "001-1234567-8",
		CursoNombre: "Inglés Básico",
		Status:      "pagado",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Equal(t, "auto_enroll_disabled", outcome.Reason)
	assert.Empty(t, approver.requests)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionWebhookSkipped, audit.entries[0].Action)
}

func TestProcessUnknownCedula(t *testing.T) {
	svc, _, _ := webhookFixture(false)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "999-0000000-0",
		CursoNombre: "Inglés Básico",
		Status:      "pagado",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NotNil(t, outcome)
	assert.Equal(t, WebhookReasonStudentNotFound, outcome.Reason)
}

func TestProcessUnknownCourse(t *testing.T) {
	svc, _, _ := webhookFixture(false)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "001-1234567-8",
		CursoNombre: "Curso Fantasma",
		Status:      "pagado",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	require.NotNil(t, outcome)
	assert.Equal(t, WebhookReasonCourseNotFound, outcome.Reason)
}

func TestProcessNonPagadoStatusRecordsOnly(t *testing.T) {
	svc, approver, audit := webhookFixture(false)

	outcome, err := svc.Process(context.Background(), WebhookPayload{
		Cedula:      "001-1234567-8",
		CursoNombre: "Inglés Básico",
		Status:      "pendiente",
	})
	require.NoError(t, err)
	assert.False(t, outcome.Applied)
	assert.Empty(t, approver.requests)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionWebhookReceived, audit.entries[0].Action)
}

func TestProcessInvalidPayload(t *testing.T) {
	svc, _, _ := webhookFixture(false)

	_, err := svc.Process(context.Background(), WebhookPayload{Cedula: "001-1234567-8"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
