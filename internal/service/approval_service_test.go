package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/notify"
	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type mockApprovalEnrollments struct {
	rows          map[string]models.Enrollment
	matriculated  map[string]string
	persistCalls  int
	failOnPersist bool
}

func (m *mockApprovalEnrollments) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	if e, ok := m.rows[id]; ok {
		return &e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalEnrollments) FindByStudentAndPosition(ctx context.Context, studentID string, position int) (*models.Enrollment, error) {
	for _, e := range m.rows {
		if e.StudentID == studentID && e.Position == position {
			return &e, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockApprovalEnrollments) SetMatriculated(ctx context.Context, id, matricula string) error {
	m.persistCalls++
	if m.failOnPersist {
		return sql.ErrConnDone
	}
	if m.matriculated == nil {
		m.matriculated = make(map[string]string)
	}
	m.matriculated[id] = matricula
	e := m.rows[id]
	e.Status = models.EnrollmentStatusMatriculated
	e.Matricula = matricula
	m.rows[id] = e
	return nil
}

type mockApprovalStudents struct {
	students map[string]models.Student
}

func (m *mockApprovalStudents) FindByID(ctx context.Context, id string) (*models.Student, error) {
	if s, ok := m.students[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

type mockAllocator struct {
	matricula string
	firstTime bool
	calls     int
}

func (m *mockAllocator) AllocateOrReuse(ctx context.Context, studentID string) (string, bool, error) {
	m.calls++
	return m.matricula, m.firstTime, nil
}

type mockAudit struct {
	entries []models.AuditLog
}

func (m *mockAudit) Create(ctx context.Context, entry *models.AuditLog) (string, error) {
	m.entries = append(m.entries, *entry)
	return "audit-1", nil
}

type mockIntentSink struct {
	intents []notify.Intent
}

func (m *mockIntentSink) Enqueue(intent notify.Intent) error {
	m.intents = append(m.intents, intent)
	return nil
}

func approvalFixture() (*ApprovalService, *mockApprovalEnrollments, *mockAllocator, *mockAudit, *mockIntentSink) {
	enrollments := &mockApprovalEnrollments{rows: map[string]models.Enrollment{
		"enr-1": {ID: "enr-1", StudentID: "stu-1", Position: 0, CourseName: "Inglés Básico", Status: models.EnrollmentStatusApplied},
		"enr-2": {ID: "enr-2", StudentID: "stu-1", Position: 1, CourseName: "Inglés Intermedio", Status: models.EnrollmentStatusApplied},
	}}
	students := &mockApprovalStudents{students: map[string]models.Student{
		"stu-1": {ID: "stu-1", Cedula: "001-1234567-8", FullName: "Ana Pérez", Email: "ana@example.test"},
	}}
	allocator := &mockAllocator{matricula: "26-0001", firstTime: true}
	audit := &mockAudit{}
	sink := &mockIntentSink{}
	svc := NewApprovalService(enrollments, students, allocator, audit, sink, nil, nil, nil)
	return svc, enrollments, allocator, audit, sink
}

func TestApproveHappyPath(t *testing.T) {
	svc, enrollments, allocator, audit, sink := approvalFixture()

	snap, err := svc.Approve(context.Background(), ApproveRequest{
		EnrollmentID: "enr-1",
		Trigger:      TriggerManual,
		ActorID:      "user-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "26-0001", snap.Matricula)
	assert.Equal(t, "Ana Pérez", snap.FullName)
	assert.Equal(t, "Inglés Básico", snap.CourseName)
	assert.Equal(t, "26-0001", enrollments.matriculated["enr-1"])
	assert.Equal(t, 1, allocator.calls)

	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionApprovalManual, audit.entries[0].Action)

	require.Len(t, sink.intents, 1)
	assert.Equal(t, notify.IntentWelcome, sink.intents[0].Kind)
}

func TestApproveAddOnIntent(t *testing.T) {
	svc, _, allocator, _, sink := approvalFixture()
	allocator.firstTime = false

	_, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "enr-2", Trigger: TriggerManual})
	require.NoError(t, err)
	require.Len(t, sink.intents, 1)
	assert.Equal(t, notify.IntentAddOn, sink.intents[0].Kind)
}

func TestApproveIdempotent(t *testing.T) {
	svc, enrollments, allocator, audit, sink := approvalFixture()

	first, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "enr-1", Trigger: TriggerManual})
	require.NoError(t, err)

	second, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "enr-1", Trigger: TriggerManual})
	require.NoError(t, err)

	assert.Equal(t, first.Matricula, second.Matricula)
	assert.Equal(t, 1, enrollments.persistCalls)
	assert.Equal(t, 1, allocator.calls)
	assert.Len(t, audit.entries, 1)
	assert.Len(t, sink.intents, 1)
}

func TestApproveByStudentAndPosition(t *testing.T) {
	svc, enrollments, _, _, _ := approvalFixture()

	position := 1
	snap, err := svc.Approve(context.Background(), ApproveRequest{
		StudentID: "stu-1",
		Position:  &position,
		Trigger:   TriggerPayment,
		Payment:   &PaymentMeta{TransactionID: "TX-1", AmountCents: 150050, Currency: "DOP"},
	})
	require.NoError(t, err)
	assert.Equal(t, "enr-2", snap.EnrollmentID)
	assert.Contains(t, enrollments.matriculated, "enr-2")
}

func TestApprovePaymentTriggerAuditAction(t *testing.T) {
	svc, _, _, audit, _ := approvalFixture()

	_, err := svc.Approve(context.Background(), ApproveRequest{
		EnrollmentID: "enr-1",
		Trigger:      TriggerPayment,
		Payment:      &PaymentMeta{TransactionID: "TX-1", AmountCents: 100, Currency: "DOP"},
	})
	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionApprovalPayment, audit.entries[0].Action)
	assert.Contains(t, string(audit.entries[0].NewValues), "TX-1")
}

func TestApproveWebhookTriggerSkipsNotification(t *testing.T) {
	svc, _, _, audit, sink := approvalFixture()

	_, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "enr-1", Trigger: TriggerWebhook})
	require.NoError(t, err)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, models.AuditActionApprovalWebhook, audit.entries[0].Action)
	assert.Empty(t, sink.intents)
}

func TestApproveUnknownEnrollment(t *testing.T) {
	svc, _, _, _, _ := approvalFixture()

	_, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "missing", Trigger: TriggerManual})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestApproveMissingAddress(t *testing.T) {
	svc, _, _, _, _ := approvalFixture()

	_, err := svc.Approve(context.Background(), ApproveRequest{Trigger: TriggerManual})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestApproveRejectsTerminalStatus(t *testing.T) {
	svc, enrollments, _, _, _ := approvalFixture()
	row := enrollments.rows["enr-1"]
	row.Status = models.EnrollmentStatusCancelled
	enrollments.rows["enr-1"] = row

	_, err := svc.Approve(context.Background(), ApproveRequest{EnrollmentID: "enr-1", Trigger: TriggerManual})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrPreconditionFailed))
}

func TestBulkApprovePartitionsResults(t *testing.T) {
	svc, _, _, _, _ := approvalFixture()

	result, err := svc.BulkApprove(context.Background(), []BulkApproveItem{
		{EnrollmentID: "enr-1"},
		{EnrollmentID: "missing"},
		{EnrollmentID: "enr-2"},
		{},
	}, "user-1")
	require.NoError(t, err)

	require.Len(t, result.Approved, 2)
	assert.Equal(t, "enr-1", result.Approved[0].EnrollmentID)
	assert.Equal(t, "enr-2", result.Approved[1].EnrollmentID)

	require.Len(t, result.Failed, 2)
	assert.Equal(t, "missing", result.Failed[0].EnrollmentID)
	assert.Equal(t, "enrollment_id required", result.Failed[1].Reason)
}

func TestBulkApproveEmptyBatch(t *testing.T) {
	svc, _, _, _, _ := approvalFixture()

	_, err := svc.BulkApprove(context.Background(), nil, "user-1")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
