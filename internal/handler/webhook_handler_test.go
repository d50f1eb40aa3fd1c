package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-api/internal/models"
	"github.com/noah-isme/enrollment-api/internal/service"
	"github.com/noah-isme/enrollment-api/pkg/config"
)

const testWebhookSecret = "topsecret"

type webhookStudentsMock struct {
	students map[string]*models.Student
}

func (m *webhookStudentsMock) FindByCedula(ctx context.Context, cedula string) (*models.Student, error) {
	if s, ok := m.students[cedula]; ok {
		return s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *webhookStudentsMock) SetExternalMatricula(ctx context.Context, id, matricula string) error {
	for _, s := range m.students {
		if s.ID == id {
			s.ExternalMatricula = matricula
		}
	}
	return nil
}

type webhookEnrollmentsMock struct {
	enrollments map[string]*models.Enrollment
}

func (m *webhookEnrollmentsMock) FindAppliedByCedulaAndCourse(ctx context.Context, cedula, courseName string) (*models.Enrollment, error) {
	if e, ok := m.enrollments[cedula+"|"+courseName]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

type approverMock struct {
	requests []service.ApproveRequest
}

func (m *approverMock) Approve(ctx context.Context, req service.ApproveRequest) (*models.EnrollmentSnapshot, error) {
	m.requests = append(m.requests, req)
	return &models.EnrollmentSnapshot{EnrollmentID: req.EnrollmentID, Matricula: "26-0001"}, nil
}

type auditMock struct {
	entries []*models.AuditLog
}

func (m *auditMock) Create(ctx context.Context, entry *models.AuditLog) (string, error) {
	m.entries = append(m.entries, entry)
	return "audit-1", nil
}

func newWebhookHandlerFixture() *WebhookHandler {
	students := &webhookStudentsMock{students: map[string]*models.Student{
		"001-1234567-8": {ID: "stu-1", Cedula: "001-1234567-8", FullName: "Ana Pérez"},
	}}
	enrollments := &webhookEnrollmentsMock{enrollments: map[string]*models.Enrollment{
		"001-1234567-8|Inglés Básico": {ID: "enr-1", StudentID: "stu-1", Position: 1, CourseName: "Inglés Básico", Status: models.EnrollmentStatusApplied},
	}}
	svc := service.NewWebhookService(
		students, enrollments, &approverMock{}, &auditMock{}, nil,
		config.WebhookConfig{SharedSecret: testWebhookSecret},
		config.EnrollmentConfig{},
		nil, nil,
	)
	return NewWebhookHandler(svc)
}

func postWebhook(h *WebhookHandler, signature string, payload interface{}) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	body, _ := json.Marshal(payload)
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/enrollment-status", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	c.Request = req
	h.EnrollmentStatus(c)
	return w
}

func TestWebhookHandlerApplies(t *testing.T) {
	h := newWebhookHandlerFixture()
	w := postWebhook(h, testWebhookSecret, service.WebhookPayload{
		Cedula: "001-1234567-8", CursoNombre: "Inglés Básico", Status: "pagado",
	})

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, true, body["applied"])
	assert.Equal(t, "26-0001", body["matricula"])
}

func TestWebhookHandlerBadSignature(t *testing.T) {
	h := newWebhookHandlerFixture()
	w := postWebhook(h, "wrong", service.WebhookPayload{
		Cedula: "001-1234567-8", CursoNombre: "Inglés Básico", Status: "pagado",
	})

	require.Equal(t, http.StatusForbidden, w.Code)
	// The rejection body must not leak whether the secret was close.
	assert.JSONEq(t, `{"success":false,"error":"forbidden"}`, w.Body.String())
}

func TestWebhookHandlerMissingSignature(t *testing.T) {
	h := newWebhookHandlerFixture()
	w := postWebhook(h, "", service.WebhookPayload{
		Cedula: "001-1234567-8", CursoNombre: "Inglés Básico", Status: "pagado",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookHandlerUnknownStudent(t *testing.T) {
	h := newWebhookHandlerFixture()
	w := postWebhook(h, testWebhookSecret, service.WebhookPayload{
		Cedula: "999-9999999-9", CursoNombre: "Inglés Básico", Status: "pagado",
	})

	require.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, service.WebhookReasonStudentNotFound, body["reason"])
}

func TestWebhookHandlerInvalidBody(t *testing.T) {
	h := newWebhookHandlerFixture()

	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(http.MethodPost, "/webhooks/enrollment-status", bytes.NewReader([]byte(`not json`)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", testWebhookSecret)
	c.Request = req
	h.EnrollmentStatus(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
