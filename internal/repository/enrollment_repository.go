package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-api/internal/models"
)

// EnrollmentRepository handles persistence of enrollment rows.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

const enrollmentColumns = `id, student_id, position, course_name, schedule, status, matricula, applied_at, updated_at`

// List returns enrollments with student and follow-up context.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
JOIN students s ON s.id = e.student_id
LEFT JOIN call_status cs ON cs.enrollment_id = e.id
LEFT JOIN agent_assignments a ON a.enrollment_id = e.id`
	var conditions []string
	var args []interface{}

	if filter.StudentID != "" {
		conditions = append(conditions, fmt.Sprintf("e.student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.CourseName != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_name = $%d", len(args)+1))
		args = append(args, filter.CourseName)
	}
	if filter.CallStatus != "" {
		conditions = append(conditions, fmt.Sprintf("cs.status = $%d", len(args)+1))
		args = append(args, filter.CallStatus)
	}
	if filter.AgentID != "" {
		conditions = append(conditions, fmt.Sprintf("a.agent_id = $%d", len(args)+1))
		args = append(args, filter.AgentID)
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"applied_at":   "e.applied_at",
		"student_name": "s.full_name",
		"course_name":  "e.course_name",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.applied_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT e.id, e.student_id, e.position, e.course_name, e.schedule, e.status, e.matricula,
        e.applied_at, e.updated_at, s.full_name AS student_name, s.cedula, s.email, s.phone,
        cs.status AS call_status, a.agent_id
        %s ORDER BY %s %s LIMIT %d OFFSET %d`, base+clause, orderBy, order, size, offset)

	var enrollments []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, id string) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE id = $1", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByStudentAndPosition resolves a legacy (student, row index) address.
func (r *EnrollmentRepository) FindByStudentAndPosition(ctx context.Context, studentID string, position int) (*models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 AND position = $2", enrollmentColumns)
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, studentID, position); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindAppliedByCedulaAndCourse resolves the webhook payload address:
// the oldest still-pending application of the student for that course.
func (r *EnrollmentRepository) FindAppliedByCedulaAndCourse(ctx context.Context, cedula, courseName string) (*models.Enrollment, error) {
	const query = `SELECT e.id, e.student_id, e.position, e.course_name, e.schedule, e.status, e.matricula, e.applied_at, e.updated_at
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        WHERE s.cedula = $1 AND e.course_name = $2 AND e.status = $3
        ORDER BY e.applied_at ASC
        LIMIT 1`
	var enrollment models.Enrollment
	if err := r.db.GetContext(ctx, &enrollment, query, cedula, courseName, models.EnrollmentStatusApplied); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// ListByStudent returns all rows of one student in legacy row order.
func (r *EnrollmentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Enrollment, error) {
	query := fmt.Sprintf("SELECT %s FROM enrollments WHERE student_id = $1 ORDER BY position ASC", enrollmentColumns)
	var enrollments []models.Enrollment
	if err := r.db.SelectContext(ctx, &enrollments, query, studentID); err != nil {
		return nil, fmt.Errorf("list student enrollments: %w", err)
	}
	return enrollments, nil
}

// Create appends a new enrollment row, assigning the next legacy position
// for the student in the same statement.
func (r *EnrollmentRepository) Create(ctx context.Context, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	if enrollment.AppliedAt.IsZero() {
		enrollment.AppliedAt = time.Now().UTC()
	}
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusApplied
	}
	enrollment.UpdatedAt = enrollment.AppliedAt
	const query = `INSERT INTO enrollments (id, student_id, position, course_name, schedule, status, matricula, applied_at, updated_at)
        VALUES ($1, $2, (SELECT COALESCE(MAX(position) + 1, 0) FROM enrollments WHERE student_id = $2), $3, $4, $5, $6, $7, $8)
        RETURNING position`
	if err := r.db.GetContext(ctx, &enrollment.Position, query,
		enrollment.ID, enrollment.StudentID, enrollment.CourseName, enrollment.Schedule,
		enrollment.Status, enrollment.Matricula, enrollment.AppliedAt, enrollment.UpdatedAt); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// SetMatriculated transitions a row to MATRICULATED with its number.
func (r *EnrollmentRepository) SetMatriculated(ctx context.Context, id, matricula string) error {
	const query = `UPDATE enrollments SET status = $2, matricula = $3, updated_at = $4 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, models.EnrollmentStatusMatriculated, matricula, time.Now().UTC()); err != nil {
		return fmt.Errorf("set enrollment matriculated: %w", err)
	}
	return nil
}

// FirstMatricula returns the matricula already carried by any of the
// student's rows, or empty when none is matriculated yet.
func (r *EnrollmentRepository) FirstMatricula(ctx context.Context, studentID string) (string, error) {
	const query = `SELECT matricula FROM enrollments
        WHERE student_id = $1 AND matricula <> ''
        ORDER BY applied_at ASC
        LIMIT 1`
	var matricula string
	if err := r.db.GetContext(ctx, &matricula, query, studentID); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("find first matricula: %w", err)
	}
	return matricula, nil
}
