package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-api/internal/models"
)

// CallRepository persists call records, follow-up statuses, agent
// assignments and the distribution rotation cursor.
type CallRepository struct {
	db *sqlx.DB
}

// NewCallRepository constructs the repository.
func NewCallRepository(db *sqlx.DB) *CallRepository {
	return &CallRepository{db: db}
}

// CreateRecord persists a new call record.
func (r *CallRepository) CreateRecord(ctx context.Context, record *models.CallRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO call_records (id, enrollment_id, agent_id, agent_name, comment, call_log_ref, created_at, updated_at)
        VALUES (:id, :enrollment_id, :agent_id, :agent_name, :comment, :call_log_ref, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create call record: %w", err)
	}
	return nil
}

// FindRecordByID returns a call record by its ID.
func (r *CallRepository) FindRecordByID(ctx context.Context, id string) (*models.CallRecord, error) {
	const query = `SELECT id, enrollment_id, agent_id, agent_name, comment, call_log_ref, created_at, updated_at
        FROM call_records WHERE id = $1`
	var record models.CallRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// ListRecordsByEnrollment returns the call history of one enrollment,
// newest first.
func (r *CallRepository) ListRecordsByEnrollment(ctx context.Context, enrollmentID string) ([]models.CallRecord, error) {
	const query = `SELECT id, enrollment_id, agent_id, agent_name, comment, call_log_ref, created_at, updated_at
        FROM call_records WHERE enrollment_id = $1 ORDER BY created_at DESC`
	var records []models.CallRecord
	if err := r.db.SelectContext(ctx, &records, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list call records: %w", err)
	}
	return records, nil
}

// UpdateRecordComment mutates an existing record's comment in place.
func (r *CallRepository) UpdateRecordComment(ctx context.Context, id, comment string) error {
	const query = `UPDATE call_records SET comment = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, comment, time.Now().UTC()); err != nil {
		return fmt.Errorf("update call record: %w", err)
	}
	return nil
}

// UpsertStatus sets the follow-up outcome for an enrollment.
func (r *CallRepository) UpsertStatus(ctx context.Context, enrollmentID string, status models.CallStatusValue) error {
	const query = `INSERT INTO call_status (enrollment_id, status, updated_at) VALUES ($1, $2, $3)
        ON CONFLICT (enrollment_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, status, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert call status: %w", err)
	}
	return nil
}

// UpsertAssignment makes agentID the current owner of the enrollment.
func (r *CallRepository) UpsertAssignment(ctx context.Context, enrollmentID, agentID string) error {
	const query = `INSERT INTO agent_assignments (enrollment_id, agent_id, assigned_at) VALUES ($1, $2, $3)
        ON CONFLICT (enrollment_id) DO UPDATE SET agent_id = EXCLUDED.agent_id, assigned_at = EXCLUDED.assigned_at`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, agentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("upsert agent assignment: %w", err)
	}
	return nil
}

// AssignIfUnset makes agentID the owner only when the row has none.
func (r *CallRepository) AssignIfUnset(ctx context.Context, enrollmentID, agentID string) error {
	const query = `INSERT INTO agent_assignments (enrollment_id, agent_id, assigned_at) VALUES ($1, $2, $3)
        ON CONFLICT (enrollment_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, enrollmentID, agentID, time.Now().UTC()); err != nil {
		return fmt.Errorf("assign agent if unset: %w", err)
	}
	return nil
}

// AdvanceCursor advances the shared rotation cursor by n in one atomic
// statement and returns the new value. The cursor only ever grows; callers
// reduce it modulo their candidate count.
func (r *CallRepository) AdvanceCursor(ctx context.Context, n int) (int64, error) {
	const query = `INSERT INTO rotation_cursors (id, position) VALUES (1, $1)
        ON CONFLICT (id) DO UPDATE SET position = rotation_cursors.position + EXCLUDED.position
        RETURNING position`
	var position int64
	if err := r.db.GetContext(ctx, &position, query, n); err != nil {
		return 0, fmt.Errorf("advance rotation cursor: %w", err)
	}
	return position, nil
}

// ListPendingLeads returns every APPLIED enrollment with its current
// assignment and the agent who last called it. This is the one
// full-backlog scan in the system.
func (r *CallRepository) ListPendingLeads(ctx context.Context) ([]models.PendingLead, error) {
	const query = `SELECT e.id AS enrollment_id, a.agent_id AS assigned_agent_id, lc.agent_id AS last_call_agent_id
        FROM enrollments e
        LEFT JOIN agent_assignments a ON a.enrollment_id = e.id
        LEFT JOIN LATERAL (
            SELECT agent_id FROM call_records WHERE enrollment_id = e.id ORDER BY created_at DESC LIMIT 1
        ) lc ON true
        WHERE e.status = $1
        ORDER BY e.applied_at ASC`
	var leads []models.PendingLead
	if err := r.db.SelectContext(ctx, &leads, query, models.EnrollmentStatusApplied); err != nil {
		return nil, fmt.Errorf("list pending leads: %w", err)
	}
	return leads, nil
}
