package models

import "time"

// EnrollmentStatus represents the lifecycle of an enrollment row.
type EnrollmentStatus string

// Possible enrollment statuses. Only APPLIED -> MATRICULATED carries
// business logic; COMPLETED and CANCELLED are manual edits.
const (
	EnrollmentStatusApplied      EnrollmentStatus = "APPLIED"
	EnrollmentStatusMatriculated EnrollmentStatus = "MATRICULATED"
	EnrollmentStatusCompleted    EnrollmentStatus = "COMPLETED"
	EnrollmentStatusCancelled    EnrollmentStatus = "CANCELLED"
)

// ValidEnrollmentStatus reports whether s is one of the known statuses.
func ValidEnrollmentStatus(s EnrollmentStatus) bool {
	switch s {
	case EnrollmentStatusApplied, EnrollmentStatusMatriculated,
		EnrollmentStatusCompleted, EnrollmentStatusCancelled:
		return true
	}
	return false
}

// Enrollment is one course application by a student.
type Enrollment struct {
	ID        string `db:"id" json:"id"`
	StudentID string `db:"student_id" json:"student_id"`
	// Position is the legacy row index within the student record. Wire
	// formats from the old system (gateway routing tokens) still address
	// rows by it; new code addresses rows by ID.
	Position   int              `db:"position" json:"position"`
	CourseName string           `db:"course_name" json:"course_name"`
	Schedule   string           `db:"schedule" json:"schedule"`
	Status     EnrollmentStatus `db:"status" json:"status"`
	// Matricula is empty while the row is APPLIED and shared across all
	// of the student's rows once any of them is matriculated.
	Matricula string    `db:"matricula" json:"matricula,omitempty"`
	AppliedAt time.Time `db:"applied_at" json:"applied_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// EnrollmentDetail enriches Enrollment with student and follow-up info.
type EnrollmentDetail struct {
	Enrollment
	StudentName string           `db:"student_name" json:"student_name"`
	Cedula      string           `db:"cedula" json:"cedula"`
	Email       string           `db:"email" json:"email"`
	Phone       string           `db:"phone" json:"phone"`
	CallStatus  *CallStatusValue `db:"call_status" json:"call_status,omitempty"`
	AgentID     *string          `db:"agent_id" json:"agent_id,omitempty"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	StudentID  string
	Status     EnrollmentStatus
	CourseName string
	CallStatus CallStatusValue
	AgentID    string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}

// EnrollmentSnapshot is the view handed to the notification collaborator
// after an approval.
type EnrollmentSnapshot struct {
	EnrollmentID string `json:"enrollment_id"`
	StudentID    string `json:"student_id"`
	Matricula    string `json:"matricula"`
	FullName     string `json:"full_name"`
	Cedula       string `json:"cedula"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	CourseName   string `json:"course_name"`
}
