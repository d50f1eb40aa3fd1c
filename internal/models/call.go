package models

import "time"

// CallStatusValue is the follow-up outcome for a pending enrollment.
// Values mirror the legacy system verbatim so agents keep their vocabulary.
type CallStatusValue string

const (
	CallStatusPendiente        CallStatusValue = "pendiente"
	CallStatusContactado       CallStatusValue = "contactado"
	CallStatusNoContesta       CallStatusValue = "no_contesta"
	CallStatusNumeroIncorrecto CallStatusValue = "numero_incorrecto"
	CallStatusRechazado        CallStatusValue = "rechazado"
)

// ValidCallStatus reports whether v is one of the known outcomes.
func ValidCallStatus(v CallStatusValue) bool {
	switch v {
	case CallStatusPendiente, CallStatusContactado, CallStatusNoContesta,
		CallStatusNumeroIncorrecto, CallStatusRechazado:
		return true
	}
	return false
}

// CallRecord is one logged call attempt against a pending enrollment.
// Records are append-only except for comment edits via EditComment.
type CallRecord struct {
	ID           string    `db:"id" json:"id"`
	EnrollmentID string    `db:"enrollment_id" json:"enrollment_id"`
	AgentID      string    `db:"agent_id" json:"agent_id"`
	AgentName    string    `db:"agent_name" json:"agent_name"`
	Comment      string    `db:"comment" json:"comment"`
	CallLogRef   string    `db:"call_log_ref" json:"call_log_ref"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// PendingLead is the distribution view of an APPLIED enrollment:
// its current assignment plus the agent who last called it, if any.
type PendingLead struct {
	EnrollmentID    string  `db:"enrollment_id"`
	AssignedAgentID *string `db:"assigned_agent_id"`
	LastCallAgentID *string `db:"last_call_agent_id"`
}
