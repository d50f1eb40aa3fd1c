package models

import "time"

// Student represents an applicant or enrolled learner.
type Student struct {
	ID       string `db:"id" json:"id"`
	Cedula   string `db:"cedula" json:"cedula"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
	Phone    string `db:"phone" json:"phone"`
	Address  string `db:"address" json:"address"`
	// ExternalMatricula is the registration number imported from the
	// sister system. When present it takes precedence over locally
	// minted numbers.
	ExternalMatricula string    `db:"external_matricula" json:"external_matricula,omitempty"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter captures search parameters for listing students.
type StudentFilter struct {
	Search    string
	Cedula    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail contains a student together with their enrollment rows.
type StudentDetail struct {
	Student
	Enrollments []Enrollment `json:"enrollments"`
}
