package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/noah-isme/enrollment-api/pkg/errors"
)

type matriculaStudentReader interface {
	ExternalMatricula(ctx context.Context, studentID string) (string, error)
}

type matriculaEnrollmentReader interface {
	FirstMatricula(ctx context.Context, studentID string) (string, error)
}

type matriculaCounter interface {
	Next(ctx context.Context, year int) (int64, error)
	Claim(ctx context.Context, studentID, matricula string) (string, bool, error)
}

// MatriculaService mints or reuses the student's lifetime matricula
// number. A student receives exactly one number, reused across every
// subsequent course enrollment.
type MatriculaService struct {
	students    matriculaStudentReader
	enrollments matriculaEnrollmentReader
	counter     matriculaCounter
	logger      *zap.Logger
	now         func() time.Time
}

// NewMatriculaService constructs MatriculaService.
func NewMatriculaService(students matriculaStudentReader, enrollments matriculaEnrollmentReader, counter matriculaCounter, logger *zap.Logger) *MatriculaService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MatriculaService{
		students:    students,
		enrollments: enrollments,
		counter:     counter,
		logger:      logger,
		now:         time.Now,
	}
}

// AllocateOrReuse returns the student's matricula, minting a new number
// only when the student has none anywhere. Precedence: the number
// imported from the sister system wins, then any number already carried
// by an enrollment row, then a freshly minted one. The returned flag is
// true when the student had no matricula before this call, which is what
// separates a welcome notification from an add-on.
func (s *MatriculaService) AllocateOrReuse(ctx context.Context, studentID string) (string, bool, error) {
	external, err := s.students.ExternalMatricula(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student matricula")
	}

	existing, err := s.enrollments.FirstMatricula(ctx, studentID)
	if err != nil {
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect enrollments")
	}

	if external != "" {
		return external, existing == "", nil
	}
	if existing != "" {
		return existing, false, nil
	}

	year := s.now().UTC().Year()
	sequence, err := s.counter.Next(ctx, year)
	if err != nil {
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to advance matricula counter")
	}

	// %04d widens once the yearly sequence passes 9999 instead of
	// truncating or colliding.
	matricula := fmt.Sprintf("%02d-%04d", year%100, sequence)

	// Two approvals for the same student can race past the enrollment
	// read together. The per-student claim is first-writer-wins, so the
	// loser adopts the winning number and its counter value goes unused.
	winner, won, err := s.counter.Claim(ctx, studentID, matricula)
	if err != nil {
		return "", false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to claim matricula")
	}
	if !won {
		return winner, false, nil
	}

	s.logger.Info("matricula minted",
		zap.String("student_id", studentID),
		zap.String("matricula", matricula),
	)
	return matricula, true, nil
}
