package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// MatriculaRepository owns the yearly matricula counter and the
// per-student claim table. Both writes are single atomic statements,
// never read-then-write pairs.
type MatriculaRepository struct {
	db *sqlx.DB
}

// NewMatriculaRepository constructs the repository.
func NewMatriculaRepository(db *sqlx.DB) *MatriculaRepository {
	return &MatriculaRepository{db: db}
}

// Next atomically increments and returns the counter for the given year,
// seeding the row on first use.
func (r *MatriculaRepository) Next(ctx context.Context, year int) (int64, error) {
	const query = `INSERT INTO matricula_counters (year, counter) VALUES ($1, 1)
        ON CONFLICT (year) DO UPDATE SET counter = matricula_counters.counter + 1
        RETURNING counter`
	var counter int64
	if err := r.db.GetContext(ctx, &counter, query, year); err != nil {
		return 0, fmt.Errorf("next matricula counter: %w", err)
	}
	return counter, nil
}

// Claim records matricula as the student's lifetime number, first writer
// wins. Every caller comes back with the winning number; the flag reports
// whether this call was the one that landed it.
func (r *MatriculaRepository) Claim(ctx context.Context, studentID, matricula string) (string, bool, error) {
	const insert = `INSERT INTO student_matriculas (student_id, matricula, created_at) VALUES ($1, $2, $3)
        ON CONFLICT (student_id) DO NOTHING`
	result, err := r.db.ExecContext(ctx, insert, studentID, matricula, time.Now().UTC())
	if err != nil {
		return "", false, fmt.Errorf("claim matricula: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("claim matricula: %w", err)
	}
	if affected == 1 {
		return matricula, true, nil
	}

	const read = `SELECT matricula FROM student_matriculas WHERE student_id = $1`
	var winner string
	if err := r.db.GetContext(ctx, &winner, read, studentID); err != nil {
		return "", false, fmt.Errorf("read claimed matricula: %w", err)
	}
	return winner, false, nil
}
