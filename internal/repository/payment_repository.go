package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-api/internal/models"
)

// PaymentRepository persists immutable payment records.
type PaymentRepository struct {
	db *sqlx.DB
}

// NewPaymentRepository constructs the repository.
func NewPaymentRepository(db *sqlx.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a payment record keyed by transaction id. Returns false
// when a record for the transaction already exists, which makes duplicate
// gateway deliveries collapse into a no-op.
func (r *PaymentRepository) Create(ctx context.Context, payment *models.PaymentRecord) (bool, error) {
	if payment.ID == "" {
		payment.ID = uuid.NewString()
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO payments (id, transaction_id, order_number, student_id, amount_cents, currency, description, gateway, created_at)
        VALUES (:id, :transaction_id, :order_number, :student_id, :amount_cents, :currency, :description, :gateway, :created_at)
        ON CONFLICT (transaction_id) DO NOTHING`
	result, err := r.db.NamedExecContext(ctx, query, payment)
	if err != nil {
		return false, fmt.Errorf("create payment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create payment rows affected: %w", err)
	}
	return affected > 0, nil
}

// FindByTransactionID returns a payment record by gateway transaction id.
func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*models.PaymentRecord, error) {
	const query = `SELECT id, transaction_id, order_number, student_id, amount_cents, currency, description, gateway, created_at
        FROM payments WHERE transaction_id = $1`
	var payment models.PaymentRecord
	if err := r.db.GetContext(ctx, &payment, query, transactionID); err != nil {
		return nil, err
	}
	return &payment, nil
}

// ListByStudent returns payments recorded for a student, newest first.
func (r *PaymentRepository) ListByStudent(ctx context.Context, studentID string) ([]models.PaymentRecord, error) {
	const query = `SELECT id, transaction_id, order_number, student_id, amount_cents, currency, description, gateway, created_at
        FROM payments WHERE student_id = $1 ORDER BY created_at DESC`
	var payments []models.PaymentRecord
	if err := r.db.SelectContext(ctx, &payments, query, studentID); err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}
