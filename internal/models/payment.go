package models

import "time"

// PaymentRecord is created once per successfully verified gateway or
// webhook payment event. Immutable after creation; creation is keyed by
// the gateway transaction id so duplicate deliveries collapse.
type PaymentRecord struct {
	ID            string    `db:"id" json:"id"`
	TransactionID string    `db:"transaction_id" json:"transaction_id"`
	OrderNumber   string    `db:"order_number" json:"order_number"`
	StudentID     string    `db:"student_id" json:"student_id"`
	AmountCents   int64     `db:"amount_cents" json:"amount_cents"`
	Currency      string    `db:"currency" json:"currency"`
	Description   string    `db:"description" json:"description"`
	Gateway       string    `db:"gateway" json:"gateway"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
