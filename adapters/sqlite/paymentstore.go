package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/artpar/usagegate/domain/billing"
	"github.com/artpar/usagegate/ports"
)

// PaymentStore persists payment records in SQLite.
type PaymentStore struct {
	db *DB
}

var _ ports.PaymentStore = (*PaymentStore)(nil)

// NewPaymentStore creates a SQLite-backed payment store.
func NewPaymentStore(db *DB) *PaymentStore {
	return &PaymentStore{db: db}
}

func (s *PaymentStore) Create(ctx context.Context, p billing.Payment) error {
	var processedAt sql.NullInt64
	if p.ProcessedAt != nil {
		processedAt = sql.NullInt64{Int64: p.ProcessedAt.UTC().UnixNano(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payments (id, subject, amount, currency, method, status, cycle_id, created_at, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Subject, p.Amount.String(), p.Currency, p.Method,
		string(p.Status), p.CycleID, p.CreatedAt.UTC().UnixNano(), processedAt)
	if err != nil {
		return fmt.Errorf("%w: create payment: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *PaymentStore) ListBySubject(ctx context.Context, subject string, limit int) ([]billing.Payment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, amount, currency, method, status, cycle_id, created_at, processed_at
		FROM payments
		WHERE subject = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list payments: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var payments []billing.Payment
	for rows.Next() {
		var (
			p           billing.Payment
			amount      string
			status      string
			createdAt   int64
			processedAt sql.NullInt64
		)
		err := rows.Scan(&p.ID, &p.Subject, &amount, &p.Currency, &p.Method,
			&status, &p.CycleID, &createdAt, &processedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: scan payment: %v", ports.ErrStoreUnavailable, err)
		}
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("%w: parse payment amount: %v", ports.ErrStoreUnavailable, err)
		}
		p.Status = billing.PaymentStatus(status)
		p.CreatedAt = time.Unix(0, createdAt).UTC()
		if processedAt.Valid {
			t := time.Unix(0, processedAt.Int64).UTC()
			p.ProcessedAt = &t
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate payments: %v", ports.ErrStoreUnavailable, err)
	}
	return payments, nil
}
