package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/artpar/usagegate/ports"
)

// SubjectStore persists subjects in SQLite.
type SubjectStore struct {
	db *DB
}

var _ ports.SubjectStore = (*SubjectStore)(nil)

// NewSubjectStore creates a SQLite-backed subject store.
func NewSubjectStore(db *DB) *SubjectStore {
	return &SubjectStore{db: db}
}

func (s *SubjectStore) Get(ctx context.Context, id string) (ports.Subject, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, plan_id, status, created_at, updated_at FROM subjects WHERE id = ?
	`, id)
	return scanSubject(row.Scan)
}

func (s *SubjectStore) Create(ctx context.Context, sub ports.Subject) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subjects (id, plan_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, sub.ID, sub.PlanID, sub.Status, sub.CreatedAt.UTC().UnixNano(), sub.UpdatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("%w: create subject: %v", ports.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *SubjectStore) SetPlan(ctx context.Context, id, planID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE subjects SET plan_id = ?, updated_at = ? WHERE id = ?
	`, planID, at.UTC().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("%w: set plan: %v", ports.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: set plan: %v", ports.ErrStoreUnavailable, err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}
	return nil
}

func (s *SubjectStore) List(ctx context.Context, limit, offset int) ([]ports.Subject, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, plan_id, status, created_at, updated_at FROM subjects
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: list subjects: %v", ports.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var subjects []ports.Subject
	for rows.Next() {
		sub, err := scanSubject(rows.Scan)
		if err != nil {
			return nil, err
		}
		subjects = append(subjects, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate subjects: %v", ports.ErrStoreUnavailable, err)
	}
	return subjects, nil
}

func scanSubject(scan func(...any) error) (ports.Subject, error) {
	var (
		sub                  ports.Subject
		createdAt, updatedAt int64
	)
	err := scan(&sub.ID, &sub.PlanID, &sub.Status, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return ports.Subject{}, ports.ErrNotFound
	}
	if err != nil {
		return ports.Subject{}, fmt.Errorf("%w: scan subject: %v", ports.ErrStoreUnavailable, err)
	}
	sub.CreatedAt = time.Unix(0, createdAt).UTC()
	sub.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return sub, nil
}
