package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawdesk/pawdesk/internal/platform/httpx"
)

// PGRepository implements Repository on PostgreSQL. The audit_log table is
// insert-only; there is no update or delete path.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Insert appends a single entry.
func (r *PGRepository) Insert(ctx context.Context, e Entry) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_log (id, subject_type, subject_id, change_type, actor, previous_state, new_state, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, string(e.SubjectType), e.SubjectID, e.ChangeType, e.Actor, e.PreviousState, e.NewState, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("audit: insert: %w: %v", httpx.ErrStorageUnavailable, err)
	}
	return nil
}

// ListBySubject reads a subject's history newest first.
func (r *PGRepository) ListBySubject(ctx context.Context, subjectType SubjectType, subjectID string, offset, limit int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, subject_type, subject_id, change_type, actor, previous_state, new_state, occurred_at
		 FROM audit_log
		 WHERE subject_type = $1 AND subject_id = $2
		 ORDER BY occurred_at DESC, id DESC
		 OFFSET $3 LIMIT $4`,
		string(subjectType), subjectID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w: %v", httpx.ErrStorageUnavailable, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var st string
		if err := rows.Scan(&e.ID, &st, &e.SubjectID, &e.ChangeType, &e.Actor, &e.PreviousState, &e.NewState, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("audit: scan: %w: %v", httpx.ErrStorageUnavailable, err)
		}
		e.SubjectType = SubjectType(st)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: list: %w: %v", httpx.ErrStorageUnavailable, err)
	}
	return out, nil
}

var _ Repository = (*PGRepository)(nil)
