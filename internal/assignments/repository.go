package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawdesk/pawdesk/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for user assignments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get fetches the current assignment for a user.
func (r *Repository) Get(ctx context.Context, userID string) (Assignment, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, role_name, permissions, updated_at FROM user_role_assignments WHERE user_id = $1`,
		userID)
	var a Assignment
	if err := row.Scan(&a.UserID, &a.Role, &a.Permissions, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, ErrNoAssignment
		}
		return Assignment{}, storageErr("get assignment", err)
	}
	return a, nil
}

// Upsert writes the single active assignment for a user. Concurrent writers
// to the same user serialize on the primary key; last writer wins and the
// audit trail preserves history.
func (r *Repository) Upsert(ctx context.Context, a Assignment) (Assignment, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO user_role_assignments (user_id, role_name, permissions, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE
		 SET role_name = EXCLUDED.role_name,
		     permissions = EXCLUDED.permissions,
		     updated_at = EXCLUDED.updated_at
		 RETURNING user_id, role_name, permissions, updated_at`,
		a.UserID, a.Role, a.Permissions, time.Now().UTC())
	var stored Assignment
	if err := row.Scan(&stored.UserID, &stored.Role, &stored.Permissions, &stored.UpdatedAt); err != nil {
		return Assignment{}, storageErr("upsert assignment", err)
	}
	return stored, nil
}

// ListByRole enumerates every assignment referencing the given role.
func (r *Repository) ListByRole(ctx context.Context, role string) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, role_name, permissions, updated_at FROM user_role_assignments WHERE role_name = $1 ORDER BY user_id`,
		role)
	if err != nil {
		return nil, storageErr("list by role", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.Role, &a.Permissions, &a.UpdatedAt); err != nil {
			return nil, storageErr("scan assignment", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list by role", err)
	}
	return out, nil
}

// ListStale returns assignments whose store write has not been followed by a
// successful claim push. Rows updated after cutoff are skipped; the
// synchronous path may still be pushing those. The reconciliation job uses
// this to repair the eventual-consistency window.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.user_id, a.role_name, a.permissions, a.updated_at
		 FROM user_role_assignments a
		 WHERE a.claims_pushed_at IS NULL OR a.claims_pushed_at < a.updated_at
		 ORDER BY a.updated_at
		 LIMIT 500`)
	if err != nil {
		return nil, storageErr("list stale", err)
	}
	defer rows.Close()

	var out []Assignment
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.UserID, &a.Role, &a.Permissions, &a.UpdatedAt); err != nil {
			return nil, storageErr("scan assignment", err)
		}
		if a.UpdatedAt.After(cutoff) {
			continue
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list stale", err)
	}
	return out, nil
}

// MarkClaimsPushed records that the user's claims now match the store.
func (r *Repository) MarkClaimsPushed(ctx context.Context, userID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE user_role_assignments SET claims_pushed_at = $2 WHERE user_id = $1`,
		userID, at.UTC())
	if err != nil {
		return storageErr("mark claims pushed", err)
	}
	return nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("assignments: %s: %w: %v", op, httpx.ErrStorageUnavailable, err)
}
