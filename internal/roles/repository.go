package roles

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawdesk/pawdesk/internal/platform/httpx"
)

// Repository provides PostgreSQL backed persistence for role definitions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `name, permissions, description, is_system, created_at, updated_at`

// Get fetches a role definition by name.
func (r *Repository) Get(ctx context.Context, name string) (RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM role_definitions WHERE name = $1`, name)
	role, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleDefinition{}, ErrNotFound
		}
		return RoleDefinition{}, storageErr("get role", err)
	}
	return role, nil
}

// List returns every role definition ordered by name.
func (r *Repository) List(ctx context.Context) ([]RoleDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+roleColumns+` FROM role_definitions ORDER BY name`)
	if err != nil {
		return nil, storageErr("list roles", err)
	}
	defer rows.Close()

	var out []RoleDefinition
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, storageErr("scan role", err)
		}
		out = append(out, role)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list roles", err)
	}
	return out, nil
}

// Create inserts a new role definition. ErrDuplicate is returned when the
// name is already taken.
func (r *Repository) Create(ctx context.Context, role RoleDefinition) (RoleDefinition, error) {
	now := time.Now().UTC()
	row := r.pool.QueryRow(ctx,
		`INSERT INTO role_definitions (name, permissions, description, is_system, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING `+roleColumns,
		role.Name, role.Permissions, role.Description, role.IsSystem, now)
	created, err := scanRole(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return RoleDefinition{}, ErrDuplicate
		}
		return RoleDefinition{}, storageErr("create role", err)
	}
	return created, nil
}

// Update replaces the permission set and optionally the description.
func (r *Repository) Update(ctx context.Context, name string, permissions []string, description *string) (RoleDefinition, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE role_definitions
		 SET permissions = $2,
		     description = COALESCE($3, description),
		     updated_at = $4
		 WHERE name = $1
		 RETURNING `+roleColumns,
		name, permissions, description, time.Now().UTC())
	updated, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoleDefinition{}, ErrNotFound
		}
		return RoleDefinition{}, storageErr("update role", err)
	}
	return updated, nil
}

// Seed inserts the definition when absent, leaving existing rows untouched.
// Bootstrap must not clobber permission extensions applied after install.
func (r *Repository) Seed(ctx context.Context, role RoleDefinition) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_definitions (name, permissions, description, is_system, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (name) DO NOTHING`,
		role.Name, role.Permissions, role.Description, role.IsSystem, time.Now().UTC())
	if err != nil {
		return storageErr("seed role", err)
	}
	return nil
}

func scanRole(row pgx.Row) (RoleDefinition, error) {
	var role RoleDefinition
	if err := row.Scan(&role.Name, &role.Permissions, &role.Description, &role.IsSystem, &role.CreatedAt, &role.UpdatedAt); err != nil {
		return RoleDefinition{}, err
	}
	return role, nil
}

func storageErr(op string, err error) error {
	return fmt.Errorf("roles: %s: %w: %v", op, httpx.ErrStorageUnavailable, err)
}
