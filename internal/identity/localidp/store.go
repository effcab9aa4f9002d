// Package localidp is a self-hosted identity provider used in development
// and tests. It satisfies identity.Provider with JWT bearer tokens, bcrypt
// password hashes and Redis-backed session revocation epochs.
package localidp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawdesk/pawdesk/internal/identity"
)

// Account is an identity record held by the local provider.
type Account struct {
	UID          string
	Email        string
	PasswordHash string
	Disabled     bool
	Claims       identity.TokenClaims
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Store persists identity accounts.
type Store interface {
	Insert(ctx context.Context, a Account) error
	GetByUID(ctx context.Context, uid string) (Account, error)
	GetByEmail(ctx context.Context, email string) (Account, error)
	SetClaims(ctx context.Context, uid string, claims identity.TokenClaims) error
	SetPasswordHash(ctx context.Context, uid, hash string) error
	List(ctx context.Context, afterUID string, limit int) ([]Account, error)
}

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewStore constructs a PostgreSQL account store.
func NewStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const accountColumns = `uid, email, password_hash, disabled, claims, created_at, updated_at`

// Insert persists a new account.
func (s *PGStore) Insert(ctx context.Context, a Account) error {
	claims, err := json.Marshal(a.Claims)
	if err != nil {
		return fmt.Errorf("localidp: marshal claims: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO identity_accounts (uid, email, password_hash, disabled, claims, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		a.UID, a.Email, a.PasswordHash, a.Disabled, claims, now)
	if err != nil {
		return fmt.Errorf("localidp: insert account: %w", err)
	}
	return nil
}

// GetByUID fetches an account by its identifier.
func (s *PGStore) GetByUID(ctx context.Context, uid string) (Account, error) {
	return s.get(ctx, `SELECT `+accountColumns+` FROM identity_accounts WHERE uid = $1`, uid)
}

// GetByEmail fetches an account by email.
func (s *PGStore) GetByEmail(ctx context.Context, email string) (Account, error) {
	return s.get(ctx, `SELECT `+accountColumns+` FROM identity_accounts WHERE email = $1`, email)
}

func (s *PGStore) get(ctx context.Context, query, arg string) (Account, error) {
	row := s.pool.QueryRow(ctx, query, arg)
	var a Account
	var claims []byte
	if err := row.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.Disabled, &claims, &a.CreatedAt, &a.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, identity.ErrUserNotFound
		}
		return Account{}, fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	if len(claims) > 0 {
		if err := json.Unmarshal(claims, &a.Claims); err != nil {
			return Account{}, fmt.Errorf("localidp: decode claims: %w", err)
		}
	}
	return a, nil
}

// SetClaims replaces the stored custom claims.
func (s *PGStore) SetClaims(ctx context.Context, uid string, claims identity.TokenClaims) error {
	payload, err := json.Marshal(claims)
	if err != nil {
		return fmt.Errorf("localidp: marshal claims: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_accounts SET claims = $2, updated_at = $3 WHERE uid = $1`,
		uid, payload, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// SetPasswordHash replaces the stored password hash.
func (s *PGStore) SetPasswordHash(ctx context.Context, uid, hash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE identity_accounts SET password_hash = $2, updated_at = $3 WHERE uid = $1`,
		uid, hash, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

// List returns accounts ordered by uid, starting strictly after afterUID.
func (s *PGStore) List(ctx context.Context, afterUID string, limit int) ([]Account, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM identity_accounts WHERE uid > $1 ORDER BY uid LIMIT $2`,
		afterUID, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		var claims []byte
		if err := rows.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.Disabled, &claims, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
		}
		if len(claims) > 0 {
			if err := json.Unmarshal(claims, &a.Claims); err != nil {
				return nil, fmt.Errorf("localidp: decode claims: %w", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	return out, nil
}

var _ Store = (*PGStore)(nil)
