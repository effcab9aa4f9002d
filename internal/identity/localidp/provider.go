package localidp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/pawdesk/pawdesk/internal/identity"
)

// ErrInvalidCredentials indicates a failed email/password login.
var ErrInvalidCredentials = errors.New("localidp: invalid credentials")

// Options configures the local provider.
type Options struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
}

// Provider is a JWT-backed identity.Provider. Session revocation uses a
// per-user epoch counter in Redis: RevokeSessions bumps the counter and
// VerifyToken rejects tokens minted under an older epoch.
type Provider struct {
	store  Store
	redis  *redis.Client
	secret []byte
	issuer string
	ttl    time.Duration
}

// New constructs the local provider.
func New(store Store, redisClient *redis.Client, opts Options) *Provider {
	ttl := opts.TokenTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	issuer := opts.Issuer
	if issuer == "" {
		issuer = "pawdesk-localidp"
	}
	return &Provider{
		store:  store,
		redis:  redisClient,
		secret: []byte(opts.Secret),
		issuer: issuer,
		ttl:    ttl,
	}
}

func epochKey(uid string) string {
	return "idp:epoch:" + uid
}

func (p *Provider) currentEpoch(ctx context.Context, uid string) (int64, error) {
	epoch, err := p.redis.Get(ctx, epochKey(uid)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	return epoch, nil
}

// Login verifies email/password and mints a bearer token carrying the
// account's current custom claims.
func (p *Provider) Login(ctx context.Context, email, password string) (string, error) {
	account, err := p.store.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}
	if account.Disabled || account.PasswordHash == "" {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	epoch, err := p.currentEpoch(ctx, account.UID)
	if err != nil {
		return "", err
	}
	return signToken(newAccessClaims(account, p.issuer, p.ttl, epoch, time.Now().UTC()), p.secret)
}

// VerifyToken validates signature, expiry and revocation epoch.
func (p *Provider) VerifyToken(ctx context.Context, token string) (identity.VerifiedToken, error) {
	claims, err := parseToken(token, p.secret, p.issuer)
	if err != nil {
		return identity.VerifiedToken{}, err
	}
	current, err := p.currentEpoch(ctx, claims.Subject)
	if err != nil {
		return identity.VerifiedToken{}, err
	}
	if claims.Epoch < current {
		return identity.VerifiedToken{}, fmt.Errorf("%w: session revoked", identity.ErrInvalidToken)
	}
	var expiry time.Time
	if claims.ExpiresAt != nil {
		expiry = claims.ExpiresAt.Time
	}
	return identity.VerifiedToken{
		UID:    claims.Subject,
		Email:  claims.Email,
		Expiry: expiry,
		Claims: claims.tokenClaims(),
	}, nil
}

// SetCustomClaims stores the claim set for inclusion in future tokens.
func (p *Provider) SetCustomClaims(ctx context.Context, uid string, claims identity.TokenClaims) error {
	return p.store.SetClaims(ctx, uid, claims)
}

// RevokeSessions invalidates every outstanding token for the user by
// advancing the revocation epoch.
func (p *Provider) RevokeSessions(ctx context.Context, uid string) error {
	if _, err := p.store.GetByUID(ctx, uid); err != nil {
		return err
	}
	if err := p.redis.Incr(ctx, epochKey(uid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", identity.ErrProviderUnavailable, err)
	}
	return nil
}

// CreateUser registers an identity record. The account starts without a
// password; call SetPassword before interactive login.
func (p *Provider) CreateUser(ctx context.Context, email string) (identity.Identity, error) {
	account := Account{
		UID:   uuid.NewString(),
		Email: strings.ToLower(strings.TrimSpace(email)),
	}
	if account.Email == "" {
		return identity.Identity{}, errors.New("localidp: email required")
	}
	if err := p.store.Insert(ctx, account); err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{UID: account.UID, Email: account.Email}, nil
}

// SetPassword hashes and stores a password for the account.
func (p *Provider) SetPassword(ctx context.Context, uid, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("localidp: hash password: %w", err)
	}
	return p.store.SetPasswordHash(ctx, uid, string(hash))
}

// GetUser fetches an identity record.
func (p *Provider) GetUser(ctx context.Context, uid string) (identity.Identity, error) {
	account, err := p.store.GetByUID(ctx, uid)
	if err != nil {
		return identity.Identity{}, err
	}
	return identity.Identity{UID: account.UID, Email: account.Email, Disabled: account.Disabled}, nil
}

// ListUsers pages through the directory ordered by uid. The page token is
// the last uid of the previous page.
func (p *Provider) ListUsers(ctx context.Context, pageToken string, pageSize int) (identity.Page, error) {
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 50
	}
	accounts, err := p.store.List(ctx, pageToken, pageSize+1)
	if err != nil {
		return identity.Page{}, err
	}
	page := identity.Page{}
	if len(accounts) > pageSize {
		accounts = accounts[:pageSize]
		page.NextPageToken = accounts[len(accounts)-1].UID
	}
	for _, a := range accounts {
		page.Users = append(page.Users, identity.Identity{UID: a.UID, Email: a.Email, Disabled: a.Disabled})
	}
	return page, nil
}

var _ identity.Provider = (*Provider)(nil)
