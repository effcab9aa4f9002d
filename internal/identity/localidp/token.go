package localidp

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pawdesk/pawdesk/internal/identity"
)

// accessClaims is the JWT payload minted by the local provider. Role and
// permission claims mirror identity.TokenClaims; Epoch ties the token to the
// revocation counter current at issue time.
type accessClaims struct {
	jwt.RegisteredClaims

	Email         string   `json:"email,omitempty"`
	Role          string   `json:"role,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	ClaimsUpdated int64    `json:"claims_updated,omitempty"`
	Epoch         int64    `json:"epoch"`
}

func newAccessClaims(a Account, issuer string, ttl time.Duration, epoch int64, now time.Time) accessClaims {
	var updated int64
	if !a.Claims.UpdatedAt.IsZero() {
		updated = a.Claims.UpdatedAt.Unix()
	}
	return accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   a.UID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Email:         a.Email,
		Role:          a.Claims.Role,
		Permissions:   a.Claims.Permissions,
		ClaimsUpdated: updated,
		Epoch:         epoch,
	}
}

func signToken(claims accessClaims, secret []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("localidp: sign token: %w", err)
	}
	return signed, nil
}

func parseToken(raw string, secret []byte, issuer string) (accessClaims, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithExpirationRequired())
	if err != nil {
		return accessClaims{}, fmt.Errorf("%w: %v", identity.ErrInvalidToken, err)
	}
	return claims, nil
}

func (c accessClaims) tokenClaims() identity.TokenClaims {
	tc := identity.TokenClaims{
		Role:        c.Role,
		Permissions: c.Permissions,
	}
	if c.ClaimsUpdated > 0 {
		tc.UpdatedAt = time.Unix(c.ClaimsUpdated, 0).UTC()
	}
	return tc
}
