package auth

import (
	"fmt"
	"time"

	"market-escrow-go/internal/store"

	"github.com/golang-jwt/jwt/v5"
)

// Role constants. Arbiters resolve disputes; everything else is a regular
// marketplace user.
const (
	RoleUser    = "user"
	RoleArbiter = "arbiter"
)

// Identity is the authenticated caller of a ledger operation.
type Identity struct {
	UserId string
	Role   string
}

// IsArbiter reports whether the identity may resolve disputes.
func (i Identity) IsArbiter() bool {
	return i.Role == RoleArbiter
}

// RequireArbiter returns ErrUnauthorized unless the identity is an arbiter.
func RequireArbiter(identity Identity) error {
	if !identity.IsArbiter() {
		return fmt.Errorf("%w: user %s is not an arbiter", store.ErrUnauthorized, identity.UserId)
	}
	return nil
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(token string) (Identity, error)
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HMAC-signed tokens issued by the marketplace
// frontend. The subject claim is the user id.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret cannot be empty")
	}
	return &JWTVerifier{secret: []byte(secret)}, nil
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", store.ErrUnauthorized, err)
	}
	if !parsed.Valid {
		return Identity{}, fmt.Errorf("%w: invalid token", store.ErrUnauthorized)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token missing subject", store.ErrUnauthorized)
	}

	role := c.Role
	if role == "" {
		role = RoleUser
	}
	return Identity{UserId: c.Subject, Role: role}, nil
}

// IssueToken mints a token for a user. Used by the operator CLIs and tests;
// production tokens come from the marketplace frontend.
func IssueToken(secret, userId, role string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userId,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString([]byte(secret))
}
