package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deciframe-hq/deciframe/internal/domain"
)

const (
	// SessionCookie is the cookie carrying the session token.
	SessionCookie = "deciframe_session"

	tokenIssuer   = "deciframe"
	sessionExpiry = 12 * time.Hour
)

// SessionClaims bind a token to a user, organization and role at issue
// time. Role changes take effect at the next login.
type SessionClaims struct {
	jwt.RegisteredClaims
	OrgID string `json:"org"`
	Role  string `json:"role"`
}

type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret []byte) (*TokenIssuer, error) {
	if len(secret) < 32 {
		return nil, errors.New("identity: session secret must be at least 32 bytes")
	}
	return &TokenIssuer{secret: secret, now: time.Now}, nil
}

func (t *TokenIssuer) Issue(u *domain.User) (string, error) {
	now := t.now()
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(sessionExpiry)),
		},
		OrgID: u.OrgID.String(),
		Role:  string(u.Role),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Session is the verified content of a token.
type Session struct {
	UserID uuid.UUID
	OrgID  uuid.UUID
	Role   domain.Role
}

func (t *TokenIssuer) Verify(token string) (*Session, error) {
	var claims SessionClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return nil, errors.New("identity: invalid session token")
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, errors.New("identity: invalid session subject")
	}
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return nil, errors.New("identity: invalid session org")
	}
	role, ok := domain.ParseRole(claims.Role)
	if !ok {
		return nil, errors.New("identity: invalid session role")
	}
	return &Session{UserID: userID, OrgID: orgID, Role: role}, nil
}
