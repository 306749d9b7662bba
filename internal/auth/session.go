package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"farm-dashboard-backend/internal/model"
)

// ErrInvalidSession is returned for a missing, malformed, forged or expired token.
var ErrInvalidSession = errors.New("invalid or expired session")

// Session is the authenticated identity carried by a request.
type Session struct {
	UserID string     `json:"userId"`
	Email  string     `json:"email"`
	Role   model.Role `json:"role"`
}

// IsAdmin reports whether the session has the admin role.
func (s Session) IsAdmin() bool {
	return s.Role == model.RoleAdmin
}

type sessionClaims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Sessions signs and checks HS256 session tokens.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSessions creates a token issuer with the given signing secret.
func NewSessions(secret string, ttl time.Duration) *Sessions {
	return &Sessions{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Issue signs a session token for user.
func (s *Sessions) Issue(user *model.User) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.ttl)
	claims := sessionClaims{
		Email: user.Email,
		Role:  user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, "failed to sign session token")
	}
	return token, expiresAt, nil
}

// Parse verifies a token and returns its session.
func (s *Sessions) Parse(token string) (*Session, error) {
	var claims sessionClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSession, err.Error())
	}
	if claims.Subject == "" || claims.Email == "" || !claims.Role.Valid() {
		return nil, ErrInvalidSession
	}
	return &Session{UserID: claims.Subject, Email: claims.Email, Role: claims.Role}, nil
}
