package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	issuer          = "tlr"
	defaultTokenTTL = time.Hour
	clockSkew       = 5 * time.Second
)

// Claims are the JWT claims issued to authenticated users.
type Claims struct {
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// UserSource loads users and their role assignments.
type UserSource interface {
	UserByEmail(ctx context.Context, email string) (User, error)
	User(ctx context.Context, id string) (User, error)
	Assignments(ctx context.Context, userID string) ([]Assignment, error)
}

// Service issues and verifies bearer tokens and loads principals.
type Service struct {
	users  UserSource
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// ServiceOption configures Service behaviour.
type ServiceOption func(*Service)

// WithTokenTTL overrides the access token lifetime.
func WithTokenTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService builds a token service signing HS256 tokens with secret.
func NewService(users UserSource, secret string, opts ...ServiceOption) (*Service, error) {
	if users == nil {
		return nil, errors.New("auth: user source is required")
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNoSecret
	}
	svc := &Service{users: users, secret: []byte(secret), ttl: defaultTokenTTL, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Principal loads a user with their assignments.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.users.User(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	assignments, err := s.users.Assignments(ctx, user.ID)
	if err != nil {
		return Principal{}, err
	}
	return Principal{User: user, Assignments: assignments}, nil
}

// IssueToken verifies credentials and signs an access token.
func (s *Service) IssueToken(ctx context.Context, email, password string) (string, time.Time, Principal, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	user, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		return "", time.Time{}, Principal{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", time.Time{}, Principal{}, err
	}
	principal, err := s.Principal(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	token, expires, err := s.sign(principal)
	if err != nil {
		return "", time.Time{}, Principal{}, err
	}
	return token, expires, principal, nil
}

func (s *Service) sign(p Principal) (string, time.Time, error) {
	now := s.now().UTC()
	expires := now.Add(s.ttl)
	roles := make([]string, 0, len(p.Assignments))
	for _, k := range p.AllRoles().Sorted() {
		roles = append(roles, string(k))
	}
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   p.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// ParseToken verifies the signature and required claims.
func (s *Service) ParseToken(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithLeeway(clockSkew), jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Authenticate verifies token and loads the current principal. Roles are
// always reloaded so a revoked assignment takes effect immediately.
func (s *Service) Authenticate(ctx context.Context, token string) (Principal, error) {
	claims, err := s.ParseToken(token)
	if err != nil {
		return Principal{}, err
	}
	principal, err := s.Principal(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrInvalidToken
		}
		return Principal{}, err
	}
	return principal, nil
}
