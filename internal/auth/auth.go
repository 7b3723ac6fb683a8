// Package auth issues and verifies bearer tokens and manages account credentials.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"omnibot/internal/storage"
)

var (
	ErrUnauthorized       = errors.New("could not validate credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidInput       = errors.New("invalid input")
)

const MinPasswordLength = 6

type UserStore interface {
	CreateUser(ctx context.Context, u storage.User) (storage.User, error)
	GetUserByID(ctx context.Context, id string) (storage.User, error)
	GetUserByEmail(ctx context.Context, email string) (storage.User, error)
	UpdateUserRole(ctx context.Context, id, role string) error
}

type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

type Service struct {
	store  UserStore
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    zerolog.Logger
}

func NewService(store UserStore, secret string, ttl time.Duration, log zerolog.Logger) *Service {
	return &Service{
		store:  store,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		log:    log.With().Str("component", "auth").Logger(),
	}
}

func (s *Service) Register(ctx context.Context, email, password, fullName string) (string, storage.User, error) {
	email = normalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil {
		return "", storage.User{}, fmt.Errorf("%w: email is not valid", ErrInvalidInput)
	}
	if len(password) < MinPasswordLength {
		return "", storage.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", storage.User{}, fmt.Errorf("hash password: %w", err)
	}
	u, err := s.store.CreateUser(ctx, storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     strings.TrimSpace(fullName),
		PasswordHash: string(hash),
		Role:         storage.RoleUser,
		Plan:         storage.PlanFree,
		IsActive:     true,
	})
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return "", storage.User{}, ErrEmailTaken
		}
		return "", storage.User{}, err
	}

	token, err := s.Issue(u)
	if err != nil {
		return "", storage.User{}, err
	}
	s.log.Info().Str("user_id", u.ID).Msg("user registered")
	return token, u, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (string, storage.User, error) {
	u, err := s.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", storage.User{}, ErrInvalidCredentials
		}
		return "", storage.User{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		return "", storage.User{}, ErrInvalidCredentials
	}
	token, err := s.Issue(u)
	if err != nil {
		return "", storage.User{}, err
	}
	return token, u, nil
}

// Issue signs an HS256 token whose subject is the user id.
func (s *Service) Issue(u storage.User) (string, error) {
	now := s.now()
	claims := Claims{
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (s *Service) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return Claims{}, ErrUnauthorized
	}
	return claims, nil
}

// Authenticate resolves a bearer token to an active user.
func (s *Service) Authenticate(ctx context.Context, token string) (storage.User, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return storage.User{}, err
	}
	u, err := s.store.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.User{}, ErrUnauthorized
		}
		return storage.User{}, err
	}
	if !u.IsActive {
		return storage.User{}, ErrUnauthorized
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap superadmin, or promotes an existing account
// with that email. Blank email or password is a no-op.
func (s *Service) EnsureAdmin(ctx context.Context, email, password string) error {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	u, err := s.store.GetUserByEmail(ctx, email)
	switch {
	case err == nil:
		if u.Role == storage.RoleSuperadmin {
			return nil
		}
		if err := s.store.UpdateUserRole(ctx, u.ID, storage.RoleSuperadmin); err != nil {
			return fmt.Errorf("promote admin: %w", err)
		}
		s.log.Info().Str("user_id", u.ID).Msg("promoted bootstrap admin")
		return nil
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("lookup admin: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	u, err = s.store.CreateUser(ctx, storage.User{
		ID:           uuid.NewString(),
		Email:        email,
		FullName:     "Administrator",
		PasswordHash: string(hash),
		Role:         storage.RoleSuperadmin,
		Plan:         storage.PlanPremium,
		IsActive:     true,
	})
	if err != nil && !errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("create admin: %w", err)
	}
	s.log.Info().Str("email", email).Msg("bootstrap admin ready")
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
