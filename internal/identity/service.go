// Package identity handles accounts and API tokens: bcrypt password hashing,
// HS256 JWTs with a jti claim, and logout by revoking the jti for the token's
// remaining lifetime.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"pressd/internal/core/cache"
	"pressd/internal/core/storage"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)

// Config configures the identity service.
type Config struct {
	// Secret signs the HS256 tokens. Required.
	Secret string `yaml:"secret"`

	// TokenTTL is the token lifetime. Default 24h.
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// DefaultConfig returns the default identity configuration.
func DefaultConfig() Config {
	return Config{TokenTTL: 24 * time.Hour}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Secret == "" {
		return fmt.Errorf("identity: secret is required")
	}
	return nil
}

// Service issues and verifies API tokens.
type Service struct {
	cfg   Config
	users storage.UserStore
	cache cache.Store
	now   func() time.Time
}

// NewService creates a Service.
func NewService(cfg Config, users storage.UserStore, store cache.Store) *Service {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	return &Service{cfg: cfg, users: users, cache: store, now: time.Now}
}

// SetClock overrides the time source, for tests.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Register creates an account and returns it with a fresh token.
func (s *Service) Register(ctx context.Context, name, email, password string) (*storage.User, string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("hash password: %w", err)
	}
	user := &storage.User{
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}
	token, err := s.issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies the credentials and returns the user with a fresh token.
// Unknown email and wrong password are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, password string) (*storage.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", ErrInvalidCredentials
	}
	token, err := s.issue(user.ID)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Logout revokes the token for its remaining lifetime. An already-expired
// token is a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.parse(token)
	if err != nil {
		return err
	}
	remaining := time.Until(claims.ExpiresAt.Time)
	if remaining <= 0 {
		return nil
	}
	return s.cache.Set(ctx, revocationKey(claims.ID), "1", remaining)
}

// Verify validates the token and returns the authenticated user id.
func (s *Service) Verify(ctx context.Context, token string) (int64, error) {
	claims, err := s.parse(token)
	if err != nil {
		return 0, err
	}
	if _, revoked, err := s.cache.Get(ctx, revocationKey(claims.ID)); err != nil {
		return 0, fmt.Errorf("check token revocation: %w", err)
	} else if revoked {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

func (s *Service) issue(userID int64) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

func (s *Service) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func revocationKey(jti string) string {
	return "auth:revoked:" + jti
}
