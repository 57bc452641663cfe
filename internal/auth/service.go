package auth

import (
	"context"
	"strings"
	"time"
)

// Service provides account registration and password sign-in.
type Service struct {
	store  Store
	issuer *Issuer
	now    func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service with optional configuration.
func NewService(store Store, issuer *Issuer, opts ...ServiceOption) *Service {
	svc := &Service{
		store:  store,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Signup registers a new account. Duplicate usernames fail with ErrConflict;
// usernames are case-sensitive by contract, so no normalization happens here.
func (s *Service) Signup(ctx context.Context, username, password string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrInvalidInput
	}

	if _, err := s.store.Users(ctx).FindByUsername(ctx, username); err == nil {
		return nil, ErrConflict
	} else if err != ErrNotFound {
		return nil, err
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &User{
		Username:     username,
		PasswordHash: hash,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.Users(ctx).Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// SignIn checks the password and mints a password-level token. Lookup,
// activity and password failures collapse into ErrUnauthorized so callers
// cannot probe which check failed.
func (s *Service) SignIn(ctx context.Context, username, password string) (string, time.Time, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return "", time.Time{}, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).FindByUsername(ctx, username)
	if err != nil {
		if err == ErrNotFound {
			return "", time.Time{}, ErrUnauthorized
		}
		return "", time.Time{}, err
	}
	if !user.IsActive {
		return "", time.Time{}, ErrUnauthorized
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		return "", time.Time{}, ErrUnauthorized
	}
	return s.issuer.Issue(user.ID, user.Username, LevelPassword)
}

// Escalate mints a brand-new full-level token for a subject that just
// completed a passkey assertion. The previous password-level token is not
// revoked; its short expiry bounds exposure.
func (s *Service) Escalate(claims Claims) (string, time.Time, error) {
	return s.issuer.Issue(claims.Subject, claims.Username, LevelFull)
}
