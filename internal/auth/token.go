package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 15 * time.Minute

// AuthLevel is the trust tier proven by an issued token.
type AuthLevel string

const (
	// LevelPassword means the subject proved knowledge of their password.
	LevelPassword AuthLevel = "password"
	// LevelFull means the subject additionally completed a passkey assertion.
	LevelFull AuthLevel = "full"
)

// Satisfies reports whether the level meets a required tier. Full trust
// implies password-equivalent trust; the reverse does not hold.
func (l AuthLevel) Satisfies(required AuthLevel) bool {
	switch required {
	case LevelPassword:
		return l == LevelPassword || l == LevelFull
	case LevelFull:
		return l == LevelFull
	default:
		return false
	}
}

// Claims represents JWT claims carried by access tokens. AuthLevel is never
// upgraded in place; escalation always means issuing a brand-new token.
type Claims struct {
	Username        string    `json:"username"`
	AuthLevel       AuthLevel `json:"auth_level"`
	PasskeyVerified bool      `json:"passkey_verified"`
	jwt.RegisteredClaims
}

// Issuer mints and validates access tokens with an explicit trust level.
// It is the sole source of truth for what was proven about a subject.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// IssuerOption configures Issuer behavior.
type IssuerOption func(*Issuer)

// WithIssuerName overrides the token issuer claim.
func WithIssuerName(name string) IssuerOption {
	return func(i *Issuer) {
		if strings.TrimSpace(name) != "" {
			i.issuer = strings.TrimSpace(name)
		}
	}
}

// WithTokenTTL configures access token lifetime.
func WithTokenTTL(ttl time.Duration) IssuerOption {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the time source (useful for tests).
func WithIssuerClock(fn func() time.Time) IssuerOption {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer signing with HS256 over the given secret.
func NewIssuer(secret string, opts ...IssuerOption) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	iss := &Issuer{
		secret: []byte(secret),
		issuer: "stepauth",
		ttl:    defaultTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(iss)
	}
	return iss, nil
}

// Issue signs a token asserting the given trust level for the subject.
// PasskeyVerified mirrors the level: only a completed assertion yields full.
func (i *Issuer) Issue(userID, username string, level AuthLevel) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	if level != LevelPassword && level != LevelFull {
		return "", time.Time{}, fmt.Errorf("unknown auth level: %s", level)
	}

	now := i.now().UTC()
	expiresAt := now.Add(i.ttl)
	claims := Claims{
		Username:        username,
		AuthLevel:       level,
		PasskeyVerified: level == LevelFull,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate verifies the token signature and required claims.
func (i *Issuer) Validate(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return i.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return i.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := i.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (i *Issuer) validateClaims(claims *Claims) error {
	if claims.Issuer != i.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	if claims.AuthLevel != LevelPassword && claims.AuthLevel != LevelFull {
		return fmt.Errorf("unknown auth level: %s", claims.AuthLevel)
	}
	now := i.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}
