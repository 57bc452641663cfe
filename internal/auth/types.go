package auth

import "time"

// User is an account that can sign in with a password and enroll passkeys.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credential is an enrolled public-key authenticator bound to one user.
// CredentialID is the authenticator-assigned identifier and is unique across
// the whole system: two users can never claim the same physical key.
type Credential struct {
	ID           string
	UserID       string
	CredentialID []byte
	PublicKey    []byte
	Counter      uint32
	Transports   []string
	DeviceName   string
	CreatedAt    time.Time
	LastUsedAt   *time.Time
}
