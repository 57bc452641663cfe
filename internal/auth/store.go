package auth

import "context"

// Store describes persistence operations required by the auth subsystem.
type Store interface {
	Users(ctx context.Context) UserStore
	Credentials(ctx context.Context) CredentialStore
}

// UserStore manages user accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByUsername(ctx context.Context, username string) (*User, error)
}

// CredentialStore manages enrolled passkey credentials.
//
// Create fails with ErrConflict when the credential id is already present;
// the storage layer's unique index is the authoritative guard, so the check
// holds even when two processes race. Save persists counter and last-used
// updates in place.
type CredentialStore interface {
	ListByUser(ctx context.Context, userID string) ([]*Credential, error)
	FindByCredentialID(ctx context.Context, credentialID []byte) (*Credential, error)
	Create(ctx context.Context, cred *Credential) error
	Save(ctx context.Context, cred *Credential) error
}
