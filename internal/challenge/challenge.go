// Package challenge provides the ephemeral single-use store backing passkey
// ceremonies. Entries are keyed by (purpose, subject) and carry a bounded
// lifetime; TakeOnce atomically consumes an entry so a challenge can be
// verified at most once.
package challenge

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long an issued challenge stays valid.
const DefaultTTL = 60 * time.Second

// Purpose scopes a cached challenge to one ceremony kind. A registration
// challenge can never satisfy an authentication verification.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// ErrNotFound is returned when an entry is absent, expired or already
// consumed. Callers cannot distinguish the three; restarting the ceremony is
// the only recovery.
var ErrNotFound = errors.New("challenge: not found")

// Cache stores pending ceremony state. Put overwrites any previous entry for
// the same key: the last writer's challenge is the only valid one. Two
// concurrent TakeOnce calls for the same key must not both succeed.
type Cache interface {
	Put(ctx context.Context, purpose Purpose, subjectID string, value []byte, ttl time.Duration) error
	TakeOnce(ctx context.Context, purpose Purpose, subjectID string) ([]byte, error)
	Invalidate(ctx context.Context, purpose Purpose, subjectID string) error
}
