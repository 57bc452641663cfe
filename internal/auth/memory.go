package auth

import (
	"context"
	"encoding/hex"
	"sync"
	"time"

	"stepauth.org/internal/ids"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store for development mode and tests.
type MemStore struct {
	mu             sync.RWMutex
	usersByID      map[string]*User
	usersByName    map[string]*User
	credsByID      map[string]*Credential
	credsByRaw     map[string]*Credential
	credTimestamps func() time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{
		usersByID:      make(map[string]*User),
		usersByName:    make(map[string]*User),
		credsByID:      make(map[string]*Credential),
		credsByRaw:     make(map[string]*Credential),
		credTimestamps: time.Now,
	}
}

func (s *MemStore) Users(context.Context) UserStore             { return (*memUserStore)(s) }
func (s *MemStore) Credentials(context.Context) CredentialStore { return (*memCredentialStore)(s) }

type memUserStore MemStore

func (s *memUserStore) Create(_ context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByName[u.Username]; ok {
		return ErrConflict
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	cp := *u
	s.usersByID[cp.ID] = &cp
	s.usersByName[cp.Username] = &cp
	return nil
}

func (s *memUserStore) Find(_ context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

type memCredentialStore MemStore

func rawKey(credentialID []byte) string {
	return hex.EncodeToString(credentialID)
}

func (s *memCredentialStore) ListByUser(_ context.Context, userID string) ([]*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var creds []*Credential
	for _, c := range s.credsByID {
		if c.UserID == userID {
			cp := cloneCredential(c)
			creds = append(creds, cp)
		}
	}
	// Stable ordering: creation-time ascending, ULIDs sort the same way.
	for i := 1; i < len(creds); i++ {
		for j := i; j > 0 && creds[j-1].ID > creds[j].ID; j-- {
			creds[j-1], creds[j] = creds[j], creds[j-1]
		}
	}
	return creds, nil
}

func (s *memCredentialStore) FindByCredentialID(_ context.Context, credentialID []byte) (*Credential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.credsByRaw[rawKey(credentialID)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneCredential(c), nil
}

func (s *memCredentialStore) Create(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := rawKey(cred.CredentialID)
	if _, ok := s.credsByRaw[key]; ok {
		return ErrConflict
	}
	if cred.ID == "" {
		cred.ID = ids.New()
	}
	if cred.CreatedAt.IsZero() {
		cred.CreatedAt = s.credTimestamps().UTC()
	}
	cp := cloneCredential(cred)
	s.credsByID[cp.ID] = cp
	s.credsByRaw[key] = cp
	return nil
}

func (s *memCredentialStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.credsByID[cred.ID]
	if !ok {
		return ErrNotFound
	}
	existing.Counter = cred.Counter
	if cred.LastUsedAt != nil {
		t := *cred.LastUsedAt
		existing.LastUsedAt = &t
	}
	return nil
}

func cloneCredential(c *Credential) *Credential {
	cp := *c
	cp.CredentialID = append([]byte(nil), c.CredentialID...)
	cp.PublicKey = append([]byte(nil), c.PublicKey...)
	cp.Transports = append([]string(nil), c.Transports...)
	if c.LastUsedAt != nil {
		t := *c.LastUsedAt
		cp.LastUsedAt = &t
	}
	return &cp
}
