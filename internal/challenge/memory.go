package challenge

import (
	"context"
	"sync"
	"time"
)

var _ Cache = (*Memory)(nil)

// Memory is a process-local Cache for single-instance deployments and tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value    []byte
	deadline time.Time
}

// MemoryOption configures Memory.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source (useful for tests).
func WithMemoryClock(fn func() time.Time) MemoryOption {
	return func(m *Memory) {
		if fn != nil {
			m.now = fn
		}
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func cacheKey(purpose Purpose, subjectID string) string {
	return string(purpose) + ":" + subjectID
}

func (m *Memory) Put(_ context.Context, purpose Purpose, subjectID string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeExpiredLocked()
	m.entries[cacheKey(purpose, subjectID)] = memoryEntry{
		value:    append([]byte(nil), value...),
		deadline: m.now().Add(ttl),
	}
	return nil
}

func (m *Memory) TakeOnce(_ context.Context, purpose Purpose, subjectID string) ([]byte, error) {
	key := cacheKey(purpose, subjectID)
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.entries, key)
	if m.now().After(entry.deadline) {
		return nil, ErrNotFound
	}
	return entry.value, nil
}

func (m *Memory) Invalidate(_ context.Context, purpose Purpose, subjectID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, cacheKey(purpose, subjectID))
	return nil
}

// purgeExpiredLocked drops dead entries so an abandoned ceremony does not
// pin memory until the same key is reused.
func (m *Memory) purgeExpiredLocked() {
	now := m.now()
	for key, entry := range m.entries {
		if now.After(entry.deadline) {
			delete(m.entries, key)
		}
	}
}
