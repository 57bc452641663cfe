package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestTakeOnceIsSingleUse(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()

	if err := cache.Put(ctx, PurposeRegistration, "user-1", []byte("c1"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := cache.TakeOnce(ctx, PurposeRegistration, "user-1")
	if err != nil {
		t.Fatalf("first TakeOnce: %v", err)
	}
	if string(got) != "c1" {
		t.Fatalf("unexpected value: %q", got)
	}

	if _, err := cache.TakeOnce(ctx, PurposeRegistration, "user-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound on second take, got %v", err)
	}
}

func TestPurposesAreIsolated(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()

	if err := cache.Put(ctx, PurposeRegistration, "user-1", []byte("reg"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := cache.TakeOnce(ctx, PurposeAuthentication, "user-1"); err != ErrNotFound {
		t.Fatalf("authentication take must not see registration entry, got %v", err)
	}
	if _, err := cache.TakeOnce(ctx, PurposeRegistration, "user-1"); err != nil {
		t.Fatalf("registration entry lost: %v", err)
	}
}

func TestPutOverwritesPreviousChallenge(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()

	_ = cache.Put(ctx, PurposeAuthentication, "user-1", []byte("old"), time.Minute)
	_ = cache.Put(ctx, PurposeAuthentication, "user-1", []byte("new"), time.Minute)

	got, err := cache.TakeOnce(ctx, PurposeAuthentication, "user-1")
	if err != nil {
		t.Fatalf("TakeOnce: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("expected last writer to win, got %q", got)
	}
}

func TestTTLExpiry(t *testing.T) {
	now := time.Now()
	cache := NewMemory(WithMemoryClock(func() time.Time { return now }))
	ctx := context.Background()

	if err := cache.Put(ctx, PurposeRegistration, "user-1", []byte("c1"), time.Minute); err != nil {
		t.Fatalf("Put: %v", err)
	}

	now = now.Add(61 * time.Second)
	if _, err := cache.TakeOnce(ctx, PurposeRegistration, "user-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()

	_ = cache.Put(ctx, PurposeRegistration, "user-1", []byte("c1"), time.Minute)
	if err := cache.Invalidate(ctx, PurposeRegistration, "user-1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if err := cache.Invalidate(ctx, PurposeRegistration, "user-1"); err != nil {
		t.Fatalf("second Invalidate: %v", err)
	}
	if _, err := cache.TakeOnce(ctx, PurposeRegistration, "user-1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after invalidate, got %v", err)
	}
}

func TestConcurrentTakeOnceSingleWinner(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()

	const workers = 32
	for round := 0; round < 50; round++ {
		if err := cache.Put(ctx, PurposeAuthentication, "user-1", []byte("c"), time.Minute); err != nil {
			t.Fatalf("Put: %v", err)
		}

		var wins int64
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				if _, err := cache.TakeOnce(ctx, PurposeAuthentication, "user-1"); err == nil {
					atomic.AddInt64(&wins, 1)
				}
			}()
		}
		close(start)
		wg.Wait()

		if wins != 1 {
			t.Fatalf("round %d: expected exactly one winner, got %d", round, wins)
		}
	}
}
