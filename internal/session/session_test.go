package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewStateTokenEntropy(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for i := 0; i < 64; i++ {
		token, err := NewStateToken()
		if err != nil {
			t.Fatalf("NewStateToken: %v", err)
		}
		if len(token) != 32 {
			t.Fatalf("token length = %d, want 32 hex chars", len(token))
		}
		if seen[token] {
			t.Fatalf("duplicate token %s", token)
		}
		seen[token] = true
	}
}

func TestMemoryStateStoreSingleUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStateStore()
	if err := s.SetState(ctx, "abc", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	ok, err := s.ConsumeState(ctx, "abc")
	if err != nil || !ok {
		t.Fatalf("first consume = (%v, %v), want (true, nil)", ok, err)
	}
	ok, err = s.ConsumeState(ctx, "abc")
	if err != nil || ok {
		t.Fatalf("second consume = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMemoryStateStoreUnknownToken(t *testing.T) {
	t.Parallel()
	s := NewMemoryStateStore()
	ok, err := s.ConsumeState(context.Background(), "never-registered")
	if err != nil || ok {
		t.Fatalf("consume unknown = (%v, %v), want (false, nil)", ok, err)
	}
}

func TestMemoryStateStoreExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStateStore()
	current := time.Now()
	s.now = func() time.Time { return current }

	if err := s.SetState(ctx, "abc", current.Add(StateTokenTTL)); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	current = current.Add(StateTokenTTL + time.Second)
	ok, err := s.ConsumeState(ctx, "abc")
	if err != nil || ok {
		t.Fatalf("consume expired = (%v, %v), want (false, nil)", ok, err)
	}
	// Expired consumption still removes the token.
	if _, present := s.states["abc"]; present {
		t.Fatal("expired token not removed on consume")
	}
}

func TestMemoryStateStoreEvictsExpiredOnSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStateStore()
	current := time.Now()
	s.now = func() time.Time { return current }

	// Abandoned logins leave their tokens behind.
	for i := 0; i < 8; i++ {
		if err := s.SetState(ctx, fmt.Sprintf("stale-%d", i), current.Add(StateTokenTTL)); err != nil {
			t.Fatalf("SetState: %v", err)
		}
	}
	current = current.Add(StateTokenTTL + time.Second)

	if err := s.SetState(ctx, "fresh", current.Add(StateTokenTTL)); err != nil {
		t.Fatalf("SetState: %v", err)
	}
	if got := len(s.states); got != 1 {
		t.Fatalf("states retained = %d, want 1", got)
	}
	ok, err := s.ConsumeState(ctx, "fresh")
	if err != nil || !ok {
		t.Fatalf("consume fresh = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestMemoryStateStoreConcurrentConsume(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStateStore()
	if err := s.SetState(ctx, "abc", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeState(ctx, "abc")
			if err != nil {
				t.Errorf("ConsumeState: %v", err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := winners.Load(); got != 1 {
		t.Fatalf("winners = %d, want exactly 1", got)
	}
}
