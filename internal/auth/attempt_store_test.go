package auth

import (
	"context"
	"sync"
	"testing"
	"time"
)

// runAttemptStoreContract drives a store through the lockout lifecycle the
// login guard relies on. Times are whole seconds so every backend round-trips
// them exactly.
func runAttemptStoreContract(t *testing.T, store AttemptStore, ip string) {
	t.Helper()
	ctx := context.Background()
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	const maxAttempts = 3
	lock := time.Hour

	if _, found, err := store.GetAttempt(ctx, ip); err != nil || found {
		t.Fatalf("expected no record before first failure, found=%v err=%v", found, err)
	}

	for i := 1; i <= 2; i++ {
		a, err := store.RegisterFailure(ctx, ip, maxAttempts, lock, start.Add(time.Duration(i-1)*time.Second))
		if err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		if a.Count != i || a.LockedUntil != nil {
			t.Fatalf("failure %d: expected count %d without lock, got %+v", i, i, a)
		}
		if !a.FirstAttempt.Equal(start) {
			t.Fatalf("failure %d: expected first attempt %s, got %s", i, start, a.FirstAttempt)
		}
	}

	lockedAt := start.Add(2 * time.Second)
	a, err := store.RegisterFailure(ctx, ip, maxAttempts, lock, lockedAt)
	if err != nil {
		t.Fatalf("locking failure: %v", err)
	}
	wantLock := lockedAt.Add(lock)
	if a.Count != maxAttempts || a.LockedUntil == nil || !a.LockedUntil.Equal(wantLock) {
		t.Fatalf("expected lock until %s at count %d, got %+v", wantLock, maxAttempts, a)
	}

	// Failures during an active lock neither count nor extend it.
	a, err = store.RegisterFailure(ctx, ip, maxAttempts, lock, lockedAt.Add(10*time.Minute))
	if err != nil {
		t.Fatalf("failure while locked: %v", err)
	}
	if a.Count != maxAttempts || a.LockedUntil == nil || !a.LockedUntil.Equal(wantLock) {
		t.Fatalf("expected lock kept unchanged, got %+v", a)
	}

	got, found, err := store.GetAttempt(ctx, ip)
	if err != nil || !found {
		t.Fatalf("expected stored record, found=%v err=%v", found, err)
	}
	if got.Count != maxAttempts || got.LockedUntil == nil || !got.LockedUntil.Equal(wantLock) {
		t.Fatalf("unexpected stored record %+v", got)
	}

	// The first failure after the lock ran out starts a fresh window.
	after := wantLock.Add(time.Second)
	a, err = store.RegisterFailure(ctx, ip, maxAttempts, lock, after)
	if err != nil {
		t.Fatalf("failure after lock: %v", err)
	}
	if a.Count != 1 || a.LockedUntil != nil || !a.FirstAttempt.Equal(after) {
		t.Fatalf("expected counter restarted at %s, got %+v", after, a)
	}

	if err := store.ResetAttempts(ctx, ip); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, found, err := store.GetAttempt(ctx, ip); err != nil || found {
		t.Fatalf("expected record removed after reset, found=%v err=%v", found, err)
	}
}

// runConcurrentFailures checks that parallel failures from one IP are all
// counted.
func runConcurrentFailures(t *testing.T, store AttemptStore, ip string) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	const workers = 20

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.RegisterFailure(ctx, ip, 100, time.Hour, now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent failure: %v", err)
	}

	a, found, err := store.GetAttempt(ctx, ip)
	if err != nil || !found {
		t.Fatalf("expected record, found=%v err=%v", found, err)
	}
	if a.Count != workers {
		t.Fatalf("expected %d failures counted, got %d", workers, a.Count)
	}
}
