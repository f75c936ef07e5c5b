package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryAttemptStore keeps counters in process memory. Suitable for a single
// long-running instance and for tests.
type MemoryAttemptStore struct {
	mu       sync.Mutex
	attempts map[string]*memoryAttempt
}

type memoryAttempt struct {
	Attempt
	updatedAt time.Time
}

func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{attempts: make(map[string]*memoryAttempt)}
}

func (s *MemoryAttemptStore) GetAttempt(_ context.Context, ip string) (Attempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attempts[ip]
	if !ok {
		return Attempt{IP: ip}, false, nil
	}
	return rec.snapshot(), true, nil
}

func (s *MemoryAttemptStore) RegisterFailure(_ context.Context, ip string, maxAttempts int, lockDuration time.Duration, now time.Time) (Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attempts[ip]
	if ok && rec.lockedAt(now) {
		return rec.snapshot(), nil
	}
	if !ok || rec.LockedUntil != nil {
		rec = &memoryAttempt{Attempt: Attempt{IP: ip, FirstAttempt: now}}
		s.attempts[ip] = rec
	}

	rec.Count++
	rec.updatedAt = now
	if rec.Count >= maxAttempts {
		until := now.Add(lockDuration)
		rec.LockedUntil = &until
	}

	return rec.snapshot(), nil
}

func (s *MemoryAttemptStore) ResetAttempts(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.attempts, ip)
	return nil
}

func (s *MemoryAttemptStore) DeleteStaleAttempts(_ context.Context, cutoff time.Time, now time.Time, batchSize int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int64
	for ip, rec := range s.attempts {
		if batchSize > 0 && deleted >= int64(batchSize) {
			break
		}
		if rec.updatedAt.Before(cutoff) && !rec.lockedAt(now) {
			delete(s.attempts, ip)
			deleted++
		}
	}
	return deleted, nil
}

func (m *memoryAttempt) snapshot() Attempt {
	out := m.Attempt
	if m.LockedUntil != nil {
		until := *m.LockedUntil
		out.LockedUntil = &until
	}
	return out
}
