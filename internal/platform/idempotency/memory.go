package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps keys in process. Expired records are dropped lazily on access.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !now.Before(rec.ExpiresAt) {
		s.records[key] = pendingRecord(fingerprint, now.Add(ttl))
		return OutcomeNew, Record{}, nil
	}
	outcome, err := classify(rec, fingerprint)
	return outcome, rec, err
}

func (s *MemoryStore) Complete(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[key] = completedRecord(fingerprint, resp, now.Add(ttl))
	return nil
}

func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}
