package idempotency

import (
	"context"
	"sync"
	"time"
)

// sweepEvery controls how often a claim also drops every expired record.
// Idle stores rely on PurgeExpired instead.
const sweepEvery = 256

// memoryRecord is one stored key.
type memoryRecord struct {
	state       State
	fingerprint string
	response    Response
	expiresAt   time.Time
}

// MemoryStore is a process-local Store for tests and single-node runs.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	records map[string]memoryRecord
	claims  int
}

// NewMemoryStore constructs a memory store. A nil clock uses time.Now.
func NewMemoryStore(ttl time.Duration, now func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		ttl:     ttl,
		now:     now,
		records: map[string]memoryRecord{},
	}
}

// Claim implements Store.
func (s *MemoryStore) Claim(_ context.Context, key, fingerprint string) (ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.claims++
	if s.claims%sweepEvery == 0 {
		s.sweepLocked(now)
	}
	if rec, ok := s.records[key]; ok && now.Before(rec.expiresAt) {
		return resultFor(rec), nil
	}
	s.records[key] = memoryRecord{
		state:       StatePending,
		fingerprint: fingerprint,
		expiresAt:   now.Add(s.ttl),
	}
	return ClaimResult{Outcome: ClaimFresh}, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, key string, resp Response) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok || !s.now().Before(rec.expiresAt) {
		return nil
	}
	rec.state = StateCompleted
	rec.response = cloneResponse(resp)
	s.records[key] = rec
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && rec.state == StatePending {
		delete(s.records, key)
	}
	return nil
}

// Len reports the number of live records.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.records)
}

// PurgeExpired drops every expired record and reports how many went.
func (s *MemoryStore) PurgeExpired(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(s.now()), nil
}

// sweepLocked drops expired records. Callers hold s.mu.
func (s *MemoryStore) sweepLocked(now time.Time) int64 {
	var purged int64
	for key, rec := range s.records {
		if !now.Before(rec.expiresAt) {
			delete(s.records, key)
			purged++
		}
	}
	return purged
}

// resultFor converts a live record into a claim result.
func resultFor(rec memoryRecord) ClaimResult {
	if rec.state == StateCompleted {
		return ClaimResult{
			Outcome:     ClaimCompleted,
			Fingerprint: rec.fingerprint,
			Response:    cloneResponse(rec.response),
		}
	}
	return ClaimResult{Outcome: ClaimPending, Fingerprint: rec.fingerprint}
}
