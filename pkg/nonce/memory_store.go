package nonce

import (
	"context"
	"sync"
)

// MemoryStore is a mutex-guarded in-process Store. It backs test and
// development execution, and doubles as the Generate fallback when the
// durable backend is unavailable. It is not safe for multi-process
// deployment; records vanish with the process.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Compile-time interface compliance check
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory nonce store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*Record),
	}
}

func (s *MemoryStore) Put(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.Nonce]; ok {
		return ErrNonceExists
	}
	stored := *record
	s.records[record.Nonce] = &stored
	return nil
}

func (s *MemoryStore) Get(_ context.Context, nonce string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[nonce]
	if !ok {
		return nil, ErrNonceNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, nonce string, from, to Status, usedAtMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[nonce]
	if !ok {
		return ErrNonceNotFound
	}
	if record.Status != from {
		return ErrStatusConflict
	}
	record.Status = to
	record.UsedAtMs = usedAtMs
	return nil
}

func (s *MemoryStore) CountByStatus(_ context.Context, status Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if record.Status == status {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) CountExpired(_ context.Context, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int64
	for _, record := range s.records {
		if record.Status == StatusActive && record.Expired(nowMs) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteExpiredBefore(_ context.Context, nowMs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for nonce, record := range s.records {
		if record.Expired(nowMs) {
			delete(s.records, nonce)
			removed++
		}
	}
	return removed, nil
}
