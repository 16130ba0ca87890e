package assessment

import (
	"context"
	"fmt"
	"sync"
)

// DefaultStoreCapacity bounds the in-memory store.
const DefaultStoreCapacity = 1000

// Store persists final assessments for presentation.
type Store interface {
	Record(ctx context.Context, a RiskAssessment) error
	Get(ctx context.Context, transactionID string) (RiskAssessment, error)
	ListRecent(ctx context.Context, limit int) ([]RiskAssessment, error)
}

// MemoryStore keeps the most recent assessments in insertion order and
// evicts the oldest once capacity is reached.
type MemoryStore struct {
	mu       sync.RWMutex
	capacity int
	order    []string // oldest first
	byID     map[string]RiskAssessment
}

// NewMemoryStore creates a store holding at most capacity assessments.
// Non-positive capacity uses DefaultStoreCapacity.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultStoreCapacity
	}
	return &MemoryStore{
		capacity: capacity,
		order:    make([]string, 0, capacity),
		byID:     make(map[string]RiskAssessment, capacity),
	}
}

// Record stores a copy of a. Re-recording a transaction replaces the earlier
// assessment and moves it to the newest position.
func (s *MemoryStore) Record(_ context.Context, a RiskAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[a.TransactionID]; ok {
		s.removeLocked(a.TransactionID)
	}
	for len(s.order) >= s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.byID, oldest)
	}
	s.order = append(s.order, a.TransactionID)
	s.byID[a.TransactionID] = a.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, transactionID string) (RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.byID[transactionID]
	if !ok {
		return RiskAssessment{}, fmt.Errorf("%w: %s", ErrNotFound, transactionID)
	}
	return a.clone(), nil
}

// ListRecent returns up to limit assessments, newest first. A non-positive
// limit returns everything.
func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]RiskAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.order)
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]RiskAssessment, 0, n)
	for i := len(s.order) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, s.byID[s.order[i]].clone())
	}
	return result, nil
}

// Len returns the number of stored assessments.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *MemoryStore) removeLocked(id string) {
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	delete(s.byID, id)
}
