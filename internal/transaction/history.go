package transaction

import "sync"

// DefaultHistoryCapacity matches the dashboard's recent-transactions window.
const DefaultHistoryCapacity = 50

// History is a bounded, newest-first buffer of recent transactions.
// Safe for concurrent use.
type History struct {
	mu       sync.RWMutex
	entries  []Transaction // oldest first; reversed on snapshot
	capacity int
}

// NewHistory creates a history buffer holding at most capacity entries.
// A non-positive capacity falls back to DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{
		entries:  make([]Transaction, 0, capacity),
		capacity: capacity,
	}
}

// Push appends a transaction, evicting the oldest when full.
func (h *History) Push(tx Transaction) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, tx)
	if len(h.entries) > h.capacity {
		// copy down instead of reslicing so the backing array doesn't grow forever
		n := copy(h.entries, h.entries[len(h.entries)-h.capacity:])
		h.entries = h.entries[:n]
	}
}

// Snapshot returns a copy of the buffer, most recent first.
func (h *History) Snapshot() []Transaction {
	h.mu.RLock()
	defer h.mu.RUnlock()

	result := make([]Transaction, len(h.entries))
	for i, tx := range h.entries {
		result[len(h.entries)-1-i] = tx
	}
	return result
}

// Len returns the number of buffered transactions.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Capacity returns the maximum number of buffered transactions.
func (h *History) Capacity() int {
	return h.capacity
}
