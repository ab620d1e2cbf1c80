// Package lock implements an advisory per-resource lock used to serialize
// full price-set recomputes. Callers that fail to acquire must abort rather
// than wait; the protected operation is retried on the next scheduled tick,
// so queuing would only build backlog.
package lock

import (
	"sync"
	"time"
)

// DefaultTimeout is how long a holder may keep a lock before another
// operation is allowed to reclaim it.
const DefaultTimeout = 30 * time.Second

type held struct {
	operationID string
	acquiredAt  time.Time
}

// Table tracks at most one live lock per resource ID.
type Table struct {
	mu      sync.Mutex
	timeout time.Duration
	locks   map[string]held
	now     func() time.Time
}

// NewTable creates a lock table. A timeout <= 0 uses DefaultTimeout.
func NewTable(timeout time.Duration) *Table {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Table{
		timeout: timeout,
		locks:   make(map[string]held),
		now:     time.Now,
	}
}

// Acquire installs a lock for resourceID on behalf of operationID. It returns
// false without blocking if a live, non-expired lock held by another
// operation exists. A lock whose holder exceeded the timeout is evicted and
// replaced atomically.
func (t *Table) Acquire(resourceID, operationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if h, ok := t.locks[resourceID]; ok {
		if h.operationID == operationID {
			return true
		}
		if now.Sub(h.acquiredAt) < t.timeout {
			return false
		}
		// stale holder, reclaim
	}
	t.locks[resourceID] = held{operationID: operationID, acquiredAt: now}
	return true
}

// Release removes the lock for resourceID if operationID holds it. Releasing
// a lock you don't own, or one that doesn't exist, reports failure but has no
// other effect.
func (t *Table) Release(resourceID, operationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.locks[resourceID]
	if !ok || h.operationID != operationID {
		return false
	}
	delete(t.locks, resourceID)
	return true
}

// Holder returns the operation currently holding resourceID, ignoring
// expiry, or "" when unheld.
func (t *Table) Holder(resourceID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.locks[resourceID].operationID
}
