package market

import "sync"

// marketLocks serializes mutating operations per market id, so a
// resolution can never interleave with a concurrent bet on the same
// market. Locks are created on first use and never removed — markets are
// never deleted, and the per-market footprint is one mutex.
type marketLocks struct {
	mu sync.Map // market id → *sync.Mutex
}

// lock acquires the mutex for a market id and returns its unlock func.
func (l *marketLocks) lock(marketID string) func() {
	v, _ := l.mu.LoadOrStore(marketID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
