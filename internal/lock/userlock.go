package lock

import "sync"

// UserLocks serializes operations per user within one process. Go mutexes
// hand off to the longest waiter under contention, which gives the FIFO
// fairness point operations need. Entries are reference counted and pruned
// when idle so the table does not grow with the user population.
type UserLocks struct {
	mu      sync.Mutex
	entries map[int64]*userLockEntry
}

type userLockEntry struct {
	mu   sync.Mutex
	refs int
}

// NewUserLocks creates an empty lock table.
func NewUserLocks() *UserLocks {
	return &UserLocks{entries: make(map[int64]*userLockEntry)}
}

// Lock blocks until the per-user lock is held and returns the unlock func.
func (l *UserLocks) Lock(userID int64) func() {
	l.mu.Lock()
	e, ok := l.entries[userID]
	if !ok {
		e = &userLockEntry{}
		l.entries[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, userID)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of live entries; used by tests to verify pruning.
func (l *UserLocks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
