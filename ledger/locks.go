package ledger

import "sync"

// UserLocks serializes mutations per user id. Click confirmation and
// transaction application for the same account must not interleave;
// different accounts proceed independently.
type UserLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func NewUserLocks() *UserLocks {
	return &UserLocks{locks: make(map[int64]*sync.Mutex)}
}

func (l *UserLocks) get(userID int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[userID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[userID] = m
	}
	return m
}

// Lock acquires the user's mutex and returns the unlock.
func (l *UserLocks) Lock(userID int64) func() {
	m := l.get(userID)
	m.Lock()
	return m.Unlock
}

// LockPair acquires two users' mutexes in ascending user-id order so
// concurrent transfers between the same pair cannot deadlock.
func (l *UserLocks) LockPair(a, b int64) func() {
	if a == b {
		return l.Lock(a)
	}
	if a > b {
		a, b = b, a
	}
	first, second := l.get(a), l.get(b)
	first.Lock()
	second.Lock()
	return func() {
		second.Unlock()
		first.Unlock()
	}
}
