package timeoff

import "sync"

// keyLock is a set of mutexes indexed by snapshot key. Entries are reference
// counted and dropped once no goroutine holds or waits on them.
type keyLock struct {
	mu    sync.Mutex
	locks map[Key]*keyLockEntry
}

type keyLockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[Key]*keyLockEntry)}
}

// Lock blocks until key is free and returns the matching unlock.
func (l *keyLock) Lock(key Key) (unlock func()) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyLockEntry{}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// size is the number of live entries.
func (l *keyLock) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
