package ingest

import (
	"sync"
	"time"
)

type lockKey struct {
	point string
	ts    int64
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocker serialises work per (point, timestamp). Entries exist only while
// a holder or waiter references them, so the table never grows past the
// number of in-flight samples.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[lockKey]*lockEntry
}

// NewKeyedLocker creates an empty lock table
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[lockKey]*lockEntry)}
}

// Acquire blocks until the caller owns the key and returns the release
// function. Calling release more than once is a no-op.
func (l *KeyedLocker) Acquire(pointCode string, ts time.Time) (release func()) {
	key := lockKey{point: pointCode, ts: ts.UnixNano()}

	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			entry.mu.Unlock()

			l.mu.Lock()
			entry.refs--
			if entry.refs == 0 {
				delete(l.entries, key)
			}
			l.mu.Unlock()
		})
	}
}

// Len returns the number of live entries
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
