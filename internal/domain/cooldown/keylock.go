package cooldown

import (
	"context"
	"sync"
)

// entry is a one-slot semaphore shared by every waiter on a key.
type entry struct {
	sem  chan struct{}
	refs int
}

// keyLock serialises work per key. Unlike a sync.Mutex it can be abandoned
// when the caller's context ends, and entries are dropped once no caller
// holds or waits on them so the map stays bounded by in-flight keys.
type keyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
	pool    sync.Pool
}

func newKeyLock() *keyLock {
	return &keyLock{
		entries: make(map[string]*entry),
		pool: sync.Pool{
			New: func() any { return &entry{sem: make(chan struct{}, 1)} },
		},
	}
}

// Lock blocks until key is held or ctx is done. The returned func
// releases the key and must be called exactly once.
func (l *keyLock) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = l.pool.Get().(*entry)
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		return func() {
			<-e.sem
			l.release(key, e)
		}, nil
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}
}

func (l *keyLock) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
		l.pool.Put(e)
	}
}

// Size returns the number of keys currently held or awaited.
func (l *keyLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
