package persona

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// pkgLock is a FIFO exclusive lock whose waiters can give up via context.
type pkgLock struct {
	sem *semaphore.Weighted
}

func (l *pkgLock) acquire(ctx context.Context) (func(), error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.sem.Release(1) }) }, nil
}

// keyedLocks hands out one pkgLock per canonical package path.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[string]*pkgLock
}

var locks = &keyedLocks{locks: make(map[string]*pkgLock)}

func (k *keyedLocks) get(key string) *pkgLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &pkgLock{sem: semaphore.NewWeighted(1)}
		k.locks[key] = l
	}
	return l
}
