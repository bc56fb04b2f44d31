package checkpoint

import (
	"context"
	"sync"
)

// Locks serializes work per thread. Different threads never block each
// other, and waiting honours context cancellation.
type Locks struct {
	mu      sync.Mutex
	threads map[string]*threadLock
}

// threadLock is a one-slot semaphore; holding the slot holds the lock.
// refs counts holders and waiters so idle entries can be dropped.
type threadLock struct {
	slot chan struct{}
	refs int
}

// NewLocks creates an empty lock table.
func NewLocks() *Locks {
	return &Locks{threads: make(map[string]*threadLock)}
}

// Lock blocks until threadID is free or ctx is done. The returned unlock
// function is idempotent.
func (l *Locks) Lock(ctx context.Context, threadID string) (unlock func(), err error) {
	l.mu.Lock()
	tl, ok := l.threads[threadID]
	if !ok {
		tl = &threadLock{slot: make(chan struct{}, 1)}
		l.threads[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.slot <- struct{}{}:
	case <-ctx.Done():
		l.release(threadID, tl)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-tl.slot
			l.release(threadID, tl)
		})
	}, nil
}

func (l *Locks) release(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.threads, threadID)
	}
}

// Len reports how many threads are locked or awaited.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.threads)
}
