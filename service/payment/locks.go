package payment

import (
	"context"
	"slices"
	"sync"
)

// AccountLocks serialises payments in one process on the accounts their
// routes touch. Locks are always taken in ascending id order so two
// payments over overlapping account sets cannot deadlock.
type AccountLocks struct {
	mu    sync.Mutex
	locks map[string]*accountLock
}

type accountLock struct {
	sem  chan struct{}
	refs int
}

// NewAccountLocks returns an empty lock set.
func NewAccountLocks() *AccountLocks {
	return &AccountLocks{locks: make(map[string]*accountLock)}
}

// Acquire blocks until every id is held or ctx is done. The returned
// release func frees them all and must be called exactly once.
func (l *AccountLocks) Acquire(ctx context.Context, ids []string) (func(), error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]string, 0, len(sorted))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, id := range sorted {
		lk := l.ref(id)
		select {
		case lk.sem <- struct{}{}:
			held = append(held, id)
		case <-ctx.Done():
			l.unref(id)
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

// Held reports how many accounts currently have a lock entry.
func (l *AccountLocks) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func (l *AccountLocks) ref(id string) *accountLock {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk, ok := l.locks[id]
	if !ok {
		lk = &accountLock{sem: make(chan struct{}, 1)}
		l.locks[id] = lk
	}
	lk.refs++
	return lk
}

func (l *AccountLocks) unref(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lk := l.locks[id]
	lk.refs--
	if lk.refs == 0 {
		delete(l.locks, id)
	}
}

func (l *AccountLocks) unlock(id string) {
	l.mu.Lock()
	lk := l.locks[id]
	l.mu.Unlock()
	<-lk.sem
	l.unref(id)
}
