package service

import (
	"context"
	"fmt"
	"sync"
)

// SubmissionGuard serializes submissions sharing a key. Acquire blocks until
// the key is free or ctx ends and returns the release function.
type SubmissionGuard interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// KeyedLock is an in-process SubmissionGuard.
type KeyedLock struct {
	mu    sync.Mutex
	locks map[string]*keyedEntry
}

type keyedEntry struct {
	sem  chan struct{}
	refs int
}

// NewKeyedLock creates an empty keyed lock.
func NewKeyedLock() *KeyedLock {
	return &KeyedLock{locks: make(map[string]*keyedEntry)}
}

// Acquire takes the lock for key.
func (l *KeyedLock) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &keyedEntry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, e)
		return nil, fmt.Errorf("acquire submission lock %s: %w", key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-e.sem
			l.unref(key, e)
		})
	}, nil
}

func (l *KeyedLock) unref(key string, e *keyedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *KeyedLock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

func guardKey(contentID, userID string) string {
	return contentID + ":" + userID
}
