package locker

import (
	"context"
	"sync"

	"github.com/krobus00/crypto-catalog-service/internal/entity"
)

type localLock struct {
	ch   chan struct{}
	refs int
}

// LocalSymbolLocker is an in-process keyed mutex. Entries are dropped once no
// caller holds or waits for them.
type LocalSymbolLocker struct {
	mu    sync.Mutex
	locks map[string]*localLock
}

func NewLocalSymbolLocker() *LocalSymbolLocker {
	return &LocalSymbolLocker{locks: make(map[string]*localLock)}
}

func (l *LocalSymbolLocker) Lock(ctx context.Context, symbol string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := entity.NormalizeSymbol(symbol)

	l.mu.Lock()
	lock, ok := l.locks[key]
	if !ok {
		lock = &localLock{ch: make(chan struct{}, 1)}
		l.locks[key] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(key, lock)
		})
	}, nil
}

func (l *LocalSymbolLocker) release(key string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, key)
	}
}

func (l *LocalSymbolLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.locks)
}
