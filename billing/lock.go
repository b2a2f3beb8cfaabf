package billing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/warp/tenant-ledger/ledger"
)

// Locker serializes work on one key across goroutines (KeyedMutex) or
// across processes (redislock.Locker). Lock blocks until the key is held
// or ctx is done; the returned func releases it and is safe to call twice.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// TenantLockKey is the lock key for all writes on a tenant's sub-ledger.
func TenantLockKey(tenant ledger.TenantID) string {
	return "tenant:" + string(tenant)
}

// KeyedMutex is an in-process Locker with one mutex per key. Entries are
// removed once nobody holds or waits for them.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[string]*keyLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-l.ch
				k.release(key, l)
			})
		}, nil
	case <-ctx.Done():
		k.release(key, l)
		return nil, fmt.Errorf("%w: %s: %v", ledger.ErrLockTimeout, key, ctx.Err())
	}
}

func (k *KeyedMutex) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// Len returns the number of keys currently held or awaited.
func (k *KeyedMutex) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

// WithTimeout bounds every Lock call on l by d. A non-positive d returns l.
func WithTimeout(l Locker, d time.Duration) Locker {
	if d <= 0 {
		return l
	}
	return timeoutLocker{l, d}
}

type timeoutLocker struct {
	Locker
	timeout time.Duration
}

func (t timeoutLocker) Lock(ctx context.Context, key string) (func(), error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.Locker.Lock(ctx, key)
}
