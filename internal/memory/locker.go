package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
	"github.com/google/uuid"
)

type lockEntry struct {
	token   string
	expires time.Time
}

// Locker mirrors redisx.Locker: owner token, TTL expiry, bounded wait.
type Locker struct {
	Poll time.Duration

	mu    sync.Mutex
	locks map[string]lockEntry
}

func NewLocker() *Locker {
	return &Locker{Poll: 2 * time.Millisecond, locks: map[string]lockEntry{}}
}

func (l *Locker) TryAcquire(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.locks[key]; ok && time.Now().Before(e.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.locks[key] = lockEntry{token: token, expires: time.Now().Add(ttl)}
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if e, ok := l.locks[key]; ok && e.token == token {
			delete(l.locks, key)
		}
		return nil
	}, true, nil
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (func(context.Context) error, error) {
	deadline := time.Now().Add(wait)
	for {
		release, ok, _ := l.TryAcquire(ctx, key, ttl)
		if ok {
			return release, nil
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%s: %w", key, redisx.ErrLockTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.Poll):
		}
	}
}

// Held reports whether key is currently locked.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	return ok && time.Now().Before(e.expires)
}
