package common

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// NameLocker hands out exclusive, non-blocking claims on model names.
// ok is false when another holder already has the name.
type NameLocker interface {
	TryLock(ctx context.Context, name string) (release func(), ok bool, err error)
}

// LocalLocker serializes names within one process
type LocalLocker struct {
	mutex sync.Mutex
	held  map[string]struct{}
}

// NewLocalLocker creates an empty in-process locker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]struct{})}
}

// TryLock claims name if nobody in this process holds it
func (l *LocalLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	l.mutex.Lock()
	defer l.mutex.Unlock()

	if _, busy := l.held[name]; busy {
		return nil, false, nil
	}
	l.held[name] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mutex.Lock()
			delete(l.held, name)
			l.mutex.Unlock()
		})
	}, true, nil
}

// RedisLocker serializes names across processes sharing one store
type RedisLocker struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
}

// NewRedisLocker creates a locker whose leases live for at most ttl
func NewRedisLocker(cache *Cache, ttl time.Duration) *RedisLocker {
	return &RedisLocker{cache: cache, prefix: "rvcstore:lock:", ttl: ttl}
}

// TryLock takes a Redis lease on name
func (r *RedisLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	key := r.prefix + name
	token := uuid.NewString()

	ok, err := r.cache.AcquireLease(ctx, key, token, r.ttl)
	if err != nil || !ok {
		return nil, false, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// the request context may already be done when we release
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.cache.ReleaseLease(ctx, key, token); err != nil {
				log.Warn().Err(err).Str("model", name).Msg("failed to release model lease")
			}
		})
	}, true, nil
}

// ChainLocker takes every locker in order and holds all of them
type ChainLocker []NameLocker

// TryLock claims name from each locker, releasing earlier claims if a later one fails
func (c ChainLocker) TryLock(ctx context.Context, name string) (func(), bool, error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, locker := range c {
		release, ok, err := locker.TryLock(ctx, name)
		if err != nil || !ok {
			releaseAll()
			return nil, false, err
		}
		releases = append(releases, release)
	}
	return releaseAll, true, nil
}
