/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lock serializes slot bookings per calendar day across goroutines
// and, with Redis, across instances.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	defaultKeyPrefix = "anomalyops:lock:"
	defaultTTL       = 10 * time.Second
	defaultRetry     = 50 * time.Millisecond
)

// ErrNotAcquired is returned when the lock stays held until ctx ends.
var ErrNotAcquired = errors.New("lock not acquired")

// Locker hands out exclusive leases on keys.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// DayKey names the lock guarding bookings on the calendar day of t.
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return "day:" + t.In(loc).Format("2006-01-02")
}

// RedisLocker implements Locker with SET NX PX and a compare-and-delete release.
type RedisLocker struct {
	client *redis.Client
	logger zerolog.Logger
	prefix string
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker creates a Redis locker on an existing client.
func NewRedisLocker(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{
		client: client,
		logger: logger.With().Str("component", "lock").Logger(),
		prefix: defaultKeyPrefix,
		ttl:    ttl,
		retry:  defaultRetry,
	}
}

// Acquire retries until the key is free or ctx ends.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	full := l.prefix + key

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
			}
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			return &redisLease{client: l.client, key: full, token: token, logger: l.logger}, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

type redisLease struct {
	client *redis.Client
	key    string
	token  string
	logger zerolog.Logger
}

// Release deletes the key only if this lease still owns it.
func (r *redisLease) Release(ctx context.Context) error {
	n, err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Int()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", r.key, err)
	}
	if n == 0 {
		r.logger.Warn().Str("key", r.key).Msg("lock expired before release")
	}
	return nil
}

// LocalLocker implements Locker in process.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

// Acquire blocks until key is free or ctx ends.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return &localLease{owner: l, key: key, done: done}, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, ctx.Err())
		case <-wait:
		}
	}
}

type localLease struct {
	owner *LocalLocker
	key   string
	done  chan struct{}
	once  sync.Once
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		if l.owner.held[l.key] == l.done {
			delete(l.owner.held, l.key)
		}
		l.owner.mu.Unlock()
		close(l.done)
	})
	return nil
}
