// Package lock provides keyed mutual exclusion for aggregate writes.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrNotObtained indicates the lock could not be acquired before the deadline.
var ErrNotObtained = errors.New("lock: not obtained")

// Release frees a held lock.
type Release func()

// Locker acquires exclusive locks by key.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

// With runs fn while holding key.
func With(ctx context.Context, locker Locker, key string, fn func(context.Context) error) error {
	release, err := locker.Acquire(ctx, key)
	if err != nil {
		return err
	}
	defer release()
	return fn(ctx)
}

// RedisLocker is a distributed Locker backed by bsm/redislock.
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewRedisLocker builds a locker whose leases expire after ttl.
func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl, retry: 50 * time.Millisecond}
}

// Acquire blocks until key is held or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Release, error) {
	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.ttl)
		defer cancel()
	}
	held, err := l.client.Obtain(waitCtx, key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.retry),
	})
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrNotObtained, key)
		}
		return nil, fmt.Errorf("lock: obtain %s: %w", key, err)
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = held.Release(ctx)
	}, nil
}

// LocalLocker is an in-process keyed mutex.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker constructs an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

// Acquire blocks until key is held or ctx is done.
func (l *LocalLocker) Acquire(ctx context.Context, key string) (Release, error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, s)
		return nil, fmt.Errorf("%w: %s: %v", ErrNotObtained, key, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
