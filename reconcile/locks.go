package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// keyedLocks hands out one context-aware mutex per key. Waiters queue in arrival order.
// It also stamps each key with the sequence number of its last write, so a pass that read
// provider state before taking the lock can tell the key moved underneath it.
type keyedLocks struct {
	mu    sync.RWMutex
	locks map[string]*semaphore.Weighted

	seq     atomic.Uint64
	stampMu sync.Mutex
	stamps  map[string]uint64
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{
		locks:  make(map[string]*semaphore.Weighted),
		stamps: make(map[string]uint64),
	}
}

// sequence returns the current write sequence. Take it before reading state the stamps guard.
func (k *keyedLocks) sequence() uint64 {
	return k.seq.Load()
}

// touch records a write to key. Call it while holding key's lock.
func (k *keyedLocks) touch(key string) {
	n := k.seq.Add(1)
	k.stampMu.Lock()
	k.stamps[key] = n
	k.stampMu.Unlock()
}

// touchedSince reports whether key was written after sequence since was taken.
func (k *keyedLocks) touchedSince(key string, since uint64) bool {
	k.stampMu.Lock()
	defer k.stampMu.Unlock()
	return k.stamps[key] > since
}

func (k *keyedLocks) get(key string) *semaphore.Weighted {
	k.mu.RLock()
	if l, ok := k.locks[key]; ok {
		k.mu.RUnlock()
		return l
	}
	k.mu.RUnlock()

	k.mu.Lock()
	defer k.mu.Unlock()
	// Double-check in case another goroutine created it
	if l, ok := k.locks[key]; ok {
		return l
	}
	l := semaphore.NewWeighted(1)
	k.locks[key] = l
	return l
}

// Lock blocks until key is free or ctx ends.
func (k *keyedLocks) Lock(ctx context.Context, key string) (func(), error) {
	l := k.get(key)
	if err := l.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { l.Release(1) }) }, nil
}

// RedisScopeLocker serializes "all" runs across service instances.
// The lock is refreshed while held so long passes keep it.
type RedisScopeLocker struct {
	Client *redislock.Client
	TTL    time.Duration
	Retry  time.Duration
	Logger *logrus.Logger
}

func NewRedisScopeLocker(client *redislock.Client, ttl time.Duration, logger *logrus.Logger) *RedisScopeLocker {
	return &RedisScopeLocker{Client: client, TTL: ttl, Retry: 500 * time.Millisecond, Logger: logger}
}

func (r *RedisScopeLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := "reconcile:sync:" + key
	for {
		lock, err := r.Client.Obtain(ctx, lockKey, r.TTL, &redislock.Options{
			RetryStrategy: redislock.LinearBackoff(r.Retry),
		})
		if err == nil {
			return r.hold(lock, key), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !errors.Is(err, redislock.ErrNotObtained) {
			return nil, err
		}
	}
}

func (r *RedisScopeLocker) hold(lock *redislock.Lock, key string) func() {
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(r.TTL / 2)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := lock.Refresh(context.Background(), r.TTL, nil); err != nil && r.Logger != nil {
					r.Logger.WithFields(logrus.Fields{"scope": key}).Warnf("refresh sync lock: %v", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) && r.Logger != nil {
				r.Logger.WithFields(logrus.Fields{"scope": key}).Warnf("release sync lock: %v", err)
			}
		})
	}
}
