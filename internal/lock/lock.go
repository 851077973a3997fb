package redlock

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock cannot be acquired within the wait
// timeout. Callers must treat it as a hard failure: without the lock no
// ledger invariant can be guaranteed.
type ErrLockTimeout struct {
	Key string
}

func (e ErrLockTimeout) Error() string {
	return fmt.Sprintf("failed to acquire lock for key %s within the wait timeout", e.Key)
}

// Locker is a cross-process exclusive lock backed by an atomic Redis SETNX.
// The value identifies the holder so only the holder can unlock or renew.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

// Lock attempts a single acquisition. The ttl bounds how long the lock can be
// held before it expires on its own, guarding against a crashed holder.
func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	success, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !success {
		return fmt.Errorf("lock for key %s is already held", l.key)
	}
	return nil
}

// Unlock releases the lock only if this locker is still the holder.
func (l *Locker) Unlock(ctx context.Context) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// ExtendLock renews the ttl if this locker is still the holder.
func (l *Locker) ExtendLock(ctx context.Context, extension time.Duration) error {
	script := "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('pexpire', KEYS[1], ARGV[2]) else return 0 end"
	result, err := l.client.Eval(ctx, script, []string{l.key}, l.value, fmt.Sprintf("%d", extension.Milliseconds())).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("lock extension failed for key %s, either lock expired or you're not the holder", l.key)
	}
	return nil
}

// WaitLock spins with jittered sleeps until the lock is acquired or the wait
// timeout elapses. Every wait is bounded; on timeout an ErrLockTimeout is
// returned, never a silent skip.
func (l *Locker) WaitLock(ctx context.Context, lockTTL, waitTimeout time.Duration) error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err := l.Lock(ctx, lockTTL)
		if err == nil {
			return nil
		}
		time.Sleep(time.Duration(rand.Intn(100)) * time.Millisecond)
	}
	return ErrLockTimeout{Key: l.key}
}
