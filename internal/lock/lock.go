// Package lock serialises deployments per chain and account.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLocked is returned when another process holds the lock.
	ErrLocked = errors.New("lock: deployment already in progress for this account")
	// ErrLeaseLost is the cause set when a held lock expires or is taken over.
	ErrLeaseLost = errors.New("lock: lease lost")
)

// releaseScript deletes the key only if it still holds our token.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// renewScript extends the TTL only if the key still holds our token.
const renewScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// Locker acquires named locks.
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
	// Lost is closed when the lease can no longer be renewed.
	Lost() <-chan struct{}
}

// Key builds the lock key for a deployer account on a chain.
func Key(chainID int64, account string) string {
	return fmt.Sprintf("lanseller:deploy-lock:%d:%s", chainID, strings.ToLower(account))
}

// RedisClient is the subset of the go-redis client used by RedisLocker.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisLocker implements Locker with SET NX and a TTL. A held lease is
// renewed every third of the TTL until released, so the TTL only bounds how
// long a crashed process can block others.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker backed by Redis.
func NewRedisLocker(client RedisClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl}
}

// Acquire takes the lock or returns ErrLocked. The lease is renewed until
// it is released or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (%s)", ErrLocked, key)
	}

	lease := &redisLease{
		client: l.client,
		key:    key,
		token:  token,
		ttl:    l.ttl,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		lost:   make(chan struct{}),
	}
	go lease.keepAlive(ctx)
	return lease, nil
}

type redisLease struct {
	client RedisClient
	key    string
	token  string
	ttl    time.Duration

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	lost     chan struct{}
}

func (l *redisLease) keepAlive(ctx context.Context) {
	defer close(l.done)

	interval := max(l.ttl/3, time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case <-ticker.C:
		}

		n, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.token, l.ttl.Milliseconds()).Int64()
		if err != nil {
			// Retried on the next tick.
			continue
		}
		if n == 0 {
			close(l.lost)
			return
		}
	}
}

func (l *redisLease) Lost() <-chan struct{} { return l.lost }

func (l *redisLease) Release(ctx context.Context) error {
	l.stopOnce.Do(func() { close(l.stop) })
	<-l.done

	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.key, err)
	}
	return nil
}

// Noop is a Locker that always succeeds. It is used when Redis is not configured.
type Noop struct{}

// Acquire returns a lease that does nothing.
func (Noop) Acquire(context.Context, string) (Lease, error) {
	return noopLease{}, nil
}

type noopLease struct{}

func (noopLease) Release(context.Context) error { return nil }

func (noopLease) Lost() <-chan struct{} { return nil }

var (
	_ Locker      = (*RedisLocker)(nil)
	_ Locker      = Noop{}
	_ RedisClient = (*redis.Client)(nil)
)
