package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const lockKey = "bankledger:automation-scheduler"

// Locker lets one scheduler instance run a cycle at a time. A false
// acquired with a nil error means another instance holds the lock.
type Locker interface {
	TryLock(ctx context.Context) (release func(context.Context), acquired bool, err error)
}

// LocalLocker is used when no redis is configured; the process is assumed
// to be the only scheduler.
type LocalLocker struct{}

func (LocalLocker) TryLock(context.Context) (func(context.Context), bool, error) {
	return func(context.Context) {}, true, nil
}

type RedisLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
}

func NewRedisLocker(client *redis.Client, expiry time.Duration) *RedisLocker {
	return &RedisLocker{rs: redsync.New(goredis.NewPool(client)), expiry: expiry}
}

func (l *RedisLocker) TryLock(ctx context.Context) (func(context.Context), bool, error) {
	mutex := l.rs.NewMutex(lockKey, redsync.WithExpiry(l.expiry), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		if errors.Is(err, redsync.ErrFailed) || strings.Contains(err.Error(), "lock already taken") {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire scheduler lock: %w", err)
	}
	release := func(ctx context.Context) {
		_, _ = mutex.UnlockContext(ctx)
	}
	return release, true, nil
}
