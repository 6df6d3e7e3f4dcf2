package shared

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// BOMRecalcLockKey builds redis keys for summary recalculation critical sections.
func BOMRecalcLockKey(bomID string) string {
	return fmt.Sprintf("bom:%s:recalc:lock", bomID)
}

// releaseScript deletes the lock only when still held by this owner.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// RedisLocker serializes critical sections with a redis lease. Acquisition is
// best-effort: after the acquire window expires the callback runs anyway, so a
// stuck holder degrades to last-write-wins instead of blocking recalculation.
type RedisLocker struct {
	client        *redis.Client
	leaseTTL      time.Duration
	acquireWindow time.Duration
	retryEvery    time.Duration
	logger        *slog.Logger
}

// NewRedisLocker constructs a locker with the given lease TTL.
func NewRedisLocker(client *redis.Client, leaseTTL time.Duration, logger *slog.Logger) *RedisLocker {
	if leaseTTL <= 0 {
		leaseTTL = 30 * time.Second
	}
	return &RedisLocker{
		client:        client,
		leaseTTL:      leaseTTL,
		acquireWindow: 5 * time.Second,
		retryEvery:    50 * time.Millisecond,
		logger:        logger,
	}
}

// WithLock runs fn while holding the named lock.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	owner := uuid.New().String()
	acquired := false
	deadline := time.Now().Add(l.acquireWindow)
	for {
		ok, err := l.client.SetNX(ctx, key, owner, l.leaseTTL).Result()
		if err != nil {
			if l.logger != nil {
				l.logger.Warn("lock acquire failed, proceeding without lock", slog.String("key", key), slog.Any("error", err))
			}
			break
		}
		if ok {
			acquired = true
			break
		}
		if time.Now().After(deadline) {
			if l.logger != nil {
				l.logger.Warn("lock contention window expired, proceeding without lock", slog.String("key", key))
			}
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryEvery):
		}
	}
	if acquired {
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.client, []string{key}, owner).Err(); err != nil && err != redis.Nil {
				if l.logger != nil {
					l.logger.Warn("lock release failed", slog.String("key", key), slog.Any("error", err))
				}
			}
		}()
	}
	return fn(ctx)
}
