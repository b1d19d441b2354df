package locker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/krobus00/crypto-catalog-service/internal/entity"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	defaultRedisLockTTL   = 30 * time.Second
	defaultRetryInterval  = 50 * time.Millisecond
	releaseTimeout        = 5 * time.Second
	redisLockKeyNamespace = "asset-lock"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// RedisSymbolLocker holds per-symbol locks in redis so replicas sharing the
// same database serialize their writes. The ttl bounds how long a crashed
// holder blocks others.
type RedisSymbolLocker struct {
	client        *redis.Client
	ttl           time.Duration
	retryInterval time.Duration
}

func NewRedisSymbolLocker(client *redis.Client, ttl time.Duration) *RedisSymbolLocker {
	if ttl <= 0 {
		ttl = defaultRedisLockTTL
	}

	return &RedisSymbolLocker{
		client:        client,
		ttl:           ttl,
		retryInterval: defaultRetryInterval,
	}
}

func (l *RedisSymbolLocker) Lock(ctx context.Context, symbol string) (func(), error) {
	key := lockKey(symbol)
	owner := uuid.NewString()

	ticker := time.NewTicker(l.retryInterval)
	defer ticker.Stop()

	for {
		acquired, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if acquired {
			return func() { l.release(key, owner) }, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *RedisSymbolLocker) release(key string, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()

	_, err := releaseScript.Run(ctx, l.client, []string{key}, owner).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logrus.WithError(err).WithField("lock_key", key).Warn("failed to release symbol lock")
	}
}

func lockKey(symbol string) string {
	return fmt.Sprintf("%s:%s", redisLockKeyNamespace, entity.NormalizeSymbol(symbol))
}
