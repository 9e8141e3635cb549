package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"crosspost/internal/domain"
	"crosspost/internal/logger"
)

// recordScript increments the window counter and starts the window TTL on the first call.
// A counter found without TTL gets one so a window can never stay open forever.
var recordScript = goredis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 or redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// unlockScript deletes a pair lock only while it still holds the caller's token
var unlockScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

const (
	defaultLockTTL   = 10 * time.Minute
	lockRetryDelay   = 50 * time.Millisecond
	lockReleaseLimit = 5 * time.Second
)

// RedisLimiter keeps rate-limit windows in Redis so several processes share one counter.
// Redis errors fail open: admission is granted and the error is logged.
type RedisLimiter struct {
	client goredis.UniversalClient
	limits Limits
	prefix string
	log    logrus.FieldLogger

	lockTTL   time.Duration
	lockRetry time.Duration
}

// NewRedisLimiter creates a Redis-backed limiter. A nil log uses the global logger.
func NewRedisLimiter(client goredis.UniversalClient, limits Limits, log logrus.FieldLogger) *RedisLimiter {
	if log == nil {
		log = logger.L()
	}
	return &RedisLimiter{
		client: client,
		limits: limits,
		prefix:    "crosspost:ratelimit",
		log:       log,
		lockTTL:   defaultLockTTL,
		lockRetry: lockRetryDelay,
	}
}

// SetLockTTL bounds how long a pair lock outlives a process that died holding it
func (l *RedisLimiter) SetLockTTL(ttl time.Duration) {
	if ttl > 0 {
		l.lockTTL = ttl
	}
}

// LockPair serializes admit, publish and record of one (platform, account) pair across
// every process sharing the Redis instance. It waits until the lock is free or ctx is done.
// Redis errors fail open like admission does.
func (l *RedisLimiter) LockPair(ctx context.Context, platform domain.Platform, accountID string) (func(), error) {
	key := windowKey(l.prefix+":lock", platform, accountID)
	token := uuid.NewString()
	fields := logrus.Fields{"platform": platform, "account": accountID}

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.lockTTL).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			l.log.WithError(err).WithFields(fields).Warn("pair lock unavailable, continuing unlocked")
			return func() {}, nil
		}
		if ok {
			break
		}

		timer := time.NewTimer(l.lockRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseLimit)
			defer cancel()
			if err := unlockScript.Run(releaseCtx, l.client, []string{key}, token).Err(); err != nil {
				l.log.WithError(err).WithFields(fields).Warn("pair lock release failed, it expires on its own")
			}
		})
	}, nil
}

func (l *RedisLimiter) count(ctx context.Context, key string) (int, error) {
	n, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	return n, err
}

// Admit reports whether one more call fits in the current window
func (l *RedisLimiter) Admit(ctx context.Context, platform domain.Platform, accountID string) bool {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return true
	}
	n, err := l.count(ctx, windowKey(l.prefix, platform, accountID))
	if err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"platform": platform,
			"account":  accountID,
		}).Warn("rate limit lookup failed, admitting")
		return true
	}
	return n < limit.Max
}

// Record counts one confirmed successful call
func (l *RedisLimiter) Record(ctx context.Context, platform domain.Platform, accountID string) {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return
	}
	key := windowKey(l.prefix, platform, accountID)
	if err := recordScript.Run(ctx, l.client, []string{key}, limit.Window.Milliseconds()).Err(); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"platform": platform,
			"account":  accountID,
		}).Error("rate limit record failed")
	}
}

// Remaining returns how many calls are left in the current window
func (l *RedisLimiter) Remaining(ctx context.Context, platform domain.Platform, accountID string) int {
	limit, ok := l.limits.lookup(platform)
	if !ok {
		return Unlimited
	}
	n, err := l.count(ctx, windowKey(l.prefix, platform, accountID))
	if err != nil {
		return limit.Max
	}
	if n >= limit.Max {
		return 0
	}
	return limit.Max - n
}

// ResetAt returns when the current window closes
func (l *RedisLimiter) ResetAt(ctx context.Context, platform domain.Platform, accountID string) time.Time {
	if _, ok := l.limits.lookup(platform); !ok {
		return time.Time{}
	}
	ttl, err := l.client.PTTL(ctx, windowKey(l.prefix, platform, accountID)).Result()
	if err != nil || ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}
