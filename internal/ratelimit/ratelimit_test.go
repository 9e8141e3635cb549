package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/config"
	"crosspost/internal/domain"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var testLimits = Limits{
	domain.PlatformInstagram: {Max: 3, Window: time.Hour},
	domain.PlatformFacebook:  {Max: 0, Window: time.Hour},
}

func TestMemoryLimiterCeilingAndWindowReset(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(testLimits, clock)

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"), "call %d", i+1)
		l.Record(ctx, domain.PlatformInstagram, "acc-1")
		clock.Advance(time.Minute)
	}

	assert.False(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	assert.Equal(t, 0, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), l.ResetAt(ctx, domain.PlatformInstagram, "acc-1"))

	// other accounts keep their own window
	assert.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-2"))

	clock.Advance(57 * time.Minute)
	assert.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	assert.Equal(t, 3, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))
	assert.True(t, l.ResetAt(ctx, domain.PlatformInstagram, "acc-1").IsZero())

	l.Record(ctx, domain.PlatformInstagram, "acc-1")
	assert.Equal(t, 2, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))
}

func TestMemoryLimiterAdmitHasNoSideEffects(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(testLimits, &fakeClock{now: time.Now()})

	for i := 0; i < 10; i++ {
		assert.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	}
	assert.Equal(t, 3, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))
}

func TestMemoryLimiterUnknownOrMisconfiguredPlatformIsUnrestricted(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(testLimits, nil)

	for i := 0; i < 50; i++ {
		require.True(t, l.Admit(ctx, domain.PlatformTwitter, "acc-1"))
		l.Record(ctx, domain.PlatformTwitter, "acc-1")
		require.True(t, l.Admit(ctx, domain.PlatformFacebook, "acc-1"))
		l.Record(ctx, domain.PlatformFacebook, "acc-1")
	}
	assert.Equal(t, Unlimited, l.Remaining(ctx, domain.PlatformTwitter, "acc-1"))
	assert.True(t, l.ResetAt(ctx, domain.PlatformFacebook, "acc-1").IsZero())
}

func TestMemoryLimiterConcurrentRecordsNeverExceedCeiling(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLimiter(Limits{domain.PlatformThreads: {Max: 5, Window: time.Hour}}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Record(ctx, domain.PlatformThreads, "acc-1")
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.Remaining(ctx, domain.PlatformThreads, "acc-1"))
	assert.False(t, l.Admit(ctx, domain.PlatformThreads, "acc-1"))
}

func newRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log, _ := test.NewNullLogger()
	return NewRedisLimiter(client, testLimits, log), mr
}

func TestRedisLimiterCeilingAndExpiry(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t)

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
		l.Record(ctx, domain.PlatformInstagram, "acc-1")
	}
	assert.False(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	assert.Equal(t, 0, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))

	ttl := mr.TTL("crosspost:ratelimit:instagram:acc-1")
	assert.Equal(t, time.Hour, ttl)
	assert.WithinDuration(t, time.Now().Add(time.Hour), l.ResetAt(ctx, domain.PlatformInstagram, "acc-1"), 5*time.Second)

	mr.FastForward(time.Hour)
	assert.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	assert.Equal(t, 3, l.Remaining(ctx, domain.PlatformInstagram, "acc-1"))
	assert.True(t, l.ResetAt(ctx, domain.PlatformInstagram, "acc-1").IsZero())
}

func TestRedisLimiterWindowStartsAtFirstRecord(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t)

	l.Record(ctx, domain.PlatformInstagram, "acc-1")
	mr.FastForward(30 * time.Minute)
	l.Record(ctx, domain.PlatformInstagram, "acc-1")

	assert.Equal(t, 30*time.Minute, mr.TTL("crosspost:ratelimit:instagram:acc-1"))
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t)
	log, hook := test.NewNullLogger()
	l.log = log

	mr.Close()

	assert.True(t, l.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	require.NotEmpty(t, hook.Entries)
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestRedisPairLockSerializesInstances(t *testing.T) {
	ctx := context.Background()
	a, mr := newRedisLimiter(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	log, _ := test.NewNullLogger()
	b := NewRedisLimiter(client, Limits{domain.PlatformInstagram: {Max: 2, Window: time.Hour}}, log)
	a.limits = b.limits
	b.lockRetry = 5 * time.Millisecond

	a.Record(ctx, domain.PlatformInstagram, "acc-1")

	unlockA, err := a.LockPair(ctx, domain.PlatformInstagram, "acc-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = b.LockPair(waitCtx, domain.PlatformInstagram, "acc-1")
	cancel()
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// a holds the pair through admit and record
	require.True(t, a.Admit(ctx, domain.PlatformInstagram, "acc-1"))
	a.Record(ctx, domain.PlatformInstagram, "acc-1")
	unlockA()
	unlockA()

	unlockB, err := b.LockPair(ctx, domain.PlatformInstagram, "acc-1")
	require.NoError(t, err)
	defer unlockB()
	assert.False(t, b.Admit(ctx, domain.PlatformInstagram, "acc-1"))

	count, err := mr.Get("crosspost:ratelimit:instagram:acc-1")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
}

func TestRedisPairLockConcurrentInstancesNeverExceedCeiling(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	limits := Limits{domain.PlatformInstagram: {Max: 2, Window: time.Hour}}

	limiters := make([]*RedisLimiter, 2)
	for i := range limiters {
		client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		log, _ := test.NewNullLogger()
		limiters[i] = NewRedisLimiter(client, limits, log)
		limiters[i].lockRetry = 5 * time.Millisecond
	}
	limiters[0].Record(ctx, domain.PlatformInstagram, "acc-1")

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		l := limiters[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.LockPair(ctx, domain.PlatformInstagram, "acc-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()
			if l.Admit(ctx, domain.PlatformInstagram, "acc-1") {
				time.Sleep(5 * time.Millisecond)
				l.Record(ctx, domain.PlatformInstagram, "acc-1")
			}
		}()
	}
	wg.Wait()

	count, err := mr.Get("crosspost:ratelimit:instagram:acc-1")
	require.NoError(t, err)
	assert.Equal(t, "2", count)
}

func TestRedisPairLockExpiresAndIgnoresForeignRelease(t *testing.T) {
	ctx := context.Background()
	l, mr := newRedisLimiter(t)
	l.SetLockTTL(time.Minute)
	l.lockRetry = 5 * time.Millisecond

	unlock, err := l.LockPair(ctx, domain.PlatformInstagram, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, mr.TTL("crosspost:ratelimit:lock:instagram:acc-1"))

	// an expired holder must not release the next one
	mr.FastForward(time.Minute)
	next, err := l.LockPair(ctx, domain.PlatformInstagram, "acc-1")
	require.NoError(t, err)
	unlock()
	assert.True(t, mr.Exists("crosspost:ratelimit:lock:instagram:acc-1"))

	next()
	assert.False(t, mr.Exists("crosspost:ratelimit:lock:instagram:acc-1"))
}

func TestRedisPairLockFailsOpen(t *testing.T) {
	l, mr := newRedisLimiter(t)
	mr.Close()

	unlock, err := l.LockPair(context.Background(), domain.PlatformInstagram, "acc-1")
	require.NoError(t, err)
	unlock()
}

func TestLimitsFromConfigSkipsDisabledPlatforms(t *testing.T) {
	cfg, err := config.Parse([]byte("platforms:\n  twitter:\n    enabled: false\n"))
	require.NoError(t, err)

	limits := LimitsFromConfig(cfg)
	_, ok := limits[domain.PlatformTwitter]
	assert.False(t, ok)
	assert.Equal(t, Limit{Max: 15, Window: 24 * time.Hour}, limits[domain.PlatformTikTok])
}
