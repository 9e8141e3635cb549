package ratelimit

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"crosspost/config"
	"crosspost/internal/domain"
)

// Unlimited is returned by Remaining for platforms without a configured ceiling
const Unlimited = -1

const defaultDialTimeout = 5 * time.Second

// Limit is the static ceiling of one platform
type Limit struct {
	// Max is the number of calls allowed per window
	Max int

	// Window is the window size
	Window time.Duration
}

// Limits maps platforms to their ceilings
type Limits map[domain.Platform]Limit

// lookup returns the limit of a platform; misconfigured limits count as absent
func (l Limits) lookup(platform domain.Platform) (Limit, bool) {
	limit, ok := l[platform]
	if !ok || limit.Max <= 0 || limit.Window <= 0 {
		return Limit{}, false
	}
	return limit, true
}

// LimitsFromConfig builds the limits of every enabled platform
func LimitsFromConfig(cfg *config.Config) Limits {
	limits := make(Limits, len(cfg.Platforms))
	for name, pc := range cfg.Platforms {
		if !pc.Enabled {
			continue
		}
		limits[domain.ParsePlatform(name)] = Limit{Max: pc.RateLimitMax, Window: pc.RateLimitWindow}
	}
	return limits
}

func windowKey(prefix string, platform domain.Platform, accountID string) string {
	return fmt.Sprintf("%s:%s:%s", prefix, platform, accountID)
}

// New returns a Redis limiter when cfg.RedisURL is set and an in-process limiter otherwise
func New(ctx context.Context, cfg *config.Config) (domain.RateLimiter, func() error, error) {
	limits := LimitsFromConfig(cfg)
	if cfg.RedisURL == "" {
		return NewMemoryLimiter(limits, nil), func() error { return nil }, nil
	}
	client, err := NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	limiter := NewRedisLimiter(client, limits, nil)
	if cfg.PublishTimeout > 0 {
		limiter.SetLockTTL(cfg.PublishTimeout + time.Minute)
	}
	return limiter, client.Close, nil
}

// NewRedisClient creates a single-node Redis client from a URL and pings it
func NewRedisClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis url is required")
	}

	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = defaultDialTimeout
	}
	if opts.ReadTimeout == 0 {
		opts.ReadTimeout = defaultDialTimeout
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = defaultDialTimeout
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}
