package domain

import (
	"context"
	"time"
)

// PreparedMedia is a media item in the form an adapter consumes
type PreparedMedia struct {
	// Ref is the original media reference
	Ref MediaRef

	// URL is the URL handed to the platform (direct or proxied)
	URL string

	// Data holds the downloaded bytes for binary adapters
	Data []byte

	// ContentType is the resolved MIME type
	ContentType string
}

// Size returns the byte size of the downloaded payload
func (m PreparedMedia) Size() int64 {
	return int64(len(m.Data))
}

// PublishRequest is everything an adapter needs to publish one post on one account
type PublishRequest struct {
	// Account is the target account
	Account *Account

	// Token is the resolved credential
	Token Token

	// Content is the platform-specific text
	Content string

	// Thread holds follow-up parts for thread-capable platforms
	Thread []string

	// Media holds the prepared media items
	Media []PreparedMedia
}

// Parts returns the content followed by the thread parts
func (r PublishRequest) Parts() []string {
	parts := make([]string, 0, 1+len(r.Thread))
	parts = append(parts, r.Content)
	return append(parts, r.Thread...)
}

// Publisher is the single publish contract every platform adapter implements
type Publisher interface {
	// Platform returns the platform served by the adapter
	Platform() Platform

	// Capabilities returns what the adapter supports
	Capabilities() Capabilities

	// Publish executes the platform protocol. Failures are reported inside the result.
	Publish(ctx context.Context, req PublishRequest) PlatformResult
}

// TokenRefresher exchanges a refresh token for a new access token
type TokenRefresher interface {
	RefreshToken(ctx context.Context, credential Credential) (*RefreshedToken, error)
}

// SelfRefresher is implemented by refreshers whose access token can be exchanged for a
// new one without a separate refresh token.
type SelfRefresher interface {
	SelfRefreshing() bool
}

// RateLimiter is sliding-window admission control keyed by (platform, account).
// Implementations never fail; an unconfigured platform is unrestricted.
type RateLimiter interface {
	// Admit reports whether one more call fits in the current window. It has no side effects.
	Admit(ctx context.Context, platform Platform, accountID string) bool

	// Record counts one confirmed successful upstream call
	Record(ctx context.Context, platform Platform, accountID string)

	// Remaining returns how many calls are left in the current window
	Remaining(ctx context.Context, platform Platform, accountID string) int

	// ResetAt returns when the current window closes; zero when no window is open
	ResetAt(ctx context.Context, platform Platform, accountID string) time.Time
}

// PairLocker is implemented by limiters whose counters are shared between processes.
// The returned func releases the lock and is safe to call once.
type PairLocker interface {
	LockPair(ctx context.Context, platform Platform, accountID string) (func(), error)
}

// MediaPreparer resolves media references into adapter-ready input
type MediaPreparer interface {
	Prepare(ctx context.Context, mode MediaMode, refs []MediaRef) ([]PreparedMedia, error)
}

// MediaStore removes media files from the application's own storage
type MediaStore interface {
	Delete(ctx context.Context, ref MediaRef) error
}

// CleanupScheduler schedules deferred removal of media once a post is terminal
type CleanupScheduler interface {
	ScheduleCleanup(ctx context.Context, postID string, media []MediaRef) error
}

// Clock returns the current time
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock
type SystemClock struct{}

// Now returns time.Now
func (SystemClock) Now() time.Time {
	return time.Now()
}
