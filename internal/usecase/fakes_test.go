package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/repository/memory"
)

func testConfig(t *testing.T, extra string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
publish:
  timeout: 2s
  max_concurrent: 4
cleanup:
  delay: 2h
  callback_url: http://localhost:8080/api/cleanup
  signing_secret: test-secret
  max_attempts: 3
` + extra))
	require.NoError(t, err)
	return cfg
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// eventLog records the order of interesting calls across fakes
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, fmt.Sprintf(format, args...))
}

func (l *eventLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	log   *eventLog
	fn    func(credential domain.Credential) (*domain.RefreshedToken, error)
}

func (r *fakeRefresher) RefreshToken(_ context.Context, credential domain.Credential) (*domain.RefreshedToken, error) {
	r.mu.Lock()
	r.calls++
	r.mu.Unlock()
	if r.log != nil {
		r.log.add("refresh")
	}
	return r.fn(credential)
}

func (r *fakeRefresher) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// instrumentedAccounts wraps the in-memory store to observe or fail credential writes
type instrumentedAccounts struct {
	*memory.AccountRepository
	log       *eventLog
	updateErr error
}

func (r *instrumentedAccounts) UpdateCredential(ctx context.Context, id string, credential domain.Credential) error {
	if r.updateErr != nil {
		r.log.add("persist_failed")
		return r.updateErr
	}
	r.log.add("persist")
	return r.AccountRepository.UpdateCredential(ctx, id, credential)
}

type fakePublisher struct {
	platform domain.Platform
	caps     domain.Capabilities
	calls    int
	mu       sync.Mutex
	publish  func(ctx context.Context, req domain.PublishRequest) domain.PlatformResult
}

func (p *fakePublisher) Platform() domain.Platform         { return p.platform }
func (p *fakePublisher) Capabilities() domain.Capabilities { return p.caps }

func (p *fakePublisher) Publish(ctx context.Context, req domain.PublishRequest) domain.PlatformResult {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return p.publish(ctx, req)
}

func (p *fakePublisher) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func textCaps() domain.Capabilities {
	return domain.Capabilities{Protocol: domain.ProtocolSingleCall, MediaMode: domain.MediaModeNone, MaxTextLength: 280}
}

func succeedWith(id string) func(context.Context, domain.PublishRequest) domain.PlatformResult {
	return func(_ context.Context, req domain.PublishRequest) domain.PlatformResult {
		return domain.PlatformResult{Platform: req.Account.Platform, AccountID: req.Account.ID, Success: true, ExternalID: id}
	}
}

func failWith(err error) func(context.Context, domain.PublishRequest) domain.PlatformResult {
	return func(_ context.Context, req domain.PublishRequest) domain.PlatformResult {
		return domain.FailedResult(req.Account.Platform, req.Account.ID, err, time.Now())
	}
}

type staticResolver struct {
	errs map[string]error
}

func (r staticResolver) Resolve(_ context.Context, account *domain.Account) (domain.Token, error) {
	if err := r.errs[account.ID]; err != nil {
		return domain.Token{}, err
	}
	return domain.Token{AccessToken: "tok-" + account.ID}, nil
}

type passthroughMedia struct{}

func (passthroughMedia) Prepare(_ context.Context, mode domain.MediaMode, refs []domain.MediaRef) ([]domain.PreparedMedia, error) {
	if mode == domain.MediaModeNone {
		return nil, nil
	}
	out := make([]domain.PreparedMedia, len(refs))
	for i, ref := range refs {
		out[i] = domain.PreparedMedia{Ref: ref, URL: ref.URL}
	}
	return out, nil
}

// recordingLimiter logs admissions and records so ordering can be asserted
type recordingLimiter struct {
	inner domain.RateLimiter
	log   *eventLog
}

func (l *recordingLimiter) Admit(ctx context.Context, platform domain.Platform, accountID string) bool {
	ok := l.inner.Admit(ctx, platform, accountID)
	l.log.add("admit:%s:%s:%t", platform, accountID, ok)
	return ok
}

func (l *recordingLimiter) Record(ctx context.Context, platform domain.Platform, accountID string) {
	l.log.add("record:%s:%s", platform, accountID)
	l.inner.Record(ctx, platform, accountID)
}

func (l *recordingLimiter) Remaining(ctx context.Context, platform domain.Platform, accountID string) int {
	return l.inner.Remaining(ctx, platform, accountID)
}

func (l *recordingLimiter) ResetAt(ctx context.Context, platform domain.Platform, accountID string) time.Time {
	return l.inner.ResetAt(ctx, platform, accountID)
}

type recordingScheduler struct {
	mu    sync.Mutex
	posts []string
	media [][]domain.MediaRef
}

func (s *recordingScheduler) ScheduleCleanup(_ context.Context, postID string, media []domain.MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, postID)
	s.media = append(s.media, media)
	return nil
}

var errBoom = errors.New("boom")
