package usecase

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/domain"
	httpclient "crosspost/internal/infrastructure/http"
	"crosspost/internal/repository/memory"
)

type fakeStore struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (s *fakeStore) Delete(_ context.Context, ref domain.MediaRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deleted = append(s.deleted, ref.URL)
	return nil
}

type fakeSender struct {
	mu       sync.Mutex
	status   int
	err      error
	requests []*http.Request
}

func (s *fakeSender) Send(req *http.Request) (*httpclient.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.err != nil {
		return nil, s.err
	}
	return &httpclient.Response{StatusCode: s.status, Header: http.Header{}, Body: []byte(`{}`)}, nil
}

type cleanupFixture struct {
	clock   *fakeClock
	jobs    *memory.CleanupRepository
	posts   *memory.PostRepository
	store   *fakeStore
	sender  *fakeSender
	signer  *CallbackSigner
	service *CleanupService
}

func newCleanupFixture(t *testing.T) *cleanupFixture {
	t.Helper()
	f := &cleanupFixture{
		clock:  newFakeClock(),
		jobs:   memory.NewCleanupRepository(),
		posts:  memory.NewPostRepository(),
		store:  &fakeStore{},
		sender: &fakeSender{status: http.StatusOK},
	}
	f.signer = NewCallbackSigner("test-secret", time.Hour)
	f.signer.now = f.clock.Now
	f.service = NewCleanupService(testConfig(t, ""), f.jobs, f.posts, f.store, f.signer, f.sender, nil)
	f.service.SetClock(f.clock)
	return f
}

func (f *cleanupFixture) schedule(t *testing.T, status domain.PostStatus) (*domain.Post, *domain.CleanupJob) {
	t.Helper()
	ctx := context.Background()
	post := &domain.Post{Content: "x", Platforms: []domain.Platform{domain.PlatformInstagram}, Status: status,
		Media: []domain.MediaRef{
			{URL: "http://localhost:8080/media/files/a.mp4", Kind: domain.MediaKindVideo},
			{URL: "http://localhost:8080/media/files/b.jpg", Kind: domain.MediaKindImage},
		}}
	require.NoError(t, f.posts.Save(ctx, post))
	require.NoError(t, f.service.ScheduleCleanup(ctx, post.ID, post.Media))

	f.clock.Advance(3 * time.Hour)
	jobs, err := f.jobs.ClaimDue(ctx, f.clock.Now(), 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	return post, jobs[0]
}

func TestScheduleCleanupRunsAfterDelay(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	media := []domain.MediaRef{{URL: "http://localhost:8080/media/files/a.mp4", Kind: domain.MediaKindVideo}}

	require.NoError(t, f.service.ScheduleCleanup(ctx, "post-1", media))
	require.NoError(t, f.service.ScheduleCleanup(ctx, "post-2", nil))

	due, err := f.jobs.ClaimDue(ctx, f.clock.Now().Add(2*time.Hour-time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	due, err = f.jobs.ClaimDue(ctx, f.clock.Now().Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "post-1", due[0].PostID)
}

func TestDispatchDueSendsSignedCallback(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	require.NoError(t, f.service.ScheduleCleanup(ctx, "post-1",
		[]domain.MediaRef{{URL: "http://localhost:8080/media/files/a.mp4", Kind: domain.MediaKindVideo}}))

	n, err := f.service.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "job is not due yet")

	f.clock.Advance(2 * time.Hour)
	n, err = f.service.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	require.Len(t, f.sender.requests, 1)
	req := f.sender.requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "http://localhost:8080/api/cleanup", req.URL.String())

	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	claims, err := f.signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "post-1", claims.PostID)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	var payload map[string]string
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(t, claims.Subject, payload["job_id"])
}

func TestDispatchDueReschedulesThenGivesUp(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	f.sender.status = http.StatusConflict
	require.NoError(t, f.service.ScheduleCleanup(ctx, "post-1",
		[]domain.MediaRef{{URL: "http://localhost:8080/media/files/a.mp4", Kind: domain.MediaKindVideo}}))

	for attempt := 1; attempt <= 3; attempt++ {
		f.clock.Advance(2 * time.Hour)
		n, err := f.service.DispatchDue(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		token := strings.TrimPrefix(f.sender.requests[len(f.sender.requests)-1].Header.Get("Authorization"), "Bearer ")
		claims, err := f.signer.Verify(token)
		require.NoError(t, err)
		job, err := f.jobs.GetByID(ctx, claims.Subject)
		require.NoError(t, err)
		assert.Equal(t, attempt, job.Attempts)
		if attempt < 3 {
			assert.Equal(t, domain.CleanupStatusPending, job.Status)
			assert.Equal(t, f.clock.Now().Add(2*time.Hour), job.RunAt)
		} else {
			assert.Equal(t, domain.CleanupStatusFailed, job.Status)
		}
		assert.Contains(t, job.LastError, "not terminal")
	}

	f.clock.Advance(24 * time.Hour)
	n, err := f.service.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, f.sender.requests, 3)
}

func TestDispatchDueOverHTTP(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()

	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	cfg := testConfig(t, "")
	cfg.CleanupCallbackURL = server.URL + "/api/cleanup"
	service := NewCleanupService(cfg, f.jobs, f.posts, f.store, f.signer, httpclient.NewHTTPClient(cfg), nil)
	service.SetClock(f.clock)

	require.NoError(t, service.ScheduleCleanup(ctx, "post-1",
		[]domain.MediaRef{{URL: "http://localhost:8080/media/files/a.mp4", Kind: domain.MediaKindVideo}}))
	f.clock.Advance(2 * time.Hour)

	n, err := service.DispatchDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, strings.HasPrefix(got, "Bearer "))
}

func TestHandleCallbackDeletesMediaOnce(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	_, job := f.schedule(t, domain.PostStatusPosted)

	token, err := f.signer.Sign(job)
	require.NoError(t, err)

	require.NoError(t, f.service.HandleCallback(ctx, token))
	assert.Equal(t, []string{job.Media[0].URL, job.Media[1].URL}, f.store.deleted)

	stored, err := f.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupStatusDone, stored.Status)

	require.NoError(t, f.service.HandleCallback(ctx, token))
	assert.Len(t, f.store.deleted, 2)
}

func TestHandleCallbackWaitsForTerminalPost(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	post, job := f.schedule(t, domain.PostStatusPending)
	require.NoError(t, f.posts.TransitionStatus(ctx, post.ID,
		[]domain.PostStatus{domain.PostStatusPending}, domain.PostStatusPosting))

	token, err := f.signer.Sign(job)
	require.NoError(t, err)

	err = f.service.HandleCallback(ctx, token)
	assert.ErrorIs(t, err, domain.ErrPostNotTerminal)
	assert.Empty(t, f.store.deleted)

	require.NoError(t, f.posts.CompleteAttempt(ctx, post.ID, domain.PostStatusFailed, nil))
	require.NoError(t, f.service.HandleCallback(ctx, token))
	assert.Len(t, f.store.deleted, 2)
}

func TestHandleCallbackRejectsForgedTokens(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	_, job := f.schedule(t, domain.PostStatusPosted)

	forger := NewCallbackSigner("wrong-secret", time.Hour)
	forged, err := forger.Sign(job)
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.HandleCallback(ctx, forged), domain.ErrInvalidCallback)

	tampered := *job
	tampered.Media = job.Media[:1]
	token, err := f.signer.Sign(&tampered)
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.HandleCallback(ctx, token), domain.ErrInvalidCallback)

	unknown := *job
	unknown.ID = "missing"
	token, err = f.signer.Sign(&unknown)
	require.NoError(t, err)
	assert.ErrorIs(t, f.service.HandleCallback(ctx, token), domain.ErrCleanupJobNotFound)

	assert.ErrorIs(t, f.service.HandleCallback(ctx, "not-a-token"), domain.ErrInvalidCallback)
	assert.Empty(t, f.store.deleted)
}

func TestHandleCallbackStoreFailureKeepsJobOpen(t *testing.T) {
	f := newCleanupFixture(t)
	ctx := context.Background()
	_, job := f.schedule(t, domain.PostStatusPosted)
	f.store.err = errBoom

	token, err := f.signer.Sign(job)
	require.NoError(t, err)

	assert.ErrorIs(t, f.service.HandleCallback(ctx, token), errBoom)
	stored, err := f.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupStatusRunning, stored.Status)
}

func TestCallbackSignerExpiry(t *testing.T) {
	clock := newFakeClock()
	signer := NewCallbackSigner("secret", time.Minute)
	signer.now = clock.Now

	job := &domain.CleanupJob{ID: "job-1", PostID: "post-1"}
	token, err := signer.Sign(job)
	require.NoError(t, err)

	claims, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "job-1", claims.Subject)
	assert.Equal(t, MediaHash(nil), claims.MediaHash)

	clock.Advance(2 * time.Minute)
	_, err = signer.Verify(token)
	assert.ErrorIs(t, err, domain.ErrInvalidCallback)
}

func TestMediaHashIsOrderSensitive(t *testing.T) {
	a := domain.MediaRef{URL: "https://x/a"}
	b := domain.MediaRef{URL: "https://x/b"}

	assert.Equal(t, MediaHash([]domain.MediaRef{a, b}), MediaHash([]domain.MediaRef{a, b}))
	assert.NotEqual(t, MediaHash([]domain.MediaRef{a, b}), MediaHash([]domain.MediaRef{b, a}))
	assert.NotEqual(t, MediaHash([]domain.MediaRef{{URL: "ab"}}), MediaHash([]domain.MediaRef{{URL: "a"}, {URL: "b"}}))
}
