package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/domain"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open("sqlite3::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNormalizeDSN(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: "file:data.db?_pragma=busy_timeout(5000)"},
		{in: "sqlite3:./data/app.db", want: "file:data/app.db?_pragma=busy_timeout(5000)"},
		{in: "sqlite::memory:", want: "file::memory:?_pragma=busy_timeout(5000)"},
		{in: "/var/lib/crosspost.db", want: "file:/var/lib/crosspost.db?_pragma=busy_timeout(5000)"},
		{in: "file:x.db?cache=shared", want: "file:x.db?cache=shared"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, normalizeDSN(tt.in))
		})
	}
}

func TestAccountRepositoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(openTestDB(t))

	expires := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	account := &domain.Account{
		UserID:     "u-1",
		Platform:   domain.PlatformInstagram,
		ExternalID: "1784",
		Credential: domain.Credential{AccessToken: "tok", RefreshToken: "tok", ExpiresAt: &expires},
		IsActive:   true,
	}
	require.NoError(t, repo.Save(ctx, account))
	require.NotEmpty(t, account.ID)

	got, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.PlatformInstagram, got.Platform)
	assert.Equal(t, "tok", got.Credential.AccessToken)
	assert.Empty(t, got.Credential.Secret)
	require.NotNil(t, got.Credential.ExpiresAt)
	assert.True(t, expires.Equal(*got.Credential.ExpiresAt))

	byExternal, err := repo.GetByPlatformExternalID(ctx, domain.PlatformInstagram, "1784")
	require.NoError(t, err)
	require.NotNil(t, byExternal)
	assert.Equal(t, account.ID, byExternal.ID)

	inactive := &domain.Account{Platform: domain.PlatformTwitter, ExternalID: "x", Credential: domain.Credential{AccessToken: "t"}}
	require.NoError(t, repo.Save(ctx, inactive))

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	active, err := repo.GetAllActive(ctx)
	require.NoError(t, err)
	assert.Len(t, active, 1)

	require.NoError(t, repo.Delete(ctx, inactive.ID))
	missing, err := repo.GetByID(ctx, inactive.ID)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAccountRepositoryUpdateCredential(t *testing.T) {
	ctx := context.Background()
	repo := NewAccountRepository(openTestDB(t))

	account := &domain.Account{Platform: domain.PlatformTikTok, ExternalID: "open-1",
		Credential: domain.Credential{AccessToken: "old", RefreshToken: "r-old"}, IsActive: true}
	require.NoError(t, repo.Save(ctx, account))

	expires := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, repo.UpdateCredential(ctx, account.ID,
		domain.Credential{AccessToken: "new", RefreshToken: "r-new", ExpiresAt: &expires}))

	got, err := repo.GetByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Credential.AccessToken)
	assert.Equal(t, "r-new", got.Credential.RefreshToken)
	require.NotNil(t, got.Credential.ExpiresAt)
	assert.True(t, expires.Equal(*got.Credential.ExpiresAt))

	err = repo.UpdateCredential(ctx, "missing", domain.Credential{AccessToken: "x"})
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestAccountRepositoryUpdateCredentialRollsBackOnCommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET access_token").
		WithArgs("new", nil, "r-new", nil, sqlmock.AnyArg(), "acc-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(errors.New("disk I/O error"))

	repo := NewAccountRepository(db)
	err = repo.UpdateCredential(context.Background(), "acc-1", domain.Credential{AccessToken: "new", RefreshToken: "r-new"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "commit credential update")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepositoryUpdateCredentialExecFailureRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE accounts SET access_token").WillReturnError(errors.New("database is locked"))
	mock.ExpectRollback()

	repo := NewAccountRepository(db)
	err = repo.UpdateCredential(context.Background(), "acc-1", domain.Credential{AccessToken: "new"})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := NewPostRepository(openTestDB(t))

	publishAt := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	post := &domain.Post{
		UserID:    "u-1",
		Content:   "hello",
		Thread:    []string{"part two"},
		Overrides: map[domain.Platform]domain.PlatformOverride{domain.PlatformTwitter: {Content: "hi"}},
		Platforms: []domain.Platform{domain.PlatformTwitter, domain.PlatformThreads},
		Media:     []domain.MediaRef{{URL: "https://files.example.com/a.png", Kind: domain.MediaKindImage}},
		PublishAt: &publishAt,
	}
	require.NoError(t, repo.Save(ctx, post))
	assert.Equal(t, domain.PostStatusPending, post.Status)

	got, err := repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, post.Platforms, got.Platforms)
	assert.Equal(t, post.Thread, got.Thread)
	assert.Equal(t, "hi", got.Overrides[domain.PlatformTwitter].Content)
	assert.Equal(t, post.Media, got.Media)
	assert.Empty(t, got.AccountIDs)
	assert.Empty(t, got.Results)

	require.NoError(t, repo.TransitionStatus(ctx, post.ID,
		[]domain.PostStatus{domain.PostStatusPending, domain.PostStatusFailed}, domain.PostStatusPosting))
	err = repo.TransitionStatus(ctx, post.ID,
		[]domain.PostStatus{domain.PostStatusPending, domain.PostStatusFailed}, domain.PostStatusPosting)
	assert.ErrorIs(t, err, domain.ErrPostNotPublishable)
	err = repo.TransitionStatus(ctx, "missing", []domain.PostStatus{domain.PostStatusPending}, domain.PostStatusPosting)
	assert.ErrorIs(t, err, domain.ErrPostNotFound)

	now := time.Now().UTC()
	first := []domain.PlatformResult{
		{Platform: domain.PlatformTwitter, AccountID: "a-1", Success: true, ExternalID: "t-1", AttemptedAt: now},
		domain.FailedResult(domain.PlatformThreads, "a-2", domain.NewPublishError(domain.ErrorKindRateLimited, "", "window full"), now),
	}
	require.NoError(t, repo.CompleteAttempt(ctx, post.ID, domain.PostStatusPosted, first))

	second := []domain.PlatformResult{
		{Platform: domain.PlatformThreads, AccountID: "a-2", Success: true, ExternalID: "th-1", AttemptedAt: now},
	}
	require.NoError(t, repo.CompleteAttempt(ctx, post.ID, domain.PostStatusPosted, second))

	got, err = repo.GetByID(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PostStatusPosted, got.Status)
	require.Len(t, got.Results, 3)
	assert.Equal(t, "t-1", got.Results[0].ExternalID)
	assert.Equal(t, "rate_limited", got.Results[1].Kind())
	assert.Equal(t, "th-1", got.Results[2].ExternalID)

	assert.ErrorIs(t, repo.CompleteAttempt(ctx, "missing", domain.PostStatusFailed, nil), domain.ErrPostNotFound)
}

func TestPostRepositoryCompleteAttemptIsAtomic(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE posts SET status").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"seq"}).AddRow(0))
	mock.ExpectExec("INSERT INTO post_results").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO post_results").WillReturnError(errors.New("constraint failed"))
	mock.ExpectRollback()

	repo := NewPostRepository(db)
	err = repo.CompleteAttempt(context.Background(), "p-1", domain.PostStatusPosted, []domain.PlatformResult{
		{Platform: domain.PlatformTwitter, Success: true},
		{Platform: domain.PlatformFacebook, Success: true},
	})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupRepositoryClaimDue(t *testing.T) {
	ctx := context.Background()
	repo := NewCleanupRepository(openTestDB(t))

	now := time.Now().UTC()
	due := &domain.CleanupJob{PostID: "p-1", Media: []domain.MediaRef{{URL: "https://files.example.com/a.mp4"}}, RunAt: now.Add(-time.Minute)}
	later := &domain.CleanupJob{PostID: "p-2", Media: []domain.MediaRef{{URL: "https://files.example.com/b.mp4"}}, RunAt: now.Add(time.Hour)}
	require.NoError(t, repo.Save(ctx, due))
	require.NoError(t, repo.Save(ctx, later))

	claimed, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due.ID, claimed[0].ID)
	assert.Equal(t, domain.CleanupStatusRunning, claimed[0].Status)
	assert.Equal(t, due.Media, claimed[0].Media)

	again, err := repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	assert.Empty(t, again)

	require.NoError(t, repo.Reschedule(ctx, due.ID, now.Add(-time.Second), "post still posting"))
	job, err := repo.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupStatusPending, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "post still posting", job.LastError)

	claimed, err = repo.ClaimDue(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, repo.MarkDone(ctx, due.ID))
	job, err = repo.GetByID(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupStatusDone, job.Status)
	assert.Empty(t, job.LastError)

	require.NoError(t, repo.MarkFailed(ctx, later.ID, "gave up"))
	job, err = repo.GetByID(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.CleanupStatusFailed, job.Status)

	assert.ErrorIs(t, repo.MarkDone(ctx, "missing"), domain.ErrCleanupJobNotFound)
}
