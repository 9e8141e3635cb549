package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosspost/internal/domain"
	"crosspost/internal/repository/memory"
)

func TestCheckAllAccountsFlagsExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	repo := memory.NewAccountRepository()
	refresher := &fakeRefresher{fn: func(c domain.Credential) (*domain.RefreshedToken, error) {
		if c.RefreshToken == "revoked" {
			return nil, domain.NewPublishError(domain.ErrorKindAuthExpired, "invalid_grant", "revoked")
		}
		return &domain.RefreshedToken{AccessToken: "fresh", ExpiresInSeconds: 3600 * 24 * 60}, nil
	}}
	manager := NewCredentialManager(testConfig(t, ""), repo,
		map[domain.Platform]domain.TokenRefresher{domain.PlatformThreads: refresher},
		WithCredentialClock(clock))

	at := func(d time.Duration) *time.Time {
		v := clock.Now().Add(d)
		return &v
	}
	save := func(externalID, refresh string, expiresAt *time.Time) *domain.Account {
		a := &domain.Account{Platform: domain.PlatformThreads, ExternalID: externalID, IsActive: true,
			Credential: domain.Credential{AccessToken: "t", RefreshToken: refresh, ExpiresAt: expiresAt}}
		require.NoError(t, repo.Save(ctx, a))
		return a
	}
	renewable := save("renewable", "ok", at(-time.Hour))
	revoked := save("revoked", "revoked", at(-time.Hour))
	save("healthy", "ok", at(60*24*time.Hour))
	save("forever", "", nil)

	monitor := NewAccountMonitor(repo, manager)
	report, err := monitor.CheckAllAccounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Refreshed)
	assert.Equal(t, 1, report.Failed)

	reauth := monitor.NeedsReauthorization()
	require.Len(t, reauth, 1)
	assert.Equal(t, revoked.ID, reauth[0].AccountID)

	statuses, err := monitor.Statuses(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 4)
	assert.Equal(t, revoked.ID, statuses[0].AccountID, "soonest expiry first")
	assert.Equal(t, domain.CredentialExpired, statuses[0].State)
	assert.Nil(t, statuses[3].ExpiresAt, "non-expiring credentials last")

	for _, s := range statuses {
		if s.AccountID == renewable.ID {
			assert.Equal(t, domain.CredentialValid, s.State)
		}
	}

	last, ranAt := monitor.LastSweep()
	assert.Equal(t, report, last)
	assert.False(t, ranAt.IsZero())
}
