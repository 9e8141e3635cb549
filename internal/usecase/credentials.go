package usecase

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/logger"
	"crosspost/internal/metrics"
)

const defaultRefreshTimeout = 30 * time.Second

// CredentialManager yields a usable token per account, refreshing and persisting
// credentials that are close to or past their expiry.
type CredentialManager struct {
	accountRepo      domain.AccountRepository
	refreshers       map[domain.Platform]domain.TokenRefresher
	thresholds       map[domain.Platform]time.Duration
	defaultThreshold time.Duration
	refreshTimeout   time.Duration
	clock            domain.Clock
	metrics          *metrics.Collector
	flights          singleflight.Group
}

// CredentialOption configures a CredentialManager
type CredentialOption func(*CredentialManager)

// WithCredentialClock overrides the clock used to evaluate expiry
func WithCredentialClock(clock domain.Clock) CredentialOption {
	return func(m *CredentialManager) {
		m.clock = clock
	}
}

// WithCredentialMetrics records refresh outcomes on collector
func WithCredentialMetrics(collector *metrics.Collector) CredentialOption {
	return func(m *CredentialManager) {
		m.metrics = collector
	}
}

// NewCredentialManager creates a credential manager. Platforms without a refresher
// keep their tokens until they expire.
func NewCredentialManager(
	cfg *config.Config,
	accountRepo domain.AccountRepository,
	refreshers map[domain.Platform]domain.TokenRefresher,
	opts ...CredentialOption,
) *CredentialManager {
	thresholds := make(map[domain.Platform]time.Duration, len(cfg.Platforms))
	for name, pc := range cfg.Platforms {
		thresholds[domain.ParsePlatform(name)] = pc.RefreshThreshold
	}

	m := &CredentialManager{
		accountRepo:      accountRepo,
		refreshers:       refreshers,
		thresholds:       thresholds,
		defaultThreshold: cfg.RefreshThreshold,
		refreshTimeout:   defaultRefreshTimeout,
		clock:            domain.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *CredentialManager) threshold(platform domain.Platform) time.Duration {
	if d, ok := m.thresholds[platform]; ok && d > 0 {
		return d
	}
	return m.defaultThreshold
}

// State returns the credential state of an account now
func (m *CredentialManager) State(account *domain.Account) domain.CredentialState {
	return account.Credential.StateAt(m.clock.Now(), m.threshold(account.Platform))
}

// ResolveByID loads an account and resolves its token
func (m *CredentialManager) ResolveByID(ctx context.Context, accountID string) (domain.Token, error) {
	account, err := m.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return domain.Token{}, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return domain.Token{}, domain.WrapPublishError(domain.ErrorKindValidation, domain.ErrAccountNotFound, "account %s", accountID)
	}
	return m.Resolve(ctx, account)
}

// Resolve returns a token that is valid now.
//   - valid: the stored token is returned as is
//   - needs refresh: a refresh is attempted; on failure the stored token is returned
//   - expired: a refresh is attempted; on failure an auth_expired error is returned
//
// A refreshed credential is persisted before it is returned.
func (m *CredentialManager) Resolve(ctx context.Context, account *domain.Account) (domain.Token, error) {
	state := m.State(account)
	if state == domain.CredentialValid {
		return tokenOf(account.Credential), nil
	}

	refreshed, err := m.refreshShared(ctx, account.ID)
	if err == nil && refreshed.Credential.StateAt(m.clock.Now(), 0) != domain.CredentialExpired {
		return tokenOf(refreshed.Credential), nil
	}
	if err == nil {
		err = fmt.Errorf("refreshed token is already expired")
	}

	fields := logger.Fields{
		"account_id": account.ID,
		"platform":   account.Platform,
		"state":      state,
	}
	if account.Credential.StateAt(m.clock.Now(), 0) == domain.CredentialExpired {
		logger.WithFields(fields).WithError(err).Warn("credential expired and could not be refreshed")
		return domain.Token{}, domain.WrapPublishError(domain.ErrorKindAuthExpired, err,
			"credential for %s account %s expired", account.Platform, account.ID)
	}

	logger.WithFields(fields).WithError(err).Warn("opportunistic refresh failed, using current token")
	return tokenOf(account.Credential), nil
}

// refreshShared runs at most one refresh per account at a time. Concurrent callers wait
// for the same flight so a rotating refresh token is spent only once.
func (m *CredentialManager) refreshShared(ctx context.Context, accountID string) (*domain.Account, error) {
	ch := m.flights.DoChan(accountID, func() (interface{}, error) {
		// the flight outlives a caller that gives up so a spent refresh token is still persisted
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.refreshTimeout)
		defer cancel()
		return m.refresh(flightCtx, accountID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Account), nil
	}
}

// refresh re-reads the account, exchanges its refresh token and persists the result.
// An account that became valid in the meantime is returned unchanged.
func (m *CredentialManager) refresh(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := m.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	if m.State(account) == domain.CredentialValid {
		return account, nil
	}

	refresher, ok := m.refreshers[account.Platform]
	if !ok {
		return nil, fmt.Errorf("platform %s does not support token refresh", account.Platform)
	}
	if !canRefresh(refresher, account.Credential) {
		return nil, fmt.Errorf("no refresh token stored for account %s", account.ID)
	}

	now := m.clock.Now()
	token, err := refresher.RefreshToken(ctx, account.Credential)
	if err != nil {
		m.metrics.TokenRefresh(string(account.Platform), "failed")
		return nil, fmt.Errorf("refresh %s token: %w", account.Platform, err)
	}

	credential := domain.Credential{
		AccessToken:  token.AccessToken,
		Secret:       account.Credential.Secret,
		RefreshToken: account.Credential.RefreshToken,
	}
	if token.RefreshToken != "" {
		credential.RefreshToken = token.RefreshToken
	}
	if token.ExpiresInSeconds > 0 {
		expiresAt := now.Add(time.Duration(token.ExpiresInSeconds) * time.Second)
		credential.ExpiresAt = &expiresAt
	}

	if err := m.accountRepo.UpdateCredential(ctx, account.ID, credential); err != nil {
		m.metrics.TokenRefresh(string(account.Platform), "persist_failed")
		logger.WithFields(logger.Fields{
			"account_id": account.ID,
			"platform":   account.Platform,
		}).WithError(err).Error("failed to persist refreshed credential")
		return nil, fmt.Errorf("persist refreshed credential: %w", err)
	}

	m.metrics.TokenRefresh(string(account.Platform), "refreshed")
	logger.WithFields(logger.Fields{
		"account_id": account.ID,
		"platform":   account.Platform,
		"expires_at": credential.ExpiresAt,
	}).Info("credential refreshed")

	account.Credential = credential
	return account, nil
}

// SweepReport summarizes one proactive refresh sweep
type SweepReport struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// RefreshExpiring refreshes every active account that is within its refresh threshold
// or already expired, using the same persist path as Resolve.
func (m *CredentialManager) RefreshExpiring(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	accounts, err := m.accountRepo.GetAllActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list active accounts: %w", err)
	}

	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		if m.State(account) == domain.CredentialValid {
			continue
		}
		if refresher, ok := m.refreshers[account.Platform]; !ok || !canRefresh(refresher, account.Credential) {
			report.Skipped++
			continue
		}

		if _, err := m.refreshShared(ctx, account.ID); err != nil {
			report.Failed++
			logger.WithFields(logger.Fields{
				"account_id": account.ID,
				"platform":   account.Platform,
			}).WithError(err).Warn("proactive refresh failed")
			continue
		}
		report.Refreshed++
	}

	logger.WithFields(logger.Fields{
		"checked":   report.Checked,
		"refreshed": report.Refreshed,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
	}).Info("credential refresh sweep finished")
	return report, nil
}

// canRefresh reports whether refresher can renew credential: with its refresh token, or
// with the access token itself for platforms whose long-lived tokens refresh themselves.
func canRefresh(refresher domain.TokenRefresher, credential domain.Credential) bool {
	if credential.CanRefresh() {
		return true
	}
	self, ok := refresher.(domain.SelfRefresher)
	return ok && self.SelfRefreshing() && credential.AccessToken != ""
}

func tokenOf(credential domain.Credential) domain.Token {
	return domain.Token{
		AccessToken: credential.AccessToken,
		Secret:      credential.Secret,
		ExpiresAt:   credential.ExpiresAt,
	}
}
