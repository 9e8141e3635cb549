package usecase

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"crosspost/internal/domain"
	"crosspost/internal/logger"
)

// CredentialSweeper refreshes credentials that are close to expiry
type CredentialSweeper interface {
	RefreshExpiring(ctx context.Context) (SweepReport, error)
	State(account *domain.Account) domain.CredentialState
}

// AccountStatus is the credential health of one account
type AccountStatus struct {
	AccountID  string                 `json:"account_id"`
	Platform   domain.Platform        `json:"platform"`
	ExternalID string                 `json:"external_id"`
	State      domain.CredentialState `json:"state"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
}

// AccountMonitor runs the proactive refresh sweep and tracks accounts that still need
// manual re-authorization afterwards.
type AccountMonitor struct {
	accountRepo domain.AccountRepository
	sweeper     CredentialSweeper

	mu         sync.RWMutex
	lastReport SweepReport
	lastRun    time.Time
	reauth     []AccountStatus
}

// NewAccountMonitor creates a new account monitor
func NewAccountMonitor(accountRepo domain.AccountRepository, sweeper CredentialSweeper) *AccountMonitor {
	return &AccountMonitor{
		accountRepo: accountRepo,
		sweeper:     sweeper,
	}
}

// CheckAllAccounts refreshes expiring credentials and records the accounts left expired
func (m *AccountMonitor) CheckAllAccounts(ctx context.Context) (SweepReport, error) {
	report, err := m.sweeper.RefreshExpiring(ctx)
	if err != nil {
		return report, fmt.Errorf("refresh sweep: %w", err)
	}

	statuses, err := m.Statuses(ctx)
	if err != nil {
		return report, err
	}

	var reauth []AccountStatus
	for _, status := range statuses {
		if status.State != domain.CredentialExpired {
			continue
		}
		reauth = append(reauth, status)
		logger.WithFields(logger.Fields{
			"account_id":  status.AccountID,
			"platform":    status.Platform,
			"external_id": status.ExternalID,
		}).Warn("account credential expired, re-authorization required")
	}

	m.mu.Lock()
	m.lastReport = report
	m.lastRun = time.Now()
	m.reauth = reauth
	m.mu.Unlock()

	return report, nil
}

// Statuses returns the credential state of every active account, soonest expiry first
func (m *AccountMonitor) Statuses(ctx context.Context) ([]AccountStatus, error) {
	accounts, err := m.accountRepo.GetAllActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active accounts: %w", err)
	}

	statuses := make([]AccountStatus, 0, len(accounts))
	for _, account := range accounts {
		statuses = append(statuses, AccountStatus{
			AccountID:  account.ID,
			Platform:   account.Platform,
			ExternalID: account.ExternalID,
			State:      m.sweeper.State(account),
			ExpiresAt:  account.Credential.ExpiresAt,
		})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		a, b := statuses[i].ExpiresAt, statuses[j].ExpiresAt
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
	return statuses, nil
}

// NeedsReauthorization returns the accounts left expired by the last sweep
func (m *AccountMonitor) NeedsReauthorization() []AccountStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]AccountStatus(nil), m.reauth...)
}

// LastSweep returns the report and time of the last sweep
func (m *AccountMonitor) LastSweep() (SweepReport, time.Time) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastReport, m.lastRun
}
