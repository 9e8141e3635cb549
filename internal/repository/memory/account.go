package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

// AccountRepository is an in-memory implementation of AccountRepository.
// Accounts are copied in and out so callers never share state with the store.
type AccountRepository struct {
	mu       sync.RWMutex
	accounts map[string]*domain.Account
}

// NewAccountRepository creates a new in-memory account repository
func NewAccountRepository() *AccountRepository {
	return &AccountRepository{
		accounts: make(map[string]*domain.Account),
	}
}

// GetAllActive returns all active accounts
func (r *AccountRepository) GetAllActive(_ context.Context) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var activeAccounts []*domain.Account
	for _, account := range r.sorted() {
		if account.IsActive {
			activeAccounts = append(activeAccounts, copyAccount(account))
		}
	}

	return activeAccounts, nil
}

// GetAll returns all accounts regardless of status.
func (r *AccountRepository) GetAll(_ context.Context) ([]*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var accounts []*domain.Account
	for _, account := range r.sorted() {
		accounts = append(accounts, copyAccount(account))
	}

	return accounts, nil
}

func (r *AccountRepository) sorted() []*domain.Account {
	accounts := make([]*domain.Account, 0, len(r.accounts))
	for _, account := range r.accounts {
		accounts = append(accounts, account)
	}
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
	return accounts
}

// GetByID returns an account by its ID
func (r *AccountRepository) GetByID(_ context.Context, id string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, exists := r.accounts[id]
	if !exists {
		return nil, nil
	}

	return copyAccount(account), nil
}

// GetByPlatformExternalID returns an account by platform and external ID
func (r *AccountRepository) GetByPlatformExternalID(_ context.Context, platform domain.Platform, externalID string) (*domain.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, account := range r.accounts {
		if account.Platform == platform && account.ExternalID == externalID {
			return copyAccount(account), nil
		}
	}

	return nil, nil
}

// Delete removes an account
func (r *AccountRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.accounts, id)
	return nil
}

// UpdateCredential swaps the credential of an account under the write lock
func (r *AccountRepository) UpdateCredential(_ context.Context, id string, credential domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	account, exists := r.accounts[id]
	if !exists {
		return domain.ErrAccountNotFound
	}

	account.Credential = copyCredential(credential)
	account.UpdatedAt = time.Now()

	return nil
}

// Save creates or updates an account
func (r *AccountRepository) Save(_ context.Context, account *domain.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if account.ID == "" {
		account.ID = generateID()
		account.CreatedAt = time.Now()
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now()
	}
	account.UpdatedAt = time.Now()

	r.accounts[account.ID] = copyAccount(account)
	return nil
}

func copyAccount(account *domain.Account) *domain.Account {
	clone := *account
	clone.Credential = copyCredential(account.Credential)
	return &clone
}

func copyCredential(credential domain.Credential) domain.Credential {
	if credential.ExpiresAt != nil {
		expiresAt := *credential.ExpiresAt
		credential.ExpiresAt = &expiresAt
	}
	return credential
}

func generateID() string {
	return uuid.NewString()
}
