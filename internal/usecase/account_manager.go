package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspost/config"
	"crosspost/internal/domain"
	"crosspost/internal/logger"
)

// ErrAccountExists is returned when an account with the same platform and external ID exists
var ErrAccountExists = errors.New("account already exists")

// AccountInput describes a connected platform account and its credential
type AccountInput struct {
	UserID       string     `json:"user_id"`
	Platform     string     `json:"platform"`
	ExternalID   string     `json:"external_id"`
	AccessToken  string     `json:"access_token"`
	Secret       string     `json:"secret,omitempty"`
	RefreshToken string     `json:"refresh_token,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	IsActive     *bool      `json:"is_active,omitempty"`
}

// AccountManager manages connected platform accounts
type AccountManager struct {
	accountRepo domain.AccountRepository
	platforms   map[domain.Platform]bool
}

// NewAccountManager creates a new account manager accepting accounts of the enabled platforms
func NewAccountManager(cfg *config.Config, accountRepo domain.AccountRepository) *AccountManager {
	platforms := make(map[domain.Platform]bool)
	for name, pc := range cfg.Platforms {
		if pc.Enabled {
			platforms[domain.ParsePlatform(name)] = true
		}
	}
	return &AccountManager{
		accountRepo: accountRepo,
		platforms:   platforms,
	}
}

func (m *AccountManager) validate(input AccountInput) (domain.Platform, error) {
	platform := domain.ParsePlatform(input.Platform)
	if platform == "" {
		return "", fmt.Errorf("platform is required")
	}
	if !m.platforms[platform] {
		return "", fmt.Errorf("platform %q is not enabled", input.Platform)
	}
	if strings.TrimSpace(input.ExternalID) == "" {
		return "", fmt.Errorf("external account ID is required")
	}
	if input.AccessToken == "" {
		return "", fmt.Errorf("access token is required")
	}
	return platform, nil
}

// CreateAccount stores a new account
func (m *AccountManager) CreateAccount(ctx context.Context, input AccountInput) (*domain.Account, error) {
	platform, err := m.validate(input)
	if err != nil {
		return nil, err
	}

	existing, err := m.accountRepo.GetByPlatformExternalID(ctx, platform, input.ExternalID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing account: %w", err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s account %s", ErrAccountExists, platform, input.ExternalID)
	}

	account := &domain.Account{
		UserID:     input.UserID,
		Platform:   platform,
		ExternalID: input.ExternalID,
		Credential: domain.Credential{
			AccessToken:  input.AccessToken,
			Secret:       input.Secret,
			RefreshToken: input.RefreshToken,
			ExpiresAt:    input.ExpiresAt,
		},
		IsActive: input.IsActive == nil || *input.IsActive,
	}

	if err := m.accountRepo.Save(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	m.warnDuplicates(ctx, account)
	return account, nil
}

// warnDuplicates logs when a user connects several accounts of one platform
func (m *AccountManager) warnDuplicates(ctx context.Context, account *domain.Account) {
	if account.UserID == "" {
		return
	}
	all, err := m.accountRepo.GetAll(ctx)
	if err != nil {
		return
	}
	n := 0
	for _, a := range all {
		if a.UserID == account.UserID && a.Platform == account.Platform {
			n++
		}
	}
	if n > 1 {
		logger.WithFields(logger.Fields{
			"user_id":  account.UserID,
			"platform": account.Platform,
			"accounts": n,
		}).Warn("user has several accounts on one platform")
	}
}

// GetAccount retrieves an account by ID
func (m *AccountManager) GetAccount(ctx context.Context, accountID string) (*domain.Account, error) {
	account, err := m.accountRepo.GetByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// GetAllAccounts retrieves all accounts
func (m *AccountManager) GetAllAccounts(ctx context.Context) ([]*domain.Account, error) {
	return m.accountRepo.GetAll(ctx)
}

// GetActiveAccounts retrieves only active accounts
func (m *AccountManager) GetActiveAccounts(ctx context.Context) ([]*domain.Account, error) {
	return m.accountRepo.GetAllActive(ctx)
}

// DeleteAccount removes an account
func (m *AccountManager) DeleteAccount(ctx context.Context, accountID string) error {
	if _, err := m.GetAccount(ctx, accountID); err != nil {
		return err
	}
	return m.accountRepo.Delete(ctx, accountID)
}

// ActivateAccount activates an account
func (m *AccountManager) ActivateAccount(ctx context.Context, accountID string) error {
	return m.setActive(ctx, accountID, true)
}

// DeactivateAccount deactivates an account
func (m *AccountManager) DeactivateAccount(ctx context.Context, accountID string) error {
	return m.setActive(ctx, accountID, false)
}

func (m *AccountManager) setActive(ctx context.Context, accountID string, active bool) error {
	account, err := m.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	account.IsActive = active
	return m.accountRepo.Save(ctx, account)
}

// UpdateAccountTokens replaces the credential of an account. An empty refresh token keeps
// the stored one.
func (m *AccountManager) UpdateAccountTokens(
	ctx context.Context,
	accountID string,
	accessToken string,
	refreshToken string,
	expiresIn *int,
) (*domain.Account, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("access token is required")
	}
	account, err := m.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	credential := account.Credential
	credential.AccessToken = accessToken
	if refreshToken != "" {
		credential.RefreshToken = refreshToken
	}
	credential.ExpiresAt = nil
	if expiresIn != nil && *expiresIn > 0 {
		expiresAt := time.Now().Add(time.Duration(*expiresIn) * time.Second)
		credential.ExpiresAt = &expiresAt
	}

	if err := m.accountRepo.UpdateCredential(ctx, accountID, credential); err != nil {
		return nil, fmt.Errorf("failed to update account tokens: %w", err)
	}
	account.Credential = credential
	return account, nil
}

// Bootstrap creates or updates the accounts listed in the config file
func (m *AccountManager) Bootstrap(ctx context.Context, entries []config.AccountBootstrap) (int, error) {
	applied := 0
	for _, entry := range entries {
		input := AccountInput{
			UserID:       entry.UserID,
			Platform:     entry.Platform,
			ExternalID:   entry.ExternalID,
			AccessToken:  entry.AccessToken,
			Secret:       entry.Secret,
			RefreshToken: entry.RefreshToken,
			IsActive:     entry.IsActive,
		}
		if entry.ExpiresAt != "" {
			expiresAt, err := time.Parse(time.RFC3339, entry.ExpiresAt)
			if err != nil {
				logger.WithFields(logger.Fields{
					"platform":    entry.Platform,
					"external_id": entry.ExternalID,
				}).WithError(err).Error("skipping bootstrap account with invalid expires_at")
				continue
			}
			input.ExpiresAt = &expiresAt
		}

		platform, err := m.validate(input)
		if err != nil {
			logger.WithFields(logger.Fields{
				"platform":    entry.Platform,
				"external_id": entry.ExternalID,
			}).WithError(err).Error("skipping invalid bootstrap account")
			continue
		}

		existing, err := m.accountRepo.GetByPlatformExternalID(ctx, platform, input.ExternalID)
		if err != nil {
			return applied, fmt.Errorf("failed to check existing account: %w", err)
		}
		if existing == nil {
			if _, err := m.CreateAccount(ctx, input); err != nil {
				return applied, err
			}
			applied++
			logger.WithFields(logger.Fields{"platform": platform, "external_id": input.ExternalID}).Info("bootstrapped account")
			continue
		}

		// a stored credential that was refreshed since the config was written is kept
		changed := false
		if input.AccessToken != existing.Credential.AccessToken {
			existing.Credential = domain.Credential{
				AccessToken:  input.AccessToken,
				Secret:       input.Secret,
				RefreshToken: input.RefreshToken,
				ExpiresAt:    input.ExpiresAt,
			}
			changed = true
		}
		if input.IsActive != nil && existing.IsActive != *input.IsActive {
			existing.IsActive = *input.IsActive
			changed = true
		}
		if input.UserID != "" && existing.UserID != input.UserID {
			existing.UserID = input.UserID
			changed = true
		}
		if !changed {
			continue
		}
		if err := m.accountRepo.Save(ctx, existing); err != nil {
			return applied, fmt.Errorf("failed to update bootstrap account: %w", err)
		}
		applied++
		logger.WithFields(logger.Fields{"platform": platform, "external_id": input.ExternalID}).Info("updated bootstrap account")
	}
	return applied, nil
}
