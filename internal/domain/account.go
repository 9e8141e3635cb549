package domain

import (
	"context"
	"time"
)

// Account represents a connected platform account whose credentials are used to publish
type Account struct {
	// ID is the unique identifier for the account
	ID string

	// UserID is the owner of the account in the authoring system
	UserID string

	// Platform is the platform this account belongs to
	Platform Platform

	// ExternalID is the account identifier on the platform (page id, open_id, user id)
	ExternalID string

	// Credential holds the token material for the account
	Credential Credential

	// IsActive indicates if the account may be used for publishing
	IsActive bool

	// CreatedAt is the timestamp when the account was created
	CreatedAt time.Time

	// UpdatedAt is the timestamp when the account was last updated
	UpdatedAt time.Time
}

// Credential is the token material stored for an account
type Credential struct {
	// AccessToken is the bearer token used for API calls
	AccessToken string

	// Secret is an optional secondary token or secret (e.g. a page token or token secret)
	Secret string

	// RefreshToken is the optional token used to obtain a new access token
	RefreshToken string

	// ExpiresAt is when the access token expires; nil means it does not expire
	ExpiresAt *time.Time
}

// CredentialState is derived from the expiry of a credential at a point in time
type CredentialState string

const (
	// CredentialValid means the token is usable and not close to expiry
	CredentialValid CredentialState = "valid"

	// CredentialNeedsRefresh means the token is still usable but within the refresh threshold
	CredentialNeedsRefresh CredentialState = "needs_refresh"

	// CredentialExpired means the token is past its expiry
	CredentialExpired CredentialState = "expired"
)

// StateAt computes the credential state at now for the given refresh threshold
func (c Credential) StateAt(now time.Time, threshold time.Duration) CredentialState {
	if c.ExpiresAt == nil {
		return CredentialValid
	}
	remaining := c.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return CredentialExpired
	}
	if remaining <= threshold {
		return CredentialNeedsRefresh
	}
	return CredentialValid
}

// CanRefresh reports whether the credential carries a refresh token
func (c Credential) CanRefresh() bool {
	return c.RefreshToken != ""
}

// Token is the resolved, currently usable credential handed to an adapter
type Token struct {
	// AccessToken is the bearer token
	AccessToken string

	// Secret is the optional secondary token or secret
	Secret string

	// ExpiresAt is when the access token expires; nil means it does not expire
	ExpiresAt *time.Time
}

// RefreshedToken is the result of a platform token-exchange grant
type RefreshedToken struct {
	// AccessToken is the new access token
	AccessToken string

	// RefreshToken is the new refresh token; empty means the old one stays valid
	RefreshToken string

	// ExpiresInSeconds is the lifetime of the new access token (0 = does not expire)
	ExpiresInSeconds int64
}

// AccountRepository defines the interface for account data operations
type AccountRepository interface {
	// GetAll returns all accounts
	GetAll(ctx context.Context) ([]*Account, error)

	// GetAllActive returns all active accounts
	GetAllActive(ctx context.Context) ([]*Account, error)

	// GetByID returns an account by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*Account, error)

	// GetByPlatformExternalID returns an account by platform and external ID, or nil
	GetByPlatformExternalID(ctx context.Context, platform Platform, externalID string) (*Account, error)

	// Save creates or updates an account
	Save(ctx context.Context, account *Account) error

	// UpdateCredential replaces the credential of an account in a single atomic write.
	// Readers observe either the old credential or the new one, never a mix.
	UpdateCredential(ctx context.Context, id string, credential Credential) error

	// Delete removes an account
	Delete(ctx context.Context, id string) error
}
