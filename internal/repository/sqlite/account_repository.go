package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"crosspost/internal/domain"
)

const accountColumns = `id, user_id, platform, external_id, access_token, secret, refresh_token,
	token_expires_at, is_active, created_at, updated_at`

// AccountRepository is a SQLite implementation of domain.AccountRepository.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository creates a new AccountRepository backed by SQLite.
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// GetAll returns all accounts regardless of status.
func (r *AccountRepository) GetAll(ctx context.Context) ([]*domain.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at ASC`)
}

// GetAllActive returns all active accounts.
func (r *AccountRepository) GetAllActive(ctx context.Context) ([]*domain.Account, error) {
	return r.query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE is_active = 1 ORDER BY created_at ASC`)
}

func (r *AccountRepository) query(ctx context.Context, query string, args ...any) ([]*domain.Account, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*domain.Account
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// GetByID returns an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetByPlatformExternalID returns an account by platform and platform-side ID.
func (r *AccountRepository) GetByPlatformExternalID(ctx context.Context, platform domain.Platform, externalID string) (*domain.Account, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE platform = ? AND external_id = ?`,
		string(platform), externalID)
	return scanAccount(row)
}

// Save inserts or updates an account.
func (r *AccountRepository) Save(ctx context.Context, account *domain.Account) error {
	now := time.Now().UTC()
	if account.ID == "" {
		account.ID = uuid.NewString()
		account.CreatedAt = now
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	cred := account.Credential
	_, err := r.db.ExecContext(ctx, `INSERT INTO accounts
		(`+accountColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			external_id = excluded.external_id,
			access_token = excluded.access_token,
			secret = excluded.secret,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		account.ID, account.UserID, string(account.Platform), account.ExternalID,
		cred.AccessToken, nullableString(cred.Secret), nullableString(cred.RefreshToken), nullableTimePtr(cred.ExpiresAt),
		boolToInt(account.IsActive), account.CreatedAt.UTC(), account.UpdatedAt.UTC())
	return err
}

// UpdateCredential replaces all token fields of an account inside one transaction.
// Readers see either the previous credential or the new one.
func (r *AccountRepository) UpdateCredential(ctx context.Context, id string, credential domain.Credential) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin credential update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `UPDATE accounts SET access_token = ?, secret = ?, refresh_token = ?,
		token_expires_at = ?, updated_at = ? WHERE id = ?`,
		credential.AccessToken, nullableString(credential.Secret), nullableString(credential.RefreshToken),
		nullableTimePtr(credential.ExpiresAt), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	if n == 0 {
		return domain.ErrAccountNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential update: %w", err)
	}
	return nil
}

// Delete removes an account.
func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM accounts WHERE id = ?`, id)
	return err
}

func scanAccount(scanner interface {
	Scan(dest ...any) error
}) (*domain.Account, error) {
	var (
		platform       string
		secret         sql.NullString
		refreshToken   sql.NullString
		tokenExpiresAt sql.NullTime
		isActive       int
		account        domain.Account
	)

	if err := scanner.Scan(
		&account.ID,
		&account.UserID,
		&platform,
		&account.ExternalID,
		&account.Credential.AccessToken,
		&secret,
		&refreshToken,
		&tokenExpiresAt,
		&isActive,
		&account.CreatedAt,
		&account.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	account.Platform = domain.Platform(platform)
	if secret.Valid {
		account.Credential.Secret = secret.String
	}
	if refreshToken.Valid {
		account.Credential.RefreshToken = refreshToken.String
	}
	if tokenExpiresAt.Valid {
		expiresAt := tokenExpiresAt.Time
		account.Credential.ExpiresAt = &expiresAt
	}
	account.IsActive = isActive == 1
	return &account, nil
}
