package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type AccountRepository struct {
	q dbtx
}

func NewAccountRepository(db *DB) *AccountRepository {
	return &AccountRepository{q: db}
}

func (r *AccountRepository) WithTx(tx *sql.Tx) *AccountRepository {
	return &AccountRepository{q: tx}
}

const accountColumns = `id, user_id, type, provider, provider_account_id, access_token, refresh_token, id_token, scope, token_type, expires_at, created_at, updated_at`

func (r *AccountRepository) Create(ctx context.Context, a *models.Account) (*models.Account, error) {
	id, err := GenerateID("acc")
	if err != nil {
		return nil, fmt.Errorf("generating account ID: %w", err)
	}
	now := time.Now().UTC()
	if a.Type == "" {
		a.Type = "oauth"
	}

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, a.UserID, a.Type, a.Provider, a.ProviderAccountID,
		a.AccessToken, a.RefreshToken, a.IDToken, a.Scope, a.TokenType,
		timePtrToNull(a.ExpiresAt), now, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating account: %w", err)
	}

	created := *a
	created.ID = id
	created.CreatedAt = now
	created.UpdatedAt = now
	return &created, nil
}

func (r *AccountRepository) FindByProviderAccountID(ctx context.Context, provider, providerAccountID string) (*models.Account, error) {
	return r.findOne(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE provider = ? AND provider_account_id = ?`,
		provider, providerAccountID,
	)
}

func (r *AccountRepository) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting accounts: %w", err)
	}
	return n, nil
}

// UpdateTokens stores the latest provider-issued tokens for an account.
func (r *AccountRepository) UpdateTokens(ctx context.Context, id string, a *models.Account) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts
		    SET access_token = ?, refresh_token = ?, id_token = ?, scope = ?, token_type = ?, expires_at = ?, updated_at = ?
		  WHERE id = ?`,
		a.AccessToken, a.RefreshToken, a.IDToken, a.Scope, a.TokenType,
		timePtrToNull(a.ExpiresAt), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating account tokens: %w", err)
	}
	return checkRowsAffected(result)
}

// UpdateAccessToken replaces the access token of every account linked to
// providerAccountID.
func (r *AccountRepository) UpdateAccessToken(ctx context.Context, providerAccountID, accessToken string) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE accounts SET access_token = ?, updated_at = ? WHERE provider_account_id = ?`,
		accessToken, time.Now().UTC(), providerAccountID,
	)
	if err != nil {
		return fmt.Errorf("updating account access token: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *AccountRepository) findOne(ctx context.Context, query string, args ...any) (*models.Account, error) {
	var (
		a         models.Account
		expiresAt sql.NullTime
	)
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&a.ID, &a.UserID, &a.Type, &a.Provider, &a.ProviderAccountID,
		&a.AccessToken, &a.RefreshToken, &a.IDToken, &a.Scope, &a.TokenType,
		&expiresAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying account: %w", err)
	}
	a.ExpiresAt = nullTimeToPtr(expiresAt)
	return &a, nil
}
