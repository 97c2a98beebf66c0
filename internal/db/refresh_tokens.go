package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RefreshTokenRepository stores each user's set of active refresh tokens.
// Membership in the set is what makes a refresh token usable.
type RefreshTokenRepository struct {
	db *DB
}

func NewRefreshTokenRepository(db *DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

func (r *RefreshTokenRepository) Append(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return appendRefreshToken(ctx, r.db, userID, token, expiresAt)
}

// Replace drops presented (when non-empty and owned by userID) and appends
// token in one transaction, so a re-login never grows the set.
func (r *RefreshTokenRepository) Replace(ctx context.Context, userID, presented, token string, expiresAt time.Time) error {
	return r.db.InTx(ctx, func(tx *sql.Tx) error {
		if presented != "" {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM user_refresh_tokens WHERE user_id = ? AND token = ?`,
				userID, presented,
			); err != nil {
				return fmt.Errorf("discarding presented refresh token: %w", err)
			}
		}
		return appendRefreshToken(ctx, tx, userID, token, expiresAt)
	})
}

// Rotate swaps oldToken for newToken with a single conditional update.
// ErrNotFound means oldToken was not in the set: it was already used,
// revoked, or never issued to userID.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, userID, oldToken, newToken string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_refresh_tokens
		    SET token = ?, expires_at = ?, created_at = ?
		  WHERE user_id = ?
		    AND token = ?`,
		newToken, expiresAt.UTC(), time.Now().UTC(),
		userID, oldToken,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("rotating refresh token: %w", err)
	}
	return checkRowsAffected(result)
}

// Remove deletes token from whichever set holds it. Absence is not an error.
func (r *RefreshTokenRepository) Remove(ctx context.Context, token string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_refresh_tokens WHERE token = ?`, token)
	if err != nil {
		return false, fmt.Errorf("removing refresh token: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking rows affected: %w", err)
	}
	return rows > 0, nil
}

func (r *RefreshTokenRepository) RemoveAllForUser(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_refresh_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clearing refresh tokens: %w", err)
	}
	return nil
}

// List returns the user's active tokens in insertion order.
func (r *RefreshTokenRepository) List(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT token FROM user_refresh_tokens WHERE user_id = ? ORDER BY created_at, id`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying refresh tokens: %w", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scanning refresh token: %w", err)
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

func (r *RefreshTokenRepository) Contains(ctx context.Context, userID, token string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM user_refresh_tokens WHERE user_id = ? AND token = ?`,
		userID, token,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking refresh token: %w", err)
	}
	return n > 0, nil
}

func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM user_refresh_tokens WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired refresh tokens: %w", err)
	}

	return result.RowsAffected()
}

func appendRefreshToken(ctx context.Context, q dbtx, userID, token string, expiresAt time.Time) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO user_refresh_tokens (user_id, token, expires_at, created_at) VALUES (?, ?, ?, ?)`,
		userID, token, expiresAt.UTC(), time.Now().UTC(),
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("appending refresh token: %w", err)
	}
	return nil
}
