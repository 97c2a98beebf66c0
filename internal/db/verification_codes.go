package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type VerificationCodeRepository struct {
	db *DB
}

func NewVerificationCodeRepository(db *DB) *VerificationCodeRepository {
	return &VerificationCodeRepository{db: db}
}

func (r *VerificationCodeRepository) Create(ctx context.Context, userID, code string, expiresAt time.Time) (*models.VerificationCode, error) {
	id, err := GenerateID("evc")
	if err != nil {
		return nil, fmt.Errorf("generating verification code ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO email_verification_codes (id, user_id, code, expires_at, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, userID, code, expiresAt.UTC(), now,
	)
	if err != nil {
		return nil, fmt.Errorf("creating verification code: %w", err)
	}

	return &models.VerificationCode{
		ID:        id,
		UserID:    userID,
		Code:      code,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// FindByCode returns the most recent code row matching code.
func (r *VerificationCodeRepository) FindByCode(ctx context.Context, code string) (*models.VerificationCode, error) {
	var vc models.VerificationCode
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, code, expires_at, created_at FROM email_verification_codes WHERE code = ? ORDER BY created_at DESC LIMIT 1`,
		code,
	).Scan(&vc.ID, &vc.UserID, &vc.Code, &vc.ExpiresAt, &vc.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying verification code: %w", err)
	}
	return &vc, nil
}

func (r *VerificationCodeRepository) DeleteAllForUser(ctx context.Context, userID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM email_verification_codes WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("deleting verification codes: %w", err)
	}
	return result.RowsAffected()
}

func (r *VerificationCodeRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM email_verification_codes WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("deleting expired verification codes: %w", err)
	}

	return result.RowsAffected()
}
