package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"storefront/internal/models"
)

type UserRepository struct {
	q dbtx
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{q: db}
}

// WithTx returns a repository bound to tx.
func (r *UserRepository) WithTx(tx *sql.Tx) *UserRepository {
	return &UserRepository{q: tx}
}

type NewUser struct {
	Name            string
	Email           string
	Phone           *string
	AvatarURL       *string
	PasswordHash    *string
	Role            models.Role
	EmailVerifiedAt *time.Time
}

const userColumns = `id, name, email, phone, avatar_url, password_hash, role, email_verified_at, created_at, updated_at`

func (r *UserRepository) Create(ctx context.Context, in NewUser) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	now := time.Now().UTC()

	_, err = r.q.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, in.Name, in.Email,
		stringPtrToNull(in.Phone),
		stringPtrToNull(in.AvatarURL),
		stringPtrToNull(in.PasswordHash),
		string(in.Role),
		timePtrToNull(in.EmailVerifiedAt),
		now, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:              id,
		Name:            in.Name,
		Email:           in.Email,
		Phone:           in.Phone,
		AvatarURL:       in.AvatarURL,
		PasswordHash:    in.PasswordHash,
		Role:            in.Role,
		EmailVerifiedAt: in.EmailVerifiedAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

func (r *UserRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	result, err := r.q.ExecContext(ctx,
		`UPDATE users SET email_verified_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("marking email verified: %w", err)
	}
	return checkRowsAffected(result)
}

// UpgradeGuest turns the guest owning email into a password user in a
// single statement. ErrNotFound means no guest holds the address.
func (r *UserRepository) UpgradeGuest(ctx context.Context, email, name, passwordHash string) (*models.User, error) {
	return r.findOne(ctx,
		`UPDATE users
		    SET name = ?, password_hash = ?, role = 'user', updated_at = ?
		  WHERE email = ? AND role = 'guest'
		RETURNING `+userColumns,
		name, passwordHash, time.Now().UTC(), email,
	)
}

func (r *UserRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var (
		u               models.User
		role            string
		phone           sql.NullString
		avatarURL       sql.NullString
		passwordHash    sql.NullString
		emailVerifiedAt sql.NullTime
	)

	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Name,
		&u.Email,
		&phone,
		&avatarURL,
		&passwordHash,
		&role,
		&emailVerifiedAt,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.Role = models.Role(role)
	u.Phone = nullStringToPtr(phone)
	u.AvatarURL = nullStringToPtr(avatarURL)
	u.PasswordHash = nullStringToPtr(passwordHash)
	u.EmailVerifiedAt = nullTimeToPtr(emailVerifiedAt)

	return &u, nil
}
