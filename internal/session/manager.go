// Package session turns credentials into access and refresh token pairs and
// keeps each user's refresh token set consistent across workers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/db"
	"storefront/internal/email"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/provider"
)

const (
	MethodCredential = "credential"
	MethodProvider   = "provider"
	MethodGuest      = "guest"
)

// Session is the result of a successful login or refresh.
type Session struct {
	User             *models.User
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	// VerificationSent is set when a login stored a fresh email code.
	VerificationSent bool
}

type UserStore interface {
	Create(ctx context.Context, in db.NewUser) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	MarkEmailVerified(ctx context.Context, id string, at time.Time) error
	UpgradeGuest(ctx context.Context, email, name, passwordHash string) (*models.User, error)
}

type RefreshTokenStore interface {
	Append(ctx context.Context, userID, token string, expiresAt time.Time) error
	Replace(ctx context.Context, userID, presented, token string, expiresAt time.Time) error
	Rotate(ctx context.Context, userID, oldToken, newToken string, expiresAt time.Time) error
	Remove(ctx context.Context, token string) (bool, error)
}

type CodeStore interface {
	Create(ctx context.Context, userID, code string, expiresAt time.Time) (*models.VerificationCode, error)
	FindByCode(ctx context.Context, code string) (*models.VerificationCode, error)
	DeleteAllForUser(ctx context.Context, userID string) (int64, error)
}

// Linker resolves a verified provider account to a local user.
type Linker interface {
	Resolve(ctx context.Context, account *models.Account, identity *provider.Identity) (*models.User, error)
}

type Manager struct {
	users    UserStore
	tokens   RefreshTokenStore
	codes    CodeStore
	tokenSvc *auth.TokenService
	codeSvc  *auth.VerificationCodeService
	mailer   email.Mailer
	linker   Linker
	now      func() time.Time
}

func NewManager(
	users UserStore,
	tokens RefreshTokenStore,
	codes CodeStore,
	tokenSvc *auth.TokenService,
	codeSvc *auth.VerificationCodeService,
	mailer email.Mailer,
	linker Linker,
) *Manager {
	return &Manager{
		users:    users,
		tokens:   tokens,
		codes:    codes,
		tokenSvc: tokenSvc,
		codeSvc:  codeSvc,
		mailer:   mailer,
		linker:   linker,
		now:      time.Now,
	}
}

// Login checks an email and password. presented is the refresh token the
// device already holds, if any; it is swapped out for the new one.
func (m *Manager) Login(ctx context.Context, emailAddr, password, presented string) (*Session, error) {
	user, err := m.users.FindByEmail(ctx, normalizeEmail(emailAddr))
	if errors.Is(err, db.ErrNotFound) {
		metrics.RecordLogin(MethodCredential, false)
		return nil, apperr.New(apperr.InvalidCredentials, "Invalid Credentials!")
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	if user.PasswordHash == nil || !auth.ComparePassword(*user.PasswordHash, password) {
		metrics.RecordLogin(MethodCredential, false)
		return nil, apperr.New(apperr.InvalidCredentials, "Invalid Credentials!")
	}

	sess, err := m.issue(ctx, user, presented)
	if err != nil {
		return nil, err
	}
	metrics.RecordLogin(MethodCredential, true)

	if !user.EmailVerified() {
		sent, err := m.sendCode(ctx, user)
		if err != nil {
			return nil, err
		}
		sess.VerificationSent = sent
	}
	return sess, nil
}

// LoginProvider logs in the user a verified provider account resolves to.
func (m *Manager) LoginProvider(ctx context.Context, account *models.Account, identity *provider.Identity, presented string) (*Session, error) {
	user, err := m.linker.Resolve(ctx, account, identity)
	if err != nil {
		metrics.RecordLogin(MethodProvider, false)
		return nil, err
	}

	sess, err := m.issue(ctx, user, presented)
	if err != nil {
		return nil, err
	}
	metrics.RecordLogin(MethodProvider, true)
	return sess, nil
}

// Refresh trades a refresh token for a new pair. Each token works once:
// the rotation is a conditional update, so a concurrent second use fails
// with UsedToken no matter which worker serves it.
func (m *Manager) Refresh(ctx context.Context, token string) (*Session, error) {
	if token == "" {
		metrics.RecordRefresh("missing")
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized Access!")
	}

	claims, err := m.tokenSvc.Verify(token, auth.RefreshToken)
	if err != nil {
		metrics.RecordRefresh("invalid")
		return nil, err
	}

	user, err := m.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		metrics.RecordRefresh("used")
		return nil, apperr.New(apperr.UsedToken, "Used Token!")
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	access, accessExp, err := m.tokenSvc.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	refresh, refreshExp, err := m.tokenSvc.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}

	err = m.tokens.Rotate(ctx, user.ID, token, refresh, refreshExp)
	if errors.Is(err, db.ErrNotFound) {
		metrics.RecordRefresh("used")
		slog.Warn("refresh token reuse", "component", "session", "user_id", user.ID)
		return nil, apperr.New(apperr.UsedToken, "Used Token!")
	}
	if err != nil {
		return nil, fmt.Errorf("rotating refresh token: %w", err)
	}

	metrics.RecordRefresh("success")
	return &Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// Logout forgets token. Unknown and unverifiable tokens are ignored.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if _, err := m.tokenSvc.Verify(token, auth.RefreshToken); err != nil {
		return nil
	}
	if _, err := m.tokens.Remove(ctx, token); err != nil {
		return fmt.Errorf("removing refresh token: %w", err)
	}
	return nil
}

// GuestContact is what checkout collects from someone without an account.
type GuestContact struct {
	Name  string
	Email string
	Phone *string
}

// PromoteGuest logs in a checkout visitor as a new guest user. Any email
// that already has a user, guest or not, is refused with Conflict.
func (m *Manager) PromoteGuest(ctx context.Context, contact GuestContact) (*Session, error) {
	addr := normalizeEmail(contact.Email)
	if addr == "" {
		return nil, apperr.New(apperr.ValidationFailed, "email is required")
	}

	_, err := m.users.FindByEmail(ctx, addr)
	switch {
	case err == nil:
		metrics.RecordLogin(MethodGuest, false)
		return nil, errGuestEmailTaken
	case !errors.Is(err, db.ErrNotFound):
		return nil, fmt.Errorf("finding user: %w", err)
	}

	user, err := m.createGuest(ctx, contact.Name, addr, contact.Phone)
	if err != nil {
		metrics.RecordLogin(MethodGuest, false)
		return nil, err
	}

	access, accessExp, err := m.tokenSvc.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	refresh, refreshExp, err := m.tokenSvc.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}
	if err := m.tokens.Append(ctx, user.ID, refresh, refreshExp); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	metrics.RecordLogin(MethodGuest, true)
	return &Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

var errGuestEmailTaken = apperr.New(apperr.Conflict, "Already have an account with this mail, Please login")

func (m *Manager) createGuest(ctx context.Context, name, addr string, phone *string) (*models.User, error) {
	hash := auth.UnusablePasswordHash()
	user, err := m.users.Create(ctx, db.NewUser{
		Name:         name,
		Email:        addr,
		Phone:        phone,
		PasswordHash: &hash,
		Role:         models.RoleGuest,
	})
	if errors.Is(err, db.ErrDuplicate) {
		return nil, errGuestEmailTaken
	}
	if err != nil {
		return nil, fmt.Errorf("creating guest: %w", err)
	}
	return user, nil
}

// Register creates a password user. A checkout guest with the same email is
// upgraded in place and keeps its id. It issues no tokens; the caller logs in.
func (m *Manager) Register(ctx context.Context, name, emailAddr, password string) (*models.User, error) {
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	addr := normalizeEmail(emailAddr)

	user, err := m.users.Create(ctx, db.NewUser{
		Name:         name,
		Email:        addr,
		PasswordHash: &hash,
		Role:         models.RoleUser,
	})
	if errors.Is(err, db.ErrDuplicate) {
		user, err = m.users.UpgradeGuest(ctx, addr, name, hash)
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.New(apperr.Conflict, "User Already Registered with This mail!")
		}
		if err != nil {
			return nil, fmt.Errorf("upgrading guest: %w", err)
		}
		return user, nil
	}
	if err != nil {
		return nil, fmt.Errorf("creating user: %w", err)
	}
	return user, nil
}

// SendVerification issues a new code to an unverified user and dispatches it.
func (m *Manager) SendVerification(ctx context.Context, userID string) error {
	user, err := m.users.FindByID(ctx, userID)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "User not found")
	}
	if err != nil {
		return fmt.Errorf("finding user: %w", err)
	}
	if user.EmailVerified() {
		return apperr.New(apperr.Conflict, "Email already verified")
	}

	code, err := m.storeCode(ctx, user)
	if err != nil {
		return err
	}
	if err := m.mailer.SendVerificationCode(ctx, user.Email, code, m.codeSvc.TTL()); err != nil {
		return fmt.Errorf("sending verification code: %w", err)
	}
	return nil
}

// VerifyEmail marks the owner of code as verified and burns all their codes.
func (m *Manager) VerifyEmail(ctx context.Context, code string) (*models.User, error) {
	vc, err := m.codes.FindByCode(ctx, code)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "Invalid verification code")
	}
	if err != nil {
		return nil, fmt.Errorf("finding verification code: %w", err)
	}
	if m.now().After(vc.ExpiresAt) {
		return nil, apperr.New(apperr.ValidationFailed, "Verification code expired")
	}

	if err := m.users.MarkEmailVerified(ctx, vc.UserID, m.now()); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, apperr.New(apperr.NotFound, "User not found")
		}
		return nil, fmt.Errorf("marking email verified: %w", err)
	}
	if _, err := m.codes.DeleteAllForUser(ctx, vc.UserID); err != nil {
		return nil, fmt.Errorf("deleting verification codes: %w", err)
	}

	user, err := m.users.FindByID(ctx, vc.UserID)
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return user, nil
}

// Authenticate resolves an access token to its user.
func (m *Manager) Authenticate(ctx context.Context, accessToken string) (*models.User, error) {
	if accessToken == "" {
		return nil, apperr.New(apperr.Unauthorized, "Unauthorized Access!")
	}
	claims, err := m.tokenSvc.Verify(accessToken, auth.AccessToken)
	if err != nil {
		return nil, err
	}

	user, err := m.users.FindByID(ctx, claims.UserID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, apperr.New(apperr.NotFound, "User not found")
	}
	if err != nil {
		return nil, fmt.Errorf("finding user: %w", err)
	}
	return user, nil
}

func (m *Manager) issue(ctx context.Context, user *models.User, presented string) (*Session, error) {
	access, accessExp, err := m.tokenSvc.IssueAccessToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing access token: %w", err)
	}
	refresh, refreshExp, err := m.tokenSvc.IssueRefreshToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("issuing refresh token: %w", err)
	}
	if err := m.tokens.Replace(ctx, user.ID, presented, refresh, refreshExp); err != nil {
		return nil, fmt.Errorf("storing refresh token: %w", err)
	}

	return &Session{
		User:             user,
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// sendCode stores a code and tries to mail it. Delivery failures are logged:
// the user can ask for another code.
func (m *Manager) sendCode(ctx context.Context, user *models.User) (bool, error) {
	code, err := m.storeCode(ctx, user)
	if err != nil {
		return false, err
	}
	if err := m.mailer.SendVerificationCode(ctx, user.Email, code, m.codeSvc.TTL()); err != nil {
		slog.Error("failed to send verification code", "component", "session", "user_id", user.ID, "error", err)
	}
	return true, nil
}

func (m *Manager) storeCode(ctx context.Context, user *models.User) (string, error) {
	code, err := m.codeSvc.GenerateCode()
	if err != nil {
		return "", err
	}
	if _, err := m.codes.DeleteAllForUser(ctx, user.ID); err != nil {
		return "", fmt.Errorf("deleting verification codes: %w", err)
	}
	if _, err := m.codes.Create(ctx, user.ID, code, m.codeSvc.ExpiresAt()); err != nil {
		return "", fmt.Errorf("storing verification code: %w", err)
	}
	return code, nil
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
