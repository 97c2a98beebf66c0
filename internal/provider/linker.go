package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/models"
)

// Linker resolves provider identities to local users. Resolution runs in a
// single transaction so a conflicting email never leaves a stray Account.
type Linker struct {
	db       *db.DB
	users    *db.UserRepository
	accounts *db.AccountRepository
	oauth    *oauthClients
}

type Option func(*linkerOptions)

type linkerOptions struct {
	endpoints  Endpoints
	httpClient *http.Client
}

func WithEndpoints(e Endpoints) Option {
	return func(o *linkerOptions) { o.endpoints = e }
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *linkerOptions) { o.httpClient = c }
}

func NewLinker(database *db.DB, cfg config.ProvidersConfig, baseURL string, opts ...Option) *Linker {
	o := linkerOptions{
		endpoints:  DefaultEndpoints(),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Linker{
		db:       database,
		users:    db.NewUserRepository(database),
		accounts: db.NewAccountRepository(database),
		oauth:    newOAuthClients(cfg, baseURL, o.endpoints, o.httpClient),
	}
}

// AuthorizationURL returns where to send the browser to start a provider
// login, or false when the provider has no server-side flow.
func (l *Linker) AuthorizationURL(provider, redirectURI string) (string, bool) {
	return l.oauth.authorizationURL(provider, redirectURI)
}

func (l *Linker) ExchangeCode(ctx context.Context, provider, code string) (string, error) {
	return l.oauth.exchangeCode(ctx, provider, code)
}

func (l *Linker) FetchIdentity(ctx context.Context, provider, accessToken string) (*Identity, error) {
	return l.oauth.fetchIdentity(ctx, provider, accessToken)
}

// VerifyAccount confirms a client-presented provider session with the
// provider and returns the Account it describes (not yet persisted).
func (l *Linker) VerifyAccount(ctx context.Context, payload AccountPayload) (*models.Account, error) {
	providerAccountID, err := l.oauth.providerAccountID(ctx, payload)
	if err != nil {
		slog.Debug("provider verification failed", "component", "provider", "provider", payload.Provider, "error", err)
		return nil, apperr.Wrap(apperr.InvalidProvider, "Invalid Provider!", err)
	}

	var expiresAt *time.Time
	if payload.ExpiresAt > 0 {
		t := time.Unix(payload.ExpiresAt, 0).UTC()
		expiresAt = &t
	}

	return &models.Account{
		Type:              payload.Type,
		Provider:          payload.Provider,
		ProviderAccountID: providerAccountID,
		AccessToken:       payload.AccessToken,
		RefreshToken:      payload.RefreshToken,
		IDToken:           payload.IDToken,
		Scope:             payload.Scope,
		TokenType:         payload.TokenType,
		ExpiresAt:         expiresAt,
	}, nil
}

// AccountFromIdentity builds the Account for a code-exchange login.
func AccountFromIdentity(provider, accessToken string, identity *Identity) *models.Account {
	return &models.Account{
		Type:              "oauth",
		Provider:          provider,
		ProviderAccountID: identity.ExternalID,
		AccessToken:       accessToken,
		TokenType:         "Bearer",
	}
}

// Resolve maps a verified account and identity to a local user:
//
//   - neither the account nor a user with the email exists: create both
//   - a user with a password owns the email: Conflict
//   - only one of the two exists: InvalidProvider
//   - the account belongs to another user: InvalidProvider
//
// Otherwise the account's provider tokens are refreshed.
func (l *Linker) Resolve(ctx context.Context, account *models.Account, identity *Identity) (*models.User, error) {
	if account == nil || identity == nil {
		return nil, apperr.New(apperr.ValidationFailed, "account and user are required")
	}
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	if email == "" {
		return nil, apperr.New(apperr.ValidationFailed, "email is required")
	}

	var resolved *models.User
	err := l.db.InTx(ctx, func(tx *sql.Tx) error {
		user, err := l.resolveTx(ctx, tx, account, identity, email)
		resolved = user
		return err
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

func (l *Linker) resolveTx(ctx context.Context, tx *sql.Tx, account *models.Account, identity *Identity, email string) (*models.User, error) {
	users := l.users.WithTx(tx)
	accounts := l.accounts.WithTx(tx)

	existingAccount, err := accounts.FindByProviderAccountID(ctx, account.Provider, account.ProviderAccountID)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("finding account: %w", err)
	}
	user, err := users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("finding user: %w", err)
	}

	if existingAccount == nil && user == nil {
		now := time.Now().UTC()
		newUser := db.NewUser{
			Name:            identity.Name,
			Email:           email,
			Role:            models.RoleUser,
			EmailVerifiedAt: &now,
		}
		if identity.Picture != "" {
			newUser.AvatarURL = &identity.Picture
		}
		user, err = users.Create(ctx, newUser)
		if err != nil {
			return nil, fmt.Errorf("creating provider user: %w", err)
		}

		link := *account
		link.UserID = user.ID
		if _, err := accounts.Create(ctx, &link); err != nil {
			return nil, fmt.Errorf("creating provider account: %w", err)
		}
		return user, nil
	}

	if user != nil && user.HasPassword() {
		return nil, apperr.New(apperr.Conflict, "User Already Registered with This mail!")
	}
	if existingAccount == nil || user == nil {
		return nil, apperr.New(apperr.InvalidProvider, "Invalid Provider!")
	}
	if existingAccount.UserID != user.ID {
		return nil, apperr.New(apperr.InvalidProvider, "Invalid Provider!")
	}

	if err := accounts.UpdateTokens(ctx, existingAccount.ID, account); err != nil {
		return nil, fmt.Errorf("updating provider tokens: %w", err)
	}
	return user, nil
}

func (l *Linker) UpdateAccessToken(ctx context.Context, providerAccountID, accessToken string) error {
	if providerAccountID == "" || accessToken == "" {
		return apperr.New(apperr.ValidationFailed, "ProviderId and AccessToken required!")
	}
	err := l.accounts.UpdateAccessToken(ctx, providerAccountID, accessToken)
	if errors.Is(err, db.ErrNotFound) {
		return apperr.New(apperr.NotFound, "Account not found")
	}
	if err != nil {
		return fmt.Errorf("updating provider access token: %w", err)
	}
	return nil
}

// AccountCount reports how many accounts link userID.
func (l *Linker) AccountCount(ctx context.Context, userID string) (int, error) {
	return l.accounts.CountForUser(ctx, userID)
}
