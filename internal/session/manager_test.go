package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/models"
	"storefront/internal/provider"
)

type sentCode struct {
	to   string
	code string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (f *fakeMailer) SendVerificationCode(_ context.Context, to, code string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentCode{to: to, code: code})
	return f.err
}

func (f *fakeMailer) last() sentCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type testEnv struct {
	manager  *Manager
	database *db.DB
	users    *db.UserRepository
	tokens   *db.RefreshTokenRepository
	mailer   *fakeMailer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	users := db.NewUserRepository(database)
	tokens := db.NewRefreshTokenRepository(database)
	mailer := &fakeMailer{}
	tokenSvc := auth.NewTokenService(
		"access-secret-access-secret-access-secret",
		"refresh-secret-refresh-secret-refresh-secret",
		15*time.Minute, 15*24*time.Hour,
	)
	linker := provider.NewLinker(database, config.ProvidersConfig{}, "http://localhost")

	return &testEnv{
		manager: NewManager(users, tokens, db.NewVerificationCodeRepository(database),
			tokenSvc, auth.NewVerificationCodeService(5*time.Minute), mailer, linker),
		database: database,
		users:    users,
		tokens:   tokens,
		mailer:   mailer,
	}
}

func (e *testEnv) register(t *testing.T, addr, password string) *models.User {
	t.Helper()
	user, err := e.manager.Register(context.Background(), "Test User", addr, password)
	require.NoError(t, err)
	return user
}

func TestRegisterThenLoginSendsVerificationCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "new@example.com", "hunter22")

	sess, err := env.manager.Login(ctx, "New@Example.com", "hunter22", "")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.AccessToken)
	assert.NotEmpty(t, sess.RefreshToken)
	assert.True(t, sess.VerificationSent)
	assert.Equal(t, "new@example.com", env.mailer.last().to)

	_, err = env.manager.Register(ctx, "Dup", "new@example.com", "other-password")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "user@example.com", "correct-horse")

	tests := []struct {
		name     string
		email    string
		password string
	}{
		{"wrong_password", "user@example.com", "battery-staple"},
		{"unknown_email", "nobody@example.com", "correct-horse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.manager.Login(ctx, tt.email, tt.password, "")
			assert.Equal(t, apperr.InvalidCredentials, apperr.KindOf(err))
		})
	}
}

func TestLoginMailFailureDoesNotFailLogin(t *testing.T) {
	env := newTestEnv(t)
	env.mailer.err = errors.New("smtp down")
	env.register(t, "user@example.com", "correct-horse")

	sess, err := env.manager.Login(context.Background(), "user@example.com", "correct-horse", "")
	require.NoError(t, err)
	assert.True(t, sess.VerificationSent)
}

func TestReloginWithPresentedTokenKeepsSetSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "user@example.com", "correct-horse")

	first, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)
	second, err := env.manager.Login(ctx, "user@example.com", "correct-horse", first.RefreshToken)
	require.NoError(t, err)

	tokens, err := env.tokens.List(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{second.RefreshToken}, tokens)
}

func TestRefreshTokenWorksOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "user@example.com", "correct-horse")

	login, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)

	refreshed, err := env.manager.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, refreshed.RefreshToken)

	_, err = env.manager.Refresh(ctx, login.RefreshToken)
	assert.Equal(t, apperr.UsedToken, apperr.KindOf(err))

	// The rotated token is still good.
	_, err = env.manager.Refresh(ctx, refreshed.RefreshToken)
	assert.NoError(t, err)
}

func TestConcurrentRefreshHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "user@example.com", "correct-horse")

	login, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = env.manager.Refresh(ctx, login.RefreshToken)
		}()
	}
	wg.Wait()

	var ok, used int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case apperr.IsKind(err, apperr.UsedToken):
			used++
		default:
			t.Fatalf("Refresh() unexpected error = %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, used)
}

func TestRefreshRejectsMissingAndForeignTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "user@example.com", "correct-horse")
	login, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)

	_, err = env.manager.Refresh(ctx, "")
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))

	_, err = env.manager.Refresh(ctx, "not-a-jwt")
	assert.Equal(t, apperr.InvalidToken, apperr.KindOf(err))

	// An access token is signed with the other secret.
	_, err = env.manager.Refresh(ctx, login.AccessToken)
	assert.Equal(t, apperr.InvalidToken, apperr.KindOf(err))
}

func TestLogoutIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "user@example.com", "correct-horse")
	login, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)

	require.NoError(t, env.manager.Logout(ctx, login.RefreshToken))
	require.NoError(t, env.manager.Logout(ctx, login.RefreshToken))
	require.NoError(t, env.manager.Logout(ctx, "garbage"))
	require.NoError(t, env.manager.Logout(ctx, ""))

	present, err := env.tokens.Contains(ctx, user.ID, login.RefreshToken)
	require.NoError(t, err)
	assert.False(t, present)

	_, err = env.manager.Refresh(ctx, login.RefreshToken)
	assert.Equal(t, apperr.UsedToken, apperr.KindOf(err))
}

func TestPromoteGuest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "+15550100"

	first, err := env.manager.PromoteGuest(ctx, GuestContact{Name: "Guest", Email: "guest@example.com", Phone: &phone})
	require.NoError(t, err)
	assert.Equal(t, models.RoleGuest, first.User.Role)
	assert.NotEmpty(t, first.RefreshToken)

	// Guests cannot sign in with a password.
	_, err = env.manager.Login(ctx, "guest@example.com", "!guest", "")
	assert.Equal(t, apperr.InvalidCredentials, apperr.KindOf(err))
}

func TestPromoteGuestRefusesExistingGuest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	phone := "+15550100"

	first, err := env.manager.PromoteGuest(ctx, GuestContact{Name: "Guest", Email: "guest@example.com", Phone: &phone})
	require.NoError(t, err)

	otherPhone := "+15550199"
	again, err := env.manager.PromoteGuest(ctx, GuestContact{Name: "Someone Else", Email: "Guest@Example.com", Phone: &otherPhone})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	assert.Nil(t, again)

	stored, err := env.users.FindByID(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, "Guest", stored.Name)
	require.NotNil(t, stored.Phone)
	assert.Equal(t, phone, *stored.Phone)

	tokens, err := env.tokens.List(ctx, first.User.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{first.RefreshToken}, tokens)
}

func TestRegisterUpgradesGuest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	guest, err := env.manager.PromoteGuest(ctx, GuestContact{Name: "Guest", Email: "guest@example.com"})
	require.NoError(t, err)

	user, err := env.manager.Register(ctx, "Real Name", "guest@example.com", "correct-horse")
	require.NoError(t, err)
	assert.Equal(t, guest.User.ID, user.ID)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, "Real Name", user.Name)

	sess, err := env.manager.Login(ctx, "guest@example.com", "correct-horse", "")
	require.NoError(t, err)
	assert.Equal(t, guest.User.ID, sess.User.ID)

	// The upgraded user is a real account now.
	_, err = env.manager.Register(ctx, "Again", "guest@example.com", "correct-horse")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
	_, err = env.manager.PromoteGuest(ctx, GuestContact{Name: "Guest", Email: "guest@example.com"})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))
}

func TestPromoteGuestRefusesRegisteredEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "owner@example.com", "correct-horse")

	before, err := env.users.Count(ctx)
	require.NoError(t, err)

	_, err = env.manager.PromoteGuest(ctx, GuestContact{Name: "Guest", Email: "owner@example.com"})
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	after, err := env.users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestVerifyEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "user@example.com", "correct-horse")

	require.NoError(t, env.manager.SendVerification(ctx, user.ID))
	code := env.mailer.last().code

	_, err := env.manager.VerifyEmail(ctx, "00000")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	verified, err := env.manager.VerifyEmail(ctx, code)
	require.NoError(t, err)
	assert.True(t, verified.EmailVerified())

	// Codes are burnt on success.
	_, err = env.manager.VerifyEmail(ctx, code)
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	err = env.manager.SendVerification(ctx, user.ID)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	sess, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)
	assert.False(t, sess.VerificationSent)
}

func TestVerifyEmailRejectsExpiredCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "user@example.com", "correct-horse")

	require.NoError(t, env.manager.SendVerification(ctx, user.ID))
	code := env.mailer.last().code

	env.manager.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	_, err := env.manager.VerifyEmail(ctx, code)
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
}

func TestAuthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	user := env.register(t, "user@example.com", "correct-horse")
	login, err := env.manager.Login(ctx, "user@example.com", "correct-horse", "")
	require.NoError(t, err)

	got, err := env.manager.Authenticate(ctx, login.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = env.manager.Authenticate(ctx, login.RefreshToken)
	assert.Equal(t, apperr.InvalidToken, apperr.KindOf(err))

	_, err = env.manager.Authenticate(ctx, "")
	assert.Equal(t, apperr.Unauthorized, apperr.KindOf(err))
}

func TestLoginProviderConflictCreatesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.register(t, "owner@example.com", "correct-horse")

	account := &models.Account{Provider: provider.GitHub, ProviderAccountID: "77"}
	_, err := env.manager.LoginProvider(ctx, account, &provider.Identity{Email: "owner@example.com"}, "")
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	n, err := db.NewAccountRepository(env.database).CountForUser(ctx, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	tokens, err := env.tokens.List(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(t, tokens)
}

func TestLoginProviderIssuesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	account := &models.Account{Provider: provider.GitHub, ProviderAccountID: "88", AccessToken: "gh"}
	sess, err := env.manager.LoginProvider(ctx, account, &provider.Identity{Name: "Octo", Email: "octo@example.com"}, "")
	require.NoError(t, err)
	assert.True(t, sess.User.EmailVerified())
	assert.False(t, sess.VerificationSent)

	again, err := env.manager.LoginProvider(ctx, account, &provider.Identity{Email: "octo@example.com"}, sess.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, sess.User.ID, again.User.ID)

	tokens, err := env.tokens.List(ctx, sess.User.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{again.RefreshToken}, tokens)
}
