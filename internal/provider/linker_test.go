package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/apperr"
	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/models"
)

type fakeProvider struct {
	server *httptest.Server
	// subjects maps id_token to Google subject, access token to GitHub id.
	subjects map[string]string
	userinfo Identity
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	fp := &fakeProvider{subjects: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/tokeninfo", func(w http.ResponseWriter, r *http.Request) {
		sub, ok := fp.subjects[r.URL.Query().Get("id_token")]
		if !ok {
			http.Error(w, `{"error":"invalid_token"}`, http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": sub})
	})
	mux.HandleFunc("/user", func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		id, ok := fp.subjects[token]
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"id":` + id + `,"login":"octo"}`))
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.PostForm.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"google-access","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(fp.userinfo)
	})

	fp.server = httptest.NewServer(mux)
	t.Cleanup(fp.server.Close)
	return fp
}

func (fp *fakeProvider) endpoints() Endpoints {
	return Endpoints{
		GoogleAuthURL:   fp.server.URL + "/auth",
		GoogleTokenURL:  fp.server.URL + "/token",
		GoogleUserInfo:  fp.server.URL + "/userinfo",
		GoogleTokenInfo: fp.server.URL + "/tokeninfo",
		GitHubUser:      fp.server.URL + "/user",
	}
}

func newTestLinker(t *testing.T) (*Linker, *db.DB, *fakeProvider) {
	t.Helper()

	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	fp := newFakeProvider(t)
	cfg := config.ProvidersConfig{
		Google: config.OAuthClientConfig{ClientID: "client-id", ClientSecret: "client-secret"},
	}
	linker := NewLinker(database, cfg, "http://localhost:8080",
		WithEndpoints(fp.endpoints()),
		WithHTTPClient(fp.server.Client()),
	)
	return linker, database, fp
}

func TestResolveCreatesUserAndAccountOnFirstLogin(t *testing.T) {
	linker, database, fp := newTestLinker(t)
	ctx := context.Background()
	fp.subjects["id-token"] = "google-sub-1"

	account, err := linker.VerifyAccount(ctx, AccountPayload{Provider: Google, IDToken: "id-token", AccessToken: "at"})
	require.NoError(t, err)
	assert.Equal(t, "google-sub-1", account.ProviderAccountID)

	user, err := linker.Resolve(ctx, account, &Identity{Name: "Ada", Email: "Ada@Example.com"})
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", user.Email)
	assert.True(t, user.EmailVerified())
	assert.False(t, user.HasPassword())

	n, err := linker.AccountCount(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Second login joins the same user and refreshes the stored tokens.
	account.AccessToken = "at-2"
	again, err := linker.Resolve(ctx, account, &Identity{Name: "Ada", Email: "ada@example.com"})
	require.NoError(t, err)
	assert.Equal(t, user.ID, again.ID)

	stored, err := db.NewAccountRepository(database).FindByProviderAccountID(ctx, Google, "google-sub-1")
	require.NoError(t, err)
	assert.Equal(t, "at-2", stored.AccessToken)
}

func TestResolveRejectsEmailOwnedByPasswordUser(t *testing.T) {
	linker, database, fp := newTestLinker(t)
	ctx := context.Background()
	fp.subjects["gh-token"] = "4242"

	hash := "$2a$10$abcdefghijklmnopqrstuv"
	owner, err := db.NewUserRepository(database).Create(ctx, db.NewUser{
		Name:         "Owner",
		Email:        "owner@example.com",
		PasswordHash: &hash,
	})
	require.NoError(t, err)

	account, err := linker.VerifyAccount(ctx, AccountPayload{Provider: GitHub, AccessToken: "gh-token"})
	require.NoError(t, err)
	assert.Equal(t, "4242", account.ProviderAccountID)

	_, err = linker.Resolve(ctx, account, &Identity{Name: "Intruder", Email: "owner@example.com"})
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, apperr.KindOf(err))

	n, err := linker.AccountCount(ctx, owner.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = db.NewAccountRepository(database).FindByProviderAccountID(ctx, GitHub, "4242")
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestResolveRejectsMismatchedLinks(t *testing.T) {
	linker, database, _ := newTestLinker(t)
	ctx := context.Background()

	first, err := linker.Resolve(ctx, &models.Account{Provider: GitHub, ProviderAccountID: "1"}, &Identity{Email: "first@example.com"})
	require.NoError(t, err)

	// A passwordless user with no account for this provider id.
	_, err = db.NewUserRepository(database).Create(ctx, db.NewUser{Name: "Second", Email: "second@example.com"})
	require.NoError(t, err)

	tests := []struct {
		name    string
		account *models.Account
		email   string
	}{
		{"account_belongs_to_other_user", &models.Account{Provider: GitHub, ProviderAccountID: "1"}, "second@example.com"},
		{"user_without_account", &models.Account{Provider: GitHub, ProviderAccountID: "2"}, "second@example.com"},
		{"account_without_user", &models.Account{Provider: GitHub, ProviderAccountID: "1"}, "nobody@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := linker.Resolve(ctx, tt.account, &Identity{Email: tt.email})
			require.Error(t, err)
			assert.Equal(t, apperr.InvalidProvider, apperr.KindOf(err))
		})
	}

	n, err := linker.AccountCount(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVerifyAccountFailures(t *testing.T) {
	linker, _, _ := newTestLinker(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		payload AccountPayload
	}{
		{"unknown_google_token", AccountPayload{Provider: Google, IDToken: "forged"}},
		{"missing_id_token", AccountPayload{Provider: Google}},
		{"unknown_github_token", AccountPayload{Provider: GitHub, AccessToken: "forged"}},
		{"unsupported_provider", AccountPayload{Provider: Facebook, AccessToken: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := linker.VerifyAccount(ctx, tt.payload)
			require.Error(t, err)
			assert.Equal(t, apperr.InvalidProvider, apperr.KindOf(err))
		})
	}
}

func TestVerifyAccountSendsIDTokenVerbatim(t *testing.T) {
	linker, _, fp := newTestLinker(t)
	fp.subjects["victim"] = "g-victim"
	fp.subjects["victim&aud=other+app"] = "g-presenter"

	account, err := linker.VerifyAccount(context.Background(), AccountPayload{
		Provider: Google,
		IDToken:  "victim&aud=other+app",
	})
	require.NoError(t, err)
	assert.Equal(t, "g-presenter", account.ProviderAccountID)
}

func TestCodeExchangeFlow(t *testing.T) {
	linker, _, fp := newTestLinker(t)
	ctx := context.Background()
	fp.userinfo = Identity{ExternalID: "g-7", Name: "Grace", Email: "grace@example.com"}

	url, ok := linker.AuthorizationURL(Google, "")
	require.True(t, ok)
	assert.Contains(t, url, fp.server.URL+"/auth")
	assert.Contains(t, url, "client_id=client-id")

	_, ok = linker.AuthorizationURL(Facebook, "")
	assert.False(t, ok)

	_, err := linker.ExchangeCode(ctx, Google, "bad-code")
	assert.Equal(t, apperr.ProviderExchangeFailed, apperr.KindOf(err))

	token, err := linker.ExchangeCode(ctx, Google, "good-code")
	require.NoError(t, err)
	assert.Equal(t, "google-access", token)

	identity, err := linker.FetchIdentity(ctx, Google, token)
	require.NoError(t, err)
	assert.Equal(t, "grace@example.com", identity.Email)

	_, err = linker.FetchIdentity(ctx, Google, "stale")
	assert.Equal(t, apperr.ProviderLookupFailed, apperr.KindOf(err))
}

func TestUpdateAccessToken(t *testing.T) {
	linker, database, _ := newTestLinker(t)
	ctx := context.Background()

	_, err := linker.Resolve(ctx, &models.Account{Provider: GitHub, ProviderAccountID: "99", AccessToken: "old"}, &Identity{Email: "u@example.com"})
	require.NoError(t, err)

	require.NoError(t, linker.UpdateAccessToken(ctx, "99", "new"))
	stored, err := db.NewAccountRepository(database).FindByProviderAccountID(ctx, GitHub, "99")
	require.NoError(t, err)
	assert.Equal(t, "new", stored.AccessToken)

	err = linker.UpdateAccessToken(ctx, "missing", "new")
	assert.Equal(t, apperr.NotFound, apperr.KindOf(err))

	err = linker.UpdateAccessToken(ctx, "", "new")
	assert.Equal(t, apperr.ValidationFailed, apperr.KindOf(err))
}
