// Package provider links external OAuth identities to local users.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"

	"storefront/internal/apperr"
	"storefront/internal/config"
)

const (
	Google   = "google"
	GitHub   = "github"
	Facebook = "facebook"
)

const maxProviderResponseBytes = 1 << 20

// Identity is what a provider reports about the signed-in person.
type Identity struct {
	ExternalID string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Picture    string `json:"picture"`
}

// AccountPayload is the provider session a client presents to
// POST /auth/login/provider after completing the provider flow itself.
type AccountPayload struct {
	Provider     string `json:"provider" validate:"required"`
	Type         string `json:"type"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	IDToken      string `json:"id_token"`
	Scope        string `json:"scope"`
	TokenType    string `json:"token_type"`
	// ExpiresAt is the provider token expiry in Unix seconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Endpoints are the provider URLs the linker talks to.
type Endpoints struct {
	GoogleAuthURL   string
	GoogleTokenURL  string
	GoogleUserInfo  string
	GoogleTokenInfo string
	GitHubUser      string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		GoogleAuthURL:   "https://accounts.google.com/o/oauth2/v2/auth",
		GoogleTokenURL:  "https://oauth2.googleapis.com/token",
		GoogleUserInfo:  "https://www.googleapis.com/oauth2/v1/userinfo?alt=json",
		GoogleTokenInfo: "https://www.googleapis.com/oauth2/v3/tokeninfo",
		GitHubUser:      "https://api.github.com/user",
	}
}

var googleScopes = []string{
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/userinfo.profile",
}

// CallbackURL is where a provider sends the browser back with a code.
func CallbackURL(baseURL, provider string) string {
	return strings.TrimRight(baseURL, "/") + "/api/v1/auth/login/" + provider + "/callback"
}

type oauthClients struct {
	google     *oauth2.Config
	endpoints  Endpoints
	httpClient *http.Client
}

func newOAuthClients(cfg config.ProvidersConfig, baseURL string, endpoints Endpoints, httpClient *http.Client) *oauthClients {
	return &oauthClients{
		google: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  CallbackURL(baseURL, Google),
			Scopes:       googleScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   endpoints.GoogleAuthURL,
				TokenURL:  endpoints.GoogleTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		endpoints:  endpoints,
		httpClient: httpClient,
	}
}

func (c *oauthClients) authorizationURL(provider, redirectURI string) (string, bool) {
	switch provider {
	case Google:
		if c.google.ClientID == "" {
			return "", false
		}
		cfg := *c.google
		if redirectURI != "" {
			cfg.RedirectURL = redirectURI
		}
		return cfg.AuthCodeURL(""), true
	default:
		// facebook and github have no server-side flow yet
		return "", false
	}
}

func (c *oauthClients) exchangeCode(ctx context.Context, provider, code string) (string, error) {
	if provider != Google {
		return "", apperr.New(apperr.ProviderExchangeFailed, "Failed to fetch access token!")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	token, err := c.google.Exchange(ctx, code)
	if err != nil {
		return "", apperr.Wrap(apperr.ProviderExchangeFailed, "Failed to fetch access token!", err)
	}
	if token.AccessToken == "" {
		return "", apperr.New(apperr.ProviderExchangeFailed, "Failed to fetch access token!")
	}
	return token.AccessToken, nil
}

func (c *oauthClients) fetchIdentity(ctx context.Context, provider, accessToken string) (*Identity, error) {
	if provider != Google {
		return nil, apperr.New(apperr.ProviderLookupFailed, "Failed to fetch user info!")
	}

	var identity Identity
	if err := c.getJSON(ctx, c.endpoints.GoogleUserInfo, accessToken, &identity); err != nil {
		return nil, apperr.Wrap(apperr.ProviderLookupFailed, "Failed to fetch user info!", err)
	}
	if identity.Email == "" || identity.ExternalID == "" {
		return nil, apperr.New(apperr.ProviderLookupFailed, "Failed to fetch user info!")
	}
	return &identity, nil
}

// providerAccountID checks a presented provider session against the
// provider and returns the provider's stable id for the account.
func (c *oauthClients) providerAccountID(ctx context.Context, payload AccountPayload) (string, error) {
	switch payload.Provider {
	case Google:
		if payload.IDToken == "" {
			return "", errors.New("id_token is required")
		}
		var info struct {
			Sub string `json:"sub"`
		}
		endpoint := c.endpoints.GoogleTokenInfo + "?" + url.Values{"id_token": {payload.IDToken}}.Encode()
		if err := c.getJSON(ctx, endpoint, "", &info); err != nil {
			return "", err
		}
		if info.Sub == "" {
			return "", errors.New("tokeninfo returned no subject")
		}
		return info.Sub, nil

	case GitHub:
		if payload.AccessToken == "" {
			return "", errors.New("access_token is required")
		}
		var user struct {
			ID json.Number `json:"id"`
		}
		if err := c.getJSON(ctx, c.endpoints.GitHubUser, payload.AccessToken, &user); err != nil {
			return "", err
		}
		if user.ID == "" {
			return "", errors.New("github returned no user id")
		}
		return user.ID.String(), nil

	default:
		return "", fmt.Errorf("unsupported provider %q", payload.Provider)
	}
}

func (c *oauthClients) getJSON(ctx context.Context, endpoint, bearer string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("building provider request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxProviderResponseBytes))
		return fmt.Errorf("provider responded with status %d", resp.StatusCode)
	}

	decoder := json.NewDecoder(io.LimitReader(resp.Body, maxProviderResponseBytes))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decoding provider response: %w", err)
	}
	return nil
}
