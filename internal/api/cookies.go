package api

import (
	"net/http"
	"strings"
	"time"

	"storefront/internal/constants"
	"storefront/internal/session"
)

type cookieSettings struct {
	domain string
	secure bool
}

func (c cookieSettings) cookie(name, value string, expires time.Time) *http.Cookie {
	maxAge := int(time.Until(expires).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.domain,
		Expires:  expires,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: c.sameSite(),
	}
}

// SameSite=None is only valid on Secure cookies, so plain-http development
// falls back to Lax.
func (c cookieSettings) sameSite() http.SameSite {
	if c.secure {
		return http.SameSiteNoneMode
	}
	return http.SameSiteLaxMode
}

func (c cookieSettings) setSession(w http.ResponseWriter, sess *session.Session) {
	http.SetCookie(w, c.cookie(constants.AccessTokenCookie, sess.AccessToken, sess.AccessExpiresAt))
	http.SetCookie(w, c.cookie(constants.RefreshTokenCookie, sess.RefreshToken, sess.RefreshExpiresAt))
}

func (c cookieSettings) clearSession(w http.ResponseWriter) {
	for _, name := range []string{constants.AccessTokenCookie, constants.RefreshTokenCookie} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   c.domain,
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   c.secure,
			SameSite: c.sameSite(),
		})
	}
}

// refreshTokenFromRequest reads the refresh token from the cookie, the
// refresh_token header, then the bearer header.
func refreshTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(constants.RefreshTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	if v := strings.TrimSpace(r.Header.Get(constants.RefreshTokenHeader)); v != "" {
		return v
	}
	return bearerToken(r)
}

func accessTokenFromRequest(r *http.Request) string {
	if c, err := r.Cookie(constants.AccessTokenCookie); err == nil && c.Value != "" {
		return c.Value
	}
	return bearerToken(r)
}

func bearerToken(r *http.Request) string {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
