package api

import (
	"context"
	"net/http"
	"slices"

	"storefront/internal/apperr"
	"storefront/internal/models"
)

type contextKey string

const userKey contextKey = "user"

type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.User, error)
}

type AuthMiddleware struct {
	sessions Authenticator
}

func NewAuthMiddleware(sessions Authenticator) *AuthMiddleware {
	return &AuthMiddleware{sessions: sessions}
}

// RequireAuth resolves the access token from the cookie or bearer header
// and stores the user on the request context.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := accessTokenFromRequest(r)
		if token == "" {
			unauthorized(w, "Unauthorized Access!")
			return
		}

		user, err := m.sessions.Authenticate(r.Context(), token)
		if err != nil {
			if apperr.KindOf(err) == apperr.NotFound {
				unauthorized(w, "User not found")
				return
			}
			writeAppError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireRole rejects authenticated users whose role is not listed. It must
// run after RequireAuth.
func RequireRole(roles ...models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := GetUser(r)
			if user == nil {
				unauthorized(w, "Unauthorized Access!")
				return
			}
			if !slices.Contains(roles, user.Role) {
				forbidden(w, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func GetUser(r *http.Request) *models.User {
	if user, ok := r.Context().Value(userKey).(*models.User); ok {
		return user
	}
	return nil
}
