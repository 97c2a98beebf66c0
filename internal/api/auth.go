package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/provider"
	"storefront/internal/session"
)

type AuthHandler struct {
	sessions    *session.Manager
	linker      *provider.Linker
	cookies     cookieSettings
	frontendURL string
}

func NewAuthHandler(sessions *session.Manager, linker *provider.Linker, cookies cookieSettings, frontendURL string) *AuthHandler {
	return &AuthHandler{
		sessions:    sessions,
		linker:      linker,
		cookies:     cookies,
		frontendURL: frontendURL,
	}
}

type AuthResponse struct {
	Message      string       `json:"message"`
	User         *models.User `json:"user"`
	AccessToken  string       `json:"accessToken"`
	RefreshToken string       `json:"refreshToken"`
	ExpiresAt    string       `json:"expiresAt"`
}

func newAuthResponse(message string, sess *session.Session) AuthResponse {
	return AuthResponse{
		Message:      message,
		User:         sess.User,
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.AccessExpiresAt.UTC().Format(time.RFC3339),
	}
}

// POST /api/v1/auth/register
type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type RegisterResponse struct {
	Message string       `json:"message"`
	User    *models.User `json:"user"`
}

func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	name := sanitizeText(req.Name)
	if name == "" {
		badRequest(w, "name is required")
		return
	}

	user, err := h.sessions.Register(r.Context(), name, req.Email, req.Password)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, RegisterResponse{Message: "User registered successfully!", User: user})
}

// POST /api/v1/auth/login/credential
type CredentialLoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,max=72"`
}

func (h *AuthHandler) LoginCredential(w http.ResponseWriter, r *http.Request) {
	var req CredentialLoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}

	sess, err := h.sessions.Login(r.Context(), req.Email, req.Password, refreshTokenFromRequest(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.cookies.setSession(w, sess)
	if sess.VerificationSent {
		writeJSON(w, http.StatusCreated, newAuthResponse(fmt.Sprintf("Verification code sent to %s", sess.User.Email), sess))
		return
	}
	writeJSON(w, http.StatusOK, newAuthResponse("Logged in successfully!", sess))
}

// POST /api/v1/auth/login/provider
type ProviderLoginRequest struct {
	Account provider.AccountPayload `json:"account"`
	User    provider.Identity       `json:"user"`
}

func (h *AuthHandler) LoginProvider(w http.ResponseWriter, r *http.Request) {
	var req ProviderLoginRequest
	if err := decodeAndValidate(r.Body, &req); err != nil {
		badRequest(w, err.Error())
		return
	}
	if strings.TrimSpace(req.User.Email) == "" {
		badRequest(w, "user email is required")
		return
	}
	req.User.Name = sanitizeText(req.User.Name)

	account, err := h.linker.VerifyAccount(r.Context(), req.Account)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	sess, err := h.sessions.LoginProvider(r.Context(), account, &req.User, refreshTokenFromRequest(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.cookies.setSession(w, sess)
	writeJSON(w, http.StatusOK, newAuthResponse("Logged in successfully!", sess))
}

// GET /api/v1/auth/login/{provider}
func (h *AuthHandler) ProviderRedirect(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	url, ok := h.linker.AuthorizationURL(name, r.URL.Query().Get("redirect_uri"))
	if !ok {
		badRequest(w, "auth url not generated")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"redirectUrl": url})
}

// GET /api/v1/auth/login/{provider}/callback
func (h *AuthHandler) ProviderCallback(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		badRequest(w, "code is required")
		return
	}

	accessToken, err := h.linker.ExchangeCode(r.Context(), name, code)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	identity, err := h.linker.FetchIdentity(r.Context(), name, accessToken)
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	account := provider.AccountFromIdentity(name, accessToken, identity)
	sess, err := h.sessions.LoginProvider(r.Context(), account, identity, refreshTokenFromRequest(r))
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	h.cookies.setSession(w, sess)
	http.Redirect(w, r, h.frontendURL, http.StatusFound)
}

// GET /api/v1/auth/provider/{id}/update?access_token=
func (h *AuthHandler) UpdateProviderAccessToken(w http.ResponseWriter, r *http.Request) {
	err := h.linker.UpdateAccessToken(r.Context(), chi.URLParam(r, "id"), r.URL.Query().Get("access_token"))
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, "Access token updated")
}

// GET|POST /api/v1/auth/refresh-token
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Refresh(r.Context(), refreshTokenFromRequest(r))
	if err != nil {
		if apperr.IsKind(err, apperr.UsedToken) || apperr.IsKind(err, apperr.InvalidToken) {
			h.cookies.clearSession(w)
		}
		writeAppError(w, r, err)
		return
	}

	h.cookies.setSession(w, sess)
	writeJSON(w, http.StatusOK, newAuthResponse("Token refreshed", sess))
}

// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Logout(r.Context(), refreshTokenFromRequest(r)); err != nil {
		writeAppError(w, r, err)
		return
	}

	h.cookies.clearSession(w)
	writeMessage(w, http.StatusOK, "Logged out successfully!")
}

// POST /api/v1/auth/send-verification-mail
func (h *AuthHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	user := GetUser(r)
	if user == nil {
		unauthorized(w, "Unauthorized Access!")
		return
	}

	if err := h.sessions.SendVerification(r.Context(), user.ID); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeMessage(w, http.StatusOK, fmt.Sprintf("Verification code sent to %s", user.Email))
}

// GET /api/v1/auth/verify-mail?code=
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if code == "" {
		badRequest(w, "code is required")
		return
	}

	user, err := h.sessions.VerifyEmail(r.Context(), code)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RegisterResponse{Message: "Email verified successfully!", User: user})
}
