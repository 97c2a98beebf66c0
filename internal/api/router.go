package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/metrics"
	"storefront/internal/models"
	"storefront/internal/provider"
	"storefront/internal/session"
	"storefront/internal/storage"
	"storefront/internal/upload"
	"storefront/internal/ws"
)

// Deps are the long-lived services the HTTP surface is built on.
type Deps struct {
	Config   *config.Config
	Database *db.DB
	Sessions *session.Manager
	Linker   *provider.Linker
	Relay    *upload.Relay
	Store    storage.ObjectStore
	Hub      *ws.Hub
	// Checks are extra health checks beyond the database.
	Checks map[string]Checker
}

type Server struct {
	router *chi.Mux
	assets *assetStore
}

func NewServer(deps Deps) (*Server, error) {
	cfg := deps.Config

	resolver, err := NewClientIPResolver(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("configuring client IP resolver: %w", err)
	}

	cookies := cookieSettings{domain: cfg.Auth.CookieDomain, secure: !cfg.Auth.InsecureCookies}
	assets := newAssetStore(deps.Database, deps.Relay)
	maxUpload := cfg.Storage.UploadMaxBytes

	authHandler := NewAuthHandler(deps.Sessions, deps.Linker, cookies, cfg.Server.FrontendURL)
	userHandler := NewUserHandler()
	categoryHandler := NewCategoryHandler(db.NewCategoryRepository(deps.Database), assets, maxUpload)
	serviceHandler := NewServiceHandler(db.NewServiceRepository(deps.Database), assets, maxUpload)
	projectHandler := NewProjectHandler(db.NewProjectRepository(deps.Database), assets, maxUpload)
	orderHandler := NewOrderHandler(db.NewOrderRepository(deps.Database), deps.Sessions, cookies)
	wsHandler := NewWebSocketHandler(deps.Hub, cfg.Server.AllowedOrigins, cfg.WebSocket, resolver)

	checks := map[string]Checker{"database": CheckerFunc(deps.Database.PingContext)}
	for name, check := range deps.Checks {
		checks[name] = check
	}
	healthHandler := NewHealthHandler(checks)

	authMiddleware := NewAuthMiddleware(deps.Sessions)
	requireAdmin := RequireRole(models.RoleAdmin, models.RoleSuperAdmin)

	loginLimit := rateLimit(10, time.Minute, resolver)
	refreshLimit := rateLimit(30, time.Minute, resolver)
	mailLimit := rateLimit(5, time.Minute, resolver)

	r := chi.NewRouter()
	r.Use(slogRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(corsMiddleware(cfg.Server.AllowedOrigins))
	r.Use(securityHeadersMiddleware)

	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", metrics.Handler())

	if local, ok := deps.Store.(*storage.LocalStore); ok {
		r.Get(storage.MediaPathPrefix+"*", NewMediaHandler(local).Get)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(maxBodySizeMiddleware(1 << 20)) // 1 MB

			r.Route("/auth", func(r chi.Router) {
				r.With(mailLimit).Post("/register", authHandler.Register)
				r.With(loginLimit).Post("/login/credential", authHandler.LoginCredential)
				r.With(loginLimit).Post("/login/provider", authHandler.LoginProvider)
				r.Get("/login/{provider}", authHandler.ProviderRedirect)
				r.With(loginLimit).Get("/login/{provider}/callback", authHandler.ProviderCallback)
				r.With(refreshLimit).Get("/refresh-token", authHandler.Refresh)
				r.With(refreshLimit).Post("/refresh-token", authHandler.Refresh)
				r.Post("/logout", authHandler.Logout)
				r.With(mailLimit).Get("/verify-mail", authHandler.VerifyEmail)

				r.Group(func(r chi.Router) {
					r.Use(authMiddleware.RequireAuth)
					r.With(mailLimit).Post("/send-verification-mail", authHandler.SendVerification)
					r.Get("/provider/{id}/update", authHandler.UpdateProviderAccessToken)
				})
			})

			r.With(authMiddleware.RequireAuth).Get("/users/me", userHandler.GetMe)

			r.Get("/categories", categoryHandler.List)
			r.Get("/categories/{id}", categoryHandler.Get)
			r.Get("/services", serviceHandler.List)
			r.Get("/services/{id}", serviceHandler.Get)
			r.Get("/projects/{id}", projectHandler.Get)

			r.Post("/orders", orderHandler.Create)
			r.With(authMiddleware.RequireAuth).Get("/orders", orderHandler.ListMine)
		})

		// Multipart routes bound their own bodies by the upload limit.
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			r.Post("/projects", projectHandler.Create)

			r.Group(func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/categories", categoryHandler.Create)
				r.Patch("/categories/{id}", categoryHandler.Update)
				r.Post("/services", serviceHandler.Create)
				r.Patch("/services/{id}/icon", serviceHandler.UpdateIcon)
			})
		})
	})

	r.Get("/ws", wsHandler.ServeWS)

	return &Server{router: r, assets: assets}, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Wait blocks until cleanup of replaced assets started by handlers is done.
// Call it after the HTTP server has shut down.
func (s *Server) Wait() {
	s.assets.wait()
}

func maxBodySizeMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.LogAttrs(r.Context(), slog.LevelInfo, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Int("bytes", ww.BytesWritten()),
			slog.String("duration", time.Since(start).String()),
			slog.String("remote", r.RemoteAddr),
		)
	})
}

