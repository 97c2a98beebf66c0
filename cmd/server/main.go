package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"storefront/internal/api"
	"storefront/internal/auth"
	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/email"
	"storefront/internal/progress"
	"storefront/internal/provider"
	"storefront/internal/session"
	"storefront/internal/storage"
	"storefront/internal/upload"
	"storefront/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	mode := flag.String("mode", "server", "run mode: server or mailer")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel(),
	})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "server":
		err = runServer(ctx, cfg)
	case "mailer":
		err = runMailer(ctx, cfg)
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("exiting", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

// runMailer drains the mail queue into SMTP until ctx is cancelled.
func runMailer(ctx context.Context, cfg *config.Config) error {
	if cfg.Queue.URL == "" {
		return errors.New("queue.url is required in mailer mode")
	}
	smtp := email.NewSMTPService(cfg.Email.SMTP, cfg.Server.Name)
	slog.Info("mail consumer starting", "queue", cfg.Queue.MailQueue, "smtp_host", cfg.Email.SMTP.Host)
	if err := email.NewConsumer(cfg.Queue.URL, cfg.Queue.MailQueue, smtp).Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("mail consumer stopped")
	return nil
}

func runServer(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting server", "name", cfg.Server.Name)

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer database.Close()
	slog.Info("database opened", "path", cfg.Database.Path)

	codes := db.NewVerificationCodeRepository(database)
	refreshTokens := db.NewRefreshTokenRepository(database)
	go db.NewCleanupService(codes, refreshTokens).Start(ctx)

	store, err := storage.New(cfg.Storage, cfg.Server.BaseURL)
	if err != nil {
		return err
	}
	slog.Info("object storage initialized", "driver", cfg.Storage.Driver)

	hub := ws.NewHub()
	go hub.Run()
	defer hub.Shutdown()

	checks := map[string]api.Checker{}
	var publisher upload.Publisher = hub
	if cfg.Redis.Addr != "" {
		client, err := progress.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()

		bridge := progress.NewRedisBridge(client, cfg.Redis.ProgressChannel, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("progress bridge stopped", "error", err)
			}
		}()
		publisher = bridge
		checks["redis"] = api.CheckerFunc(func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		slog.Info("progress bridge enabled", "addr", cfg.Redis.Addr, "channel", cfg.Redis.ProgressChannel)
	}

	relay := upload.NewRelay(store,
		upload.WithChunkSize(cfg.Storage.ChunkSize),
		upload.WithTimeout(cfg.Storage.UploadTimeout),
		upload.WithPublisher(publisher),
		upload.WithIconMaxEdge(cfg.Storage.IconMaxEdge),
	)

	var mailer email.Mailer
	if cfg.Queue.URL != "" {
		queue := email.NewQueueMailer(cfg.Queue.URL, cfg.Queue.MailQueue, cfg.Server.Name)
		defer queue.Close()
		mailer = queue
		slog.Info("email queued", "queue", cfg.Queue.MailQueue)
	} else {
		mailer = email.NewSMTPService(cfg.Email.SMTP, cfg.Server.Name)
		slog.Info("email configured", "host", cfg.Email.SMTP.Host, "port", cfg.Email.SMTP.Port)
	}

	tokens := auth.NewTokenService(
		cfg.Auth.AccessTokenSecret,
		cfg.Auth.RefreshTokenSecret,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	linker := provider.NewLinker(database, cfg.Providers, cfg.Server.BaseURL)
	sessions := session.NewManager(
		db.NewUserRepository(database),
		refreshTokens,
		codes,
		tokens,
		auth.NewVerificationCodeService(cfg.Auth.VerificationCodeTTL),
		mailer,
		linker,
	)

	server, err := api.NewServer(api.Deps{
		Config:   cfg,
		Database: database,
		Sessions: sessions,
		Linker:   linker,
		Relay:    relay,
		Store:    store,
		Hub:      hub,
		Checks:   checks,
	})
	if err != nil {
		return err
	}

	addr := cfg.Addr()
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Storage.UploadTimeout,
		WriteTimeout:      cfg.Storage.UploadTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "base_url", cfg.Server.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
	server.Wait()

	slog.Info("server stopped")
	return nil
}
