package db

import (
	"context"
	"log/slog"
	"time"
)

const (
	DefaultCleanupInterval = 1 * time.Hour
)

type CleanupService struct {
	verificationCodes *VerificationCodeRepository
	refreshTokens     *RefreshTokenRepository
	interval          time.Duration
}

func NewCleanupService(
	verificationCodes *VerificationCodeRepository,
	refreshTokens *RefreshTokenRepository,
) *CleanupService {
	return &CleanupService{
		verificationCodes: verificationCodes,
		refreshTokens:     refreshTokens,
		interval:          DefaultCleanupInterval,
	}
}

func (s *CleanupService) Start(ctx context.Context) {
	slog.Info("starting token cleanup service", "component", "cleanup", "interval", s.interval)

	s.runCleanup(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping token cleanup service", "component", "cleanup")
			return
		case <-ticker.C:
			s.runCleanup(ctx)
		}
	}
}

func (s *CleanupService) runCleanup(ctx context.Context) {
	codesDeleted, err := s.verificationCodes.DeleteExpired(ctx)
	if err != nil {
		slog.Error("error deleting expired verification codes", "component", "cleanup", "error", err)
	} else if codesDeleted > 0 {
		slog.Info("deleted expired verification codes", "component", "cleanup", "count", codesDeleted)
	}

	// Expired refresh tokens already fail verification; this only trims the set.
	refreshDeleted, err := s.refreshTokens.DeleteExpired(ctx)
	if err != nil {
		slog.Error("error deleting expired refresh tokens", "component", "cleanup", "error", err)
	} else if refreshDeleted > 0 {
		slog.Info("deleted expired refresh tokens", "component", "cleanup", "count", refreshDeleted)
	}
}
