package config

import (
	"strings"
	"testing"
	"time"
)

const baseYAML = `
auth:
  access_token_secret: "access-secret-access-secret-access-secret"
  refresh_token_secret: "refresh-secret-refresh-secret-refresh-secret"
email:
  smtp:
    host: "localhost"
    port: 1025
    from: "no-reply@example.com"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(baseYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Fatalf("AccessTokenTTL = %s, want 15m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshTokenTTL != 15*24*time.Hour {
		t.Fatalf("RefreshTokenTTL = %s, want 360h", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Auth.VerificationCodeTTL != 5*time.Minute {
		t.Fatalf("VerificationCodeTTL = %s, want 5m", cfg.Auth.VerificationCodeTTL)
	}
	if cfg.Storage.ChunkSize != 200 {
		t.Fatalf("ChunkSize = %d, want 200", cfg.Storage.ChunkSize)
	}
	if cfg.Storage.UploadTimeout != 5*time.Minute {
		t.Fatalf("UploadTimeout = %s, want 5m", cfg.Storage.UploadTimeout)
	}
	if cfg.Storage.Driver != "local" {
		t.Fatalf("Storage.Driver = %q, want local", cfg.Storage.Driver)
	}
	if got, want := cfg.Addr(), "0.0.0.0:8080"; got != want {
		t.Fatalf("Addr() = %q, want %q", got, want)
	}
}

func TestParseRejectsSharedSecrets(t *testing.T) {
	yaml := strings.Replace(baseYAML,
		"refresh-secret-refresh-secret-refresh-secret",
		"access-secret-access-secret-access-secret", 1)

	_, err := Parse([]byte(yaml))
	if err == nil || !strings.Contains(err.Error(), "must differ") {
		t.Fatalf("Parse() error = %v, want secrets-must-differ error", err)
	}
}

func TestParseEnvOverridesSecrets(t *testing.T) {
	t.Setenv("STOREFRONT_REFRESH_TOKEN_SECRET", "env-refresh-secret-env-refresh-secret-env")

	cfg, err := Parse([]byte(baseYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Auth.RefreshTokenSecret != "env-refresh-secret-env-refresh-secret-env" {
		t.Fatalf("RefreshTokenSecret = %q, want env value", cfg.Auth.RefreshTokenSecret)
	}
}

func TestParseValidatesStorageDriver(t *testing.T) {
	tests := []struct {
		name    string
		storage string
		wantErr string
	}{
		{name: "unknown_driver", storage: "storage:\n  driver: ftp\n", wantErr: "not supported"},
		{name: "s3_without_bucket", storage: "storage:\n  driver: s3\n", wantErr: "storage.bucket"},
		{
			name:    "s3_without_keys",
			storage: "storage:\n  driver: s3\n  bucket: assets\n",
			wantErr: "storage.access_key",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(baseYAML + tt.storage))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Parse() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
