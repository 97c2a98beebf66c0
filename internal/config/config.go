package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Email     EmailConfig     `yaml:"email"`
	Queue     QueueConfig     `yaml:"queue"`
	Redis     RedisConfig     `yaml:"redis"`
	WebSocket WebSocketConfig `yaml:"websocket"`
}

type ServerConfig struct {
	Name        string        `yaml:"name"`
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	BaseURL     string        `yaml:"base_url"`
	FrontendURL string        `yaml:"frontend_url"`
	LogLevel    string        `yaml:"log_level"`
	IdleTimeout time.Duration `yaml:"idle_timeout"`
	// AllowedOrigins lists browser origins allowed for CORS and websocket
	// upgrades. Entries ending in "*" match by prefix; loopback is always allowed.
	AllowedOrigins []string `yaml:"allowed_origins"`
	// TrustedProxies are CIDRs whose X-Forwarded-For is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	AccessTokenSecret   string        `yaml:"access_token_secret"`
	RefreshTokenSecret  string        `yaml:"refresh_token_secret"`
	AccessTokenTTL      time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL     time.Duration `yaml:"refresh_token_ttl"`
	VerificationCodeTTL time.Duration `yaml:"verification_code_ttl"`
	CookieDomain        string        `yaml:"cookie_domain"`
	// InsecureCookies drops the Secure flag, for plain-http local development.
	InsecureCookies bool `yaml:"insecure_cookies"`
}

type ProvidersConfig struct {
	Google OAuthClientConfig `yaml:"google"`
	GitHub OAuthClientConfig `yaml:"github"`
}

type OAuthClientConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

type StorageConfig struct {
	// Driver is "s3" for an S3-compatible bucket (R2, S3, MinIO) or "local".
	Driver         string        `yaml:"driver"`
	LocalRoot      string        `yaml:"local_root"`
	Endpoint       string        `yaml:"endpoint"`
	Region         string        `yaml:"region"`
	Bucket         string        `yaml:"bucket"`
	AccessKey      string        `yaml:"access_key"`
	SecretKey      string        `yaml:"secret_key"`
	PublicBaseURL  string        `yaml:"public_base_url"`
	UploadMaxBytes int64         `yaml:"upload_max_bytes"`
	ChunkSize      int           `yaml:"chunk_size"`
	UploadTimeout  time.Duration `yaml:"upload_timeout"`
	IconMaxEdge    int           `yaml:"icon_max_edge"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type QueueConfig struct {
	// URL enables queued mail delivery when set; otherwise mail is sent inline.
	URL       string `yaml:"url"`
	MailQueue string `yaml:"mail_queue"`
}

type RedisConfig struct {
	// Addr enables the cross-worker progress bridge when set.
	Addr            string `yaml:"addr"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	ProgressChannel string `yaml:"progress_channel"`
}

type WebSocketConfig struct {
	MaxConnectionsPerIP int `yaml:"max_connections_per_ip"`
	MaxConnections      int `yaml:"max_connections"`
}

func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes, applying env overrides, validation
// and defaults in the same order as Load.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	overrides := []struct {
		env    string
		target *string
	}{
		{"STOREFRONT_ACCESS_TOKEN_SECRET", &c.Auth.AccessTokenSecret},
		{"STOREFRONT_REFRESH_TOKEN_SECRET", &c.Auth.RefreshTokenSecret},
		{"STOREFRONT_GOOGLE_CLIENT_SECRET", &c.Providers.Google.ClientSecret},
		{"STOREFRONT_GITHUB_CLIENT_SECRET", &c.Providers.GitHub.ClientSecret},
		{"STOREFRONT_STORAGE_ACCESS_KEY", &c.Storage.AccessKey},
		{"STOREFRONT_STORAGE_SECRET_KEY", &c.Storage.SecretKey},
		{"STOREFRONT_SMTP_PASSWORD", &c.Email.SMTP.Password},
		{"STOREFRONT_AMQP_URL", &c.Queue.URL},
		{"STOREFRONT_REDIS_PASSWORD", &c.Redis.Password},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func (c *Config) validate() error {
	if len(c.Auth.AccessTokenSecret) < 32 {
		return fmt.Errorf("auth.access_token_secret must be at least 32 characters")
	}
	if len(c.Auth.RefreshTokenSecret) < 32 {
		return fmt.Errorf("auth.refresh_token_secret must be at least 32 characters")
	}
	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("auth.access_token_secret and auth.refresh_token_secret must differ")
	}
	if c.Email.SMTP.Host == "" {
		return fmt.Errorf("email.smtp.host is required")
	}
	if c.Email.SMTP.Port == 0 {
		return fmt.Errorf("email.smtp.port is required")
	}
	if c.Email.SMTP.From == "" {
		return fmt.Errorf("email.smtp.from is required")
	}

	switch strings.ToLower(c.Storage.Driver) {
	case "", "local":
	case "s3":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for the s3 driver")
		}
		if c.Storage.AccessKey == "" || c.Storage.SecretKey == "" {
			return fmt.Errorf("storage.access_key and storage.secret_key are required for the s3 driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Storefront"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	c.Server.BaseURL = strings.TrimRight(c.Server.BaseURL, "/")
	if c.Server.FrontendURL == "" {
		c.Server.FrontendURL = c.Server.BaseURL
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 5 * time.Minute
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/storefront.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 15 * 24 * time.Hour
	}
	if c.Auth.VerificationCodeTTL == 0 {
		c.Auth.VerificationCodeTTL = 5 * time.Minute
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "local"
	}
	c.Storage.Driver = strings.ToLower(c.Storage.Driver)
	if c.Storage.LocalRoot == "" {
		c.Storage.LocalRoot = "./data/objects"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "auto"
	}
	if c.Storage.UploadMaxBytes == 0 {
		c.Storage.UploadMaxBytes = 10 << 20
	}
	if c.Storage.ChunkSize == 0 {
		c.Storage.ChunkSize = 200
	}
	if c.Storage.UploadTimeout == 0 {
		c.Storage.UploadTimeout = 5 * time.Minute
	}
	if c.Storage.IconMaxEdge == 0 {
		c.Storage.IconMaxEdge = 512
	}
	if c.Queue.MailQueue == "" {
		c.Queue.MailQueue = "mail.outbound"
	}
	if c.WebSocket.MaxConnectionsPerIP == 0 {
		c.WebSocket.MaxConnectionsPerIP = 10
	}
	if c.WebSocket.MaxConnections == 0 {
		c.WebSocket.MaxConnections = 1000
	}
	if c.Redis.ProgressChannel == "" {
		c.Redis.ProgressChannel = "storefront:upload-progress"
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
