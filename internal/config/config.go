package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Email    EmailConfig
	Queue    QueueConfig
	Storage  StorageConfig
	OAuth    OAuthConfig
	Admin    AdminBootstrapConfig
	Metrics  MetricsConfig
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Env             string        `env:"ENV" envDefault:"development"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	RequestTimeout  time.Duration `env:"SERVER_REQUEST_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"SERVER_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	TrustedProxies  []string      `env:"TRUSTED_PROXIES" envSeparator:","`
	AuthRateLimit   int           `env:"AUTH_RATE_LIMIT_PER_MINUTE" envDefault:"10"`
}

type DatabaseConfig struct {
	Host              string        `env:"DB_HOST" envDefault:"localhost"`
	Port              int           `env:"DB_PORT" envDefault:"5432"`
	User              string        `env:"DB_USER" envDefault:"postgres"`
	Password          string        `env:"DB_PASSWORD"`
	Name              string        `env:"DB_NAME" envDefault:"gatekeeper"`
	SSLMode           string        `env:"DB_SSLMODE" envDefault:"disable"`
	MaxConns          int32         `env:"DB_MAX_CONNS" envDefault:"25"`
	MinConns          int32         `env:"DB_MIN_CONNS" envDefault:"5"`
	MaxConnLifetime   time.Duration `env:"DB_MAX_CONN_LIFETIME" envDefault:"5m"`
	MaxConnIdleTime   time.Duration `env:"DB_MAX_CONN_IDLE_TIME" envDefault:"1m"`
	HealthCheckPeriod time.Duration `env:"DB_HEALTH_CHECK_PERIOD" envDefault:"1m"`
	AutoMigrate       bool          `env:"DB_AUTO_MIGRATE" envDefault:"true"`
	ApplicationName   string        `env:"DB_APPLICATION_NAME" envDefault:"gatekeeper"`
	ConnectTimeout    time.Duration `env:"DB_CONNECT_TIMEOUT" envDefault:"5s"`
	ConnectAttempts   uint          `env:"DB_CONNECT_ATTEMPTS" envDefault:"5"`
	HealthTimeout     time.Duration `env:"DB_HEALTH_TIMEOUT" envDefault:"2s"`
}

type AuthConfig struct {
	UserJWTSecret    string        `env:"USER_JWT_SECRET"`
	UserTokenExpiry  time.Duration `env:"USER_JWT_EXPIRES_IN" envDefault:"720h"`
	AdminJWTSecret   string        `env:"ADMIN_JWT_SECRET"`
	AdminTokenExpiry time.Duration `env:"ADMIN_JWT_EXPIRES_IN" envDefault:"12h"`
	OTPTTL           time.Duration `env:"OTP_TTL" envDefault:"15m"`
	PasswordResetTTL time.Duration `env:"PASSWORD_RESET_TTL" envDefault:"15m"`
	ChangeEmailTTL   time.Duration `env:"CHANGE_EMAIL_TTL" envDefault:"15m"`
	TOTPIssuer       string        `env:"TOTP_ISSUER" envDefault:"Gatekeeper"`
	TOTPKey          string        `env:"TOTP_ENCRYPTION_KEY"`
	BcryptCost       int           `env:"BCRYPT_COST" envDefault:"12"`
	CleanupInterval  time.Duration `env:"SECURITY_ACTION_CLEANUP_INTERVAL" envDefault:"1h"`
	TimingFloor      time.Duration `env:"AUTH_TIMING_FLOOR" envDefault:"250ms"`
	TimingJitter     time.Duration `env:"AUTH_TIMING_JITTER" envDefault:"50ms"`
}

type EmailConfig struct {
	Provider    string `env:"EMAIL_PROVIDER" envDefault:"log"`
	FromAddress string `env:"EMAIL_FROM_ADDRESS" envDefault:"no-reply@example.com"`
	FromName    string `env:"EMAIL_FROM_NAME" envDefault:"Gatekeeper"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	AWSRegion   string `env:"AWS_REGION" envDefault:"us-east-1"`
	SMTPHost    string `env:"SMTP_HOST"`
	SMTPPort    int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser    string `env:"SMTP_USER"`
	SMTPPass    string `env:"SMTP_PASS"`
}

type QueueConfig struct {
	Workers     int           `env:"EMAIL_QUEUE_WORKERS" envDefault:"2"`
	RatePerSec  float64       `env:"EMAIL_QUEUE_RATE_PER_SEC" envDefault:"2"`
	MaxAttempts uint          `env:"EMAIL_QUEUE_ATTEMPTS" envDefault:"3"`
	Backoff     time.Duration `env:"EMAIL_QUEUE_BACKOFF" envDefault:"5s"`
	Buffer      int           `env:"EMAIL_QUEUE_BUFFER" envDefault:"256"`
}

type StorageConfig struct {
	Endpoint      string        `env:"S3_ENDPOINT" envDefault:"localhost:9000"`
	AccessKeyID   string        `env:"S3_ACCESS_KEY_ID"`
	SecretKey     string        `env:"S3_SECRET_ACCESS_KEY"`
	Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	PrivateBucket string        `env:"S3_PRIVATE_BUCKET_NAME" envDefault:"attachments"`
	UseSSL        bool          `env:"S3_USE_SSL" envDefault:"false"`
	PresignTTL    time.Duration `env:"S3_PRESIGN_TTL" envDefault:"1h"`
	MaxUploadSize int64         `env:"MAX_UPLOAD_SIZE" envDefault:"10485760"`
}

type OAuthConfig struct {
	GoogleClientID        string `env:"GOOGLE_CLIENT_ID"`
	GoogleIOSClientID     string `env:"GOOGLE_IOS_CLIENT_ID"`
	GoogleAndroidClientID string `env:"GOOGLE_ANDROID_CLIENT_ID"`
	AppleKeysURL          string `env:"APPLE_AUTH_KEYS_URL" envDefault:"https://appleid.apple.com/auth/keys"`
	AppleClientID         string `env:"APPLE_CLIENT_ID"`
	AppleBundleID         string `env:"APPLE_BUNDLE_APP"`
}

// GoogleAudiences lists every configured Google client ID.
func (c OAuthConfig) GoogleAudiences() []string {
	return nonEmpty(c.GoogleClientID, c.GoogleIOSClientID, c.GoogleAndroidClientID)
}

// AppleAudiences lists every configured Apple client ID.
func (c OAuthConfig) AppleAudiences() []string {
	return nonEmpty(c.AppleClientID, c.AppleBundleID)
}

type AdminBootstrapConfig struct {
	Email    string `env:"ADMIN_EMAIL"`
	Password string `env:"ADMIN_PASSWORD"`
	Name     string `env:"ADMIN_NAME" envDefault:"Administrator"`
}

type MetricsConfig struct {
	Enabled bool   `env:"METRICS_ENABLED" envDefault:"true"`
	Path    string `env:"METRICS_PATH" envDefault:"/metrics"`
}

// Load reads an optional .env file, then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate enforces required values and secret strength.
func (c *Config) Validate() error {
	if c.Database.Password == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if err := validateJWTSecret("USER_JWT_SECRET", c.Auth.UserJWTSecret, c.Server.Env); err != nil {
		return err
	}
	if err := validateJWTSecret("ADMIN_JWT_SECRET", c.Auth.AdminJWTSecret, c.Server.Env); err != nil {
		return err
	}
	if c.Auth.UserJWTSecret == c.Auth.AdminJWTSecret {
		return fmt.Errorf("USER_JWT_SECRET and ADMIN_JWT_SECRET must differ")
	}
	if len(c.Auth.TOTPKey) != 32 {
		return fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(c.Auth.TOTPKey))
	}

	switch c.Email.Provider {
	case "ses", "log":
	case "smtp":
		if c.Email.SMTPHost == "" {
			return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER=smtp")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of ses, smtp, log (got %q)", c.Email.Provider)
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("EMAIL_QUEUE_WORKERS must be at least 1")
	}
	if c.Queue.MaxAttempts < 1 {
		return fmt.Errorf("EMAIL_QUEUE_ATTEMPTS must be at least 1")
	}
	if c.Auth.OTPTTL <= 0 || c.Auth.PasswordResetTTL <= 0 || c.Auth.ChangeEmailTTL <= 0 {
		return fmt.Errorf("security action TTLs must be positive")
	}

	return nil
}

// validateJWTSecret enforces minimum security standards for a signing secret
func validateJWTSecret(name, secret, environment string) error {
	if secret == "" {
		return fmt.Errorf("%s is required", name)
	}

	minLength := 16
	if environment == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("%s must be at least %d characters in %s environment (got %d)",
			name, minLength, environment, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("%s cannot be a common weak value", name)
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func nonEmpty(values ...string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
