package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("USER_JWT_SECRET", "user-secret-32-characters-long!!")
	t.Setenv("ADMIN_JWT_SECRET", "admin-secret-32-characters-long!")
	t.Setenv("TOTP_ENCRYPTION_KEY", "0123456789abcdef0123456789abcdef")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.IdleTimeout)

	assert.Equal(t, 15*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, 15*time.Minute, cfg.Auth.PasswordResetTTL)

	assert.Equal(t, 2, cfg.Queue.Workers)
	assert.Equal(t, 2.0, cfg.Queue.RatePerSec)
	assert.Equal(t, uint(3), cfg.Queue.MaxAttempts)
	assert.Equal(t, 5*time.Second, cfg.Queue.Backoff)

	assert.Equal(t, "log", cfg.Email.Provider)
	assert.Equal(t, "https://appleid.apple.com/auth/keys", cfg.OAuth.AppleKeysURL)
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SERVER_READ_TIMEOUT", "30s")
	t.Setenv("OTP_TTL", "5m")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8,172.16.0.0/12")
	t.Setenv("GOOGLE_CLIENT_ID", "web")
	t.Setenv("GOOGLE_ANDROID_CLIENT_ID", "android")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Auth.OTPTTL)
	assert.Equal(t, []string{"10.0.0.0/8", "172.16.0.0/12"}, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"web", "android"}, cfg.OAuth.GoogleAudiences())
}

func TestLoad_InvalidDuration(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OTP_TTL", "not-a-duration")

	_, err := Load()
	assert.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing db password", func(c *Config) { c.Database.Password = "" }, "DB_PASSWORD"},
		{"short user secret", func(c *Config) { c.Auth.UserJWTSecret = "short" }, "USER_JWT_SECRET"},
		{"production needs longer secret", func(c *Config) {
			c.Server.Env = "production"
			c.Auth.AdminJWTSecret = "only-twenty-chars!!!"
		}, "ADMIN_JWT_SECRET must be at least 32"},
		{"shared secrets", func(c *Config) { c.Auth.AdminJWTSecret = c.Auth.UserJWTSecret }, "must differ"},
		{"short totp key", func(c *Config) { c.Auth.TOTPKey = "too-short" }, "TOTP_ENCRYPTION_KEY"},
		{"smtp without host", func(c *Config) { c.Email.Provider = "smtp" }, "SMTP_HOST"},
		{"unknown provider", func(c *Config) { c.Email.Provider = "pigeon" }, "EMAIL_PROVIDER"},
		{"no workers", func(c *Config) { c.Queue.Workers = 0 }, "EMAIL_QUEUE_WORKERS"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}

	assert.NoError(t, validConfig().Validate())
}

func validConfig() *Config {
	return &Config{
		Server:   ServerConfig{Env: "development"},
		Database: DatabaseConfig{Password: "pw"},
		Auth: AuthConfig{
			UserJWTSecret:    "user-secret-32-characters-long!!",
			AdminJWTSecret:   "admin-secret-32-characters-long!",
			OTPTTL:           time.Minute,
			PasswordResetTTL: time.Minute,
			ChangeEmailTTL:   time.Minute,
			TOTPKey:          "0123456789abcdef0123456789abcdef",
		},
		Email: EmailConfig{Provider: "log"},
		Queue: QueueConfig{Workers: 1, MaxAttempts: 1},
	}
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "require"}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=require", c.DSN())
}
