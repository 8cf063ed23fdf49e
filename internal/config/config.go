package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const minJWTSecretBytes = 32

type Config struct {
	AppEnv        string
	Port          string
	PublicBaseURL string
	SentryDSN     string

	// TrustedProxies lists the CIDRs or IPs allowed to set X-Forwarded-For.
	TrustedProxies []string

	Database DatabaseSettings
	JWT      JWTSettings
	Lockout  LockoutSettings
	Argon2   Argon2Settings

	RateLimitBackend string
	RedisURL         string
	RateLimits       RateLimitSettings

	CronSecret         string
	RateLimitRetention time.Duration
	CleanupBatchSize   int

	AdminEmail    string
	AdminPassword string
	RunMigrations bool
}

type DatabaseSettings struct {
	URL             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

type JWTSettings struct {
	Secret               string
	Issuer               string
	Audience             string
	AccessTTL            time.Duration
	RefreshTTL           time.Duration
	EmailVerificationTTL time.Duration
	PasswordResetTTL     time.Duration
}

type LockoutSettings struct {
	MaxAttempts  int
	LockDuration time.Duration
}

type Argon2Settings struct {
	MemoryKB    uint32
	Iterations  uint32
	Parallelism uint8
}

// Window is one fixed-window rate limit: at most Max hits per Window.
type Window struct {
	Max    int
	Window time.Duration
}

type RateLimitSettings struct {
	Login             Window
	EmailVerification Window
	PasswordReset     Window
	Refresh           Window
}

func (c *Config) Production() bool {
	return c.AppEnv == "production"
}

// LoadDotEnv loads a .env file when present. Missing files are ignored.
func LoadDotEnv() {
	_ = godotenv.Load()
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		AppEnv:        strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		Port:          strings.TrimSpace(v.GetString("port")),
		PublicBaseURL: strings.TrimRight(strings.TrimSpace(v.GetString("public_base_url")), "/"),
		SentryDSN:     strings.TrimSpace(v.GetString("sentry_dsn")),
		Database: DatabaseSettings{
			URL:             strings.TrimSpace(v.GetString("database_url")),
			MaxConns:        int32(positiveInt(v, "db_max_conns", 10)),
			MinConns:        int32(positiveInt(v, "db_min_conns", 1)),
			MaxConnLifetime: minutes(v, "db_conn_max_lifetime_minutes", 30),
			MaxConnIdleTime: minutes(v, "db_conn_max_idle_time_minutes", 10),
		},
		JWT: JWTSettings{
			Secret:               strings.TrimSpace(v.GetString("jwt_secret")),
			Issuer:               strings.TrimSpace(v.GetString("jwt_issuer")),
			Audience:             strings.TrimSpace(v.GetString("jwt_audience")),
			AccessTTL:            minutes(v, "access_token_ttl_minutes", 15),
			RefreshTTL:           hours(v, "refresh_token_ttl_hours", 168),
			EmailVerificationTTL: hours(v, "email_verification_ttl_hours", 24),
			PasswordResetTTL:     minutes(v, "password_reset_ttl_minutes", 60),
		},
		Lockout: LockoutSettings{
			MaxAttempts:  positiveInt(v, "login_max_attempts", 5),
			LockDuration: minutes(v, "login_lock_minutes", 15),
		},
		Argon2: Argon2Settings{
			MemoryKB:    uint32(positiveInt(v, "argon2_memory_kb", 64*1024)),
			Iterations:  uint32(positiveInt(v, "argon2_iterations", 3)),
			Parallelism: uint8(positiveInt(v, "argon2_parallelism", 2)),
		},
		RateLimitBackend: strings.ToLower(strings.TrimSpace(v.GetString("rate_limit_backend"))),
		RedisURL:         strings.TrimSpace(v.GetString("redis_url")),
		RateLimits: RateLimitSettings{
			Login:             window(v, "login_rate_limit", 10, 60),
			EmailVerification: window(v, "verify_rate_limit", 5, 900),
			PasswordReset:     window(v, "reset_rate_limit", 5, 900),
			Refresh:           window(v, "refresh_rate_limit", 30, 60),
		},
		CronSecret:         strings.TrimSpace(v.GetString("cron_secret")),
		RateLimitRetention: time.Duration(positiveInt(v, "rate_limit_retention_days", 2)) * 24 * time.Hour,
		CleanupBatchSize:   positiveInt(v, "cleanup_batch_size", 500),
		AdminEmail:         strings.TrimSpace(strings.ToLower(v.GetString("admin_email"))),
		AdminPassword:      strings.TrimSpace(v.GetString("admin_password")),
		RunMigrations:      v.GetBool("run_migrations_on_startup"),
		TrustedProxies:     splitList(v.GetString("trusted_proxies")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("public_base_url", "http://localhost:8080")
	v.SetDefault("jwt_issuer", "property-portal")
	v.SetDefault("jwt_audience", "property-portal-web")
	v.SetDefault("rate_limit_backend", "postgres")
	v.SetDefault("run_migrations_on_startup", false)
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("missing required env: DATABASE_URL")
	}
	if c.JWT.Secret == "" {
		return fmt.Errorf("missing required env: JWT_SECRET")
	}
	if len(c.JWT.Secret) < minJWTSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
	}

	switch c.RateLimitBackend {
	case "postgres", "memory":
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_BACKEND: %q", c.RateLimitBackend)
	}

	for _, proxy := range c.TrustedProxies {
		if _, _, err := net.ParseCIDR(proxy); err == nil {
			continue
		}
		if net.ParseIP(proxy) == nil {
			return fmt.Errorf("invalid TRUSTED_PROXIES entry: %q", proxy)
		}
	}

	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		return fmt.Errorf("ADMIN_EMAIL and ADMIN_PASSWORD are required together")
	}

	return nil
}

// splitList splits a comma-separated value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// positiveInt falls back when the value is missing, malformed or not > 0.
func positiveInt(v *viper.Viper, key string, fallback int) int {
	value := v.GetInt(key)
	if value <= 0 {
		return fallback
	}
	return value
}

func minutes(v *viper.Viper, key string, fallback int) time.Duration {
	return time.Duration(positiveInt(v, key, fallback)) * time.Minute
}

func hours(v *viper.Viper, key string, fallback int) time.Duration {
	return time.Duration(positiveInt(v, key, fallback)) * time.Hour
}

func window(v *viper.Viper, prefix string, maxFallback, secondsFallback int) Window {
	return Window{
		Max:    positiveInt(v, prefix+"_max", maxFallback),
		Window: time.Duration(positiveInt(v, prefix+"_window_seconds", secondsFallback)) * time.Second,
	}
}
