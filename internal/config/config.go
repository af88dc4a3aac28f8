package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Lockout  LockoutConfig
	Sources  CredentialSourceConfig
	Notify   NotifyConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
	AllowedOrigins []string
}

type AuthConfig struct {
	TicketSecret    string
	TicketExpiry    time.Duration
	SessionExpiry   time.Duration
	TOTPIssuer      string
	TOTPKey         string // 32-byte AES key for TOTP secrets at rest
	CleanupInterval time.Duration
}

// LockoutConfig is the brute-force protection policy. MaxTry is the number
// of failures that triggers a ban. TrialWindow <= 0 means the failure count
// is unbounded in time. BanTime <= 0 disables lockout entirely.
type LockoutConfig struct {
	MaxTry      int
	TrialWindow time.Duration
	BanTime     time.Duration
}

// Enabled reports whether lockout tracking is active.
func (c LockoutConfig) Enabled() bool {
	return c.BanTime > 0
}

// CredentialSourceConfig names the request locations credentials are pulled
// from and the path prefixes the gateway protects.
type CredentialSourceConfig struct {
	TokenHeader       string   // custom header carrying an opaque token
	AuthScheme        string   // app-specific Authorization scheme
	OTPHeader         string   // second-factor passcode alongside Basic auth
	SessionCookie     string
	CorrelationCookie string
	TicketCookie      string
	ProtectedPrefixes []string
}

type NotifyConfig struct {
	Enabled     bool
	AWSRegion   string
	FromAddress string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	ticketSecret := getEnv("TICKET_SECRET", "")
	if ticketSecret == "" {
		return nil, fmt.Errorf("TICKET_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			AllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		},
		Auth: AuthConfig{
			TicketSecret:    ticketSecret,
			TicketExpiry:    getEnvAsDuration("TICKET_EXPIRY", 24*time.Hour),
			SessionExpiry:   getEnvAsDuration("SESSION_EXPIRY", 7*24*time.Hour),
			TOTPIssuer:      getEnv("TOTP_ISSUER", "bastion"),
			TOTPKey:         getEnv("TOTP_ENCRYPTION_KEY", ""),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 1*time.Hour),
		},
		Lockout: LockoutConfig{
			MaxTry:      getEnvAsInt("LOCKOUT_MAX_TRY", 3),
			TrialWindow: time.Duration(getEnvAsInt("LOCKOUT_TRIAL_WINDOW_SECONDS", 300)) * time.Second,
			BanTime:     time.Duration(getEnvAsInt("LOCKOUT_BAN_TIME_SECONDS", 300)) * time.Second,
		},
		Sources: CredentialSourceConfig{
			TokenHeader:       getEnv("AUTH_TOKEN_HEADER", "X-Auth-Token"),
			AuthScheme:        getEnv("AUTH_SCHEME", "Bastion"),
			OTPHeader:         getEnv("AUTH_OTP_HEADER", "X-Auth-OTP"),
			SessionCookie:     getEnv("SESSION_COOKIE", "bastion_session"),
			CorrelationCookie: getEnv("CORRELATION_COOKIE", "bastion_correlation"),
			TicketCookie:      getEnv("TICKET_COOKIE", "bastion_ticket"),
			ProtectedPrefixes: getEnvAsListDefault("PROTECTED_PREFIXES",
				[]string{"/api", "/auth/logout", "/auth/whoami", "/auth/totp"}),
		},
		Notify: NotifyConfig{
			Enabled:     getEnvAsBool("NOTIFY_ENABLED", false),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			FromAddress: getEnv("NOTIFY_FROM_ADDRESS", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateTicketSecret(ticketSecret, env); err != nil {
		return nil, err
	}

	if cfg.Lockout.MaxTry < 1 {
		return nil, fmt.Errorf("LOCKOUT_MAX_TRY must be at least 1 (got %d)", cfg.Lockout.MaxTry)
	}

	if cfg.Auth.TOTPKey != "" && len(cfg.Auth.TOTPKey) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be exactly 32 bytes (got %d)", len(cfg.Auth.TOTPKey))
	}

	if cfg.Notify.Enabled && cfg.Notify.FromAddress == "" {
		return nil, fmt.Errorf("NOTIFY_FROM_ADDRESS is required when NOTIFY_ENABLED is set")
	}

	return cfg, nil
}

// validateTicketSecret enforces minimum security standards for the ticket
// signing secret
func validateTicketSecret(secret, env string) error {
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires a 256-bit secret
	}

	if len(secret) < minLength {
		return fmt.Errorf("TICKET_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("TICKET_SECRET cannot be a common weak value")
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

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnvAsListDefault(key string, defaultVal []string) []string {
	if list := getEnvAsList(key); list != nil {
		return list
	}
	return defaultVal
}
