package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const devSecretKey = "notez-dev-secret-key-change-in-prod"

type AuthMode string

const (
	AuthModeToken   AuthMode = "token"
	AuthModeSession AuthMode = "session"
)

type Config struct {
	Env       string
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	BaseURL   string
	AvatarURL string

	Auth   AuthConfig
	Email  EmailConfig
	Redis  RedisConfig
	S3     S3Config
	Backup BackupConfig

	TrashRetention time.Duration
}

type AuthConfig struct {
	Mode           AuthMode
	SecretKey      string
	TokenTTL       time.Duration
	SessionTTL     time.Duration
	RememberTTL    time.Duration
	LoginRateLimit int
	// TrustedProxies may set CF-Connecting-IP and X-Forwarded-For.
	TrustedProxies []netip.Prefix
}

type EmailConfig struct {
	PostmarkToken string
	FromEmail     string
}

// Enabled reports whether outgoing mail is configured.
func (c EmailConfig) Enabled() bool {
	return c.PostmarkToken != "" && c.FromEmail != ""
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

type BackupConfig struct {
	Passphrase string
	Interval   time.Duration
	Retention  time.Duration
}

// BackupEnabled reports whether both an S3 target and a passphrase are set.
func (c *Config) BackupEnabled() bool {
	return c.S3.Bucket != "" && c.S3.AccessKey != "" && c.S3.SecretKey != "" && c.Backup.Passphrase != ""
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var p parser
	cfg := &Config{
		Env:       getEnv("NOTEZ_ENV", "development"),
		Port:      getEnv("NOTEZ_PORT", "8080"),
		DBPath:    getEnv("NOTEZ_DB_PATH", "notez.db"),
		LogLevel:  getEnv("NOTEZ_LOG_LEVEL", "info"),
		LogFormat: getEnv("NOTEZ_LOG_FORMAT", "text"),
		AvatarURL: getEnv("NOTEZ_AVATAR_URL", "https://avatar.iran.liara.run/public"),
		Auth: AuthConfig{
			Mode:           AuthMode(strings.ToLower(getEnv("NOTEZ_AUTH_MODE", string(AuthModeToken)))),
			SecretKey:      getEnv("NOTEZ_SECRET_KEY", ""),
			TokenTTL:       p.duration("NOTEZ_TOKEN_TTL", 15*time.Minute),
			SessionTTL:     p.duration("NOTEZ_SESSION_TTL", 24*time.Hour),
			RememberTTL:    p.duration("NOTEZ_REMEMBER_TTL", 30*24*time.Hour),
			LoginRateLimit: p.int("NOTEZ_LOGIN_RATE_LIMIT", 10),
			TrustedProxies: p.prefixes("NOTEZ_TRUSTED_PROXIES"),
		},
		Email: EmailConfig{
			PostmarkToken: getEnv("NOTEZ_POSTMARK_TOKEN", ""),
			FromEmail:     getEnv("NOTEZ_FROM_EMAIL", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("NOTEZ_REDIS_ADDR", ""),
			Password: getEnv("NOTEZ_REDIS_PASSWORD", ""),
			DB:       p.int("NOTEZ_REDIS_DB", 0),
		},
		S3: S3Config{
			Endpoint:  getEnv("NOTEZ_S3_ENDPOINT", ""),
			Bucket:    getEnv("NOTEZ_S3_BUCKET", ""),
			Region:    getEnv("NOTEZ_S3_REGION", "us-east-1"),
			AccessKey: getEnv("NOTEZ_S3_ACCESS_KEY", ""),
			SecretKey: getEnv("NOTEZ_S3_SECRET_KEY", ""),
		},
		Backup: BackupConfig{
			Passphrase: getEnv("NOTEZ_BACKUP_PASSPHRASE", ""),
			Interval:   p.duration("NOTEZ_BACKUP_INTERVAL", 24*time.Hour),
			Retention:  p.duration("NOTEZ_BACKUP_RETENTION", 30*24*time.Hour),
		},
		TrashRetention: p.duration("NOTEZ_TRASH_RETENTION", 30*24*time.Hour),
	}
	cfg.BaseURL = strings.TrimRight(getEnv("NOTEZ_BASE_URL", "http://localhost:"+cfg.Port), "/")

	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Auth.Mode {
	case AuthModeToken, AuthModeSession:
	default:
		return fmt.Errorf("NOTEZ_AUTH_MODE must be %q or %q, got %q", AuthModeToken, AuthModeSession, c.Auth.Mode)
	}
	if c.Auth.SecretKey == "" {
		if c.Env == "production" {
			return errors.New("NOTEZ_SECRET_KEY is required in production")
		}
		c.Auth.SecretKey = devSecretKey
	}
	if c.Auth.LoginRateLimit <= 0 {
		return errors.New("NOTEZ_LOGIN_RATE_LIMIT must be positive")
	}
	for name, d := range map[string]time.Duration{
		"NOTEZ_TOKEN_TTL":        c.Auth.TokenTTL,
		"NOTEZ_SESSION_TTL":      c.Auth.SessionTTL,
		"NOTEZ_REMEMBER_TTL":     c.Auth.RememberTTL,
		"NOTEZ_TRASH_RETENTION":  c.TrashRetention,
		"NOTEZ_BACKUP_INTERVAL":  c.Backup.Interval,
		"NOTEZ_BACKUP_RETENTION": c.Backup.Retention,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// parser records the first malformed variable so Load can report it once.
type parser struct {
	err error
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return d
}

func (p *parser) int(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(fmt.Errorf("parse %s: %w", key, err))
		return def
	}
	return n
}

// prefixes parses a comma separated list of CIDRs or bare addresses.
func (p *parser) prefixes(key string) []netip.Prefix {
	var out []netip.Prefix
	for _, field := range strings.Split(os.Getenv(key), ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		if strings.Contains(field, "/") {
			prefix, err := netip.ParsePrefix(field)
			if err != nil {
				p.fail(fmt.Errorf("parse %s: %w", key, err))
				return nil
			}
			out = append(out, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(field)
		if err != nil {
			p.fail(fmt.Errorf("parse %s: %w", key, err))
			return nil
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}
