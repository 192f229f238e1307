// Package config loads the service configuration from dotenv files and the
// process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/toolink/callgate/limiter"
	"github.com/toolink/callgate/session"
)

// Config is the complete service configuration.
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Session SessionConfig
	Quota   QuotaConfig
	Storage StorageConfig
	Twilio  TwilioConfig
	// TokenTTL is the lifetime of each issued voice credential.
	TokenTTL time.Duration
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	ListenAddr string
	HealthAddr string // empty disables the gRPC health listener
	TrustProxy bool
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string
	Format string // json or console
}

// SessionConfig controls how session proofs are minted and stored in the cookie.
type SessionConfig struct {
	Mode         string
	Secret       string
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

// QuotaConfig holds the limit and window of both quota tiers.
type QuotaConfig struct {
	IdentityLimit  int
	IdentityWindow time.Duration
	GlobalLimit    int
	GlobalWindow   time.Duration
}

// StorageConfig selects the quota store and its housekeeping.
type StorageConfig struct {
	Type        string
	Redis       RedisConfig
	SweepEvery  time.Duration
	IdleWindows int
}

// RedisConfig holds the connection settings for the Redis quota store.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// TwilioConfig holds the account keys used to sign voice access tokens.
type TwilioConfig struct {
	AccountSID     string
	APIKeySID      string
	APISecret      string
	ApplicationSID string
	AllowIncoming  bool
}

// Load reads the given dotenv files (or ./.env when none are given) without
// overriding variables already set, then builds and validates a Config.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("load env files: %w", err)
		}
	} else {
		_ = godotenv.Load()
	}

	e := &envReader{}
	cfg := Config{
		Server: ServerConfig{
			ListenAddr: e.str("LISTEN_ADDR", ":3000"),
			HealthAddr: e.optional("HEALTH_ADDR", ":3001"),
			TrustProxy: e.boolean("TRUST_PROXY", false),
		},
		Log: LogConfig{
			Level:  e.str("LOG_LEVEL", "info"),
			Format: e.str("LOG_FORMAT", "json"),
		},
		Session: SessionConfig{
			Mode:         e.str("SESSION_MODE", session.ModeSigned),
			Secret:       os.Getenv("SESSION_SECRET"),
			TTL:          e.duration("SESSION_TTL", 24*time.Hour),
			CookieName:   e.str("SESSION_COOKIE", "callgate_session"),
			CookieSecure: e.boolean("COOKIE_SECURE", true),
		},
		Quota: QuotaConfig{
			IdentityLimit:  e.integer("IDENTITY_LIMIT", 10),
			IdentityWindow: e.duration("IDENTITY_WINDOW", 24*time.Hour),
			GlobalLimit:    e.integer("GLOBAL_LIMIT", 5),
			GlobalWindow:   e.duration("GLOBAL_WINDOW", time.Second),
		},
		Storage: StorageConfig{
			Type: e.str("STORAGE_TYPE", limiter.StorageMemory),
			Redis: RedisConfig{
				Addr:     e.str("REDIS_ADDR", "localhost:6379"),
				Password: os.Getenv("REDIS_PASSWORD"),
				DB:       e.integer("REDIS_DB", 0),
				Prefix:   e.str("REDIS_PREFIX", "callgate"),
			},
			SweepEvery:  e.duration("SWEEP_EVERY", time.Minute),
			IdleWindows: e.integer("IDLE_WINDOWS", 2),
		},
		Twilio: TwilioConfig{
			AccountSID:     e.str("TWILIO_ACCOUNT_SID", ""),
			APIKeySID:      e.str("TWILIO_API_KEY", ""),
			APISecret:      os.Getenv("TWILIO_API_SECRET"),
			ApplicationSID: e.str("TWILIO_TWIML_APP_SID", ""),
			AllowIncoming:  e.boolean("TWILIO_ALLOW_INCOMING", false),
		},
		TokenTTL: e.duration("TOKEN_TTL", 2*time.Second),
	}
	if e.err != nil {
		return Config{}, e.err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes enum-like values.
func (c *Config) Validate() error {
	c.Session.Mode = strings.ToLower(c.Session.Mode)
	c.Storage.Type = strings.ToLower(c.Storage.Type)
	c.Log.Format = strings.ToLower(c.Log.Format)

	switch c.Session.Mode {
	case session.ModeSigned:
		if len(c.Session.Secret) < session.MinSecretLength {
			return fmt.Errorf("SESSION_SECRET must be at least %d bytes in %s mode", session.MinSecretLength, session.ModeSigned)
		}
	case session.ModeStateful:
		if c.Session.Secret != "" {
			log.Warn().Msg("SESSION_SECRET is ignored in stateful session mode")
		}
	default:
		return fmt.Errorf("invalid SESSION_MODE: %s, must be '%s' or '%s'", c.Session.Mode, session.ModeSigned, session.ModeStateful)
	}
	if c.Session.TTL < 0 {
		return fmt.Errorf("invalid SESSION_TTL: %s, must not be negative", c.Session.TTL)
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("SESSION_COOKIE must not be empty")
	}

	if c.Storage.Type != limiter.StorageMemory && c.Storage.Type != limiter.StorageRedis {
		return fmt.Errorf("invalid STORAGE_TYPE: %s, must be '%s' or '%s'", c.Storage.Type, limiter.StorageMemory, limiter.StorageRedis)
	}
	if c.Storage.Type == limiter.StorageRedis && c.Storage.Redis.Addr == "" {
		return fmt.Errorf("REDIS_ADDR is required when STORAGE_TYPE is %s", limiter.StorageRedis)
	}
	if c.Storage.SweepEvery <= 0 {
		return fmt.Errorf("invalid SWEEP_EVERY: %s, must be positive", c.Storage.SweepEvery)
	}
	if c.Storage.IdleWindows < 1 {
		return fmt.Errorf("invalid IDLE_WINDOWS: %d, must be at least 1", c.Storage.IdleWindows)
	}

	if c.Quota.IdentityLimit <= 0 || c.Quota.IdentityWindow <= 0 {
		return fmt.Errorf("identity quota must be positive, got %d per %s", c.Quota.IdentityLimit, c.Quota.IdentityWindow)
	}
	if c.Quota.GlobalLimit <= 0 || c.Quota.GlobalWindow <= 0 {
		return fmt.Errorf("global quota must be positive, got %d per %s", c.Quota.GlobalLimit, c.Quota.GlobalWindow)
	}

	if c.TokenTTL <= 0 {
		return fmt.Errorf("invalid TOKEN_TTL: %s, must be positive", c.TokenTTL)
	}
	if c.TokenTTL%time.Second != 0 {
		return fmt.Errorf("invalid TOKEN_TTL: %s, must be a whole number of seconds", c.TokenTTL)
	}
	if c.TokenTTL < 2*time.Second || c.TokenTTL > 5*time.Second {
		log.Warn().Dur("token_ttl", c.TokenTTL).Msg("token ttl outside the recommended 2s-5s range")
	}

	if c.Twilio.AccountSID == "" || c.Twilio.APIKeySID == "" || c.Twilio.APISecret == "" {
		return fmt.Errorf("TWILIO_ACCOUNT_SID, TWILIO_API_KEY and TWILIO_API_SECRET are required")
	}
	if c.Twilio.ApplicationSID == "" {
		return fmt.Errorf("TWILIO_TWIML_APP_SID is required")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid LOG_FORMAT: %s, must be 'json' or 'console'", c.Log.Format)
	}
	return nil
}

// envReader reads typed variables and keeps the first parse error.
type envReader struct {
	err error
}

func (e *envReader) str(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

// optional is like str but a variable set to the empty string stays empty.
func (e *envReader) optional(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return strings.TrimSpace(value)
}

func (e *envReader) integer(key string, fallback int) int {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return n
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return d
}

func (e *envReader) boolean(key string, fallback bool) bool {
	raw := e.str(key, "")
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		e.fail(fmt.Errorf("invalid %s: %w", key, err))
		return fallback
	}
	return b
}

func (e *envReader) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}
