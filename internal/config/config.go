package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const envPrefix = "LICENSED"

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreBlob     = "blob"
)

type Config struct {
	ListenAddr      string        `envconfig:"LISTEN_ADDR" default:":8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"5s"`
	RequestTimeout  time.Duration `envconfig:"REQUEST_TIMEOUT" default:"5s"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`   // "debug" | "info" | "warn" | "error"
	PrettyLog bool   `envconfig:"PRETTY_LOG" default:"false"` // true => zap dev (color), false => zap prod (JSON)

	Store        string        `envconfig:"STORE" default:"memory"` // memory | redis | postgres | blob
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`
	AutoRegister bool          `envconfig:"AUTO_REGISTER" default:"false"` // probe creates pending records for unknown machines
	SeedFile     string        `envconfig:"SEED_FILE"`                     // yaml fixture loaded into the memory store

	Connect  ConnectConfig  `envconfig:"CONNECT"`
	Redis    RedisConfig    `envconfig:"REDIS"`
	Postgres PostgresConfig `envconfig:"POSTGRES"`
	Blob     BlobConfig     `envconfig:"BLOB"`

	AllowedCIDRsRaw string   `envconfig:"ALLOWED_CIDRS"` // optional, restrict /readyz and /metrics (e.g. "10.0.0.0/8, 127.0.0.1/32")
	AllowedCIDRs    []string `ignored:"true"`
	TrustProxy      bool     `envconfig:"TRUST_PROXY" default:"false"` // true => trust X-Forwarded-For headers

	RateBurst  int `envconfig:"RATE_BURST" default:"10"`
	RatePerMin int `envconfig:"RATE_PER_MIN" default:"60"` // 0 disables rate limiting
}

// ConnectConfig bounds the startup connection retries of network backends.
type ConnectConfig struct {
	Timeout       time.Duration `envconfig:"TIMEOUT" default:"30s"`       // Total time to retry connecting
	RetryInterval time.Duration `envconfig:"RETRY_INTERVAL" default:"2s"` // Initial wait between retries, grows exponentially
	MaxWait       time.Duration `envconfig:"MAX_WAIT" default:"10s"`      // max wait between retries
	PingTimeout   time.Duration `envconfig:"PING_TIMEOUT" default:"5s"`   // timeout for each ping attempt
	WarnThreshold int           `envconfig:"WARN_THRESHOLD" default:"3"`  // warn after this many attempts
}

type RedisConfig struct {
	Addr             string        `envconfig:"ADDR"` // ex: "localhost:6379"
	User             string        `envconfig:"USERNAME"`
	Password         string        `envconfig:"PASSWORD"`
	PasswordRequired bool          `envconfig:"PASSWORD_REQUIRED" default:"false"`
	DB               int           `envconfig:"DB" default:"0"`
	DialTimeout      time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout      time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout     time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
	PoolSize         int           `envconfig:"POOL_SIZE" default:"10"`
}

type PostgresConfig struct {
	DSN      string `envconfig:"DSN"`
	Schema   string `envconfig:"SCHEMA" default:"public"`
	MaxConns int32  `envconfig:"MAX_CONNS" default:"10"`
	MinConns int32  `envconfig:"MIN_CONNS" default:"1"`
	Migrate  bool   `envconfig:"MIGRATE" default:"true"`
}

type BlobConfig struct {
	URL         string `envconfig:"URL"`
	Token       string `envconfig:"TOKEN"`
	TokenHeader string `envconfig:"TOKEN_HEADER" default:"Authorization"`
	EnvelopeKey string `envconfig:"ENVELOPE_KEY"` // e.g. "record" when GET wraps the document
}

// Load reads an optional .env file, then LICENSED_* variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.AllowedCIDRs = splitAndTrim(cfg.AllowedCIDRsRaw)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	for name, d := range map[string]time.Duration{
		"SHUTDOWN_TIMEOUT": c.ShutdownTimeout,
		"REQUEST_TIMEOUT":  c.RequestTimeout,
		"STORE_TIMEOUT":    c.StoreTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s_%s must be positive, got %s", envPrefix, name, d))
		}
	}

	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("%s_REDIS_ADDR is required when %s_STORE=redis", envPrefix, envPrefix))
		}
		if c.Redis.PasswordRequired && c.Redis.Password == "" {
			errs = append(errs, fmt.Errorf("%s_REDIS_PASSWORD is required when %s_REDIS_PASSWORD_REQUIRED=true", envPrefix, envPrefix))
		}
	case StorePostgres:
		if c.Postgres.DSN == "" {
			errs = append(errs, fmt.Errorf("%s_POSTGRES_DSN is required when %s_STORE=postgres", envPrefix, envPrefix))
		}
	case StoreBlob:
		if c.Blob.URL == "" {
			errs = append(errs, fmt.Errorf("%s_BLOB_URL is required when %s_STORE=blob", envPrefix, envPrefix))
		}
	default:
		errs = append(errs, fmt.Errorf("%s_STORE: unknown backend %q", envPrefix, c.Store))
	}

	if c.SeedFile != "" && c.Store != StoreMemory {
		errs = append(errs, fmt.Errorf("%s_SEED_FILE is only supported with the memory store", envPrefix))
	}

	for _, cidr := range c.AllowedCIDRs {
		if _, err := parsePrefix(cidr); err != nil {
			errs = append(errs, fmt.Errorf("%s_ALLOWED_CIDRS: %w", envPrefix, err))
		}
	}

	if c.RatePerMin < 0 || c.RateBurst < 0 {
		errs = append(errs, fmt.Errorf("%s_RATE_PER_MIN and %s_RATE_BURST must not be negative", envPrefix, envPrefix))
	}

	return errors.Join(errs...)
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Redis.Password != "" {
		c.Redis.Password = "***REDACTED***"
	}
	if c.Redis.User != "" {
		c.Redis.User = "***REDACTED***"
	}
	if c.Postgres.DSN != "" {
		c.Postgres.DSN = "***REDACTED***"
	}
	if c.Blob.Token != "" {
		c.Blob.Token = "***REDACTED***"
	}
	return c
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
