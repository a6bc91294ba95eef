// Package config loads service configuration from defaults, an optional
// YAML file and COMPANYAUTH_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"companyauth.org/internal/auth"
)

const envPrefix = "COMPANYAUTH_"

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// DatabaseConfig selects the store. An empty DSN runs on the in-memory store.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type AuthConfig struct {
	SigningKey          string        `yaml:"signing_key"`
	Issuer              string        `yaml:"issuer"`
	Audience            string        `yaml:"audience"`
	TokenTTL            time.Duration `yaml:"token_ttl"`
	ClockSkew           time.Duration `yaml:"clock_skew"`
	HashAlgorithm       string        `yaml:"hash_algorithm"`
	HashCost            int           `yaml:"hash_cost"`
	HashWorkers         int           `yaml:"hash_workers"`
	BypassRole          string        `yaml:"bypass_role"`
	PermissionCacheSize int           `yaml:"permission_cache_size"`
	PermissionCacheTTL  time.Duration `yaml:"permission_cache_ttl"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig bounds request rates per client address. Login has its
// own, stricter bucket.
type RateLimitConfig struct {
	Enabled      bool    `yaml:"enabled"`
	RPS          float64 `yaml:"rps"`
	Burst        int     `yaml:"burst"`
	LoginPerMin  int     `yaml:"login_per_minute"`
	LoginBurst   int     `yaml:"login_burst"`
	TrustProxies bool    `yaml:"trust_proxies"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// BootstrapConfig creates the first administrator when set.
type BootstrapConfig struct {
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Load builds the configuration. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			GRPCAddr:        ":9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    50,
			MaxIdleConns:    25,
			ConnMaxLifetime: 15 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Auth: AuthConfig{
			Issuer:              "companyauth",
			Audience:            "companyauth-clients",
			TokenTTL:            time.Hour,
			HashAlgorithm:       auth.AlgorithmBcrypt,
			BypassRole:          auth.RoleAdmin,
			PermissionCacheSize: 256,
			PermissionCacheTTL:  30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		RateLimit: RateLimitConfig{
			Enabled:     true,
			RPS:         20,
			Burst:       40,
			LoginPerMin: 10,
			LoginBurst:  5,
		},
	}
}

func applyEnvOverrides(cfg *Config) error {
	var errs []string
	str := func(name string, dst *string) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			*dst = v
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = d
		}
	}
	num := func(name string, dst *int) {
		if v, ok := os.LookupEnv(envPrefix + name); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Sprintf("%s%s: %v", envPrefix, name, err))
				return
			}
			*dst = n
		}
	}

	str("HTTP_ADDR", &cfg.Server.Addr)
	str("GRPC_ADDR", &cfg.Server.GRPCAddr)
	str("PG_DSN", &cfg.Database.DSN)
	if v := os.Getenv(envPrefix + "AUTO_MIGRATE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%sAUTO_MIGRATE: %v", envPrefix, err))
		}
		cfg.Database.AutoMigrate = b
	}

	str("SIGNING_KEY", &cfg.Auth.SigningKey)
	str("ISSUER", &cfg.Auth.Issuer)
	str("AUDIENCE", &cfg.Auth.Audience)
	dur("TOKEN_TTL", &cfg.Auth.TokenTTL)
	dur("CLOCK_SKEW", &cfg.Auth.ClockSkew)
	str("HASH_ALGORITHM", &cfg.Auth.HashAlgorithm)
	num("HASH_COST", &cfg.Auth.HashCost)
	num("HASH_WORKERS", &cfg.Auth.HashWorkers)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if v := os.Getenv(envPrefix + "CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowedOrigins = splitList(v)
	}

	str("BOOTSTRAP_ADMIN_EMAIL", &cfg.Bootstrap.AdminEmail)
	str("BOOTSTRAP_ADMIN_PASSWORD", &cfg.Bootstrap.AdminPassword)

	if len(errs) > 0 {
		return fmt.Errorf("environment overrides: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		errs = append(errs, "server timeouts must be positive")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be positive")
	}

	const minSigningKeyLength = 32
	if c.Auth.SigningKey == "" {
		errs = append(errs, "auth.signing_key is required (set "+envPrefix+"SIGNING_KEY)")
	} else if len(c.Auth.SigningKey) < minSigningKeyLength {
		errs = append(errs, "auth.signing_key must be at least 32 bytes")
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, "auth.token_ttl must be positive")
	}
	if c.Auth.ClockSkew < 0 {
		errs = append(errs, "auth.clock_skew must not be negative")
	}
	switch strings.ToLower(c.Auth.HashAlgorithm) {
	case auth.AlgorithmBcrypt, auth.AlgorithmArgon2id:
	default:
		errs = append(errs, fmt.Sprintf("auth.hash_algorithm %q is not supported", c.Auth.HashAlgorithm))
	}
	if strings.TrimSpace(c.Auth.BypassRole) == "" {
		errs = append(errs, "auth.bypass_role is required")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q must be debug, info, warn or error", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "text":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q must be json or text", c.Logging.Format))
	}

	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0 || c.RateLimit.LoginPerMin <= 0 || c.RateLimit.LoginBurst <= 0) {
		errs = append(errs, "rate_limit values must be positive when enabled")
	}

	if (c.Bootstrap.AdminEmail == "") != (c.Bootstrap.AdminPassword == "") {
		errs = append(errs, "bootstrap.admin_email and bootstrap.admin_password must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AuthSettings builds the immutable auth settings.
func (c *Config) AuthSettings() (*auth.Settings, error) {
	opts := []auth.SettingsOption{
		auth.WithIssuer(c.Auth.Issuer),
		auth.WithAudience(c.Auth.Audience),
		auth.WithTokenTTL(c.Auth.TokenTTL),
		auth.WithClockSkew(c.Auth.ClockSkew),
		auth.WithHashing(c.Auth.HashAlgorithm, c.Auth.HashCost),
		auth.WithBypassRole(c.Auth.BypassRole),
		auth.WithPermissionCache(c.Auth.PermissionCacheSize, c.Auth.PermissionCacheTTL),
	}
	if c.Auth.HashWorkers > 0 {
		opts = append(opts, auth.WithHashWorkers(c.Auth.HashWorkers))
	}
	return auth.NewSettings(c.Auth.SigningKey, opts...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
