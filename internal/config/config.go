// Package config loads service settings from an optional .env file, an
// optional YAML config file and RESTGEN_ prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. RESTGEN_SERVER_ADDR.
const EnvPrefix = "RESTGEN"

type Config struct {
	LogLevel   string          `mapstructure:"log_level"`
	ModelsFile string          `mapstructure:"models_file"`
	SeedFile   string          `mapstructure:"seed_file"`
	Server     ServerConfig    `mapstructure:"server"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Auth       AuthConfig      `mapstructure:"auth"`
	Tenancy    TenancyConfig   `mapstructure:"tenancy"`
	Nested     NestedConfig    `mapstructure:"nested"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	GRPCAddr          string        `mapstructure:"grpc_addr"`
	APIPrefix         string        `mapstructure:"api_prefix"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	MigrationsDir   string        `mapstructure:"migrations_dir"`
}

type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

type TenancyConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Strategy   string `mapstructure:"strategy"`
	Identifier string `mapstructure:"identifier"`
	BaseDomain string `mapstructure:"base_domain"`
}

type NestedConfig struct {
	Enabled       bool     `mapstructure:"enabled"`
	Path          string   `mapstructure:"path"`
	MaxOperations int      `mapstructure:"max_operations"`
	AllowedModels []string `mapstructure:"allowed_models"`
}

type RateLimitConfig struct {
	Backend   string        `mapstructure:"backend"`
	Burst     int           `mapstructure:"burst"`
	PerSecond int           `mapstructure:"per_second"`
	Window    time.Duration `mapstructure:"window"`
	RedisAddr string        `mapstructure:"redis_addr"`
}

// setDefaults registers every key, including empty ones: AutomaticEnv only
// reaches keys viper already knows about.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("models_file", "models.yaml")
	v.SetDefault("seed_file", "")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.grpc_addr", "")
	v.SetDefault("server.api_prefix", "/api")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.read_header_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrations_dir", "")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 25)
	v.SetDefault("database.conn_max_lifetime", 15*time.Minute)
	v.SetDefault("database.conn_max_idle_time", 5*time.Minute)

	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "restgen")
	v.SetDefault("auth.token_ttl", 15*time.Minute)

	v.SetDefault("tenancy.enabled", false)
	v.SetDefault("tenancy.strategy", "route")
	v.SetDefault("tenancy.identifier", "slug")
	v.SetDefault("tenancy.base_domain", "")

	v.SetDefault("nested.enabled", true)
	v.SetDefault("nested.path", "nested")
	v.SetDefault("nested.max_operations", 50)
	v.SetDefault("nested.allowed_models", []string{})

	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.per_second", 10)
	v.SetDefault("rate_limit.window", time.Second)
	v.SetDefault("rate_limit.redis_addr", "")
}

// Load reads .env (if present), the YAML file at path (if non-empty) and the
// environment, then validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server.AllowedOrigins = splitList(cfg.Server.AllowedOrigins)
	cfg.Nested.AllowedModels = splitList(cfg.Nested.AllowedModels)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "memory":
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not one of memory, postgres", c.Database.Driver))
	}
	if len(c.Auth.Secret) < 32 {
		errs = append(errs, errors.New("auth.secret must be at least 32 bytes"))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Tenancy.Enabled {
		if c.Tenancy.Strategy != "route" && c.Tenancy.Strategy != "subdomain" {
			errs = append(errs, fmt.Errorf("tenancy.strategy %q is not one of route, subdomain", c.Tenancy.Strategy))
		}
		if c.Tenancy.Identifier != "id" && c.Tenancy.Identifier != "slug" {
			errs = append(errs, fmt.Errorf("tenancy.identifier %q is not one of id, slug", c.Tenancy.Identifier))
		}
		if c.Tenancy.Strategy == "subdomain" && c.Tenancy.BaseDomain == "" {
			errs = append(errs, errors.New("tenancy.base_domain is required for the subdomain strategy"))
		}
	}
	if c.Nested.Enabled && strings.Trim(c.Nested.Path, "/") == "" {
		errs = append(errs, errors.New("nested.path must not be empty"))
	}
	switch c.RateLimit.Backend {
	case "memory", "none":
	case "redis":
		if c.RateLimit.RedisAddr == "" {
			errs = append(errs, errors.New("rate_limit.redis_addr is required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.backend %q is not one of memory, redis, none", c.RateLimit.Backend))
	}
	if c.RateLimit.Backend != "none" && (c.RateLimit.Burst <= 0 || c.RateLimit.PerSecond <= 0) {
		errs = append(errs, errors.New("rate_limit.burst and rate_limit.per_second must be positive"))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("server.max_body_bytes must be positive"))
	}
	if c.ModelsFile == "" {
		errs = append(errs, errors.New("models_file is required"))
	}
	return errors.Join(errs...)
}

func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
