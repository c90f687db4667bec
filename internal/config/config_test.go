package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RESTGEN_AUTH_SECRET", testSecret)

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, "/api", cfg.Server.APIPrefix)
	require.Equal(t, int64(1<<20), cfg.Server.MaxBodyBytes)
	require.Equal(t, "memory", cfg.Database.Driver)
	require.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
	require.Equal(t, "nested", cfg.Nested.Path)
	require.Equal(t, 50, cfg.Nested.MaxOperations)
	require.Empty(t, cfg.Nested.AllowedModels)
	require.False(t, cfg.Tenancy.Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	chdir(t, t.TempDir())
	path := filepath.Join(t.TempDir(), "restgen.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
models_file: app/models.yaml
server:
  addr: ":9000"
tenancy:
  enabled: true
  strategy: subdomain
  base_domain: example.test
nested:
  max_operations: 10
`), 0o600))

	t.Setenv("RESTGEN_AUTH_SECRET", testSecret)
	t.Setenv("RESTGEN_SERVER_ADDR", ":9100")
	t.Setenv("RESTGEN_NESTED_ALLOWED_MODELS", "posts, comments,")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "app/models.yaml", cfg.ModelsFile)
	require.Equal(t, ":9100", cfg.Server.Addr)
	require.Equal(t, "subdomain", cfg.Tenancy.Strategy)
	require.Equal(t, 10, cfg.Nested.MaxOperations)
	require.Equal(t, []string{"posts", "comments"}, cfg.Nested.AllowedModels)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RESTGEN_AUTH_SECRET="+testSecret+"\nRESTGEN_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("RESTGEN_AUTH_SECRET")
		os.Unsetenv("RESTGEN_LOG_LEVEL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, testSecret, cfg.Auth.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("RESTGEN_AUTH_SECRET", testSecret)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ModelsFile: "models.yaml",
			Server:     ServerConfig{MaxBodyBytes: 1024},
			Database:   DatabaseConfig{Driver: "memory"},
			Auth:       AuthConfig{Secret: testSecret, TokenTTL: time.Minute},
			Nested:     NestedConfig{Enabled: true, Path: "nested"},
			RateLimit:  RateLimitConfig{Backend: "memory", Burst: 1, PerSecond: 1},
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	cases := map[string]struct {
		mutate func(*Config)
		want   string
	}{
		"postgres without dsn": {func(c *Config) { c.Database.Driver = "postgres" }, "database.dsn"},
		"unknown driver":       {func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		"short secret":         {func(c *Config) { c.Auth.Secret = "short" }, "auth.secret"},
		"subdomain without base": {func(c *Config) {
			c.Tenancy = TenancyConfig{Enabled: true, Strategy: "subdomain", Identifier: "slug"}
		}, "tenancy.base_domain"},
		"bad identifier": {func(c *Config) {
			c.Tenancy = TenancyConfig{Enabled: true, Strategy: "route", Identifier: "uuid"}
		}, "tenancy.identifier"},
		"empty nested path": {func(c *Config) { c.Nested.Path = "/" }, "nested.path"},
		"redis without addr": {func(c *Config) { c.RateLimit.Backend = "redis" }, "rate_limit.redis_addr"},
		"zero burst":         {func(c *Config) { c.RateLimit.Burst = 0 }, "rate_limit.burst"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	t.Run("disabled rate limit ignores burst", func(t *testing.T) {
		cfg := valid()
		cfg.RateLimit = RateLimitConfig{Backend: "none"}
		require.NoError(t, cfg.Validate())
	})
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
}
