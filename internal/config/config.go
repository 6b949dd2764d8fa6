// Package config loads the gateway configuration from the environment.
// A .env file in the working directory is loaded first when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the fully resolved process configuration.
type Config struct {
	// Host and Port form the gateway listen address.
	Host string
	Port int

	// PostgresDSN is the relational tier. Empty falls back to in-memory
	// stores, development only.
	PostgresDSN string
	// ClickHouseDSN is the analytics tier. Empty falls back to the
	// in-memory analytics engine, development only.
	ClickHouseDSN string
	// ClickHousePasswordSalt derives per-tenant read-only user passwords.
	ClickHousePasswordSalt string
	// RedisDSN backs the event queue. Empty uses the in-process broker.
	RedisDSN string
	// FileStorageDSN configures the blob store (s3://...). Empty uses the
	// in-memory store.
	FileStorageDSN string

	// APIURL and AppURL are the public bases used in completion links.
	APIURL string
	AppURL string

	// JWKSURL or JWK configure JWT verification; at most one is needed.
	JWKSURL string
	JWK     string

	// NoTenantAllowed admits unauthenticated requests under the anonymous
	// tenant.
	NoTenantAllowed bool
	// Migrate runs storage migrations on startup.
	Migrate bool

	AllowedOrigins []string

	ShutdownTimeout time.Duration
}

// Load reads the configuration from the environment, loading .env first.
func Load() (*Config, error) {
	// Missing .env is the normal production case.
	_ = godotenv.Load()

	cfg := &Config{
		Host:                   envOr("HOST", "0.0.0.0"),
		PostgresDSN:            os.Getenv("PSQL_DSN"),
		ClickHouseDSN:          os.Getenv("CLICKHOUSE_DSN"),
		ClickHousePasswordSalt: os.Getenv("CLICKHOUSE_PASSWORD_SALT"),
		RedisDSN:               os.Getenv("REDIS_DSN"),
		FileStorageDSN:         os.Getenv("FILE_STORAGE_DSN"),
		APIURL:                 envOr("ANOTHERAI_API_URL", "http://localhost:8000"),
		AppURL:                 envOr("ANOTHERAI_APP_URL", "http://localhost:3000"),
		JWKSURL:                os.Getenv("JWKS_URL"),
		JWK:                    os.Getenv("JWK"),
		NoTenantAllowed:        envBool("NO_TENANT_ALLOWED", false),
		Migrate:                envBool("MIGRATE_STORAGE_ON_STARTUP", true),
		AllowedOrigins:         splitList(os.Getenv("ALLOWED_ORIGINS")),
		ShutdownTimeout:        15 * time.Second,
	}

	port, err := envInt("PORT", 8000)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT %d is out of range", c.Port)
	}
	if c.ClickHouseDSN != "" && c.ClickHousePasswordSalt == "" {
		return fmt.Errorf("CLICKHOUSE_PASSWORD_SALT is required when CLICKHOUSE_DSN is set")
	}
	if c.JWKSURL != "" && c.JWK != "" {
		return fmt.Errorf("JWKS_URL and JWK are mutually exclusive")
	}
	if c.JWKSURL == "" && c.JWK == "" && !c.NoTenantAllowed {
		// API keys still work, but the first key has to come from somewhere.
		if c.PostgresDSN == "" {
			return fmt.Errorf("no authentication configured: set JWKS_URL, JWK or NO_TENANT_ALLOWED=true")
		}
	}
	return nil
}

// Addr is the gateway listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func splitList(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
