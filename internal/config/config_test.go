package config

import (
	"testing"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PSQL_DSN", "")
	t.Setenv("CLICKHOUSE_DSN", "")
	t.Setenv("CLICKHOUSE_PASSWORD_SALT", "")
	t.Setenv("REDIS_DSN", "")
	t.Setenv("FILE_STORAGE_DSN", "")
	t.Setenv("JWKS_URL", "")
	t.Setenv("JWK", "")
	t.Setenv("NO_TENANT_ALLOWED", "true")
	t.Setenv("MIGRATE_STORAGE_ON_STARTUP", "")
	t.Setenv("ALLOWED_ORIGINS", "")
	t.Setenv("PORT", "")
	t.Setenv("HOST", "")
	t.Setenv("ANOTHERAI_API_URL", "")
	t.Setenv("ANOTHERAI_APP_URL", "")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if !cfg.Migrate {
		t.Fatal("migrations should default on")
	}
	if cfg.APIURL != "http://localhost:8000" || cfg.AppURL != "http://localhost:3000" {
		t.Fatalf("urls = %q %q", cfg.APIURL, cfg.AppURL)
	}
}

func TestLoadFullEnv(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PSQL_DSN", "postgres://localhost/anotherai")
	t.Setenv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/default")
	t.Setenv("CLICKHOUSE_PASSWORD_SALT", "salt")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("MIGRATE_STORAGE_ON_STARTUP", "false")
	t.Setenv("NO_TENANT_ALLOWED", "false")
	t.Setenv("JWKS_URL", "https://idp.example/.well-known/jwks.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", cfg.Addr())
	}
	if cfg.Migrate {
		t.Fatal("migrations should be off")
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.NoTenantAllowed {
		t.Fatal("NO_TENANT_ALLOWED should be off")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "bad port", env: map[string]string{"PORT": "abc"}},
		{name: "port out of range", env: map[string]string{"PORT": "70000"}},
		{name: "clickhouse without salt", env: map[string]string{
			"CLICKHOUSE_DSN": "clickhouse://localhost:9000/default",
		}},
		{name: "jwks and jwk together", env: map[string]string{
			"JWKS_URL": "https://idp.example/jwks.json",
			"JWK":      `{"kty":"EC"}`,
		}},
		{name: "no auth at all", env: map[string]string{"NO_TENANT_ALLOWED": "false"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load accepted an invalid configuration")
			}
		})
	}
}
