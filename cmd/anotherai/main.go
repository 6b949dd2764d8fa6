// Package main provides the CLI entry point for the AnotherAI inference
// gateway.
//
// The gateway accepts OpenAI-compatible chat-completion requests, dispatches
// them across upstream LLM providers with fallback, and persists every
// completion into an analytics store where completions can be queried,
// annotated and grouped into experiments.
//
// # Basic Usage
//
// Start the server:
//
//	anotherai serve
//
// # Environment Variables
//
//   - PSQL_DSN: Postgres DSN for the relational tier (in-memory when unset)
//   - CLICKHOUSE_DSN: ClickHouse DSN for the analytics tier
//   - CLICKHOUSE_PASSWORD_SALT: salt for per-tenant read users
//   - REDIS_DSN: Redis DSN for the event broker (in-memory when unset)
//   - FILE_STORAGE_DSN: S3 DSN for file blobs (in-memory when unset)
//   - JWKS_URL / JWK: token verification key material
//   - NO_TENANT_ALLOWED: allow unauthenticated access (development only)
//   - OPENAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, ...: provider keys
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anotherai",
		Short: "AnotherAI - LLM inference gateway and experiment platform",
		Long: `AnotherAI serves an OpenAI-compatible completions API over many upstream
LLM providers, records every completion into a queryable analytics store,
and orchestrates prompt experiments across versions and inputs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}
