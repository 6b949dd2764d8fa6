package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/anotherai-dev/anotherai/internal/auth"
	"github.com/anotherai-dev/anotherai/internal/blob"
	"github.com/anotherai-dev/anotherai/internal/config"
	"github.com/anotherai-dev/anotherai/internal/events"
	"github.com/anotherai-dev/anotherai/internal/experiments"
	"github.com/anotherai-dev/anotherai/internal/gateway"
	"github.com/anotherai-dev/anotherai/internal/provider"
	"github.com/anotherai-dev/anotherai/internal/runner"
	"github.com/anotherai-dev/anotherai/internal/storage"
)

func buildServeCmd() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the inference gateway",
		Long: `Start the gateway with all configured backends.

The server will:
1. Load configuration from the environment (and .env if present)
2. Connect the relational and analytics stores, migrating if configured
3. Build provider adapters from the API keys present in the environment
4. Start the background event router
5. Serve the HTTP API

Backends without a configured DSN fall back to in-memory implementations
so the gateway can run standalone during development.

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if debug {
				slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
					Level: slog.LevelDebug,
				})))
			}
			return runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := slog.Default()

	stores, err := buildStores(cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = stores.Close() }()

	analytics, closeAnalytics, err := buildAnalytics(cfg, log)
	if err != nil {
		return err
	}
	defer closeAnalytics()

	blobs, err := buildBlobStore(ctx, cfg, log)
	if err != nil {
		return err
	}

	broker, err := buildBroker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	verifier, err := buildVerifier(ctx, cfg)
	if err != nil {
		return err
	}
	authenticator := auth.NewAuthenticator(stores.Tenants, verifier, cfg.NoTenantAllowed)

	registry := provider.NewRegistryFromEnv()
	if len(registry.Names()) == 0 {
		log.Warn("no provider API keys found in environment")
	}

	router := events.NewRouter(broker, log)
	orchestrator := experiments.New(stores.Experiments, stores.Agents, analytics, router, log)

	gatewayRunner := func(cache runner.CompletionCache) gateway.CompletionRunner {
		return runner.New(registry, nil, cache, nil, log)
	}
	experimentRunner := func(cache runner.CompletionCache) experiments.Runner {
		return runner.New(registry, nil, cache, nil, log)
	}

	router.Register(events.TypeStoreCompletion, events.OnStoreCompletion(analytics, blobs, log))
	router.Register(events.TypeUserConnected, events.OnUserConnected(log))
	router.Register(events.TypeCompletionRequest,
		experiments.OnCompletionRequest(orchestrator, analytics, experimentRunner, log))

	routerDone := make(chan error, 1)
	go func() { routerDone <- router.Run(ctx) }()

	server := gateway.New(cfg, stores, analytics, gatewayRunner, orchestrator, authenticator, router, log)

	serveDone := make(chan error, 1)
	go func() { serveDone <- server.Start(ctx) }()

	select {
	case err := <-serveDone:
		stop()
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-routerDone
	return <-serveDone
}

func buildStores(cfg *config.Config, log *slog.Logger) (storage.StoreSet, error) {
	if cfg.PostgresDSN == "" {
		log.Warn("PSQL_DSN not set, using in-memory relational stores")
		return storage.NewMemoryStores(), nil
	}
	pgCfg := storage.DefaultPostgresConfig()
	pgCfg.Migrate = cfg.Migrate
	stores, err := storage.NewPostgresStores(cfg.PostgresDSN, pgCfg)
	if err != nil {
		return storage.StoreSet{}, fmt.Errorf("postgres: %w", err)
	}
	log.Info("connected to postgres")
	return stores, nil
}

func buildAnalytics(cfg *config.Config, log *slog.Logger) (storage.Analytics, func(), error) {
	if cfg.ClickHouseDSN == "" {
		log.Warn("CLICKHOUSE_DSN not set, using in-memory analytics")
		return storage.NewMemoryAnalytics(), func() {}, nil
	}
	ch, err := storage.NewClickHouse(cfg.ClickHouseDSN, cfg.ClickHousePasswordSalt, cfg.Migrate, log)
	if err != nil {
		return nil, nil, fmt.Errorf("clickhouse: %w", err)
	}
	log.Info("connected to clickhouse")
	return ch, func() { _ = ch.Close() }, nil
}

func buildBlobStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (blob.Store, error) {
	if cfg.FileStorageDSN == "" {
		log.Warn("FILE_STORAGE_DSN not set, file blobs are kept in memory")
		return blob.NewMemoryStore(), nil
	}
	s3cfg, err := blob.ParseS3DSN(cfg.FileStorageDSN)
	if err != nil {
		return nil, fmt.Errorf("file storage dsn: %w", err)
	}
	store, err := blob.NewS3Store(ctx, s3cfg)
	if err != nil {
		return nil, fmt.Errorf("file storage: %w", err)
	}
	return store, nil
}

func buildBroker(ctx context.Context, cfg *config.Config, log *slog.Logger) (events.Broker, error) {
	if cfg.RedisDSN == "" {
		log.Warn("REDIS_DSN not set, using in-memory event broker")
		return events.NewMemoryBroker(), nil
	}
	broker, err := events.NewRedisBroker(ctx, cfg.RedisDSN)
	if err != nil {
		return nil, fmt.Errorf("redis broker: %w", err)
	}
	log.Info("connected to redis")
	return broker, nil
}

func buildVerifier(ctx context.Context, cfg *config.Config) (auth.TokenVerifier, error) {
	switch {
	case cfg.JWKSURL != "":
		verifier, err := auth.NewJWKSVerifier(ctx, cfg.JWKSURL)
		if err != nil {
			return nil, fmt.Errorf("jwks verifier: %w", err)
		}
		return verifier, nil
	case cfg.JWK != "":
		verifier, err := auth.NewStaticVerifier([]byte(cfg.JWK))
		if err != nil {
			return nil, fmt.Errorf("static jwk verifier: %w", err)
		}
		return verifier, nil
	default:
		return nil, nil
	}
}
