package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/italolelis/seedbox_resolver/internal/cleanup"
	"github.com/italolelis/seedbox_resolver/internal/config"
	"github.com/italolelis/seedbox_resolver/internal/http/rest"
	"github.com/italolelis/seedbox_resolver/internal/logctx"
	"github.com/italolelis/seedbox_resolver/internal/notifier"
	"github.com/italolelis/seedbox_resolver/internal/resolver"
	"github.com/italolelis/seedbox_resolver/internal/resolver/rediscache"
	"github.com/italolelis/seedbox_resolver/internal/storage"
	"github.com/italolelis/seedbox_resolver/internal/storage/sqlite"
	"github.com/italolelis/seedbox_resolver/internal/store"
	"github.com/italolelis/seedbox_resolver/internal/store/putio"
	"github.com/italolelis/seedbox_resolver/internal/store/seedr"
	"github.com/italolelis/seedbox_resolver/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const storeRequestTimeout = 30 * time.Second

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(logctx.NewTraceHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}),
	))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ctx = logctx.WithLogger(ctx, logger)

	if len(os.Args) > 1 && os.Args[1] == "auth" {
		if err := authorizeDevice(ctx, cfg); err != nil {
			slog.Error("device authorization failed", "err", err)
			os.Exit(1)
		}

		return
	}

	slog.Info("seedbox resolver starting...", "version", version, "log_level", cfg.LogLevel, "store", cfg.Store)

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedResolutionRepository(database, tel)

	// =========================================================================
	// Start Remote Store
	remote, device, err := buildStore(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to build store: %w", err)
	}

	if err := remote.Authenticate(ctx); err != nil {
		return fmt.Errorf("authentication error: %w", err)
	}

	// =========================================================================
	// Start Resolver
	cache, closeCache, err := buildCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to build result cache: %w", err)
	}
	defer closeCache()

	gate := resolver.NewMemoryGate(cfg.Resolver.PendingTTL)
	go gate.Run(ctx, cfg.Resolver.PendingTTL)

	policy, err := resolver.PolicyByName(cfg.Resolver.CapacityPolicy, cfg.Resolver.EvictCount)
	if err != nil {
		return err
	}

	recoverer := resolver.NewRecoverer(remote, policy,
		resolver.WithNotifier(buildNotifier(cfg)),
		resolver.WithRecoveryTelemetry(tel),
	)

	res := resolver.New(remote, cache, gate, recoverer, resolver.Config{
		GateWait:     cfg.Resolver.GateWait,
		PollAttempts: cfg.Resolver.PollAttempts,
		PollInterval: cfg.Resolver.PollInterval,
		MatchPrefix:  cfg.Resolver.MatchPrefix,
		RecentAddTTL: cfg.Resolver.RecentAddTTL,
	}, resolver.WithLedger(ledger), resolver.WithTelemetry(tel))

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, ledger, remote, res, tel, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, res, device, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("waiting for resolutions...",
		"cache_backend", cfg.CacheBackend,
		"cache_ttl", cfg.Resolver.CacheTTL.String(),
		"poll_attempts", cfg.Resolver.PollAttempts,
		"poll_interval", cfg.Resolver.PollInterval.String(),
		"capacity_policy", policy.Name(),
	)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return ctx.Err()
	}
}

// buildStore is an abstract factory for the remote store. The second value
// is non-nil when the store supports device authorization.
func buildStore(cfg *config.Config, tel *telemetry.Telemetry) (store.Store, rest.DeviceAuthorizer, error) {
	httpClient := telemetry.NewHTTPClient(storeRequestTimeout)

	switch cfg.Store {
	case "seedr":
		client := seedr.NewClient(cfg.SeedrToken,
			seedr.WithBaseURL(cfg.SeedrBaseURL),
			seedr.WithClientID(cfg.SeedrClientID),
			seedr.WithHTTPClient(httpClient),
		)

		return store.NewInstrumented(client, tel, "seedr"), client, nil
	case "putio":
		client := putio.NewClient(cfg.PutioToken,
			putio.WithFolder(cfg.PutioFolder),
			putio.WithHTTPClient(httpClient),
		)

		return store.NewInstrumented(client, tel, "putio"), nil, nil
	}

	return nil, nil, fmt.Errorf("invalid store: %s", cfg.Store)
}

func buildCache(ctx context.Context, cfg *config.Config) (resolver.ResultCache, func(), error) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.CacheBackend != "redis" {
		return resolver.NewMemoryCache(cfg.Resolver.CacheTTL), func() {}, nil
	}

	cache, err := rediscache.Connect(ctx, cfg.RedisURL, cfg.Resolver.CacheTTL)
	if err != nil {
		return nil, nil, err
	}

	return cache, func() {
		if err := cache.Close(); err != nil {
			logger.Error("failed to close redis cache", "err", err)
		}
	}, nil
}

func buildNotifier(cfg *config.Config) notifier.Notifier {
	if cfg.DiscordWebhookURL == "" {
		return notifier.Nop{}
	}

	return notifier.NewDiscordNotifier(cfg.DiscordWebhookURL, telemetry.NewHTTPClient(10*time.Second))
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	res rest.Resolver,
	device rest.DeviceAuthorizer,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewResolveHandler(cfg.Auth.Username, cfg.Auth.Password, res, device)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())
	r.Mount("/", handler.Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func setupCleanup(
	ctx context.Context,
	repo storage.ResolutionRepository,
	remote store.Store,
	res *resolver.Resolver,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.KeepResolvedFor <= 0 {
		logger.Info("retention disabled, resolved content is kept until capacity recovery reclaims it")

		return
	}

	sweeper := cleanup.NewSweeper(repo, remote, res, cfg.KeepResolvedFor, tel)

	go sweeper.Run(ctx, cfg.CleanupInterval)
}

// authorizeDevice runs the Seedr device flow on the terminal and prints the
// access token to put in SEEDR_TOKEN.
func authorizeDevice(ctx context.Context, cfg *config.Config) error {
	if cfg.Store != "seedr" {
		return fmt.Errorf("store %s has no device authorization", cfg.Store)
	}

	client := seedr.NewClient("",
		seedr.WithBaseURL(cfg.SeedrBaseURL),
		seedr.WithClientID(cfg.SeedrClientID),
	)

	code, err := client.RequestDeviceCode(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "Open %s and enter the code %s\n", code.VerificationURL, code.UserCode)

	token, err := client.WaitForToken(ctx, code)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "SEEDR_TOKEN=%s\n", token.AccessToken)

	return nil
}
