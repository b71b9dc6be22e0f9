package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/homefit-remodel/api/internal/di"
	"github.com/homefit-remodel/api/internal/handlers"
	"github.com/homefit-remodel/api/internal/platform/config"
	"github.com/homefit-remodel/api/internal/platform/observability"
	"github.com/homefit-remodel/api/internal/repositories"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	lookup, err := config.Lookup()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read environment values: %v\n", err)
		os.Exit(1)
	}

	level, _ := lookup("LOG_LEVEL")
	baseLogger, err := observability.NewLogger(level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger, lookup)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(lookup)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	rules, catalogReader, storageClient, err := loadCatalog(ctx, cfg.Catalog, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to load rule catalog", zap.Error(err))
	}
	if storageClient != nil {
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
	}
	logger.Info("rule catalog loaded", zap.String("version", rules.Version), zap.Int("processes", len(rules.Processes)))

	clock := time.Now
	backend, checks, err := openBackend(ctx, cfg, rules, clock)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("backend", cfg.Store.Backend), zap.Error(err))
	}

	sink, err := newEventSink(ctx, cfg.Events, logger.Named("events"))
	if err != nil {
		logger.Fatal("failed to initialise event publisher", zap.Error(err))
	}
	if sink.check != nil {
		checks = append(checks, *sink.check)
	}
	if sink.close != nil {
		backend.Closers = append(backend.Closers, sink.close)
	}
	if catalogReader != nil {
		bucket := cfg.Catalog.Bucket
		checks = append(checks, repositories.DependencyCheck{
			Name:    "catalog-bucket",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return catalogReader.Ping(ctx, bucket)
			},
		})
	}
	if cfg.Security.SecretsProjectID != "" {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secret-manager",
			Timeout: time.Second,
			Check:   fetcher.Ping,
		})
	}

	health, err := repositories.NewDependencyHealthRepository(checks)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}
	backend.Health = health

	registry, err := repositories.NewRegistry(backend)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	buildInfo := buildInfoFromLookup(lookup, cfg, rules, startedAt)
	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithCatalog(rules),
		di.WithEventPublisher(sink.publisher),
		di.WithLogger(observability.EventLogger(logger.Named("services"))),
		di.WithBuildInfo(buildInfo),
		di.WithClock(clock),
	)
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	estimateHandlers := handlers.NewEstimateHandlers(container.Services.Estimates,
		handlers.WithProductionErrors(cfg.Security.Production()),
	)
	sessionHandlers := handlers.NewSessionHandlers(container.Services.Sessions)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.TraceMiddleware(projectID),
			observability.RecoveryMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithRequestTimeout(cfg.Server.RequestTimeout),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithEstimateRoutes(estimateHandlers.Routes),
		handlers.WithSessionRoutes(sessionHandlers.Routes),
		handlers.WithSessionMiddlewares(middleware.NoCache),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("backend", cfg.Store.Backend))
	go func() {
		serverLogger.Info("homefit estimate api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
